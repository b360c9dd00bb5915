package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gekko3d/pathtracer"
	"github.com/gekko3d/pathtracer/rt/core"
	"github.com/gekko3d/pathtracer/rt/gpu/wgpudev"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/urfave/cli"
)

// surfaceFormat picks a linear surface format when the adapter offers one;
// the display image is already gamma encoded.
func surfaceFormat(formats []wgpu.TextureFormat) wgpu.TextureFormat {
	for _, f := range formats {
		if f == wgpu.TextureFormatBGRA8Unorm || f == wgpu.TextureFormatRGBA8Unorm {
			return f
		}
	}
	return formats[0]
}

type viewer struct {
	log    core.Logger
	window *glfw.Window

	instance *wgpu.Instance
	surface  *wgpu.Surface
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	config   *wgpu.SurfaceConfiguration

	tracer  *pathtracer.Tracer
	blitter *wgpudev.Blitter

	captured     bool
	lastX, lastY float64
	resized      bool
}

// View opens a window and keeps refining the image until it is closed.
// Tab captures the mouse for free look, WASD/Space/Ctrl move, Shift speeds
// up, Escape quits.
func View(ctx *cli.Context) error {
	log, err := setupLogging(ctx)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if b := ctx.String("backend"); b != "auto" && b != "gpu" {
		return cli.NewExitError("view: the window needs the gpu backend", 2)
	}

	if err := glfw.Init(); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(int(cfg.Width), int(cfg.Height), "pathtracer", nil, nil)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer window.Destroy()

	v := &viewer{log: log, window: window}
	if err := v.init(cfg); err != nil {
		v.release()
		return cli.NewExitError(err.Error(), 1)
	}
	defer v.release()

	v.bindInput()
	return v.loop()
}

func (v *viewer) init(cfg pathtracer.Config) error {
	v.instance = wgpu.CreateInstance(nil)
	v.surface = v.instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(v.window))

	var err error
	v.adapter, err = v.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: v.surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return err
	}
	v.device, err = v.adapter.RequestDevice(nil)
	if err != nil {
		return err
	}

	width, height := v.window.GetFramebufferSize()
	caps := v.surface.GetCapabilities(v.adapter)
	format := surfaceFormat(caps.Formats)
	v.config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      format,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	v.surface.Configure(v.adapter, v.device, v.config)

	dev, err := wgpudev.NewWithDevice(v.adapter, v.device, v.log)
	if err != nil {
		return err
	}
	cfg.Width, cfg.Height = uint32(width), uint32(height)
	v.tracer, err = pathtracer.New(dev, cfg, v.log)
	if err != nil {
		dev.Close()
		return err
	}
	v.blitter, err = wgpudev.NewBlitter(dev, format)
	return err
}

func (v *viewer) bindInput() {
	v.window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		v.resized = true
	})
	v.window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		switch key {
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.KeyTab:
			v.captured = !v.captured
			if v.captured {
				w.SetInputMode(glfw.CursorMode, glfw.CursorDisabled)
				v.lastX, v.lastY = w.GetCursorPos()
			} else {
				w.SetInputMode(glfw.CursorMode, glfw.CursorNormal)
			}
		}
	})
	v.window.SetCursorPosCallback(func(w *glfw.Window, x, y float64) {
		if !v.captured {
			return
		}
		dx, dy := x-v.lastX, y-v.lastY
		v.lastX, v.lastY = x, y
		v.tracer.SetCamera(look(v.tracer.Camera(), dx, dy))
	})
}

func (v *viewer) input() moveInput {
	down := func(k glfw.Key) bool { return v.window.GetKey(k) == glfw.Press }
	return moveInput{
		Forward: down(glfw.KeyW),
		Back:    down(glfw.KeyS),
		Left:    down(glfw.KeyA),
		Right:   down(glfw.KeyD),
		Up:      down(glfw.KeySpace),
		Down:    down(glfw.KeyLeftControl),
		Fast:    down(glfw.KeyLeftShift),
	}
}

func (v *viewer) loop() error {
	bg := context.Background()
	last := glfw.GetTime()
	for !v.window.ShouldClose() {
		glfw.PollEvents()

		now := glfw.GetTime()
		dt := float32(now - last)
		last = now
		v.tracer.SetCamera(move(v.tracer.Camera(), v.input(), dt))

		if v.resized {
			v.resized = false
			w, h := v.window.GetFramebufferSize()
			if w == 0 || h == 0 {
				// minimised
				time.Sleep(50 * time.Millisecond)
				continue
			}
			v.config.Width, v.config.Height = uint32(w), uint32(h)
			v.surface.Configure(v.adapter, v.device, v.config)
			if err := v.tracer.Resize(bg, uint32(w), uint32(h)); err != nil {
				return cli.NewExitError(err.Error(), 1)
			}
		}

		st, err := v.tracer.Frame(bg)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		if err := v.present(); err != nil {
			v.log.Warnf("present: %v", err)
			continue
		}
		if v.tracer.PresentedFrame() {
			fps := v.tracer.FPS()
			v.window.SetTitle(fmt.Sprintf("pathtracer | %d spp | %.0f fps | %.2f ms", st.Samples, fps.FPS(), fps.RenderMS()))
		}
	}
	return nil
}

func (v *viewer) present() error {
	next, err := v.surface.GetCurrentTexture()
	if err != nil {
		return err
	}
	defer next.Release()
	view, err := next.CreateView(nil)
	if err != nil {
		return err
	}
	defer view.Release()

	display, err := v.tracer.Display()
	if err != nil {
		return err
	}
	if err := v.blitter.Draw(view, display); err != nil {
		return err
	}
	v.surface.Present()
	return nil
}

func (v *viewer) release() {
	if v.blitter != nil {
		v.blitter.Release()
	}
	if v.tracer != nil {
		v.tracer.Close(context.Background())
	}
	if v.device != nil {
		v.device.Release()
	}
	if v.adapter != nil {
		v.adapter.Release()
	}
	if v.surface != nil {
		v.surface.Release()
	}
	if v.instance != nil {
		v.instance.Release()
	}
}
