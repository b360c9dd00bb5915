// Package pathtracer is a progressive Monte Carlo path tracer over a sphere
// scene. A Tracer owns the GPU-side state (accumulation image, scene
// buffers, frame uniforms, display image) on some gpu.Backend and adds one
// sample per pixel per Frame until the camera, scene or extent changes.
package pathtracer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/gekko3d/pathtracer/rt/core"
	"github.com/gekko3d/pathtracer/rt/gpu"
	"github.com/gekko3d/pathtracer/rt/layout"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/loov/hrtime"
	"golang.org/x/sync/semaphore"
)

// FrameStats describes one completed frame.
type FrameStats struct {
	// Samples is the per-pixel sample count after the frame.
	Samples uint32
	// Cleared is set when the frame started from an empty accumulation.
	Cleared bool
	Elapsed time.Duration
}

type Tracer struct {
	id  uuid.UUID
	log core.Logger
	cfg Config

	// gate admits one frame, resize or readback at a time; everything below
	// is guarded by it.
	gate *semaphore.Weighted

	mgr     *gpu.Manager
	accum   *gpu.AccumulationTarget
	disp    *gpu.Dispatcher
	present *gpu.PresentationAdapter
	buffers *gpu.SceneBuffer

	camera core.Camera
	scene  *core.Scene
	frames uint64

	prof *Profiler
	fps  FPSMeter

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// New builds a tracer on backend. The tracer owns backend from here on and
// closes it in Close.
func New(backend gpu.Backend, cfg Config, log core.Logger) (*Tracer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scene, err := cfg.Scene()
	if err != nil {
		return nil, err
	}

	t := &Tracer{
		id:     uuid.New(),
		log:    core.OrNop(log),
		cfg:    cfg,
		gate:   semaphore.NewWeighted(1),
		camera: cfg.NewCamera(),
		scene:  scene,
		prof:   NewProfiler(),
	}
	t.mgr = gpu.NewManager(backend, cfg.Width, cfg.Height, t.log)

	if err := t.init(); err != nil {
		t.mgr.Close(context.Background())
		return nil, err
	}
	t.log.Infof("tracer %s: %s backend, %dx%d, %d spheres", t.id, backend.Name(), cfg.Width, cfg.Height, len(scene.Spheres))
	return t, nil
}

func (t *Tracer) init() error {
	var err error
	if t.accum, err = gpu.NewAccumulationTarget(t.mgr, t.log); err != nil {
		return fmt.Errorf("accumulation target: %w", err)
	}
	if t.disp, err = gpu.NewDispatcher(t.mgr); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	if t.present, err = gpu.NewPresentationAdapter(t.mgr, t.cfg.Background); err != nil {
		return fmt.Errorf("presentation adapter: %w", err)
	}
	t.buffers = gpu.NewSceneBuffer(t.mgr, t.log)
	return nil
}

// RunID identifies this tracer in logs and output metadata.
func (t *Tracer) RunID() uuid.UUID { return t.id }

func (t *Tracer) Config() Config { return t.cfg }

func (t *Tracer) Profiler() *Profiler { return t.prof }

func (t *Tracer) FPS() *FPSMeter { return &t.fps }

func (t *Tracer) lock(ctx context.Context) error {
	if err := t.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	if t.closed {
		t.gate.Release(1)
		return fmt.Errorf("tracer: %w", core.ErrClosed)
	}
	return nil
}

func (t *Tracer) Camera() core.Camera {
	t.gate.Acquire(context.Background(), 1)
	defer t.gate.Release(1)
	return t.camera
}

// SetCamera replaces the camera. Any change beyond float noise discards the
// accumulated samples. A camera equal to the current one only updates the
// movement tuning; the rays stay those the accumulation started from, so
// sub-threshold steps cannot add up.
func (t *Tracer) SetCamera(c core.Camera) {
	t.gate.Acquire(context.Background(), 1)
	defer t.gate.Release(1)
	if t.camera.Equal(c) {
		t.camera.Speed, t.camera.Sensitivity = c.Speed, c.Sensitivity
		return
	}
	t.camera = c
	if t.accum != nil {
		t.accum.Invalidate(gpu.ReasonCamera)
	}
}

// SetScene replaces the scene. It is validated here and uploaded on the next
// Frame; an upload whose bytes match the previous one keeps the samples.
func (t *Tracer) SetScene(s *core.Scene) error {
	if err := s.Validate(); err != nil {
		return err
	}
	t.gate.Acquire(context.Background(), 1)
	defer t.gate.Release(1)
	t.scene = s
	s.Touch()
	return nil
}

// Resize reallocates every size-dependent image. On failure the previous
// extent and samples stay in place.
func (t *Tracer) Resize(ctx context.Context, w, h uint32) error {
	if err := t.lock(ctx); err != nil {
		return err
	}
	defer t.gate.Release(1)
	if cw, ch := t.mgr.Extent(); cw == w && ch == h {
		return nil
	}
	if err := t.mgr.Resize(ctx, w, h); err != nil {
		return err
	}
	t.cfg.Width, t.cfg.Height = w, h
	t.log.Debugf("tracer %s: resized to %dx%d", t.id, w, h)
	return nil
}

func (t *Tracer) SampleCount() uint32 {
	t.gate.Acquire(context.Background(), 1)
	defer t.gate.Release(1)
	return t.accum.SampleCount()
}

// Frame uploads pending scene changes, records clear (when invalidated),
// trace and resolve, submits them and waits for completion.
func (t *Tracer) Frame(ctx context.Context) (FrameStats, error) {
	if err := t.lock(ctx); err != nil {
		return FrameStats{}, err
	}
	defer t.gate.Release(1)

	start := hrtime.Now()
	t.prof.BeginScope("frame")
	defer t.prof.EndScope("frame")

	if t.scene.Dirty() {
		t.prof.BeginScope("upload")
		_, changed, err := t.buffers.Upload(ctx, t.scene.Spheres, t.scene.Materials)
		t.prof.EndScope("upload")
		if err != nil {
			return FrameStats{}, fmt.Errorf("scene upload: %w", err)
		}
		if changed {
			t.accum.Invalidate(gpu.ReasonScene)
		}
		t.scene.Commit()
	}

	cl := &gpu.CommandList{}
	cleared := t.accum.Pending()
	idx := t.accum.BeginFrame(cl)

	err := t.disp.Dispatch(ctx, cl, t.accum.Get(), t.buffers.Binding(), gpu.FrameContext{
		Camera:         t.camera,
		SampleIndex:    idx,
		Seed:           t.cfg.Seed,
		MaxDepth:       t.cfg.MaxDepth,
		JitterStrength: t.cfg.JitterStrength,
		SkyTop:         t.cfg.SkyTop,
		SkyBottom:      t.cfg.SkyBottom,
		Background:     t.cfg.Background,
	})
	if err == nil {
		_, err = t.present.Resolve(ctx, cl, t.accum.Get())
	}
	if err == nil {
		t.prof.BeginScope("submit")
		err = t.mgr.Submit(ctx, cl)
		if err == nil {
			err = t.mgr.Wait(ctx)
		}
		t.prof.EndScope("submit")
	}
	t.accum.EndFrame(err == nil)
	if err != nil {
		if errors.Is(err, core.ErrDeviceLost) {
			t.log.Errorf("tracer %s: device lost after %d frames: %v", t.id, t.frames, err)
		}
		return FrameStats{}, err
	}

	t.frames++
	elapsed := hrtime.Now() - start
	t.fps.RenderTime(elapsed)
	t.prof.SetCount("samples", int(t.accum.SampleCount()))
	t.prof.SetCount("clears", t.accum.Clears())
	return FrameStats{Samples: t.accum.SampleCount(), Cleared: cleared, Elapsed: elapsed}, nil
}

// Render runs n frames and returns the resolved image.
func (t *Tracer) Render(ctx context.Context, n int) (*image.RGBA, error) {
	for i := 0; i < n; i++ {
		if _, err := t.Frame(ctx); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
	}
	return t.Snapshot(ctx)
}

// Snapshot reads back the display image of the last frame.
func (t *Tracer) Snapshot(ctx context.Context) (*image.RGBA, error) {
	if err := t.lock(ctx); err != nil {
		return nil, err
	}
	defer t.gate.Release(1)

	data, desc, err := t.mgr.ReadImage(ctx, t.present.Display())
	if err != nil {
		return nil, err
	}
	return &image.RGBA{
		Pix:    data,
		Stride: int(desc.Width) * 4,
		Rect:   image.Rect(0, 0, int(desc.Width), int(desc.Height)),
	}, nil
}

// Accumulation is a host copy of the accumulation image.
type Accumulation struct {
	Width, Height uint32
	// Texels holds rgb radiance sums and the sample count in w, row major
	// from the top-left pixel.
	Texels [][4]float32
}

// Mean returns the average radiance of pixel (x, y), or zero without
// samples.
func (a *Accumulation) Mean(x, y int) mgl32.Vec3 {
	t := a.Texels[y*int(a.Width)+x]
	if t[3] == 0 {
		return mgl32.Vec3{}
	}
	return mgl32.Vec3{t[0] / t[3], t[1] / t[3], t[2] / t[3]}
}

func (t *Tracer) ReadAccumulation(ctx context.Context) (*Accumulation, error) {
	if err := t.lock(ctx); err != nil {
		return nil, err
	}
	defer t.gate.Release(1)

	data, desc, err := t.mgr.ReadImage(ctx, t.accum.Get())
	if err != nil {
		return nil, err
	}
	a := &Accumulation{Width: desc.Width, Height: desc.Height, Texels: make([][4]float32, desc.Width*desc.Height)}
	for i := range a.Texels {
		a.Texels[i] = layout.Texel(data, i)
	}
	return a, nil
}

// Display returns the backend resource holding the last resolved frame,
// for presentation code that samples it directly.
func (t *Tracer) Display() (gpu.Resource, error) {
	t.gate.Acquire(context.Background(), 1)
	defer t.gate.Release(1)
	res, _, err := t.mgr.Image(t.present.Display())
	return res, err
}

// PresentedFrame feeds the FPS meter; call once per presented frame.
func (t *Tracer) PresentedFrame() bool {
	return t.fps.Frame(hrtime.Now())
}

// Close releases every GPU resource and the backend. Only the first call
// does anything; later calls log a warning.
func (t *Tracer) Close(ctx context.Context) error {
	called := false
	t.closeOnce.Do(func() {
		called = true
		t.gate.Acquire(context.Background(), 1)
		defer t.gate.Release(1)
		t.closed = true
		t.log.Debugf("tracer %s: closing after %d frames", t.id, t.frames)
		t.closeErr = t.mgr.Close(ctx)
	})
	if !called {
		t.log.Warnf("tracer %s: Close called twice", t.id)
	}
	return t.closeErr
}
