package wgpudev

import (
	"fmt"

	"github.com/gekko3d/pathtracer/rt/gpu"
	"github.com/gekko3d/pathtracer/rt/shaders"

	"github.com/cogentcore/webgpu/wgpu"
)

// Blitter draws the display image over a surface with one fullscreen
// triangle.
type Blitter struct {
	dev      *Device
	module   *wgpu.ShaderModule
	pipeline *wgpu.RenderPipeline
	sampler  *wgpu.Sampler

	// bind group cached per display view; rebuilt after a resize
	view *wgpu.TextureView
	bg   *wgpu.BindGroup
}

func NewBlitter(d *Device, format wgpu.TextureFormat) (*Blitter, error) {
	b := &Blitter{dev: d}
	var err error
	b.module, err = d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Fullscreen VS/FS",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.FullscreenWGSL},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpudev: fullscreen shader: %w", err)
	}

	b.pipeline, err = d.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: "Blit Pipeline",
		Vertex: wgpu.VertexState{
			Module:     b.module,
			EntryPoint: shaders.VertexEntry,
		},
		Fragment: &wgpu.FragmentState{
			Module:     b.module,
			EntryPoint: shaders.FragEntry,
			Targets: []wgpu.ColorTargetState{{
				Format:    format,
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		b.Release()
		return nil, fmt.Errorf("wgpudev: blit pipeline: %w", err)
	}

	b.sampler, err = d.device.CreateSampler(&wgpu.SamplerDescriptor{
		MinFilter:     wgpu.FilterModeLinear,
		MagFilter:     wgpu.FilterModeLinear,
		MaxAnisotropy: 1,
	})
	if err != nil {
		b.Release()
		return nil, fmt.Errorf("wgpudev: blit sampler: %w", err)
	}
	return b, nil
}

// Draw blits display onto target and submits the work.
func (b *Blitter) Draw(target *wgpu.TextureView, display gpu.Resource) error {
	if err := b.dev.check(); err != nil {
		return err
	}
	view, err := b.dev.View(display)
	if err != nil {
		return err
	}
	if view != b.view {
		if b.bg != nil {
			b.bg.Release()
			b.bg = nil
		}
		b.bg, err = b.dev.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Layout: b.pipeline.GetBindGroupLayout(0),
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, TextureView: view},
				{Binding: 1, Sampler: b.sampler},
			},
		})
		if err != nil {
			return b.dev.fail("blit bind group", err)
		}
		b.view = view
	}

	encoder, err := b.dev.device.CreateCommandEncoder(nil)
	if err != nil {
		return b.dev.fail("create encoder", err)
	}
	defer encoder.Release()

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       target,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: 0, G: 0, B: 0, A: 1},
		}},
	})
	defer pass.Release()
	pass.SetPipeline(b.pipeline)
	pass.SetBindGroup(0, b.bg, nil)
	pass.Draw(3, 1, 0, 0)
	if err := pass.End(); err != nil {
		return b.dev.fail("blit pass", err)
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return b.dev.fail("finish blit", err)
	}
	defer cmd.Release()
	b.dev.queue.Submit(cmd)
	return nil
}

func (b *Blitter) Release() {
	if b.bg != nil {
		b.bg.Release()
	}
	if b.sampler != nil {
		b.sampler.Release()
	}
	if b.pipeline != nil {
		b.pipeline.Release()
	}
	if b.module != nil {
		b.module.Release()
	}
	*b = Blitter{dev: b.dev}
}
