package wgpudev

import (
	"fmt"

	"github.com/gekko3d/pathtracer/rt/shaders"

	"github.com/cogentcore/webgpu/wgpu"
)

// pipelines holds the three compute pipelines with explicit layouts, so a
// bind group built for one pass never depends on what the compiler strips.
type pipelines struct {
	modules []*wgpu.ShaderModule
	layouts []*wgpu.PipelineLayout

	accumBGL   *wgpu.BindGroupLayout
	sceneBGL   *wgpu.BindGroupLayout
	resolveBGL *wgpu.BindGroupLayout

	clear   *wgpu.ComputePipeline
	trace   *wgpu.ComputePipeline
	resolve *wgpu.ComputePipeline
}

func bufferEntry(binding uint32, t wgpu.BufferBindingType) wgpu.BindGroupLayoutEntry {
	return wgpu.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: wgpu.ShaderStageCompute,
		Buffer:     wgpu.BufferBindingLayout{Type: t},
	}
}

func newPipelines(device *wgpu.Device) (p *pipelines, err error) {
	p = &pipelines{}
	defer func() {
		if err != nil {
			p.release()
			p = nil
		}
	}()

	traceMod, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Trace CS",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.TraceWGSL},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpudev: trace shader: %w", err)
	}
	p.modules = append(p.modules, traceMod)

	resolveMod, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Resolve CS",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.ResolveWGSL},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpudev: resolve shader: %w", err)
	}
	p.modules = append(p.modules, resolveMod)

	p.accumBGL, err = device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   "Accum BGL",
		Entries: []wgpu.BindGroupLayoutEntry{bufferEntry(0, wgpu.BufferBindingTypeStorage)},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpudev: accum layout: %w", err)
	}
	p.sceneBGL, err = device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Scene BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			bufferEntry(0, wgpu.BufferBindingTypeUniform),
			bufferEntry(1, wgpu.BufferBindingTypeReadOnlyStorage),
			bufferEntry(2, wgpu.BufferBindingTypeReadOnlyStorage),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpudev: scene layout: %w", err)
	}
	p.resolveBGL, err = device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Resolve BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			bufferEntry(0, wgpu.BufferBindingTypeReadOnlyStorage),
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageCompute,
				StorageTexture: wgpu.StorageTextureBindingLayout{
					Access:        wgpu.StorageTextureAccessWriteOnly,
					Format:        wgpu.TextureFormatRGBA8Unorm,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			bufferEntry(2, wgpu.BufferBindingTypeUniform),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpudev: resolve layout: %w", err)
	}

	p.clear, err = p.compute(device, "Clear Pipeline", traceMod, shaders.ClearEntry, p.accumBGL)
	if err != nil {
		return nil, err
	}
	p.trace, err = p.compute(device, "Trace Pipeline", traceMod, shaders.TraceEntry, p.accumBGL, p.sceneBGL)
	if err != nil {
		return nil, err
	}
	p.resolve, err = p.compute(device, "Resolve Pipeline", resolveMod, shaders.ResolveEntry, p.resolveBGL)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *pipelines) compute(device *wgpu.Device, label string, mod *wgpu.ShaderModule, entry string, groups ...*wgpu.BindGroupLayout) (*wgpu.ComputePipeline, error) {
	layout, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label + " Layout",
		BindGroupLayouts: groups,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpudev: %s layout: %w", label, err)
	}
	p.layouts = append(p.layouts, layout)

	pipe, err := device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label,
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     mod,
			EntryPoint: entry,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpudev: %s: %w", label, err)
	}
	return pipe, nil
}

func (p *pipelines) release() {
	for _, pipe := range []*wgpu.ComputePipeline{p.clear, p.trace, p.resolve} {
		if pipe != nil {
			pipe.Release()
		}
	}
	for _, l := range p.layouts {
		l.Release()
	}
	for _, bgl := range []*wgpu.BindGroupLayout{p.accumBGL, p.sceneBGL, p.resolveBGL} {
		if bgl != nil {
			bgl.Release()
		}
	}
	for _, m := range p.modules {
		m.Release()
	}
	*p = pipelines{}
}
