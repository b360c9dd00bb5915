package wgpudev

import (
	"context"
	"fmt"

	"github.com/gekko3d/pathtracer/rt/gpu"
	"github.com/gekko3d/pathtracer/rt/shaders"

	"github.com/cogentcore/webgpu/wgpu"
)

type fence struct {
	dev *Device
}

// Wait blocks until the queue drains. wgpu-native exposes no per-submission
// wait without a callback, so every fence waits for all prior work.
func (f *fence) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.dev.check(); err != nil {
		return err
	}
	f.dev.device.Poll(true, nil)
	return f.dev.check()
}

func groups(n uint32) uint32 {
	return (n + shaders.WorkgroupSize - 1) / shaders.WorkgroupSize
}

func (d *Device) Submit(ctx context.Context, passes []gpu.BoundPass) (gpu.Fence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.check(); err != nil {
		return nil, err
	}

	encoder, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, d.fail("create encoder", err)
	}
	defer encoder.Release()

	var bindGroups []*wgpu.BindGroup
	defer func() {
		for _, bg := range bindGroups {
			bg.Release()
		}
	}()
	bind := func(layout *wgpu.BindGroupLayout, entries ...wgpu.BindGroupEntry) (*wgpu.BindGroup, error) {
		bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{Layout: layout, Entries: entries})
		if err != nil {
			return nil, err
		}
		bindGroups = append(bindGroups, bg)
		return bg, nil
	}

	for i := range passes {
		if err := d.encode(encoder, &passes[i], bind); err != nil {
			return nil, d.fail(passes[i].Kind.String()+" pass", err)
		}
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, d.fail("finish", err)
	}
	defer cmd.Release()
	d.queue.Submit(cmd)
	return &fence{dev: d}, nil
}

type binder func(layout *wgpu.BindGroupLayout, entries ...wgpu.BindGroupEntry) (*wgpu.BindGroup, error)

func storageOf(r gpu.Resource) (*storageImage, error) {
	img, ok := r.(*storageImage)
	if !ok {
		return nil, fmt.Errorf("expected accumulation image, got %T", r)
	}
	return img, nil
}

func bufferOf(r gpu.Resource) (*wgpu.Buffer, error) {
	b, ok := r.(*buffer)
	if !ok {
		return nil, fmt.Errorf("expected buffer, got %T", r)
	}
	return b.buf, nil
}

func (d *Device) encode(encoder *wgpu.CommandEncoder, p *gpu.BoundPass, bind binder) error {
	target, err := storageOf(p.Target)
	if err != nil {
		return err
	}
	accum := wgpu.BindGroupEntry{Binding: 0, Buffer: target.buf, Size: wgpu.WholeSize}

	pass := encoder.BeginComputePass(nil)
	defer pass.Release()
	switch p.Kind {
	case gpu.PassClear:
		bg, err := bind(d.pipes.accumBGL, accum)
		if err != nil {
			pass.End()
			return err
		}
		pass.SetPipeline(d.pipes.clear)
		pass.SetBindGroup(0, bg, nil)

	case gpu.PassTrace:
		params, err1 := bufferOf(p.Params)
		spheres, err2 := bufferOf(p.Spheres)
		materials, err3 := bufferOf(p.Materials)
		if err := firstErr(err1, err2, err3); err != nil {
			pass.End()
			return err
		}
		bg0, err := bind(d.pipes.accumBGL, accum)
		if err != nil {
			pass.End()
			return err
		}
		bg1, err := bind(d.pipes.sceneBGL,
			wgpu.BindGroupEntry{Binding: 0, Buffer: params, Size: wgpu.WholeSize},
			wgpu.BindGroupEntry{Binding: 1, Buffer: spheres, Size: wgpu.WholeSize},
			wgpu.BindGroupEntry{Binding: 2, Buffer: materials, Size: wgpu.WholeSize},
		)
		if err != nil {
			pass.End()
			return err
		}
		pass.SetPipeline(d.pipes.trace)
		pass.SetBindGroup(0, bg0, nil)
		pass.SetBindGroup(1, bg1, nil)

	case gpu.PassResolve:
		out, ok := p.Output.(*textureImage)
		if !ok {
			pass.End()
			return fmt.Errorf("expected display image, got %T", p.Output)
		}
		params, err := bufferOf(p.Params)
		if err != nil {
			pass.End()
			return err
		}
		bg, err := bind(d.pipes.resolveBGL,
			accum,
			wgpu.BindGroupEntry{Binding: 1, TextureView: out.view},
			wgpu.BindGroupEntry{Binding: 2, Buffer: params, Size: wgpu.WholeSize},
		)
		if err != nil {
			pass.End()
			return err
		}
		pass.SetPipeline(d.pipes.resolve)
		pass.SetBindGroup(0, bg, nil)

	default:
		pass.End()
		return fmt.Errorf("unknown pass %s", p.Kind)
	}

	pass.DispatchWorkgroups(groups(p.Width), groups(p.Height), 1)
	return pass.End()
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadImage copies img into a mappable staging buffer and returns its
// texels tightly packed.
func (d *Device) ReadImage(ctx context.Context, res gpu.Resource) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.check(); err != nil {
		return nil, err
	}

	var desc gpu.ImageDesc
	var bytesPerRow uint32
	var size uint64
	copyTo := func(*wgpu.CommandEncoder, *wgpu.Buffer) {}

	switch img := res.(type) {
	case *storageImage:
		desc = img.desc
		size = desc.ByteSize()
		bytesPerRow = desc.Width * uint32(desc.Format.BytesPerPixel())
		copyTo = func(enc *wgpu.CommandEncoder, staging *wgpu.Buffer) {
			enc.CopyBufferToBuffer(img.buf, 0, staging, 0, size)
		}
	case *textureImage:
		desc = img.desc
		// texture copies need 256-byte aligned rows
		bytesPerRow = (desc.Width*uint32(desc.Format.BytesPerPixel()) + 255) &^ 255
		size = uint64(bytesPerRow) * uint64(desc.Height)
		copyTo = func(enc *wgpu.CommandEncoder, staging *wgpu.Buffer) {
			enc.CopyTextureToBuffer(
				&wgpu.ImageCopyTexture{
					Texture:  img.tex,
					MipLevel: 0,
					Origin:   wgpu.Origin3D{X: 0, Y: 0, Z: 0},
				},
				&wgpu.ImageCopyBuffer{
					Buffer: staging,
					Layout: wgpu.TextureDataLayout{
						Offset:       0,
						BytesPerRow:  bytesPerRow,
						RowsPerImage: desc.Height,
					},
				},
				&wgpu.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
			)
		}
	default:
		return nil, fmt.Errorf("wgpudev: read from %T", res)
	}
	if size == 0 {
		return nil, nil
	}

	staging, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Readback",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, exhausted("readback", err)
	}
	defer staging.Release()

	encoder, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, d.fail("create encoder", err)
	}
	copyTo(encoder, staging)
	cmd, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		return nil, d.fail("finish readback", err)
	}
	d.queue.Submit(cmd)
	cmd.Release()

	mapped := false
	staging.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		mapped = status == wgpu.BufferMapAsyncStatusSuccess
	})
	d.device.Poll(true, nil)
	if !mapped {
		return nil, d.fail("map readback", errMapFailed)
	}
	defer staging.Unmap()

	data := staging.GetMappedRange(0, uint(size))
	rowBytes := desc.Width * uint32(desc.Format.BytesPerPixel())
	out := make([]byte, desc.ByteSize())
	for y := uint32(0); y < desc.Height; y++ {
		copy(out[y*rowBytes:(y+1)*rowBytes], data[y*bytesPerRow:y*bytesPerRow+rowBytes])
	}
	return out, nil
}
