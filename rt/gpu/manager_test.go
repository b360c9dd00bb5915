package gpu_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gekko3d/pathtracer/rt/core"
	"github.com/gekko3d/pathtracer/rt/gpu"
	"github.com/gekko3d/pathtracer/rt/gpu/cpudev"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateAndFree(t *testing.T) {
	dev := cpudev.New(cpudev.Options{}, nil)
	mgr := gpu.NewManager(dev, 8, 4, nil)

	img, err := mgr.AllocateImage(gpu.ImageDesc{
		Label:         "acc",
		Format:        gpu.FormatRGBA32Float,
		Usage:         gpu.UsageStorageRead | gpu.UsageStorageWrite,
		SizeDependent: true,
	})
	require.NoError(t, err)

	_, desc, err := mgr.Image(img)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), desc.Width, "size-dependent images take the output extent")
	assert.Equal(t, uint32(4), desc.Height)
	assert.Equal(t, uint64(8*4*16), dev.Used())

	buf, err := mgr.AllocateBuffer(gpu.BufferDesc{Label: "u", Size: 64, Usage: gpu.UsageUniform})
	require.NoError(t, err)
	assert.Equal(t, gpu.Stats{Images: 1, Buffers: 1, Bytes: 8*4*16 + 64}, mgr.Stats())

	require.NoError(t, mgr.Free(buf.Handle))
	_, _, err = mgr.Buffer(buf)
	assert.ErrorIs(t, err, core.ErrStaleHandle)
	assert.ErrorIs(t, mgr.Free(buf.Handle), core.ErrStaleHandle)

	_, _, err = mgr.Buffer(gpu.BufferHandle{Handle: img.Handle})
	assert.ErrorIs(t, err, core.ErrStaleHandle, "an image handle is not a buffer")

	_, err = mgr.AllocateBuffer(gpu.BufferDesc{Label: "empty"})
	assert.Error(t, err)
}

func TestAllocationFailureIsResourceExhaustion(t *testing.T) {
	dev := cpudev.New(cpudev.Options{MemoryLimit: 100}, nil)
	mgr := gpu.NewManager(dev, 8, 8, nil)

	_, err := mgr.AllocateImage(gpu.ImageDesc{Label: "big", Format: gpu.FormatRGBA32Float, SizeDependent: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrResourceExhaustion), "got %v", err)
	assert.Equal(t, gpu.Stats{}, mgr.Stats(), "nothing half-allocated")
	assert.Zero(t, dev.Used())
}

func TestResizeRemapsAndNotifies(t *testing.T) {
	ctx := context.Background()
	dev := cpudev.New(cpudev.Options{}, nil)
	mgr := gpu.NewManager(dev, 4, 4, nil)

	img, err := mgr.AllocateImage(gpu.ImageDesc{Label: "acc", Format: gpu.FormatRGBA32Float, SizeDependent: true})
	require.NoError(t, err)
	fixed, err := mgr.AllocateImage(gpu.ImageDesc{Label: "fixed", Format: gpu.FormatRGBA8Unorm, Width: 2, Height: 2})
	require.NoError(t, err)

	var got gpu.ResizeEvent
	mgr.OnResize(func(ev gpu.ResizeEvent) { got = ev })

	require.NoError(t, mgr.Resize(ctx, 16, 9))
	assert.Equal(t, uint32(16), got.Width)
	assert.Equal(t, uint32(9), got.Height)
	require.Len(t, got.Remap, 1)

	_, _, err = mgr.Image(img)
	assert.ErrorIs(t, err, core.ErrStaleHandle, "resize invalidates size-dependent handles")

	nh := gpu.ImageHandle{Handle: got.Remap[img.Handle]}
	_, desc, err := mgr.Image(nh)
	require.NoError(t, err)
	assert.Equal(t, uint32(16), desc.Width)
	assert.Equal(t, uint32(9), desc.Height)

	_, desc, err = mgr.Image(fixed)
	require.NoError(t, err, "fixed-size images survive")
	assert.Equal(t, uint32(2), desc.Width)

	w, h := mgr.Extent()
	assert.Equal(t, [2]uint32{16, 9}, [2]uint32{w, h})
	assert.Equal(t, uint64(16*9*16+2*2*4), dev.Used())
}

func TestResizeIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, 4, 4, cpudev.Options{MemoryLimit: 2000})
	r.frame(t)

	before := r.dev.Used()
	accum := r.accum.Get()
	display := r.present.Display()

	err := r.mgr.Resize(ctx, 10, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrResourceExhaustion)

	assert.Equal(t, before, r.dev.Used(), "partial replacements were released")
	w, h := r.mgr.Extent()
	assert.Equal(t, [2]uint32{4, 4}, [2]uint32{w, h})
	assert.Equal(t, accum, r.accum.Get())
	assert.Equal(t, display, r.present.Display())
	_, _, err = r.mgr.Image(accum)
	assert.NoError(t, err, "previous set is still valid")

	r.frame(t)
	assert.Equal(t, uint32(2), r.accum.SampleCount())
}

func TestCloseReleasesEverything(t *testing.T) {
	r := newRig(t, 4, 4, cpudev.Options{})
	r.frame(t)
	require.NotZero(t, r.dev.Used())

	require.NoError(t, r.mgr.Close(context.Background()))
	assert.Zero(t, r.dev.Used())
	assert.Equal(t, gpu.Stats{}, r.mgr.Stats())

	assert.NoError(t, r.mgr.Close(context.Background()), "second close only warns")
	_, err := r.mgr.AllocateBuffer(gpu.BufferDesc{Label: "late", Size: 4})
	assert.ErrorIs(t, err, core.ErrClosed)
}

func TestDeviceLostIsFatal(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, 4, 4, cpudev.Options{})
	r.frame(t)

	r.dev.Lose("test")
	cl := &gpu.CommandList{}
	idx := r.accum.BeginFrame(cl)
	err := r.disp.Dispatch(ctx, cl, r.accum.Get(), r.scene.Binding(), r.frameContext(idx))
	if err == nil {
		err = r.mgr.Submit(ctx, cl)
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	r.accum.EndFrame(false)
	assert.True(t, r.accum.Pending(), "a failed frame forces a clear")

	assert.ErrorIs(t, r.mgr.Submit(ctx, &gpu.CommandList{}), core.ErrDeviceLost)
	assert.Equal(t, 1, r.dev.Submissions(), "no retry")
}

func TestSubmitRejectsStaleHandles(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, 4, 4, cpudev.Options{})
	old := r.accum.Get()
	require.NoError(t, r.mgr.Resize(ctx, 5, 5))

	cl := &gpu.CommandList{}
	cl.Clear(old)
	assert.ErrorIs(t, r.mgr.Submit(ctx, cl), core.ErrStaleHandle)
	assert.Zero(t, r.dev.Submissions())
}
