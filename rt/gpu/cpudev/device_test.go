package cpudev_test

import (
	"context"
	"math"
	"testing"

	"github.com/gekko3d/pathtracer/rt/core"
	"github.com/gekko3d/pathtracer/rt/gpu"
	"github.com/gekko3d/pathtracer/rt/gpu/cpudev"
	"github.com/gekko3d/pathtracer/rt/layout"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buffer(t *testing.T, d *cpudev.Device, label string, data []byte) gpu.Resource {
	t.Helper()
	res, err := d.CreateBuffer(gpu.BufferDesc{Label: label, Size: uint64(len(data))})
	require.NoError(t, err)
	require.NoError(t, d.WriteBuffer(res, 0, data))
	return res
}

// traceOnce runs clear + trace + resolve over a w x h target and returns the
// accumulation and display bytes.
func traceOnce(t *testing.T, d *cpudev.Device, w, h uint32) ([]byte, []byte) {
	t.Helper()
	ctx := context.Background()

	spheres := []core.Sphere{{Center: mgl32.Vec3{0, 0, -1}, Radius: 0.5}}
	materials := []core.Material{core.Diffuse(mgl32.Vec3{0.8, 0.3, 0.3})}
	fc := gpu.FrameContext{
		Camera:         core.NewCamera(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, math.Pi/2),
		Seed:           3,
		MaxDepth:       8,
		JitterStrength: 1,
		SkyTop:         mgl32.Vec3{0.5, 0.7, 1},
		SkyBottom:      mgl32.Vec3{1, 1, 1},
	}
	params := fc.FrameParams(w, h, gpu.SceneBinding{SphereCount: 1, MaterialCount: 1})
	rp := layout.ResolveParams{InvGamma: 1 / 2.2, Width: w, Height: h}

	accum, err := d.CreateImage(gpu.ImageDesc{Label: "acc", Format: gpu.FormatRGBA32Float, Width: w, Height: h})
	require.NoError(t, err)
	disp, err := d.CreateImage(gpu.ImageDesc{Label: "disp", Format: gpu.FormatRGBA8Unorm, Width: w, Height: h})
	require.NoError(t, err)

	passes := []gpu.BoundPass{
		{Kind: gpu.PassClear, Width: w, Height: h, Target: accum},
		{
			Kind: gpu.PassTrace, Width: w, Height: h, Target: accum,
			Params:    buffer(t, d, "frame", params.Pack()),
			Spheres:   buffer(t, d, "spheres", layout.PackSpheres(spheres)),
			Materials: buffer(t, d, "materials", layout.PackMaterials(materials)),
		},
		{Kind: gpu.PassResolve, Width: w, Height: h, Target: accum, Output: disp, Params: buffer(t, d, "resolve", rp.Pack())},
	}
	f, err := d.Submit(ctx, passes)
	require.NoError(t, err)
	require.NoError(t, f.Wait(ctx))

	a, err := d.ReadImage(ctx, accum)
	require.NoError(t, err)
	o, err := d.ReadImage(ctx, disp)
	require.NoError(t, err)
	return a, o
}

func TestTilingDoesNotChangeTheImage(t *testing.T) {
	serial := cpudev.New(cpudev.Options{Workers: 1, TileRows: 64}, nil)
	accS, dispS := traceOnce(t, serial, 11, 7)

	parallel := cpudev.New(cpudev.Options{Workers: 4, TileRows: 2}, nil)
	accP, dispP := traceOnce(t, parallel, 11, 7)

	assert.Equal(t, accS, accP)
	assert.Equal(t, dispS, dispP)
	for i := 0; i < 11*7; i++ {
		assert.Equal(t, float32(1), layout.Texel(accP, i)[3])
	}
}

func TestMemoryLimit(t *testing.T) {
	d := cpudev.New(cpudev.Options{MemoryLimit: 64}, nil)

	a, err := d.CreateBuffer(gpu.BufferDesc{Label: "a", Size: 48})
	require.NoError(t, err)
	_, err = d.CreateBuffer(gpu.BufferDesc{Label: "b", Size: 32})
	assert.ErrorIs(t, err, core.ErrResourceExhaustion)
	assert.Equal(t, uint64(48), d.Used())

	a.Release()
	a.Release()
	assert.Zero(t, d.Used(), "release is idempotent")

	_, err = d.CreateBuffer(gpu.BufferDesc{Label: "b", Size: 32})
	assert.NoError(t, err)
}

func TestWriteBufferBounds(t *testing.T) {
	d := cpudev.New(cpudev.Options{}, nil)
	b, err := d.CreateBuffer(gpu.BufferDesc{Label: "small", Size: 8})
	require.NoError(t, err)

	assert.NoError(t, d.WriteBuffer(b, 4, []byte{1, 2, 3, 4}))
	assert.Error(t, d.WriteBuffer(b, 6, []byte{1, 2, 3, 4}))

	img, err := d.CreateImage(gpu.ImageDesc{Label: "img", Format: gpu.FormatRGBA8Unorm, Width: 1, Height: 1})
	require.NoError(t, err)
	assert.Error(t, d.WriteBuffer(img, 0, []byte{0}), "images are not host writable")
}

func TestLostDevice(t *testing.T) {
	ctx := context.Background()
	d := cpudev.New(cpudev.Options{}, nil)
	img, err := d.CreateImage(gpu.ImageDesc{Label: "img", Format: gpu.FormatRGBA32Float, Width: 2, Height: 2})
	require.NoError(t, err)

	d.Lose("unplugged")
	_, err = d.Submit(ctx, []gpu.BoundPass{{Kind: gpu.PassClear, Width: 2, Height: 2, Target: img}})
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	_, err = d.ReadImage(ctx, img)
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	_, err = d.CreateBuffer(gpu.BufferDesc{Label: "late", Size: 4})
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	assert.Zero(t, d.Submissions())
}

func TestSubmitHonoursCancelledContext(t *testing.T) {
	d := cpudev.New(cpudev.Options{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Submit(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseTwice(t *testing.T) {
	d := cpudev.New(cpudev.Options{}, nil)
	require.NoError(t, d.Close())
	assert.NoError(t, d.Close())
	_, err := d.CreateBuffer(gpu.BufferDesc{Label: "late", Size: 4})
	assert.ErrorIs(t, err, core.ErrClosed)
}
