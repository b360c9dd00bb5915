package wgpudev_test

import (
	"context"
	"testing"

	"github.com/gekko3d/pathtracer/rt/core"
	"github.com/gekko3d/pathtracer/rt/gpu"
	"github.com/gekko3d/pathtracer/rt/gpu/cpudev"
	"github.com/gekko3d/pathtracer/rt/gpu/wgpudev"
	"github.com/gekko3d/pathtracer/rt/layout"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDevice(t *testing.T) *wgpudev.Device {
	t.Helper()
	d, err := wgpudev.New(nil)
	if err != nil {
		t.Skipf("no WebGPU adapter: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// render runs one clear+trace+resolve frame on backend and returns the
// accumulation texels and display bytes.
func render(t *testing.T, backend gpu.Backend, w, h uint32, spheres []core.Sphere, materials []core.Material) ([]byte, []byte) {
	t.Helper()
	ctx := context.Background()
	mgr := gpu.NewManager(backend, w, h, nil)
	defer mgr.Close(ctx)

	accum, err := gpu.NewAccumulationTarget(mgr, nil)
	require.NoError(t, err)
	disp, err := gpu.NewDispatcher(mgr)
	require.NoError(t, err)
	present, err := gpu.NewPresentationAdapter(mgr, mgl32.Vec3{})
	require.NoError(t, err)
	scene := gpu.NewSceneBuffer(mgr, nil)

	binding, _, err := scene.Upload(ctx, spheres, materials)
	require.NoError(t, err)

	cl := &gpu.CommandList{}
	idx := accum.BeginFrame(cl)
	require.NoError(t, disp.Dispatch(ctx, cl, accum.Get(), binding, gpu.FrameContext{
		Camera:         core.NewCamera(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, 1.2),
		SampleIndex:    idx,
		MaxDepth:       8,
		JitterStrength: 1,
		SkyTop:         mgl32.Vec3{0.5, 0.7, 1},
		SkyBottom:      mgl32.Vec3{1, 1, 1},
	}))
	_, err = present.Resolve(ctx, cl, accum.Get())
	require.NoError(t, err)
	require.NoError(t, mgr.Submit(ctx, cl))
	require.NoError(t, mgr.Wait(ctx))
	accum.EndFrame(true)

	texels, _, err := mgr.ReadImage(ctx, accum.Get())
	require.NoError(t, err)
	display, _, err := mgr.ReadImage(ctx, present.Display())
	require.NoError(t, err)
	return texels, display
}

func TestSkyMatchesSoftwareBackend(t *testing.T) {
	d := openDevice(t)
	const w, h = 13, 9

	gpuTexels, gpuDisplay := render(t, d, w, h, nil, nil)
	cpuTexels, cpuDisplay := render(t, cpudev.New(cpudev.Options{}, nil), w, h, nil, nil)

	require.Len(t, gpuTexels, w*h*layout.AccumTexelSize)
	require.Len(t, gpuDisplay, w*h*4)
	for i := 0; i < w*h; i++ {
		g, c := layout.Texel(gpuTexels, i), layout.Texel(cpuTexels, i)
		assert.Equal(t, float32(1), g[3], "texel %d count", i)
		for k := 0; k < 3; k++ {
			assert.InDelta(t, c[k], g[k], 1e-3, "texel %d channel %d", i, k)
		}
		for k := 0; k < 3; k++ {
			assert.InDelta(t, int(cpuDisplay[i*4+k]), int(gpuDisplay[i*4+k]), 1, "display %d channel %d", i, k)
		}
		assert.Equal(t, byte(255), gpuDisplay[i*4+3])
	}
}

func TestSphereFrameCountsOneSample(t *testing.T) {
	d := openDevice(t)
	texels, _ := render(t, d, 8, 8,
		[]core.Sphere{{Center: mgl32.Vec3{0, 0, -2}, Radius: 1}},
		[]core.Material{core.Diffuse(mgl32.Vec3{0.5, 0.5, 0.5})},
	)
	for i := 0; i < 64; i++ {
		tx := layout.Texel(texels, i)
		assert.Equal(t, float32(1), tx[3])
		for k := 0; k < 3; k++ {
			assert.GreaterOrEqual(t, tx[k], float32(0))
			assert.LessOrEqual(t, tx[k], float32(1.0001))
		}
	}
}

func TestClosedDeviceRejectsWork(t *testing.T) {
	d := openDevice(t)
	require.NoError(t, d.Close())
	_, err := d.CreateBuffer(gpu.BufferDesc{Label: "late", Size: 16, Usage: gpu.UsageUniform})
	assert.ErrorIs(t, err, core.ErrClosed)
	assert.NoError(t, d.Close(), "second close only warns")
}
