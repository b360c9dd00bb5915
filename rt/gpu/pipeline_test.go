package gpu_test

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

var albedo = mgl32.Vec3{0.5, 0.6, 0.7}

// rig wires the four pipeline components the way the tracer does.
type rig struct {
	dev     *cpudev.Device
	mgr     *gpu.Manager
	accum   *gpu.AccumulationTarget
	disp    *gpu.Dispatcher
	present *gpu.PresentationAdapter
	scene   *gpu.SceneBuffer

	camera    core.Camera
	spheres   []core.Sphere
	materials []core.Material
}

func newRig(t *testing.T, w, h uint32, opts cpudev.Options) *rig {
	t.Helper()
	r := &rig{dev: cpudev.New(opts, nil)}
	r.mgr = gpu.NewManager(r.dev, w, h, nil)

	var err error
	r.accum, err = gpu.NewAccumulationTarget(r.mgr, nil)
	require.NoError(t, err)
	r.disp, err = gpu.NewDispatcher(r.mgr)
	require.NoError(t, err)
	r.present, err = gpu.NewPresentationAdapter(r.mgr, mgl32.Vec3{})
	require.NoError(t, err)
	r.scene = gpu.NewSceneBuffer(r.mgr, nil)

	r.camera = core.NewCamera(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, math.Pi/2)
	r.spheres = []core.Sphere{{Center: mgl32.Vec3{0, 0, -1}, Radius: 0.5}}
	r.materials = []core.Material{core.Diffuse(albedo)}
	return r
}

func (r *rig) frameContext(sample uint32) gpu.FrameContext {
	return gpu.FrameContext{
		Camera:         r.camera,
		SampleIndex:    sample,
		Seed:           7,
		MaxDepth:       8,
		JitterStrength: 1,
		SkyTop:         mgl32.Vec3{0.5, 0.7, 1.0},
		SkyBottom:      mgl32.Vec3{1, 1, 1},
	}
}

// frame runs one full frame and waits for it.
func (r *rig) frame(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	binding, changed, err := r.scene.Upload(ctx, r.spheres, r.materials)
	require.NoError(t, err)
	if changed {
		r.accum.Invalidate(gpu.ReasonScene)
	}

	cl := &gpu.CommandList{}
	idx := r.accum.BeginFrame(cl)
	require.NoError(t, r.disp.Dispatch(ctx, cl, r.accum.Get(), binding, r.frameContext(idx)))
	_, err = r.present.Resolve(ctx, cl, r.accum.Get())
	require.NoError(t, err)

	err = r.mgr.Submit(ctx, cl)
	if err == nil {
		err = r.mgr.Wait(ctx)
	}
	r.accum.EndFrame(err == nil)
	require.NoError(t, err)
}

func (r *rig) texels(t *testing.T) ([][4]float32, gpu.ImageDesc) {
	t.Helper()
	data, desc, err := r.mgr.ReadImage(context.Background(), r.accum.Get())
	require.NoError(t, err)
	n := int(desc.Width * desc.Height)
	require.Len(t, data, n*layout.AccumTexelSize)
	out := make([][4]float32, n)
	for i := range out {
		out[i] = layout.Texel(data, i)
	}
	return out, desc
}

func (r *rig) display(t *testing.T) ([]byte, gpu.ImageDesc) {
	t.Helper()
	data, desc, err := r.mgr.ReadImage(context.Background(), r.present.Display())
	require.NoError(t, err)
	return data, desc
}

func TestSampleCountGrowsByOnePerDispatch(t *testing.T) {
	r := newRig(t, 6, 5, cpudev.Options{Workers: 3, TileRows: 2})
	for n := 1; n <= 4; n++ {
		r.frame(t)
		tx, _ := r.texels(t)
		for i, px := range tx {
			require.Equal(t, float32(n), px[3], "pixel %d after %d dispatches", i, n)
		}
		assert.Equal(t, uint32(n), r.accum.SampleCount())
	}
	assert.Equal(t, 1, r.accum.Clears(), "only the initial clear")
}

func TestInvalidationClearsBeforeNextSample(t *testing.T) {
	r := newRig(t, 4, 4, cpudev.Options{})
	for i := 0; i < 3; i++ {
		r.frame(t)
	}

	r.accum.Invalidate(gpu.ReasonCamera)
	assert.Zero(t, r.accum.SampleCount())
	r.camera.Position = mgl32.Vec3{0, 0, 0.5}
	r.frame(t)

	tx, _ := r.texels(t)
	for i, px := range tx {
		assert.Equal(t, float32(1), px[3], "pixel %d", i)
		for c := 0; c < 3; c++ {
			// a single sample under this sky never exceeds 1
			assert.LessOrEqual(t, px[c], float32(1), "pixel %d carries stale radiance", i)
		}
	}

	h := r.dev.History()
	require.GreaterOrEqual(t, len(h), 3)
	assert.Equal(t, []gpu.PassKind{gpu.PassClear, gpu.PassTrace, gpu.PassResolve}, h[len(h)-3:])
}

func TestSceneUploadIdempotence(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, 4, 4, cpudev.Options{})
	r.frame(t)
	r.frame(t)
	assert.Equal(t, uint32(2), r.accum.SampleCount(), "identical re-upload keeps samples")

	_, changed, err := r.scene.Upload(ctx, r.spheres, append([]core.Material(nil), r.materials...))
	require.NoError(t, err)
	assert.False(t, changed)

	r.materials = []core.Material{core.Diffuse(mgl32.Vec3{0.5, 0.6, 0.8})}
	_, changed, err = r.scene.Upload(ctx, r.spheres, r.materials)
	require.NoError(t, err)
	assert.True(t, changed, "changed material parameter")

	r.accum.Invalidate(gpu.ReasonScene)
	r.frame(t)
	assert.Equal(t, uint32(1), r.accum.SampleCount())
}

func TestSceneUploadRejectsBadReferenceBeforeSubmit(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, 4, 4, cpudev.Options{})
	r.frame(t)
	before := r.scene.Binding()

	_, changed, err := r.scene.Upload(ctx, []core.Sphere{{Radius: 1, Material: 3}}, r.materials)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidSceneReference)
	assert.False(t, changed)
	assert.Equal(t, before, r.scene.Binding())
	assert.Equal(t, 1, r.dev.Submissions())
}

func TestSceneBufferGrows(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, 4, 4, cpudev.Options{})
	r.frame(t)
	first := r.scene.Binding()

	var spheres []core.Sphere
	for i := 0; i < 20; i++ {
		spheres = append(spheres, core.Sphere{Center: mgl32.Vec3{float32(i), 0, -5}, Radius: 0.25})
	}
	b, changed, err := r.scene.Upload(ctx, spheres, r.materials)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotEqual(t, first.Spheres, b.Spheres, "reallocated")
	assert.Equal(t, first.Materials, b.Materials, "big enough already")
	assert.Equal(t, uint32(20), b.SphereCount)

	_, _, err = r.mgr.Buffer(first.Spheres)
	assert.ErrorIs(t, err, core.ErrStaleHandle)
}

func TestResizeZeroesAccumulation(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, 4, 4, cpudev.Options{})
	r.frame(t)
	r.frame(t)

	require.NoError(t, r.mgr.Resize(ctx, 7, 3))
	assert.True(t, r.accum.Pending())
	assert.Zero(t, r.accum.SampleCount())

	tx, desc := r.texels(t)
	assert.Equal(t, uint32(7), desc.Width)
	assert.Equal(t, uint32(3), desc.Height)
	assert.Len(t, tx, 7*3)
	for _, px := range tx {
		assert.Equal(t, [4]float32{}, px)
	}

	r.frame(t)
	tx, _ = r.texels(t)
	for _, px := range tx {
		assert.Equal(t, float32(1), px[3])
	}
	img, ddesc := r.display(t)
	assert.Equal(t, uint32(7), ddesc.Width)
	assert.Len(t, img, 7*3*4)
}

func TestResolveWithoutSamplesIsBackground(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, 3, 2, cpudev.Options{})
	r.present.Background = mgl32.Vec3{0, 1, 0}

	cl := &gpu.CommandList{}
	r.accum.BeginFrame(cl)
	_, err := r.present.Resolve(ctx, cl, r.accum.Get())
	require.NoError(t, err)
	require.NoError(t, r.mgr.Submit(ctx, cl))

	img, _ := r.display(t)
	for i := 0; i < 6; i++ {
		assert.Equal(t, []byte{0, 255, 0, 255}, img[i*4:i*4+4])
	}
}

func TestSingleDiffuseSphereConverges(t *testing.T) {
	const size = 16
	r := newRig(t, size, size, cpudev.Options{})
	for i := 0; i < 100; i++ {
		r.frame(t)
	}

	tx, _ := r.texels(t)
	for i, px := range tx {
		require.Equal(t, float32(100), px[3], "pixel %d", i)
	}

	// centre pixel sees the sphere; after one diffuse bounce every path
	// escapes to a sky no brighter than 1
	centre := tx[(size/2)*size+size/2]
	img, _ := r.display(t)
	rgba := img[((size/2)*size+size/2)*4:]
	for c := 0; c < 3; c++ {
		mean := centre[c] / centre[3]
		assert.Greater(t, mean, float32(0))
		assert.LessOrEqual(t, mean, albedo[c]+1e-5)

		limit := math.Pow(float64(albedo[c]), 1/2.2)*255 + 1
		assert.LessOrEqual(t, float64(rgba[c]), limit)
	}
	assert.Equal(t, byte(255), rgba[3])

	// a corner pixel misses the sphere and sees only sky
	corner := tx[0]
	assert.InDelta(t, 1, corner[2]/corner[3], 1e-3, "sky blue channel")
}

// grownSize mirrors the scene buffer's headroom rule.
func grownSize(n, stride int) uint64 {
	size := n * stride
	return uint64((size + size/2 + stride - 1) / stride * stride)
}

func TestFailedSceneUploadKeepsPreviousBinding(t *testing.T) {
	ctx := context.Background()
	used := func() uint64 {
		r := newRig(t, 4, 4, cpudev.Options{})
		r.frame(t)
		return r.dev.Used()
	}()

	var spheres []core.Sphere
	for i := 0; i < 20; i++ {
		spheres = append(spheres, core.Sphere{Center: mgl32.Vec3{float32(i), 0, -5}, Radius: 0.25})
	}
	var materials []core.Material
	for i := 0; i < 5; i++ {
		materials = append(materials, core.Diffuse(albedo))
	}

	// room for the grown sphere buffer, not for the grown material buffer
	limit := used + grownSize(len(spheres), layout.SphereLayout.Size)
	r := newRig(t, 4, 4, cpudev.Options{MemoryLimit: limit})
	r.frame(t)
	require.Equal(t, used, r.dev.Used())
	before := r.scene.Binding()

	b, changed, err := r.scene.Upload(ctx, spheres, materials)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrResourceExhaustion)
	assert.False(t, changed)
	assert.Equal(t, before, b)
	assert.Equal(t, before, r.scene.Binding(), "no half-swapped binding")
	assert.Equal(t, used, r.dev.Used(), "the new sphere buffer was released")

	_, _, err = r.mgr.Buffer(before.Spheres)
	assert.NoError(t, err, "previous sphere buffer is still live")

	r.frame(t)
	tx, _ := r.texels(t)
	assert.Equal(t, float32(1), tx[0][3], "retry re-uploads and restarts accumulation")
}

func TestPresentationAdapterReleasesDisplayOnFailure(t *testing.T) {
	dev := cpudev.New(cpudev.Options{MemoryLimit: 4 * 4 * 4}, nil)
	mgr := gpu.NewManager(dev, 4, 4, nil)

	_, err := gpu.NewPresentationAdapter(mgr, mgl32.Vec3{})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrResourceExhaustion)
	assert.Zero(t, dev.Used())
	assert.Equal(t, gpu.Stats{}, mgr.Stats())
}
