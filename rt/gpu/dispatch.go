package gpu

import (
	"context"

	"github.com/gekko3d/pathtracer/rt/core"
	"github.com/gekko3d/pathtracer/rt/layout"

	"github.com/go-gl/mathgl/mgl32"
)

// FrameContext is everything one trace dispatch depends on besides the
// scene buffers.
type FrameContext struct {
	Camera         core.Camera
	SampleIndex    uint32
	Seed           uint32
	MaxDepth       uint32
	JitterStrength float32
	SkyTop         mgl32.Vec3
	SkyBottom      mgl32.Vec3
	Background     mgl32.Vec3
}

// FrameParams builds the uniform block for a w x h dispatch.
func (fc *FrameContext) FrameParams(w, h uint32, scene SceneBinding) layout.FrameParams {
	fwd, right, up := fc.Camera.Basis()
	return layout.FrameParams{
		Origin:         fc.Camera.Position,
		VFov:           fc.Camera.VFov,
		Right:          right,
		Aperture:       fc.Camera.Aperture,
		Up:             up,
		FocusDistance:  fc.Camera.FocusDistance,
		Forward:        fwd,
		JitterStrength: fc.JitterStrength,
		SkyTop:         fc.SkyTop,
		MaxDepth:       fc.MaxDepth,
		SkyBottom:      fc.SkyBottom,
		SampleIndex:    fc.SampleIndex,
		Background:     fc.Background,
		SphereCount:    scene.SphereCount,
		Width:          w,
		Height:         h,
		Seed:           fc.Seed,
		MaterialCount:  scene.MaterialCount,
	}
}

// Dispatcher records the path tracing pass. It owns the frame uniform.
type Dispatcher struct {
	mgr    *Manager
	params BufferHandle
	last   layout.FrameParams
}

func NewDispatcher(mgr *Manager) (*Dispatcher, error) {
	params, err := mgr.AllocateBuffer(BufferDesc{
		Label: "frame params",
		Size:  uint64(layout.FrameParamsLayout.Size),
		Usage: UsageUniform | UsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	return &Dispatcher{mgr: mgr, params: params}, nil
}

// Dispatch writes the frame uniform and records one trace pass over target:
// one invocation per texel, each adding a single sample.
func (d *Dispatcher) Dispatch(ctx context.Context, cl *CommandList, target ImageHandle, scene SceneBinding, fc FrameContext) error {
	_, desc, err := d.mgr.Image(target)
	if err != nil {
		return err
	}
	p := fc.FrameParams(desc.Width, desc.Height, scene)
	buf := p.Pack()
	if err := layout.CheckPacked(&layout.FrameParamsLayout, buf, 1); err != nil {
		return err
	}
	if err := d.mgr.WriteBuffer(ctx, d.params, 0, buf); err != nil {
		return err
	}
	d.last = p
	cl.Trace(target, d.params, scene)
	return nil
}

// Last returns the parameters of the most recent dispatch.
func (d *Dispatcher) Last() layout.FrameParams { return d.last }

func (d *Dispatcher) Release() error {
	if !d.params.Valid() {
		return nil
	}
	err := d.mgr.Free(d.params.Handle)
	d.params = BufferHandle{}
	return err
}
