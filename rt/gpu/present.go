package gpu

import (
	"context"
	"errors"

	"github.com/gekko3d/pathtracer/rt/kernel"
	"github.com/gekko3d/pathtracer/rt/layout"

	"github.com/go-gl/mathgl/mgl32"
)

// PresentationAdapter resolves the accumulation target into an RGBA8 image
// that a presentation pass can sample or a caller can read back.
type PresentationAdapter struct {
	mgr     *Manager
	display ImageHandle
	params  BufferHandle

	Background mgl32.Vec3
	InvGamma   float32
}

func NewPresentationAdapter(mgr *Manager, background mgl32.Vec3) (*PresentationAdapter, error) {
	display, err := mgr.AllocateImage(ImageDesc{
		Label:         "display",
		Format:        FormatRGBA8Unorm,
		Usage:         UsageStorageWrite | UsageSampled | UsageCopySrc,
		SizeDependent: true,
	})
	if err != nil {
		return nil, err
	}
	params, err := mgr.AllocateBuffer(BufferDesc{
		Label: "resolve params",
		Size:  uint64(layout.ResolveParamsLayout.Size),
		Usage: UsageUniform | UsageCopyDst,
	})
	if err != nil {
		return nil, errors.Join(err, mgr.Free(display.Handle))
	}
	p := &PresentationAdapter{
		mgr:        mgr,
		display:    display,
		params:     params,
		Background: background,
		InvGamma:   kernel.InvGamma,
	}
	mgr.OnResize(p.onResize)
	return p, nil
}

// Resolve records the resolve of source into the display image and returns
// the display handle.
func (p *PresentationAdapter) Resolve(ctx context.Context, cl *CommandList, source ImageHandle) (ImageHandle, error) {
	_, desc, err := p.mgr.Image(source)
	if err != nil {
		return ImageHandle{}, err
	}
	rp := layout.ResolveParams{
		Background: p.Background,
		InvGamma:   p.InvGamma,
		Width:      desc.Width,
		Height:     desc.Height,
	}
	if err := p.mgr.WriteBuffer(ctx, p.params, 0, rp.Pack()); err != nil {
		return ImageHandle{}, err
	}
	cl.Resolve(source, p.display, p.params)
	return p.display, nil
}

func (p *PresentationAdapter) Display() ImageHandle { return p.display }

func (p *PresentationAdapter) onResize(ev ResizeEvent) {
	if nh, ok := ev.Remap[p.display.Handle]; ok {
		p.display = ImageHandle{nh}
	}
}

func (p *PresentationAdapter) Release() error {
	var first error
	if p.display.Valid() {
		first = p.mgr.Free(p.display.Handle)
	}
	if p.params.Valid() {
		if err := p.mgr.Free(p.params.Handle); err != nil && first == nil {
			first = err
		}
	}
	p.display, p.params = ImageHandle{}, BufferHandle{}
	return first
}
