package cpudev

import (
	"context"
	"fmt"

	"github.com/gekko3d/pathtracer/rt/gpu"
	"github.com/gekko3d/pathtracer/rt/kernel"
	"github.com/gekko3d/pathtracer/rt/layout"

	"golang.org/x/sync/errgroup"
)

type fence struct {
	done chan struct{}
	err  error
}

func (f *fence) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit runs the passes on a background goroutine, in order, and returns a
// fence that completes after the last one. Like a device queue it cannot be
// cancelled once accepted; ctx only guards the hand-off.
func (d *Device) Submit(ctx context.Context, passes []gpu.BoundPass) (gpu.Fence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if err := d.checkLocked(); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	d.submits++
	d.mu.Unlock()

	f := &fence{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		for i := range passes {
			if err := d.run(&passes[i]); err != nil {
				f.err = err
				return
			}
		}
		d.mu.Lock()
		f.err = d.lost
		d.mu.Unlock()
	}()
	return f, nil
}

func (d *Device) run(p *gpu.BoundPass) error {
	d.mu.Lock()
	lost := d.lost
	d.history = append(d.history, p.Kind)
	if len(d.history) > historyLen {
		d.history = d.history[len(d.history)-historyLen:]
	}
	d.mu.Unlock()
	if lost != nil {
		return lost
	}

	switch p.Kind {
	case gpu.PassClear:
		img, err := asImage(p.Target)
		if err != nil {
			return err
		}
		clear(img.data)
		return nil
	case gpu.PassTrace:
		return d.trace(p)
	case gpu.PassResolve:
		return d.resolve(p)
	}
	return fmt.Errorf("cpudev: unknown pass %s", p.Kind)
}

func asImage(r gpu.Resource) (*image, error) {
	img, ok := r.(*image)
	if !ok {
		return nil, fmt.Errorf("cpudev: expected image, got %T", r)
	}
	return img, nil
}

func asBuffer(r gpu.Resource) (*buffer, error) {
	b, ok := r.(*buffer)
	if !ok {
		return nil, fmt.Errorf("cpudev: expected buffer, got %T", r)
	}
	return b, nil
}

// forRows runs fn over [0,h) in row tiles on the worker pool. Every row is
// handed to exactly one task.
func (d *Device) forRows(h uint32, fn func(y0, y1 uint32)) error {
	var g errgroup.Group
	g.SetLimit(d.opts.Workers)
	step := uint32(d.opts.TileRows)
	for y := uint32(0); y < h; y += step {
		y0, y1 := y, min(y+step, h)
		g.Go(func() error {
			fn(y0, y1)
			return nil
		})
	}
	return g.Wait()
}

func (d *Device) trace(p *gpu.BoundPass) error {
	target, err := asImage(p.Target)
	if err != nil {
		return err
	}
	pb, err := asBuffer(p.Params)
	if err != nil {
		return err
	}
	sb, err := asBuffer(p.Spheres)
	if err != nil {
		return err
	}
	mb, err := asBuffer(p.Materials)
	if err != nil {
		return err
	}

	params, err := layout.UnpackFrameParams(pb.data)
	if err != nil {
		return err
	}
	spheres, err := layout.UnpackSpheres(sb.data, int(params.SphereCount))
	if err != nil {
		return err
	}
	materials, err := layout.UnpackMaterials(mb.data, int(params.MaterialCount))
	if err != nil {
		return err
	}
	scene := &kernel.Scene{Spheres: spheres, Materials: materials}

	w, h := min(p.Width, params.Width), min(p.Height, params.Height)
	return d.forRows(h, func(y0, y1 uint32) {
		for y := y0; y < y1; y++ {
			for x := uint32(0); x < w; x++ {
				i := int(y*p.Width + x)
				c := kernel.TracePixel(&params, scene, x, y)
				layout.PutTexel(target.data, i, kernel.Accumulate(layout.Texel(target.data, i), c))
			}
		}
	})
}

func (d *Device) resolve(p *gpu.BoundPass) error {
	src, err := asImage(p.Target)
	if err != nil {
		return err
	}
	out, err := asImage(p.Output)
	if err != nil {
		return err
	}
	pb, err := asBuffer(p.Params)
	if err != nil {
		return err
	}
	rp, err := layout.UnpackResolveParams(pb.data)
	if err != nil {
		return err
	}

	return d.forRows(p.Height, func(y0, y1 uint32) {
		for y := y0; y < y1; y++ {
			for x := uint32(0); x < p.Width; x++ {
				i := int(y*p.Width + x)
				c := kernel.ToRGBA8(kernel.Resolve(layout.Texel(src.data, i), rp.Background, rp.InvGamma))
				copy(out.data[i*4:i*4+4], c[:])
			}
		}
	})
}
