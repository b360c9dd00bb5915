package gpu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gekko3d/pathtracer/rt/core"
)

// ResizeEvent is delivered to resize listeners after a successful Resize.
// Remap maps every retired size-dependent handle to its replacement.
type ResizeEvent struct {
	Width  uint32
	Height uint32
	Remap  map[Handle]Handle
}

type Stats struct {
	Images  int
	Buffers int
	Bytes   uint64
}

// Manager owns every image and buffer of a backend. Other components hold
// handles only; the Manager is the single place that creates, resolves and
// releases native resources.
//
// At most one submission is in flight. Anything that mutates or frees a
// resource first waits for it.
type Manager struct {
	mu        sync.Mutex
	backend   Backend
	log       core.Logger
	table     handleTable
	width     uint32
	height    uint32
	inflight  Fence
	listeners []func(ResizeEvent)
	lost      bool
	closed    bool
}

func NewManager(backend Backend, width, height uint32, log core.Logger) *Manager {
	return &Manager{
		backend: backend,
		log:     core.OrNop(log),
		width:   width,
		height:  height,
	}
}

func (m *Manager) Backend() Backend { return m.backend }

func (m *Manager) Extent() (uint32, uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.width, m.height
}

// OnResize registers fn to run after every successful Resize.
func (m *Manager) OnResize(fn func(ResizeEvent)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Manager) usable() error {
	if m.closed {
		return core.ErrClosed
	}
	if m.lost {
		return core.ErrDeviceLost
	}
	return nil
}

// classify makes sure a backend allocation error carries a taxonomy kind.
func classify(err error) error {
	if errors.Is(err, core.ErrDeviceLost) || errors.Is(err, core.ErrResourceExhaustion) {
		return err
	}
	return fmt.Errorf("%w: %v", core.ErrResourceExhaustion, err)
}

func (m *Manager) noteLost(err error) {
	if errors.Is(err, core.ErrDeviceLost) && !m.lost {
		m.lost = true
		m.log.Errorf("gpu: device lost on %s backend: %v", m.backend.Name(), err)
	}
}

func (m *Manager) AllocateImage(desc ImageDesc) (ImageHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(); err != nil {
		return ImageHandle{}, err
	}
	h, err := m.allocateImageLocked(desc)
	return ImageHandle{h}, err
}

func (m *Manager) allocateImageLocked(desc ImageDesc) (Handle, error) {
	if desc.SizeDependent {
		desc.Width, desc.Height = m.width, m.height
	}
	if desc.Width == 0 || desc.Height == 0 {
		return Handle{}, fmt.Errorf("gpu: image %q: zero extent %dx%d", desc.Label, desc.Width, desc.Height)
	}
	res, err := m.backend.CreateImage(desc)
	if err != nil {
		err = classify(err)
		m.noteLost(err)
		return Handle{}, fmt.Errorf("gpu: allocate image %q (%dx%d %s): %w", desc.Label, desc.Width, desc.Height, desc.Format, err)
	}
	h := m.table.insert(slot{kind: kindImage, res: res, image: desc})
	m.log.Debugf("gpu: image %q %dx%d %s -> %s", desc.Label, desc.Width, desc.Height, desc.Format, h)
	return h, nil
}

func (m *Manager) AllocateBuffer(desc BufferDesc) (BufferHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(); err != nil {
		return BufferHandle{}, err
	}
	if desc.Size == 0 {
		return BufferHandle{}, fmt.Errorf("gpu: buffer %q: zero size", desc.Label)
	}
	res, err := m.backend.CreateBuffer(desc)
	if err != nil {
		err = classify(err)
		m.noteLost(err)
		return BufferHandle{}, fmt.Errorf("gpu: allocate buffer %q (%d bytes): %w", desc.Label, desc.Size, err)
	}
	h := m.table.insert(slot{kind: kindBuffer, res: res, buffer: desc})
	m.log.Debugf("gpu: buffer %q %d bytes -> %s", desc.Label, desc.Size, h)
	return BufferHandle{h}, nil
}

// waitLocked blocks on the in-flight submission, if any.
func (m *Manager) waitLocked(ctx context.Context) error {
	if m.inflight == nil {
		return nil
	}
	err := m.inflight.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		// still in flight; keep the fence
		return err
	}
	m.inflight = nil
	if err != nil {
		m.noteLost(err)
	}
	return err
}

// Wait blocks until the last submission completed.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waitLocked(ctx)
}

// Free releases the resource behind h once the device is done with it.
func (m *Manager) Free(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return core.ErrClosed
	}
	if _, ok := m.table.get(h); !ok {
		return fmt.Errorf("gpu: free %s: %w", h, core.ErrStaleHandle)
	}
	if err := m.waitLocked(context.Background()); err != nil && !errors.Is(err, core.ErrDeviceLost) {
		return err
	}
	s, _ := m.table.remove(h)
	s.res.Release()
	m.log.Debugf("gpu: freed %q %s", s.label(), h)
	return nil
}

// Resize reallocates every size-dependent image at w x h. Replacements are
// created before anything is released: on failure the new images are
// dropped and the previous set stays valid.
func (m *Manager) Resize(ctx context.Context, w, h uint32) error {
	if w == 0 || h == 0 {
		return fmt.Errorf("gpu: resize to %dx%d: zero extent", w, h)
	}

	m.mu.Lock()
	if err := m.usable(); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.waitLocked(ctx); err != nil {
		m.mu.Unlock()
		return err
	}

	type pending struct {
		old  Handle
		desc ImageDesc
		res  Resource
	}
	var repl []pending
	for _, lh := range m.table.live() {
		s, _ := m.table.get(lh)
		if s.kind != kindImage || !s.image.SizeDependent {
			continue
		}
		desc := s.image
		desc.Width, desc.Height = w, h
		res, err := m.backend.CreateImage(desc)
		if err != nil {
			for _, p := range repl {
				p.res.Release()
			}
			err = classify(err)
			m.noteLost(err)
			m.mu.Unlock()
			return fmt.Errorf("gpu: resize %q to %dx%d: %w", desc.Label, w, h, err)
		}
		repl = append(repl, pending{old: lh, desc: desc, res: res})
	}

	ev := ResizeEvent{Width: w, Height: h, Remap: make(map[Handle]Handle, len(repl))}
	for i := len(repl) - 1; i >= 0; i-- {
		p := repl[i]
		old, _ := m.table.remove(p.old)
		old.res.Release()
		ev.Remap[p.old] = m.table.insert(slot{kind: kindImage, res: p.res, image: p.desc})
	}
	m.width, m.height = w, h
	listeners := append([]func(ResizeEvent){}, m.listeners...)
	m.mu.Unlock()

	m.log.Infof("gpu: resized to %dx%d (%d images reallocated)", w, h, len(repl))
	for _, fn := range listeners {
		fn(ev)
	}
	return nil
}

func (m *Manager) Image(h ImageHandle) (Resource, ImageDesc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.table.get(h.Handle)
	if !ok || s.kind != kindImage {
		return nil, ImageDesc{}, fmt.Errorf("gpu: image %s: %w", h, core.ErrStaleHandle)
	}
	return s.res, s.image, nil
}

func (m *Manager) Buffer(h BufferHandle) (Resource, BufferDesc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.table.get(h.Handle)
	if !ok || s.kind != kindBuffer {
		return nil, BufferDesc{}, fmt.Errorf("gpu: buffer %s: %w", h, core.ErrStaleHandle)
	}
	return s.res, s.buffer, nil
}

// WriteBuffer uploads data at offset once the in-flight submission, which
// may still be reading the buffer, has completed.
func (m *Manager) WriteBuffer(ctx context.Context, h BufferHandle, offset uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(); err != nil {
		return err
	}
	s, ok := m.table.get(h.Handle)
	if !ok || s.kind != kindBuffer {
		return fmt.Errorf("gpu: write %s: %w", h, core.ErrStaleHandle)
	}
	if offset+uint64(len(data)) > s.buffer.Size {
		return fmt.Errorf("gpu: write %d bytes at %d into %q (%d bytes): %w",
			len(data), offset, s.buffer.Label, s.buffer.Size, core.ErrLayoutMismatch)
	}
	if err := m.waitLocked(ctx); err != nil {
		return err
	}
	if err := m.backend.WriteBuffer(s.res, offset, data); err != nil {
		m.noteLost(err)
		return fmt.Errorf("gpu: write %q: %w", s.buffer.Label, err)
	}
	return nil
}

func (m *Manager) bindImage(h ImageHandle, need Usage) (Resource, ImageDesc, error) {
	s, ok := m.table.get(h.Handle)
	if !ok || s.kind != kindImage {
		return nil, ImageDesc{}, fmt.Errorf("image %s: %w", h, core.ErrStaleHandle)
	}
	if !s.image.Usage.Has(need) {
		return nil, ImageDesc{}, fmt.Errorf("image %q lacks usage %#x", s.image.Label, need)
	}
	return s.res, s.image, nil
}

func (m *Manager) bindBuffer(h BufferHandle, need Usage) (Resource, error) {
	s, ok := m.table.get(h.Handle)
	if !ok || s.kind != kindBuffer {
		return nil, fmt.Errorf("buffer %s: %w", h, core.ErrStaleHandle)
	}
	if !s.buffer.Usage.Has(need) {
		return nil, fmt.Errorf("buffer %q lacks usage %#x", s.buffer.Label, need)
	}
	return s.res, nil
}

func (m *Manager) bindLocked(p Pass) (BoundPass, error) {
	bp := BoundPass{Kind: p.Kind}
	var desc ImageDesc
	var err error

	switch p.Kind {
	case PassClear:
		bp.Target, desc, err = m.bindImage(p.Target, UsageStorageWrite)
	case PassTrace:
		bp.Target, desc, err = m.bindImage(p.Target, UsageStorageRead|UsageStorageWrite)
		if err == nil {
			bp.Params, err = m.bindBuffer(p.Params, UsageUniform)
		}
		if err == nil {
			bp.Spheres, err = m.bindBuffer(p.Spheres, UsageStorageRead)
		}
		if err == nil {
			bp.Materials, err = m.bindBuffer(p.Materials, UsageStorageRead)
		}
	case PassResolve:
		bp.Target, desc, err = m.bindImage(p.Target, UsageStorageRead)
		if err == nil {
			var out ImageDesc
			bp.Output, out, err = m.bindImage(p.Output, UsageStorageWrite)
			if err == nil && (out.Width != desc.Width || out.Height != desc.Height) {
				err = fmt.Errorf("resolve output %dx%d does not match source %dx%d", out.Width, out.Height, desc.Width, desc.Height)
			}
		}
		if err == nil {
			bp.Params, err = m.bindBuffer(p.Params, UsageUniform)
		}
	default:
		err = fmt.Errorf("unknown pass kind %d", p.Kind)
	}
	if err != nil {
		return BoundPass{}, fmt.Errorf("gpu: bind %s pass: %w", p.Kind, err)
	}
	bp.Width, bp.Height = desc.Width, desc.Height
	return bp, nil
}

// Submit resolves the recorded handles and queues the passes. The returned
// error wraps core.ErrDeviceLost when the device is gone; the manager then
// refuses further work.
func (m *Manager) Submit(ctx context.Context, cl *CommandList) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(); err != nil {
		return err
	}
	if err := m.waitLocked(ctx); err != nil {
		return err
	}

	bound := make([]BoundPass, 0, cl.Len())
	for _, p := range cl.Passes() {
		bp, err := m.bindLocked(p)
		if err != nil {
			return err
		}
		bound = append(bound, bp)
	}

	fence, err := m.backend.Submit(ctx, bound)
	if err != nil {
		m.noteLost(err)
		return fmt.Errorf("gpu: submit: %w", err)
	}
	m.inflight = fence
	return nil
}

// ReadImage waits for pending work and returns the packed texels of h.
func (m *Manager) ReadImage(ctx context.Context, h ImageHandle) ([]byte, ImageDesc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(); err != nil {
		return nil, ImageDesc{}, err
	}
	s, ok := m.table.get(h.Handle)
	if !ok || s.kind != kindImage {
		return nil, ImageDesc{}, fmt.Errorf("gpu: read %s: %w", h, core.ErrStaleHandle)
	}
	if err := m.waitLocked(ctx); err != nil {
		return nil, ImageDesc{}, err
	}
	data, err := m.backend.ReadImage(ctx, s.res)
	if err != nil {
		m.noteLost(err)
		return nil, ImageDesc{}, fmt.Errorf("gpu: read %q: %w", s.image.Label, err)
	}
	return data, s.image, nil
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st Stats
	for _, h := range m.table.live() {
		s, _ := m.table.get(h)
		if s.kind == kindImage {
			st.Images++
		} else {
			st.Buffers++
		}
		st.Bytes += s.size()
	}
	return st
}

// Close waits for the device, releases every live resource in reverse
// allocation order and closes the backend. Handles are invalid afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.log.Warnf("gpu: manager already closed")
		return nil
	}
	m.closed = true

	waitErr := m.waitLocked(ctx)
	if waitErr != nil && !errors.Is(waitErr, core.ErrDeviceLost) {
		m.log.Warnf("gpu: closing with work in flight: %v", waitErr)
	}
	live := m.table.live()
	for _, h := range live {
		s, _ := m.table.remove(h)
		s.res.Release()
	}
	m.log.Debugf("gpu: released %d resources", len(live))
	return m.backend.Close()
}
