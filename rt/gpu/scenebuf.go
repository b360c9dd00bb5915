package gpu

import (
	"bytes"
	"context"

	"github.com/gekko3d/pathtracer/rt/core"
	"github.com/gekko3d/pathtracer/rt/layout"
)

// SceneBinding is what the trace pass binds for the scene.
type SceneBinding struct {
	Spheres       BufferHandle
	Materials     BufferHandle
	SphereCount   uint32
	MaterialCount uint32
}

// SceneBuffer keeps the packed sphere and material arrays on the device.
type SceneBuffer struct {
	mgr     *Manager
	log     core.Logger
	binding SceneBinding

	spheres   []byte
	materials []byte
	uploaded  bool
}

func NewSceneBuffer(mgr *Manager, log core.Logger) *SceneBuffer {
	return &SceneBuffer{mgr: mgr, log: core.OrNop(log)}
}

func (s *SceneBuffer) Binding() SceneBinding { return s.binding }

// Upload validates, packs and writes the scene. It reports changed=false
// and touches nothing when the packed contents equal the previous upload.
// Validation and layout errors are returned before any device write.
func (s *SceneBuffer) Upload(ctx context.Context, spheres []core.Sphere, materials []core.Material) (SceneBinding, bool, error) {
	if err := core.ValidateScene(spheres, materials); err != nil {
		return s.binding, false, err
	}

	sb := layout.PackSpheres(spheres)
	if err := layout.CheckPacked(&layout.SphereLayout, sb, len(spheres)); err != nil {
		return s.binding, false, err
	}
	mb := layout.PackMaterials(materials)
	if err := layout.CheckPacked(&layout.MaterialLayout, mb, len(materials)); err != nil {
		return s.binding, false, err
	}

	if s.uploaded &&
		s.binding.SphereCount == uint32(len(spheres)) &&
		s.binding.MaterialCount == uint32(len(materials)) &&
		bytes.Equal(sb, s.spheres) && bytes.Equal(mb, s.materials) {
		return s.binding, false, nil
	}

	// Forget the cached copy first so a failed allocation or write is retried.
	s.uploaded = false

	// Work on a copy: s.binding changes only once both writes succeeded.
	// Replaced buffers are freed after the commit, new ones on failure.
	next := s.binding
	var fresh, replaced []BufferHandle
	fail := func(err error) (SceneBinding, bool, error) {
		for _, h := range fresh {
			if ferr := s.mgr.Free(h.Handle); ferr != nil {
				s.log.Warnf("scene: releasing %s: %v", h.Handle, ferr)
			}
		}
		return s.binding, false, err
	}
	for _, b := range []struct {
		label  string
		h      *BufferHandle
		size   int
		stride int
	}{
		{"scene spheres", &next.Spheres, len(sb), layout.SphereLayout.Size},
		{"scene materials", &next.Materials, len(mb), layout.MaterialLayout.Size},
	} {
		old := *b.h
		nh, err := s.ensureBuffer(b.label, old, b.size, b.stride)
		if err != nil {
			return fail(err)
		}
		if nh != old {
			fresh = append(fresh, nh)
			if _, _, err := s.mgr.Buffer(old); err == nil {
				replaced = append(replaced, old)
			}
			*b.h = nh
		}
	}
	if err := s.mgr.WriteBuffer(ctx, next.Spheres, 0, sb); err != nil {
		return fail(err)
	}
	if err := s.mgr.WriteBuffer(ctx, next.Materials, 0, mb); err != nil {
		return fail(err)
	}

	next.SphereCount = uint32(len(spheres))
	next.MaterialCount = uint32(len(materials))
	s.binding = next
	for _, h := range replaced {
		if err := s.mgr.Free(h.Handle); err != nil {
			s.log.Warnf("scene: releasing %s: %v", h.Handle, err)
		}
	}
	s.spheres, s.materials = sb, mb
	s.uploaded = true
	s.log.Debugf("scene: uploaded %d spheres, %d materials", len(spheres), len(materials))
	return s.binding, true, nil
}

// ensureBuffer returns h when it is live and at least size bytes, otherwise
// a new buffer with half again as many whole records of headroom. The
// caller frees the buffer it replaces.
func (s *SceneBuffer) ensureBuffer(label string, h BufferHandle, size, stride int) (BufferHandle, error) {
	if h.Valid() {
		if _, desc, err := s.mgr.Buffer(h); err == nil && desc.Size >= uint64(size) {
			return h, nil
		}
	}
	return s.mgr.AllocateBuffer(BufferDesc{
		Label: label,
		Size:  uint64((size + size/2 + stride - 1) / stride * stride),
		Usage: UsageStorageRead | UsageCopyDst,
	})
}

// Release frees the scene buffers.
func (s *SceneBuffer) Release() error {
	var first error
	for _, h := range []BufferHandle{s.binding.Spheres, s.binding.Materials} {
		if h.Valid() {
			if err := s.mgr.Free(h.Handle); err != nil && first == nil {
				first = err
			}
		}
	}
	s.binding = SceneBinding{}
	s.uploaded = false
	return first
}
