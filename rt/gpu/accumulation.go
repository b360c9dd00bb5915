package gpu

import (
	"fmt"

	"github.com/gekko3d/pathtracer/rt/core"
)

type InvalidationReason uint8

const (
	ReasonInitial InvalidationReason = iota
	ReasonCamera
	ReasonScene
	ReasonResize
	ReasonDevice
)

func (r InvalidationReason) String() string {
	switch r {
	case ReasonInitial:
		return "initial"
	case ReasonCamera:
		return "camera"
	case ReasonScene:
		return "scene"
	case ReasonResize:
		return "resize"
	case ReasonDevice:
		return "device"
	}
	return fmt.Sprintf("InvalidationReason(%d)", uint8(r))
}

// AccumulationTarget is the persistent RGBA32F image the trace pass adds
// into: rgb is the radiance sum, a the number of samples. It is cleared by
// a full-image pass recorded ahead of the first trace after Invalidate.
type AccumulationTarget struct {
	mgr   *Manager
	log   core.Logger
	image ImageHandle

	pending bool
	reason  InvalidationReason
	samples uint32
	clears  int
}

func NewAccumulationTarget(mgr *Manager, log core.Logger) (*AccumulationTarget, error) {
	img, err := mgr.AllocateImage(ImageDesc{
		Label:         "accumulation",
		Format:        FormatRGBA32Float,
		Usage:         UsageStorageRead | UsageStorageWrite | UsageCopySrc,
		SizeDependent: true,
	})
	if err != nil {
		return nil, err
	}
	a := &AccumulationTarget{
		mgr:     mgr,
		log:     core.OrNop(log),
		image:   img,
		pending: true,
		reason:  ReasonInitial,
	}
	mgr.OnResize(a.onResize)
	return a, nil
}

func (a *AccumulationTarget) Get() ImageHandle { return a.image }

// Invalidate discards every sample. The clear is recorded by the next
// BeginFrame, so no sample from before the call survives into the mean.
func (a *AccumulationTarget) Invalidate(reason InvalidationReason) {
	if !a.pending {
		a.log.Debugf("accumulation: invalidated (%s) after %d samples", reason, a.samples)
	}
	a.pending = true
	a.reason = reason
	a.samples = 0
}

func (a *AccumulationTarget) Pending() bool { return a.pending }

// SampleCount is the number of samples every texel holds after the last
// completed frame.
func (a *AccumulationTarget) SampleCount() uint32 { return a.samples }

// Clears counts the clear passes recorded so far.
func (a *AccumulationTarget) Clears() int { return a.clears }

// BeginFrame records the pending clear, if any, and returns the sample index
// the trace pass of this frame should use.
func (a *AccumulationTarget) BeginFrame(cl *CommandList) uint32 {
	if a.pending {
		cl.Clear(a.image)
		a.pending = false
		a.samples = 0
		a.clears++
	}
	return a.samples
}

// EndFrame commits the frame's sample. A failed frame leaves the image in
// an unknown state and forces a clear.
func (a *AccumulationTarget) EndFrame(ok bool) {
	if !ok {
		a.Invalidate(ReasonDevice)
		return
	}
	a.samples++
}

func (a *AccumulationTarget) onResize(ev ResizeEvent) {
	if nh, ok := ev.Remap[a.image.Handle]; ok {
		a.image = ImageHandle{nh}
	}
	a.Invalidate(ReasonResize)
}

func (a *AccumulationTarget) Release() error {
	if !a.image.Valid() {
		return nil
	}
	err := a.mgr.Free(a.image.Handle)
	a.image = ImageHandle{}
	return err
}
