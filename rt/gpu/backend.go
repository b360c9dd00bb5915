package gpu

import (
	"context"
	"fmt"
)

type Format uint8

const (
	// FormatRGBA32Float holds radiance sums (rgb) and the sample count (a).
	FormatRGBA32Float Format = iota
	// FormatRGBA8Unorm is the display-ready resolve output.
	FormatRGBA8Unorm
)

func (f Format) BytesPerPixel() int {
	if f == FormatRGBA32Float {
		return 16
	}
	return 4
}

func (f Format) String() string {
	switch f {
	case FormatRGBA32Float:
		return "rgba32float"
	case FormatRGBA8Unorm:
		return "rgba8unorm"
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

type Usage uint32

const (
	UsageStorageRead Usage = 1 << iota
	UsageStorageWrite
	UsageSampled
	UsageUniform
	UsageCopySrc
	UsageCopyDst
)

func (u Usage) Has(f Usage) bool { return u&f == f }

type ImageDesc struct {
	Label  string
	Format Format
	Usage  Usage
	Width  uint32
	Height uint32
	// SizeDependent images follow the output extent: the manager fills in
	// Width/Height and reallocates them on Resize.
	SizeDependent bool
}

func (d ImageDesc) ByteSize() uint64 {
	return uint64(d.Width) * uint64(d.Height) * uint64(d.Format.BytesPerPixel())
}

type BufferDesc struct {
	Label string
	Size  uint64
	Usage Usage
}

// Resource is a backend-native image or buffer. Only the Manager holds
// Resources; everything else refers to them by handle.
type Resource interface {
	Release()
}

// Fence signals completion of one submission.
type Fence interface {
	Wait(ctx context.Context) error
}

type PassKind uint8

const (
	// PassClear zeroes every texel of Target.
	PassClear PassKind = iota
	// PassTrace adds one path sample per texel of Target.
	PassTrace
	// PassResolve writes the gamma-encoded mean of Target into Output.
	PassResolve
)

func (k PassKind) String() string {
	switch k {
	case PassClear:
		return "clear"
	case PassTrace:
		return "trace"
	case PassResolve:
		return "resolve"
	}
	return fmt.Sprintf("PassKind(%d)", uint8(k))
}

// BoundPass is a pass with its handles resolved to native resources.
//
// Bindings, per pass:
//
//	clear:   group 0 { 0: Target }
//	trace:   group 0 { 0: Target }  group 1 { 0: Params, 1: Spheres, 2: Materials }
//	resolve: group 0 { 0: Target, 1: Output, 2: Params }
type BoundPass struct {
	Kind      PassKind
	Width     uint32
	Height    uint32
	Target    Resource
	Output    Resource
	Params    Resource
	Spheres   Resource
	Materials Resource
}

// Backend executes passes on some device. Implementations report allocation
// failures wrapping core.ErrResourceExhaustion and context loss wrapping
// core.ErrDeviceLost.
type Backend interface {
	Name() string
	CreateImage(desc ImageDesc) (Resource, error)
	CreateBuffer(desc BufferDesc) (Resource, error)
	WriteBuffer(buf Resource, offset uint64, data []byte) error
	// Submit queues the passes in order. A pass observes every write of the
	// passes before it.
	Submit(ctx context.Context, passes []BoundPass) (Fence, error)
	// ReadImage returns the tightly packed texels of img.
	ReadImage(ctx context.Context, img Resource) ([]byte, error)
	Close() error
}

// Pass is a recorded pass referring to resources by handle.
type Pass struct {
	Kind      PassKind
	Target    ImageHandle
	Output    ImageHandle
	Params    BufferHandle
	Spheres   BufferHandle
	Materials BufferHandle
}

// CommandList records the passes of one frame.
type CommandList struct {
	passes []Pass
}

func (c *CommandList) Clear(target ImageHandle) {
	c.passes = append(c.passes, Pass{Kind: PassClear, Target: target})
}

func (c *CommandList) Trace(target ImageHandle, params BufferHandle, scene SceneBinding) {
	c.passes = append(c.passes, Pass{
		Kind:      PassTrace,
		Target:    target,
		Params:    params,
		Spheres:   scene.Spheres,
		Materials: scene.Materials,
	})
}

func (c *CommandList) Resolve(source, output ImageHandle, params BufferHandle) {
	c.passes = append(c.passes, Pass{Kind: PassResolve, Target: source, Output: output, Params: params})
}

func (c *CommandList) Passes() []Pass { return c.passes }

func (c *CommandList) Len() int { return len(c.passes) }

func (c *CommandList) Reset() { c.passes = c.passes[:0] }
