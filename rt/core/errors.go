package core

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceExhaustion is returned when the device cannot allocate an
	// image or buffer. It is not recoverable locally.
	ErrResourceExhaustion = errors.New("resource exhaustion")
	// ErrDeviceLost is returned when the device context became invalid while
	// work was queued or in flight.
	ErrDeviceLost = errors.New("device lost")
	// ErrLayoutMismatch is returned when packed host data does not match the
	// shader-side struct layout.
	ErrLayoutMismatch = errors.New("layout mismatch")
	// ErrInvalidSceneReference is returned when a sphere references a
	// material that does not exist, or carries unusable geometry.
	ErrInvalidSceneReference = errors.New("invalid scene reference")

	ErrStaleHandle = errors.New("stale or invalid handle")
	ErrClosed      = errors.New("closed")
)

// SceneError describes a rejected sphere.
type SceneError struct {
	Sphere   int
	Material int
	Reason   string
}

func (e *SceneError) Error() string {
	switch {
	case e.Sphere < 0:
		return fmt.Sprintf("material %d: %s", e.Material, e.Reason)
	case e.Material >= 0:
		return fmt.Sprintf("sphere %d: material %d: %s", e.Sphere, e.Material, e.Reason)
	}
	return fmt.Sprintf("sphere %d: %s", e.Sphere, e.Reason)
}

func (e *SceneError) Unwrap() error { return ErrInvalidSceneReference }

// LayoutError reports a record whose packed size disagrees with the schema.
type LayoutError struct {
	Record string
	Want   int
	Got    int
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("%s: packed %d bytes, schema expects %d", e.Record, e.Got, e.Want)
}

func (e *LayoutError) Unwrap() error { return ErrLayoutMismatch }
