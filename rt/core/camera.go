package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// cameraEpsilon is the absolute per-component tolerance under which two
// camera states are treated as identical and accumulation is kept. It is
// absolute so that moves far from the origin are still seen.
const cameraEpsilon = 1e-6

var worldUp = mgl32.Vec3{0, 1, 0}

// Camera is a Y-up pinhole (or thin lens) camera. Orientation is stored as
// yaw/pitch so free-look input can mutate it directly; the forward/right/up
// basis is derived from it.
type Camera struct {
	Position mgl32.Vec3
	Yaw      float32
	Pitch    float32
	// VFov is the vertical field of view in radians.
	VFov float32
	// Aperture is the lens diameter. Zero disables defocus blur.
	Aperture      float32
	FocusDistance float32

	Speed       float32
	Sensitivity float32
}

func NewCamera(position, direction mgl32.Vec3, vfov float32) Camera {
	c := Camera{
		Position:      position,
		VFov:          vfov,
		FocusDistance: 1,
		Speed:         2.0,
		Sensitivity:   0.003,
	}
	c.LookDir(direction)
	return c
}

// LookDir points the camera along dir. A zero vector leaves it unchanged.
func (c *Camera) LookDir(dir mgl32.Vec3) {
	if dir.Len() == 0 {
		return
	}
	d := dir.Normalize()
	c.Pitch = float32(math.Asin(float64(mgl32.Clamp(d.Y(), -1, 1))))
	c.Yaw = float32(math.Atan2(float64(d.X()), float64(-d.Z())))
}

func (c *Camera) Forward() mgl32.Vec3 {
	cp := math.Cos(float64(c.Pitch))
	return mgl32.Vec3{
		float32(cp * math.Sin(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
		float32(-cp * math.Cos(float64(c.Yaw))),
	}
}

// Basis returns the orthonormal forward, right and up vectors.
func (c *Camera) Basis() (forward, right, up mgl32.Vec3) {
	forward = c.Forward()
	right = forward.Cross(worldUp)
	if right.Len() < 1e-6 {
		// Looking straight up or down: fall back to yaw-only right vector.
		right = mgl32.Vec3{
			float32(math.Cos(float64(c.Yaw))),
			0,
			float32(math.Sin(float64(c.Yaw))),
		}
	}
	right = right.Normalize()
	up = right.Cross(forward).Normalize()
	return forward, right, up
}

// ClampPitch keeps pitch just short of the poles.
func (c *Camera) ClampPitch() {
	const limit = math.Pi/2 - 0.01
	c.Pitch = mgl32.Clamp(c.Pitch, -limit, limit)
}

// Equal reports whether the two cameras produce the same rays.
// Movement tuning fields are ignored.
func (c Camera) Equal(o Camera) bool {
	return near(c.Position[0], o.Position[0]) &&
		near(c.Position[1], o.Position[1]) &&
		near(c.Position[2], o.Position[2]) &&
		near(c.Yaw, o.Yaw) &&
		near(c.Pitch, o.Pitch) &&
		near(c.VFov, o.VFov) &&
		near(c.Aperture, o.Aperture) &&
		near(c.FocusDistance, o.FocusDistance)
}

func near(a, b float32) bool {
	return mgl32.Abs(a-b) <= cameraEpsilon
}
