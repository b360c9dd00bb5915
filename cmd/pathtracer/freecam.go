package main

import (
	"github.com/gekko3d/pathtracer/rt/core"

	"github.com/go-gl/mathgl/mgl32"
)

// moveInput is the held-key state for one frame.
type moveInput struct {
	Forward, Back, Left, Right, Up, Down bool
	// Fast multiplies the speed (shift).
	Fast bool
}

func (in moveInput) any() bool {
	return in.Forward || in.Back || in.Left || in.Right || in.Up || in.Down
}

// move advances cam for dt seconds of held keys. Up and Down move along the
// world Y axis.
func move(cam core.Camera, in moveInput, dt float32) core.Camera {
	if !in.any() || dt <= 0 {
		return cam
	}
	fwd, right, _ := cam.Basis()
	var d mgl32.Vec3
	if in.Forward {
		d = d.Add(fwd)
	}
	if in.Back {
		d = d.Sub(fwd)
	}
	if in.Right {
		d = d.Add(right)
	}
	if in.Left {
		d = d.Sub(right)
	}
	if in.Up {
		d = d.Add(mgl32.Vec3{0, 1, 0})
	}
	if in.Down {
		d = d.Sub(mgl32.Vec3{0, 1, 0})
	}
	if d.Len() == 0 {
		return cam
	}
	speed := cam.Speed
	if in.Fast {
		speed *= 4
	}
	cam.Position = cam.Position.Add(d.Normalize().Mul(speed * dt))
	return cam
}

// look turns cam by a mouse delta in pixels.
func look(cam core.Camera, dx, dy float64) core.Camera {
	if dx == 0 && dy == 0 {
		return cam
	}
	cam.Yaw += float32(dx) * cam.Sensitivity
	cam.Pitch -= float32(dy) * cam.Sensitivity
	cam.ClampPitch()
	return cam
}
