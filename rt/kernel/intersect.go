package kernel

import (
	"math"

	"github.com/gekko3d/pathtracer/rt/core"

	"github.com/go-gl/mathgl/mgl32"
)

// TMin keeps secondary rays from re-hitting the surface they left.
const TMin = 1e-3

type Ray struct {
	Origin mgl32.Vec3
	Dir    mgl32.Vec3
}

func (r Ray) At(t float32) mgl32.Vec3 {
	return r.Origin.Add(r.Dir.Mul(t))
}

type Hit struct {
	T         float32
	Point     mgl32.Vec3
	Normal    mgl32.Vec3 // faces against the ray
	FrontFace bool
	Material  uint32
}

// HitSphere solves |o + t*d - c|^2 = r^2 and returns the nearest root in
// (tMin, tMax). When the near root is out of range (origin inside the
// sphere) the far root is tried.
func HitSphere(r Ray, s core.Sphere, tMin, tMax float32) (float32, bool) {
	oc := r.Origin.Sub(s.Center)
	a := r.Dir.Dot(r.Dir)
	halfB := oc.Dot(r.Dir)
	c := oc.Dot(oc) - s.Radius*s.Radius

	disc := halfB*halfB - a*c
	if disc < 0 || a == 0 {
		return 0, false
	}
	sq := float32(math.Sqrt(float64(disc)))

	root := (-halfB - sq) / a
	if root <= tMin || root >= tMax {
		root = (-halfB + sq) / a
		if root <= tMin || root >= tMax {
			return 0, false
		}
	}
	return root, true
}

// Scene is the decoded scene as the kernel sees it.
type Scene struct {
	Spheres   []core.Sphere
	Materials []core.Material
}

// Hit returns the closest intersection in (tMin, tMax).
func (s *Scene) Hit(r Ray, tMin, tMax float32) (Hit, bool) {
	var h Hit
	found := false
	closest := tMax
	for i := range s.Spheres {
		sp := &s.Spheres[i]
		t, ok := HitSphere(r, *sp, tMin, closest)
		if !ok {
			continue
		}
		found = true
		closest = t
		h.T = t
		h.Point = r.At(t)
		outward := h.Point.Sub(sp.Center).Mul(1 / sp.Radius)
		h.FrontFace = r.Dir.Dot(outward) < 0
		if h.FrontFace {
			h.Normal = outward
		} else {
			h.Normal = outward.Mul(-1)
		}
		h.Material = sp.Material
	}
	return h, found
}
