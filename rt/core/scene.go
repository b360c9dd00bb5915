package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type Sphere struct {
	Center   mgl32.Vec3
	Radius   float32
	Material uint32
}

// Scene is an ordered list of spheres and the material table they index.
// Mutations mark the scene dirty; the tracer uploads it on the next frame
// and calls Commit.
type Scene struct {
	Spheres   []Sphere
	Materials []Material

	dirty bool
}

func NewScene() *Scene {
	return &Scene{dirty: true}
}

// AddMaterial appends m and returns its index.
func (s *Scene) AddMaterial(m Material) uint32 {
	s.Materials = append(s.Materials, m)
	s.dirty = true
	return uint32(len(s.Materials) - 1)
}

func (s *Scene) AddSphere(center mgl32.Vec3, radius float32, material uint32) {
	s.Spheres = append(s.Spheres, Sphere{Center: center, Radius: radius, Material: material})
	s.dirty = true
}

// SetMaterial replaces material i in place.
func (s *Scene) SetMaterial(i int, m Material) {
	s.Materials[i] = m
	s.dirty = true
}

// Touch marks the scene dirty after direct slice edits.
func (s *Scene) Touch() { s.dirty = true }

func (s *Scene) Dirty() bool { return s.dirty }

func (s *Scene) Commit() { s.dirty = false }

// Validate checks every sphere against the material table.
func (s *Scene) Validate() error {
	return ValidateScene(s.Spheres, s.Materials)
}

// ValidateScene rejects out-of-range material indices and degenerate spheres.
func ValidateScene(spheres []Sphere, materials []Material) error {
	for i, sp := range spheres {
		if int(sp.Material) >= len(materials) {
			return &SceneError{Sphere: i, Material: int(sp.Material), Reason: "index out of range"}
		}
		if !finite(sp.Center.X()) || !finite(sp.Center.Y()) || !finite(sp.Center.Z()) {
			return &SceneError{Sphere: i, Material: -1, Reason: "non-finite center"}
		}
		if !finite(sp.Radius) || sp.Radius <= 0 {
			return &SceneError{Sphere: i, Material: -1, Reason: "radius must be positive"}
		}
	}
	for i, m := range materials {
		if m.Kind > MaterialDielectric {
			return &SceneError{Sphere: -1, Material: i, Reason: "unknown material kind " + m.Kind.String()}
		}
		if m.Kind == MaterialDielectric && m.Params[0] <= 0 {
			return &SceneError{Sphere: -1, Material: i, Reason: "index of refraction must be positive"}
		}
	}
	return nil
}

func finite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

// DefaultScene is a red sphere resting on a large green ground sphere.
func DefaultScene() *Scene {
	s := NewScene()
	red := s.AddMaterial(Diffuse(mgl32.Vec3{0.8, 0.1, 0.1}))
	ground := s.AddMaterial(Diffuse(mgl32.Vec3{0.3, 0.8, 0.2}))
	s.AddSphere(mgl32.Vec3{0, 0, -1}, 0.5, red)
	s.AddSphere(mgl32.Vec3{0, -100.5, -1}, 100, ground)
	return s
}
