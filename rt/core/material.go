package core

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// MaterialKind is the variant tag of a Material. Its numeric values are part
// of the shader interface.
type MaterialKind uint32

const (
	MaterialDiffuse MaterialKind = iota
	MaterialMetal
	MaterialDielectric
)

func (k MaterialKind) String() string {
	switch k {
	case MaterialDiffuse:
		return "diffuse"
	case MaterialMetal:
		return "metal"
	case MaterialDielectric:
		return "dielectric"
	}
	return fmt.Sprintf("MaterialKind(%d)", uint32(k))
}

// ParseMaterialKind is the inverse of MaterialKind.String.
func ParseMaterialKind(s string) (MaterialKind, error) {
	switch s {
	case "diffuse", "lambertian":
		return MaterialDiffuse, nil
	case "metal":
		return MaterialMetal, nil
	case "dielectric", "glass":
		return MaterialDielectric, nil
	}
	return 0, fmt.Errorf("unknown material kind %q", s)
}

// Material is a tagged union. Params is interpreted per Kind:
//
//	diffuse:    unused
//	metal:      Params[0] = fuzz in [0,1]
//	dielectric: Params[0] = index of refraction
type Material struct {
	Kind     MaterialKind
	Albedo   mgl32.Vec3
	Emission mgl32.Vec3
	Params   [4]float32
}

func Diffuse(albedo mgl32.Vec3) Material {
	return Material{Kind: MaterialDiffuse, Albedo: albedo}
}

func Metal(albedo mgl32.Vec3, fuzz float32) Material {
	return Material{Kind: MaterialMetal, Albedo: albedo, Params: [4]float32{mgl32.Clamp(fuzz, 0, 1)}}
}

func Dielectric(ior float32) Material {
	return Material{Kind: MaterialDielectric, Albedo: mgl32.Vec3{1, 1, 1}, Params: [4]float32{ior}}
}

// WithEmission returns a copy of m that also emits light.
func (m Material) WithEmission(e mgl32.Vec3) Material {
	m.Emission = e
	return m
}

func (m Material) Fuzz() float32 {
	if m.Kind != MaterialMetal {
		return 0
	}
	return m.Params[0]
}

func (m Material) IOR() float32 {
	if m.Kind != MaterialDielectric {
		return 1
	}
	return m.Params[0]
}

// DefaultMaterial is a white diffuse surface.
func DefaultMaterial() Material {
	return Diffuse(mgl32.Vec3{1, 1, 1})
}
