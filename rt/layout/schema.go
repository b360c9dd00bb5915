// Package layout is the binary contract between host code and the WGSL
// shaders. Every struct the shaders read is described here field by field
// (WGSL std430/uniform rules: vec3 aligns to 16 but occupies 12 bytes) and
// all packing goes through the described offsets.
package layout

import (
	"fmt"
	"strings"

	"github.com/gekko3d/pathtracer/rt/core"
)

// Version is bumped whenever any record below changes. The WGSL sources
// carry the same number in a comment header.
const Version = 1

type FieldKind uint8

const (
	F32 FieldKind = iota
	U32
	Vec3F32
	Vec4F32
)

func (k FieldKind) Size() int {
	switch k {
	case Vec3F32:
		return 12
	case Vec4F32:
		return 16
	}
	return 4
}

func (k FieldKind) Align() int {
	switch k {
	case Vec3F32, Vec4F32:
		return 16
	}
	return 4
}

// WGSL is the shader spelling of the kind.
func (k FieldKind) WGSL() string {
	switch k {
	case F32:
		return "f32"
	case U32:
		return "u32"
	case Vec3F32:
		return "vec3<f32>"
	}
	return "vec4<f32>"
}

type Field struct {
	Name   string
	Offset int
	Kind   FieldKind
}

// Struct describes one shader-visible struct.
type Struct struct {
	Name    string
	Size    int
	Uniform bool
	Fields  []Field
}

func (s *Struct) Align() int {
	a := 4
	for _, f := range s.Fields {
		if f.Kind.Align() > a {
			a = f.Kind.Align()
		}
	}
	if s.Uniform && a < 16 {
		a = 16
	}
	return a
}

// Check verifies field alignment, ordering and the rounded struct size.
func (s *Struct) Check() error {
	end := 0
	for _, f := range s.Fields {
		if f.Offset%f.Kind.Align() != 0 {
			return fmt.Errorf("%w: %s.%s at offset %d is not %d-byte aligned", core.ErrLayoutMismatch, s.Name, f.Name, f.Offset, f.Kind.Align())
		}
		if f.Offset < end {
			return fmt.Errorf("%w: %s.%s overlaps the previous field", core.ErrLayoutMismatch, s.Name, f.Name)
		}
		end = f.Offset + f.Kind.Size()
	}
	want := roundUp(end, s.Align())
	if s.Size != want {
		return fmt.Errorf("%w: %s declares %d bytes, fields require %d", core.ErrLayoutMismatch, s.Name, s.Size, want)
	}
	return nil
}

// WGSL renders the struct declaration the shaders must contain verbatim.
func (s *Struct) WGSL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "struct %s {\n", s.Name)
	for _, f := range s.Fields {
		fmt.Fprintf(&b, "    %s: %s,\n", f.Name, f.Kind.WGSL())
	}
	b.WriteString("};")
	return b.String()
}

func roundUp(n, a int) int {
	return (n + a - 1) / a * a
}

// Sphere (storage, read):
//
//	struct Sphere { center: vec3<f32>, radius: f32, material: u32 }
var SphereLayout = Struct{
	Name: "Sphere",
	Size: 32,
	Fields: []Field{
		{"center", 0, Vec3F32},
		{"radius", 12, F32},
		{"material", 16, U32},
	},
}

// Material (storage, read). params is a per-kind union, see core.Material.
//
//	struct Material { albedo: vec3<f32>, kind: u32, emission: vec3<f32>, params: vec4<f32> }
var MaterialLayout = Struct{
	Name: "Material",
	Size: 48,
	Fields: []Field{
		{"albedo", 0, Vec3F32},
		{"kind", 12, U32},
		{"emission", 16, Vec3F32},
		{"params", 32, Vec4F32},
	},
}

// FrameParams (uniform), written once per dispatch.
var FrameParamsLayout = Struct{
	Name:    "FrameParams",
	Size:    128,
	Uniform: true,
	Fields: []Field{
		{"origin", 0, Vec3F32},
		{"vfov", 12, F32},
		{"right", 16, Vec3F32},
		{"aperture", 28, F32},
		{"up", 32, Vec3F32},
		{"focus_dist", 44, F32},
		{"forward", 48, Vec3F32},
		{"jitter", 60, F32},
		{"sky_top", 64, Vec3F32},
		{"max_depth", 76, U32},
		{"sky_bottom", 80, Vec3F32},
		{"sample_index", 92, U32},
		{"background", 96, Vec3F32},
		{"sphere_count", 108, U32},
		{"width", 112, U32},
		{"height", 116, U32},
		{"seed", 120, U32},
		{"material_count", 124, U32},
	},
}

// ResolveParams (uniform) for the presentation resolve.
var ResolveParamsLayout = Struct{
	Name:    "ResolveParams",
	Size:    32,
	Uniform: true,
	Fields: []Field{
		{"background", 0, Vec3F32},
		{"inv_gamma", 12, F32},
		{"width", 16, U32},
		{"height", 20, U32},
	},
}

// AccumTexelSize is one vec4<f32> of the accumulation target.
const AccumTexelSize = 16

// Schemas lists every record, in binding order.
func Schemas() []*Struct {
	return []*Struct{&FrameParamsLayout, &SphereLayout, &MaterialLayout, &ResolveParamsLayout}
}

// Check validates every schema.
func Check() error {
	for _, s := range Schemas() {
		if err := s.Check(); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	if err := Check(); err != nil {
		panic(err)
	}
}

// CheckPacked asserts that b holds exactly count records of s. Arrays are
// never empty on the device, so count 0 still expects one record.
func CheckPacked(s *Struct, b []byte, count int) error {
	want := max(count, 1) * s.Size
	if len(b) != want {
		return &core.LayoutError{Record: s.Name, Want: want, Got: len(b)}
	}
	return nil
}
