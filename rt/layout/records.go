package layout

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gekko3d/pathtracer/rt/core"

	"github.com/go-gl/mathgl/mgl32"
)

// FrameParams is the host mirror of the FrameParams uniform.
type FrameParams struct {
	Origin         mgl32.Vec3
	VFov           float32
	Right          mgl32.Vec3
	Aperture       float32
	Up             mgl32.Vec3
	FocusDistance  float32
	Forward        mgl32.Vec3
	JitterStrength float32
	SkyTop         mgl32.Vec3
	MaxDepth       uint32
	SkyBottom      mgl32.Vec3
	SampleIndex    uint32
	Background     mgl32.Vec3
	SphereCount    uint32
	Width          uint32
	Height         uint32
	Seed           uint32
	MaterialCount  uint32
}

type ResolveParams struct {
	Background mgl32.Vec3
	InvGamma   float32
	Width      uint32
	Height     uint32
}

// record is a view over one packed struct instance.
type record struct {
	b []byte
	s *Struct
}

func (r record) field(i int, k FieldKind) []byte {
	f := r.s.Fields[i]
	if f.Kind != k {
		panic(fmt.Sprintf("layout: %s.%s is not kind %d", r.s.Name, f.Name, k))
	}
	return r.b[f.Offset : f.Offset+k.Size()]
}

func (r record) putF32(i int, v float32) {
	binary.LittleEndian.PutUint32(r.field(i, F32), math.Float32bits(v))
}

func (r record) putU32(i int, v uint32) {
	binary.LittleEndian.PutUint32(r.field(i, U32), v)
}

func (r record) putVec3(i int, v mgl32.Vec3) {
	b := r.field(i, Vec3F32)
	for c := 0; c < 3; c++ {
		binary.LittleEndian.PutUint32(b[c*4:], math.Float32bits(v[c]))
	}
}

func (r record) putVec4(i int, v [4]float32) {
	b := r.field(i, Vec4F32)
	for c := 0; c < 4; c++ {
		binary.LittleEndian.PutUint32(b[c*4:], math.Float32bits(v[c]))
	}
}

func (r record) f32(i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(r.field(i, F32)))
}

func (r record) u32(i int) uint32 {
	return binary.LittleEndian.Uint32(r.field(i, U32))
}

func (r record) vec3(i int) mgl32.Vec3 {
	b := r.field(i, Vec3F32)
	var v mgl32.Vec3
	for c := 0; c < 3; c++ {
		v[c] = math.Float32frombits(binary.LittleEndian.Uint32(b[c*4:]))
	}
	return v
}

func (r record) vec4(i int) [4]float32 {
	b := r.field(i, Vec4F32)
	var v [4]float32
	for c := 0; c < 4; c++ {
		v[c] = math.Float32frombits(binary.LittleEndian.Uint32(b[c*4:]))
	}
	return v
}

func at(b []byte, s *Struct, i int) record {
	return record{b: b[i*s.Size : (i+1)*s.Size], s: s}
}

// PackSpheres packs spheres in SphereLayout. An empty slice yields one
// zeroed record.
func PackSpheres(spheres []core.Sphere) []byte {
	buf := make([]byte, max(len(spheres), 1)*SphereLayout.Size)
	for i, sp := range spheres {
		r := at(buf, &SphereLayout, i)
		r.putVec3(0, sp.Center)
		r.putF32(1, sp.Radius)
		r.putU32(2, sp.Material)
	}
	return buf
}

func PackMaterials(materials []core.Material) []byte {
	buf := make([]byte, max(len(materials), 1)*MaterialLayout.Size)
	for i, m := range materials {
		r := at(buf, &MaterialLayout, i)
		r.putVec3(0, m.Albedo)
		r.putU32(1, uint32(m.Kind))
		r.putVec3(2, m.Emission)
		r.putVec4(3, m.Params)
	}
	return buf
}

func UnpackSpheres(b []byte, count int) ([]core.Sphere, error) {
	if len(b) < count*SphereLayout.Size {
		return nil, &core.LayoutError{Record: SphereLayout.Name, Want: count * SphereLayout.Size, Got: len(b)}
	}
	out := make([]core.Sphere, count)
	for i := range out {
		r := at(b, &SphereLayout, i)
		out[i] = core.Sphere{Center: r.vec3(0), Radius: r.f32(1), Material: r.u32(2)}
	}
	return out, nil
}

func UnpackMaterials(b []byte, count int) ([]core.Material, error) {
	if len(b) < count*MaterialLayout.Size {
		return nil, &core.LayoutError{Record: MaterialLayout.Name, Want: count * MaterialLayout.Size, Got: len(b)}
	}
	out := make([]core.Material, count)
	for i := range out {
		r := at(b, &MaterialLayout, i)
		out[i] = core.Material{
			Albedo:   r.vec3(0),
			Kind:     core.MaterialKind(r.u32(1)),
			Emission: r.vec3(2),
			Params:   r.vec4(3),
		}
	}
	return out, nil
}

func (p *FrameParams) Pack() []byte {
	buf := make([]byte, FrameParamsLayout.Size)
	r := record{b: buf, s: &FrameParamsLayout}
	r.putVec3(0, p.Origin)
	r.putF32(1, p.VFov)
	r.putVec3(2, p.Right)
	r.putF32(3, p.Aperture)
	r.putVec3(4, p.Up)
	r.putF32(5, p.FocusDistance)
	r.putVec3(6, p.Forward)
	r.putF32(7, p.JitterStrength)
	r.putVec3(8, p.SkyTop)
	r.putU32(9, p.MaxDepth)
	r.putVec3(10, p.SkyBottom)
	r.putU32(11, p.SampleIndex)
	r.putVec3(12, p.Background)
	r.putU32(13, p.SphereCount)
	r.putU32(14, p.Width)
	r.putU32(15, p.Height)
	r.putU32(16, p.Seed)
	r.putU32(17, p.MaterialCount)
	return buf
}

func UnpackFrameParams(b []byte) (FrameParams, error) {
	if len(b) < FrameParamsLayout.Size {
		return FrameParams{}, &core.LayoutError{Record: FrameParamsLayout.Name, Want: FrameParamsLayout.Size, Got: len(b)}
	}
	r := record{b: b[:FrameParamsLayout.Size], s: &FrameParamsLayout}
	return FrameParams{
		Origin:         r.vec3(0),
		VFov:           r.f32(1),
		Right:          r.vec3(2),
		Aperture:       r.f32(3),
		Up:             r.vec3(4),
		FocusDistance:  r.f32(5),
		Forward:        r.vec3(6),
		JitterStrength: r.f32(7),
		SkyTop:         r.vec3(8),
		MaxDepth:       r.u32(9),
		SkyBottom:      r.vec3(10),
		SampleIndex:    r.u32(11),
		Background:     r.vec3(12),
		SphereCount:    r.u32(13),
		Width:          r.u32(14),
		Height:         r.u32(15),
		Seed:           r.u32(16),
		MaterialCount:  r.u32(17),
	}, nil
}

func (p *ResolveParams) Pack() []byte {
	buf := make([]byte, ResolveParamsLayout.Size)
	r := record{b: buf, s: &ResolveParamsLayout}
	r.putVec3(0, p.Background)
	r.putF32(1, p.InvGamma)
	r.putU32(2, p.Width)
	r.putU32(3, p.Height)
	return buf
}

func UnpackResolveParams(b []byte) (ResolveParams, error) {
	if len(b) < ResolveParamsLayout.Size {
		return ResolveParams{}, &core.LayoutError{Record: ResolveParamsLayout.Name, Want: ResolveParamsLayout.Size, Got: len(b)}
	}
	r := record{b: b[:ResolveParamsLayout.Size], s: &ResolveParamsLayout}
	return ResolveParams{
		Background: r.vec3(0),
		InvGamma:   r.f32(1),
		Width:      r.u32(2),
		Height:     r.u32(3),
	}, nil
}

// PutTexel and Texel address one RGBA32F texel of a packed accumulation image.
func PutTexel(b []byte, i int, v [4]float32) {
	o := i * AccumTexelSize
	for c := 0; c < 4; c++ {
		binary.LittleEndian.PutUint32(b[o+c*4:], math.Float32bits(v[c]))
	}
}

func Texel(b []byte, i int) [4]float32 {
	o := i * AccumTexelSize
	var v [4]float32
	for c := 0; c < 4; c++ {
		v[c] = math.Float32frombits(binary.LittleEndian.Uint32(b[o+c*4:]))
	}
	return v
}
