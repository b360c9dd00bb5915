package kernel

import (
	"math"

	"github.com/gekko3d/pathtracer/rt/core"

	"github.com/go-gl/mathgl/mgl32"
)

func reflect(v, n mgl32.Vec3) mgl32.Vec3 {
	return v.Sub(n.Mul(2 * v.Dot(n)))
}

// refract assumes uv is unit length and etaRatio = eta_in / eta_out.
func refract(uv, n mgl32.Vec3, etaRatio float32) mgl32.Vec3 {
	cosTheta := min(uv.Mul(-1).Dot(n), 1)
	perp := uv.Add(n.Mul(cosTheta)).Mul(etaRatio)
	parallel := n.Mul(-float32(math.Sqrt(math.Abs(float64(1 - perp.LenSqr())))))
	return perp.Add(parallel)
}

// schlick approximates Fresnel reflectance.
func schlick(cosine, etaRatio float32) float32 {
	r0 := (1 - etaRatio) / (1 + etaRatio)
	r0 *= r0
	return r0 + (1-r0)*float32(math.Pow(float64(1-cosine), 5))
}

func nearZero(v mgl32.Vec3) bool {
	const eps = 1e-8
	return abs(v[0]) < eps && abs(v[1]) < eps && abs(v[2]) < eps
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

// Scatter evaluates m at h. It returns the attenuation and the continuation
// ray, or ok=false when the path is absorbed.
func Scatter(m *core.Material, in Ray, h *Hit, rng *RNG) (attenuation mgl32.Vec3, out Ray, ok bool) {
	switch m.Kind {
	case core.MaterialDiffuse:
		dir := h.Normal.Add(rng.UnitVector())
		if nearZero(dir) {
			dir = h.Normal
		}
		return m.Albedo, Ray{Origin: h.Point, Dir: dir.Normalize()}, true

	case core.MaterialMetal:
		fuzz := mgl32.Clamp(m.Params[0], 0, 1)
		dir := reflect(in.Dir.Normalize(), h.Normal).Add(rng.InUnitSphere().Mul(fuzz))
		if dir.Dot(h.Normal) <= 0 {
			return mgl32.Vec3{}, Ray{}, false
		}
		return m.Albedo, Ray{Origin: h.Point, Dir: dir.Normalize()}, true

	case core.MaterialDielectric:
		ior := m.Params[0]
		if ior <= 0 {
			ior = 1
		}
		ratio := ior
		if h.FrontFace {
			ratio = 1 / ior
		}
		unit := in.Dir.Normalize()
		cosTheta := min(unit.Mul(-1).Dot(h.Normal), 1)
		sinTheta := float32(math.Sqrt(float64(max(0, 1-cosTheta*cosTheta))))

		var dir mgl32.Vec3
		if ratio*sinTheta > 1 || schlick(cosTheta, ratio) > rng.Float() {
			dir = reflect(unit, h.Normal)
		} else {
			dir = refract(unit, h.Normal, ratio)
		}
		return m.Albedo, Ray{Origin: h.Point, Dir: dir.Normalize()}, true
	}
	return mgl32.Vec3{}, Ray{}, false
}
