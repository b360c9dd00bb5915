package kernel

import (
	"math"

	"github.com/gekko3d/pathtracer/rt/layout"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	DefaultMaxDepth = 8
	// RouletteDepth is the first bounce at which Russian roulette may end a path.
	RouletteDepth = 3
	// ThroughputCutoff ends paths whose remaining contribution is negligible.
	ThroughputCutoff = 1e-3
	minSurvival      = 0.05
)

// CameraRay builds the primary ray through pixel (x, y) for the params'
// sample index. Pixel (0,0) is the top-left corner.
func CameraRay(p *layout.FrameParams, x, y uint32, rng *RNG) Ray {
	jx, jy := Jitter(x, y, p.Width, p.SampleIndex, p.JitterStrength)

	w, h := float32(max(p.Width, 1)), float32(max(p.Height, 1))
	halfH := float32(math.Tan(float64(p.VFov) / 2))
	halfW := halfH * w / h

	u := (2*(float32(x)+jx)/w - 1) * halfW
	v := (1 - 2*(float32(y)+jy)/h) * halfH
	dir := p.Forward.Add(p.Right.Mul(u)).Add(p.Up.Mul(v))

	origin := p.Origin
	if p.Aperture > 0 {
		focus := p.FocusDistance
		if focus <= 0 {
			focus = 1
		}
		target := origin.Add(dir.Mul(focus))
		lx, ly := rng.InUnitDisk()
		lens := p.Aperture / 2
		origin = origin.Add(p.Right.Mul(lx * lens)).Add(p.Up.Mul(ly * lens))
		dir = target.Sub(origin)
	}
	return Ray{Origin: origin, Dir: dir.Normalize()}
}

// Sky is the vertical gradient between SkyBottom (horizon) and SkyTop.
func Sky(p *layout.FrameParams, dir mgl32.Vec3) mgl32.Vec3 {
	t := 0.5 * (dir.Normalize().Y() + 1)
	return p.SkyBottom.Mul(1 - t).Add(p.SkyTop.Mul(t))
}

func mulVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}

func maxComp(v mgl32.Vec3) float32 {
	return max(v[0], v[1], v[2])
}

// Trace follows one path and returns its radiance estimate.
func Trace(p *layout.FrameParams, s *Scene, r Ray, rng *RNG) mgl32.Vec3 {
	maxDepth := p.MaxDepth
	if maxDepth == 0 {
		maxDepth = DefaultMaxDepth
	}

	var radiance mgl32.Vec3
	throughput := mgl32.Vec3{1, 1, 1}
	inf := float32(math.Inf(1))

	for depth := uint32(0); depth < maxDepth; depth++ {
		h, ok := s.Hit(r, TMin, inf)
		if !ok {
			return radiance.Add(mulVec(throughput, Sky(p, r.Dir)))
		}
		if int(h.Material) >= len(s.Materials) {
			return radiance
		}
		m := &s.Materials[h.Material]
		radiance = radiance.Add(mulVec(throughput, m.Emission))

		att, next, ok := Scatter(m, r, &h, rng)
		if !ok {
			return radiance
		}
		throughput = mulVec(throughput, att)

		q := maxComp(throughput)
		if q < ThroughputCutoff {
			return radiance
		}
		if depth+1 >= RouletteDepth {
			q = mgl32.Clamp(q, minSurvival, 1)
			if rng.Float() >= q {
				return radiance
			}
			throughput = throughput.Mul(1 / q)
		}
		r = next
	}
	return radiance
}

// TracePixel produces one radiance sample for (x, y). Non-finite results are
// replaced by zero so a single bad path cannot poison the running sum.
func TracePixel(p *layout.FrameParams, s *Scene, x, y uint32) mgl32.Vec3 {
	rng := PixelRNG(x, y, p.Width, p.SampleIndex, p.Seed)
	c := Trace(p, s, CameraRay(p, x, y, &rng), &rng)
	for i := range c {
		f := float64(c[i])
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return mgl32.Vec3{}
		}
	}
	return c
}

// Accumulate adds one sample to an accumulation texel (rgb sum, a count).
func Accumulate(texel [4]float32, radiance mgl32.Vec3) [4]float32 {
	return [4]float32{
		texel[0] + radiance[0],
		texel[1] + radiance[1],
		texel[2] + radiance[2],
		texel[3] + 1,
	}
}
