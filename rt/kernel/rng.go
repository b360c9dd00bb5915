// Package kernel holds the per-pixel path tracing math. Every function is a
// pure function of its arguments; trace.wgsl implements the same steps on the
// GPU and the software backend calls these directly.
package kernel

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// PCG is the 32-bit PCG-RXS-M-XS hash.
func PCG(v uint32) uint32 {
	state := v*747796405 + 2891336453
	word := ((state >> ((state >> 28) + 4)) ^ state) * 277803737
	return (word >> 22) ^ word
}

// RNG is a hash-chain generator. The zero value is usable.
type RNG struct {
	state uint32
}

// PixelRNG seeds a generator unique to (pixel, sample, frame seed).
func PixelRNG(x, y, width, sample, seed uint32) RNG {
	return RNG{state: PCG(y*width + x + PCG(sample+PCG(seed)))}
}

func (r *RNG) Uint32() uint32 {
	r.state = PCG(r.state)
	return r.state
}

// Float returns a value in [0,1).
func (r *RNG) Float() float32 {
	return unorm(r.Uint32())
}

func unorm(u uint32) float32 {
	return float32(u>>8) / 16777216.0
}

func (r *RNG) InUnitSphere() mgl32.Vec3 {
	for i := 0; i < 16; i++ {
		p := mgl32.Vec3{2*r.Float() - 1, 2*r.Float() - 1, 2*r.Float() - 1}
		if p.LenSqr() < 1 {
			return p
		}
	}
	return mgl32.Vec3{}
}

// UnitVector is uniform on the unit sphere.
func (r *RNG) UnitVector() mgl32.Vec3 {
	z := 2*r.Float() - 1
	a := 2 * math.Pi * r.Float()
	rad := float32(math.Sqrt(float64(max(0, 1-z*z))))
	return mgl32.Vec3{
		rad * float32(math.Cos(float64(a))),
		rad * float32(math.Sin(float64(a))),
		z,
	}
}

func (r *RNG) InUnitDisk() (float32, float32) {
	rad := float32(math.Sqrt(float64(r.Float())))
	a := 2 * math.Pi * r.Float()
	return rad * float32(math.Cos(float64(a))), rad * float32(math.Sin(float64(a)))
}

// R2 sequence increments in 0.32 fixed point (1/g and 1/g^2 for the
// plastic number g).
const (
	r2a1 = 3242174889
	r2a2 = 2447445413
)

// Jitter returns the sub-pixel offset in [0,1)^2 for the given sample.
// Samples follow the R2 low-discrepancy sequence, shifted per pixel by a
// hash so neighbouring pixels do not share a pattern, then scaled by
// strength around the pixel centre.
func Jitter(x, y, width, sample uint32, strength float32) (float32, float32) {
	h := PCG(y*width + x)
	jx := unorm(0x80000000 + sample*r2a1 + h)
	jy := unorm(0x80000000 + sample*r2a2 + PCG(h))
	return 0.5 + (jx-0.5)*strength, 0.5 + (jy-0.5)*strength
}
