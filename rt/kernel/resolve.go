package kernel

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	Gamma    = 2.2
	InvGamma = 1 / Gamma
)

// Resolve turns an accumulation texel into a display colour in [0,1]:
// mean radiance, gamma encoded, clamped. A texel with no samples resolves to
// background.
func Resolve(texel [4]float32, background mgl32.Vec3, invGamma float32) mgl32.Vec3 {
	count := texel[3]
	if !(count > 0) {
		return clamp01(background)
	}
	var out mgl32.Vec3
	for i := 0; i < 3; i++ {
		mean := texel[i] / count
		if !(mean > 0) {
			// also catches NaN
			out[i] = 0
			continue
		}
		out[i] = float32(math.Pow(float64(mean), float64(invGamma)))
	}
	return clamp01(out)
}

func clamp01(v mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		mgl32.Clamp(v[0], 0, 1),
		mgl32.Clamp(v[1], 0, 1),
		mgl32.Clamp(v[2], 0, 1),
	}
}

// ToRGBA8 quantises a [0,1] colour the same way an rgba8unorm store does.
func ToRGBA8(c mgl32.Vec3) [4]uint8 {
	q := func(f float32) uint8 {
		return uint8(mgl32.Clamp(f, 0, 1)*255 + 0.5)
	}
	return [4]uint8{q(c[0]), q(c[1]), q(c[2]), 255}
}
