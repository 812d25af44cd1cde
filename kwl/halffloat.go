package kwl

import "math"

// halfToFloat32 converts an IEEE 754 binary16 value to binary32, following
// the straightforward sign/exponent/mantissa decomposition (no SIMD
// trickery — KWL scales are one value per channel per frame, not a hot
// loop).
func halfToFloat32(h uint16) float32 {
	sign := int32(h>>15) & 1
	exp := int32(h>>10) & 0x1F
	mant := int32(h) & 0x3FF

	signMul := float32(1 - 2*sign)
	const mantScale = 1.0 / 1024.0

	switch {
	case exp == 31:
		if mant == 0 {
			return float32(math.Inf(1)) * signMul
		}
		return float32(math.NaN())
	case exp == 0:
		return (1.0 / float32(int32(1)<<14)) * signMul * (float32(mant) * mantScale)
	case exp >= 15:
		return float32(int32(1)<<uint(exp-15)) * signMul * (1 + float32(mant)*mantScale)
	default:
		return (1.0 / float32(int32(1)<<uint(15-exp))) * signMul * (1 + float32(mant)*mantScale)
	}
}
