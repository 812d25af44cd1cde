package mdct

import "math"

// VorbisWindow is the window function from the Vorbis I specification,
// section 4.3.1: a sine-based window that satisfies the overlap-add
// constraint (and whose square is itself a valid power-complementary pair).
func VorbisWindow(x, n int) float64 {
	tmp := math.Sin((float64(x) + 0.5) * math.Pi / float64(n))
	return math.Sin(0.5 * math.Pi * tmp * tmp)
}
