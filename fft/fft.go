// Package fft implements an in-place radix-2 decimation-in-time FFT (and
// its inverse) over complex128 sample blocks. It exists to back package
// mdct's windowed MDCT/IMDCT transform; nothing in this package is
// KWL-specific.
package fft

import (
	"math"
	"math/bits"
	"math/cmplx"

	"github.com/elliotnunn/kwlkit/internal/errkind"
)

// Transformer holds the precomputed twiddle factors and bit-reversal swap
// pairs for a fixed block size N = 2^m. Building one is proportional to N;
// reuse a Transformer across many Forward/Inverse calls of the same size.
type Transformer struct {
	n       int
	m       int
	twiddle []complex128 // twiddle[p] = exp(-i*pi/2^p), one per butterfly stage
	swaps   [][2]int
}

// New builds a Transformer for block size n, which must be a power of two.
func New(n int) (*Transformer, error) {
	if n <= 0 || n&(n-1) != 0 {
		return nil, errkind.Wrapf(errkind.InvalidArgument, "fft: size %d is not a positive power of two", n)
	}
	m := bits.TrailingZeros(uint(n))

	t := &Transformer{n: n, m: m}
	t.twiddle = make([]complex128, m)
	for p := 0; p < m; p++ {
		step := 1 << p
		t.twiddle[p] = cmplx.Exp(complex(0, -math.Pi/float64(step)))
	}

	for i := 0; i < n; i++ {
		ri := reverseBits(uint32(i), m)
		if uint32(i) >= ri {
			continue
		}
		t.swaps = append(t.swaps, [2]int{i, int(ri)})
	}
	return t, nil
}

func reverseBits(v uint32, width int) uint32 {
	return bits.Reverse32(v) >> (32 - width)
}

// Size returns the block size this Transformer operates on.
func (t *Transformer) Size() int {
	return t.n
}

// Forward performs an in-place radix-2 DIT FFT on data, which must have
// exactly t.Size() elements.
func (t *Transformer) Forward(data []complex128) {
	t.fft(data)
}

// Inverse performs an in-place IFFT: conjugate, forward FFT, conjugate and
// scale by 1/N. This is algebraically equivalent to a direct inverse
// transform and reuses the same butterfly code.
func (t *Transformer) Inverse(data []complex128) {
	for i := range data {
		data[i] = cmplx.Conj(data[i])
	}
	t.fft(data)
	mul := complex(1/float64(t.n), 0)
	for i := range data {
		data[i] = cmplx.Conj(data[i]) * mul
	}
}

func (t *Transformer) fft(data []complex128) {
	for _, sw := range t.swaps {
		data[sw[0]], data[sw[1]] = data[sw[1]], data[sw[0]]
	}
	for p := 0; p < t.m; p++ {
		step := 1 << p
		step2 := step * 2
		w := t.twiddle[p]
		s := complex(1, 0)
		for i := 0; i < step; i++ {
			for j := i; j < t.n; j += step2 {
				j2 := j + step
				tmp := data[j2] * s
				data[j2] = data[j] - tmp
				data[j] = data[j] + tmp
			}
			s *= w
		}
	}
}
