// Package mdct implements the Modified Discrete Cosine Transform and its
// inverse, built on top of package fft's radix-2 complex FFT using the
// pre/post-twiddle folding technique attributed to Shuhua Zhang
// (musicdsp.org, "MDCT and IMDCT using a simple FFT"). KWL uses only the
// inverse transform (decoding coefficients back to a time-domain window),
// but the forward transform is implemented alongside it: the reduction to
// a single complex FFT plus twiddle tables is shared code either way.
package mdct

import (
	"math"
	"math/cmplx"

	"github.com/elliotnunn/kwlkit/fft"
	"github.com/elliotnunn/kwlkit/internal/errkind"
)

// Transform holds the precomputed twiddle factors, window, and FFT plan
// for a fixed block size N (N must be four times a power of two). Reuse a Transform
// across many MDCT/IMDCT calls of the same size and window.
type Transform struct {
	n int

	fft     *fft.Transformer
	twiddle []complex128
	fftData []complex128
	window  []float64

	prescale  float64
	postscale float64
}

// Option configures a Transform at construction time.
type Option func(*Transform)

// WithPrescale overrides the default forward-transform prescale (1.0).
func WithPrescale(v float64) Option {
	return func(t *Transform) { t.prescale = v }
}

// WithPostscale overrides the default inverse-transform postscale (2/N,
// appropriate for windowed overlap-add reconstruction; an unwindowed
// inverse transform should use 1/N instead).
func WithPostscale(v float64) Option {
	return func(t *Transform) { t.postscale = v }
}

// WithWindow supplies an explicit per-sample window of length N. Without
// this option the window is all ones (no windowing).
func WithWindow(w []float64) Option {
	return func(t *Transform) { copy(t.window, w) }
}

// WithWindowFunc generates the window from a function of (index, N), e.g.
// VorbisWindow.
func WithWindowFunc(f func(i, n int) float64) Option {
	return func(t *Transform) {
		for i := range t.window {
			t.window[i] = f(i, t.n)
		}
	}
}

// New builds a Transform for block size n, which must be a positive
// multiple of 4 whose quarter n/4 is a power of two (the size of the inner
// FFT).
func New(n int, opts ...Option) (*Transform, error) {
	if n <= 0 || n%4 != 0 {
		return nil, errkind.Wrapf(errkind.InvalidArgument, "mdct: size %d is not a positive multiple of 4", n)
	}
	inner, err := fft.New(n / 4)
	if err != nil {
		return nil, err
	}

	t := &Transform{
		n:         n,
		fft:       inner,
		prescale:  1,
		postscale: 2 / float64(n),
		fftData:   make([]complex128, n/4),
		window:    make([]float64, n),
	}
	for i := range t.window {
		t.window[i] = 1
	}

	n8 := 8 * n
	a := 2 * math.Pi / float64(n8)
	o := 2 * math.Pi / float64(n)
	t.twiddle = make([]complex128, n/4)
	for i := range t.twiddle {
		angle := -(a + o*float64(i))
		t.twiddle[i] = cmplx.Exp(complex(0, angle))
	}

	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Size returns the block size N this Transform operates on.
func (t *Transform) Size() int {
	return t.n
}

func (t *Transform) get(data []float64, i int) float64 {
	return data[i] * t.window[i]
}

func (t *Transform) set(data []float64, i int, v float64) {
	data[i] = v * t.window[i]
}

// Forward computes the MDCT of an N-sample input block, producing N/2
// coefficients in out.
func (t *Transform) Forward(data, out []float64) {
	n4 := t.n / 4
	n2 := 2 * n4
	n34 := 3 * n4
	n54 := 5 * n4

	i := 0
	for ; i < n4; i += 2 {
		re := t.get(data, n34-1-i) + t.get(data, n34+i)
		im := t.get(data, n4+i) - t.get(data, n4-1-i)
		t.fftData[i>>1] = complex(re, im) * t.twiddle[i>>1]
	}
	for ; i < n2; i += 2 {
		re := t.get(data, n34-1-i) - t.get(data, i-n4)
		im := t.get(data, n4+i) + t.get(data, n54-1-i)
		t.fftData[i>>1] = complex(re, im) * t.twiddle[i>>1]
	}

	t.fft.Forward(t.fftData)

	pre := complex(t.prescale, 0)
	for i := 0; i < n2; i += 2 {
		c := t.fftData[i>>1] * t.twiddle[i>>1] * pre
		out[i] = -real(c)
		out[n2-1-i] = imag(c)
	}
}

// Inverse computes the IMDCT of an N/2-coefficient block, producing N
// time-domain samples in out. Before overlap-add, out still needs to be
// windowed if no window was configured at construction time but the
// caller wants one (the window is applied internally to the odd/even
// expansion stage, matching the reference reduction).
func (t *Transform) Inverse(mdctData, out []float64) {
	n4 := t.n / 4
	n2 := 2 * n4
	n34 := 3 * n4
	n54 := 5 * n4

	i := 0
	for ; i < n2; i += 2 {
		c := complex(mdctData[i], mdctData[n2-1-i]) * t.twiddle[i>>1] * complex(-2, 0)
		t.fftData[i>>1] = c
	}

	t.fft.Forward(t.fftData)

	post := complex(t.postscale, 0)
	for i = 0; i < n4; i += 2 {
		c := t.fftData[i>>1] * t.twiddle[i>>1] * post
		t.set(out, n34-1-i, real(c))
		t.set(out, n34+i, real(c))
		t.set(out, n4+i, -imag(c))
		t.set(out, n4-1-i, imag(c))
	}
	for ; i < n2; i += 2 {
		c := t.fftData[i>>1] * t.twiddle[i>>1] * post
		t.set(out, n34-1-i, real(c))
		t.set(out, i-n4, -real(c))
		t.set(out, n4+i, -imag(c))
		t.set(out, n54-1-i, -imag(c))
	}
}

// OverlapAdd combines the second half of data0 with the first half of
// data1 (each N samples, the output of two successive Inverse calls) into
// N/2 reconstructed samples — the standard MDCT overlap-add step.
func OverlapAdd(data0, data1, out []float64) {
	n2 := len(out)
	for i := 0; i < n2; i++ {
		out[i] = data0[i+n2] + data1[i]
	}
}
