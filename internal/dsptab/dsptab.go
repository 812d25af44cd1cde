// Package dsptab caches the precomputed FFT twiddle/bit-reversal tables and
// MDCT twiddle/window tables that fft.New and mdct.New build on every call,
// keyed by transform size. cmd/kwl2wav's batch mode opens many KWL files
// that mostly share one block size; without this, each file recomputes the
// same sin/cos tables from scratch.
package dsptab

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-tinylfu"

	"github.com/elliotnunn/kwlkit/fft"
	"github.com/elliotnunn/kwlkit/mdct"
)

const (
	cacheSize    = 64
	cacheSamples = cacheSize * 10
)

type fftKey struct {
	n int
}

type mdctKey struct {
	n          int
	normalized bool
}

var (
	mu         sync.Mutex
	fftCache   = tinylfu.New[fftKey, *fft.Transformer](cacheSize, cacheSamples, fftHasher)
	mdctCache  = tinylfu.New[mdctKey, *mdct.Transform](cacheSize, cacheSamples, mdctHasher)
)

func fftHasher(k fftKey) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(k.n))
	return xxhash.Sum64(b[:])
}

func mdctHasher(k mdctKey) uint64 {
	var b [9]byte
	binary.LittleEndian.PutUint64(b[:8], uint64(k.n))
	if k.normalized {
		b[8] = 1
	}
	return xxhash.Sum64(b[:])
}

// FFT returns a cached *fft.Transformer of size n, building one on miss.
// The returned transformer must not be used concurrently from more than
// one goroutine at a time: callers in kwlkit decode one file at a time, so
// this matches fft.Transformer's own single-goroutine contract.
func FFT(n int) (*fft.Transformer, error) {
	mu.Lock()
	defer mu.Unlock()

	key := fftKey{n: n}
	if t, ok := fftCache.Get(key); ok {
		return t, nil
	}
	t, err := fft.New(n)
	if err != nil {
		return nil, err
	}
	fftCache.Add(key, t)
	return t, nil
}

// MDCT returns a cached *mdct.Transform of size m using the KWL
// normalized-vs-legacy scaling convention, building one on miss.
func MDCT(m int, normalized bool) (*mdct.Transform, error) {
	mu.Lock()
	defer mu.Unlock()

	key := mdctKey{n: m, normalized: normalized}
	if t, ok := mdctCache.Get(key); ok {
		return t, nil
	}

	var prescale, postscale float64
	if normalized {
		prescale, postscale = 4/float64(m), 0.5
	} else {
		prescale, postscale = 1, 2/float64(m)
	}
	t, err := mdct.New(m, mdct.WithPrescale(prescale), mdct.WithPostscale(postscale), mdct.WithWindowFunc(mdct.VorbisWindow))
	if err != nil {
		return nil, err
	}
	mdctCache.Add(key, t)
	return t, nil
}
