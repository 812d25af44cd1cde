// Package kwl decodes the KWL lossy audio container: a 32-byte header
// followed by a zlib-framed stream of per-channel MDCT-quantized frames.
// Decoding runs entirely through package inflate (the zlib bitstream) and
// package mdct (frequency-to-time reconstruction); this package owns only
// the container's own framing, dequantization, and ping-pong overlap-add
// bookkeeping.
package kwl

import (
	"io"
	"math"

	"github.com/elliotnunn/kwlkit/bytestream"
	"github.com/elliotnunn/kwlkit/inflate"
	"github.com/elliotnunn/kwlkit/internal/errkind"
	"github.com/elliotnunn/kwlkit/mdct"
	"github.com/elliotnunn/kwlkit/sampleformat"
)

// Decoder reads interleaved PCM samples out of a KWL stream.
type Decoder struct {
	stream bytestream.Stream
	header Header

	inflater *inflate.Reader
	tf       *mdct.Transform
	dequant  []float32

	overlap  [][]float32 // per channel, length 4*N
	final    [][]float32 // per channel, length N
	base     int
	xor      int
	bufPtr   int // read cursor into final[*][bufPtr:N]

	coeffScratch []float32 // reused per-frame: dequantized coefficients
	byteScratch  []byte    // reused per-frame: quantized byte block
	mdctIn       []float64 // reused per-frame: IMDCT input, length N
	mdctOut      []float64 // reused per-frame: IMDCT output, length 2N

	remSamples uint64 // when FlagNumSamples set, samples left to emit
	err        error  // sticky decode error

	transformFactory func(m int, normalized bool) (*mdct.Transform, error)
}

// Option configures a Decoder at Open time.
type Option func(*Decoder)

// WithTransformFactory overrides how the Decoder obtains its *mdct.Transform,
// letting a caller (cmd/kwl2wav via internal/dsptab) share precomputed
// twiddle/window tables across many files of the same block size instead of
// rebuilding them per Decoder.
func WithTransformFactory(f func(m int, normalized bool) (*mdct.Transform, error)) Option {
	return func(d *Decoder) { d.transformFactory = f }
}

// Open parses the header and primes the decoder for reading. The
// underlying stream must start at byte 0.
func Open(s bytestream.Stream, opts ...Option) (*Decoder, error) {
	d := &Decoder{stream: s}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.open(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Decoder) open() error {
	var hdrBuf [headerSize]byte
	if _, err := io.ReadFull(d.stream, hdrBuf[:]); err != nil {
		return errkind.Wrapf(errkind.TruncatedInput, "kwl: reading header: %v", err)
	}
	hdr, err := parseHeader(hdrBuf[:])
	if err != nil {
		return err
	}
	d.header = hdr

	if err := d.stream.Rewind(); err != nil {
		return err
	}
	if err := d.stream.SkipRead(headerSize); err != nil {
		return err
	}
	inf, err := inflate.NewReader(d.stream, inflate.Zlib)
	if err != nil {
		return err
	}
	d.inflater = inf

	n := int(hdr.BlockSize)
	m := n * 2 // MDCT transform size
	normalized := hdr.Flags&FlagNormalized != 0

	var tf *mdct.Transform
	if d.transformFactory != nil {
		tf, err = d.transformFactory(m, normalized)
	} else {
		var opt mdct.Option
		if normalized {
			opt = mdct.WithPrescale(4 / float64(m))
		} else {
			opt = mdct.WithPrescale(1)
		}
		tf, err = mdct.New(m, opt, postscaleOption(hdr.Flags, m), mdct.WithWindowFunc(mdct.VorbisWindow))
	}
	if err != nil {
		return err
	}
	d.tf = tf

	d.dequant = buildDequantTable(hdr)

	channels := int(hdr.NumChannels)
	d.overlap = make([][]float32, channels)
	d.final = make([][]float32, channels)
	for c := range d.overlap {
		d.overlap[c] = make([]float32, 4*n)
		d.final[c] = make([]float32, n)
	}
	d.coeffScratch = make([]float32, n)
	d.byteScratch = make([]byte, n)
	d.mdctIn = make([]float64, n)
	d.mdctOut = make([]float64, m)
	d.base = m
	d.xor = m
	d.bufPtr = n
	d.err = nil

	if hdr.Flags&FlagNumSamples != 0 {
		d.remSamples = hdr.NumSamples
	} else {
		d.remSamples = 0
	}

	if hdr.NumFrames > 0 {
		if err := d.decodeFrame(); err != nil {
			return err
		}
	}
	d.bufPtr = n
	return nil
}

func postscaleOption(flags Flags, m int) mdct.Option {
	if flags&FlagNormalized != 0 {
		return mdct.WithPostscale(0.5)
	}
	return mdct.WithPostscale(2 / float64(m))
}

// buildDequantTable constructs the size-2^QuantBits reconstruction table:
// for i in [0,Q), x = (i-mid)/divisor, dequant[i] = sign(x)*|x|^(1/powScl).
func buildDequantTable(hdr Header) []float32 {
	q := 1 << hdr.QuantBits
	mid := q / 2
	qmax := mid - 1
	divisor := float64(qmax)
	if hdr.Flags&FlagNoQBias == 0 {
		divisor += 0.5
	}
	invPowScl := 1 / hdr.powerScale()

	table := make([]float32, q)
	for i := 0; i < q; i++ {
		x := float64(i-mid) / divisor
		sign := 1.0
		if x < 0 {
			sign = -1.0
		}
		sam := math.Pow(math.Abs(x), invPowScl) * sign
		table[i] = float32(sam)
	}
	return table
}

// Channels returns the file's channel count.
func (d *Decoder) Channels() int {
	return int(d.header.NumChannels)
}

// SampleRate returns the file's sample rate in Hz.
func (d *Decoder) SampleRate() int {
	return int(d.header.SampleRate)
}

// BlockSize returns the MDCT block size N: each decoded frame yields N
// samples per channel.
func (d *Decoder) BlockSize() int {
	return int(d.header.BlockSize)
}

// Length returns the stream's duration in seconds, using the authoritative
// sample count if present, else blockSize*numFrames.
func (d *Decoder) Length() float64 {
	if d.header.Flags&FlagNumSamples != 0 {
		return float64(d.header.NumSamples) / float64(d.header.SampleRate)
	}
	total := float64(d.header.BlockSize) * float64(d.header.NumFrames)
	return total / float64(d.header.SampleRate)
}

// Rewind repositions the decoder at the start of the stream, ready to
// decode from frame 0 again, producing bit-identical output on every pass.
func (d *Decoder) Rewind() error {
	if err := d.stream.Rewind(); err != nil {
		return err
	}
	return d.open()
}

// Close releases the decoder's resources. It never fails.
func (d *Decoder) Close() error {
	d.inflater = nil
	d.tf = nil
	d.overlap = nil
	d.final = nil
	return nil
}

func (d *Decoder) readScale() (float32, error) {
	if d.header.Flags&FlagHalfFloat != 0 {
		var b [2]byte
		if err := readFull(d.inflater, b[:]); err != nil {
			return 0, err
		}
		return halfToFloat32(uint16(b[0]) | uint16(b[1])<<8), nil
	}
	var b [4]byte
	if err := readFull(d.inflater, b[:]); err != nil {
		return 0, err
	}
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits), nil
}

func readFull(r io.Reader, p []byte) error {
	_, err := io.ReadFull(r, p)
	if err != nil {
		return errkind.Wrapf(errkind.TruncatedInput, "kwl: %v", err)
	}
	return nil
}

// decodeFrame decodes one frame (all channels), overlap-adding into
// d.final, and advances the ping-pong base.
func (d *Decoder) decodeFrame() error {
	if d.err != nil {
		return d.err
	}
	n := int(d.header.BlockSize)
	quantMask := (1 << d.header.QuantBits) - 1
	coeff := d.coeffScratch
	scratch := d.byteScratch

	for ch := 0; ch < int(d.header.NumChannels); ch++ {
		scale, err := d.readScale()
		if err != nil {
			d.err = err
			return err
		}

		dcOffset := d.header.Flags&FlagDCOffset != 0
		start := 0
		scratch[0] = 0
		if dcOffset {
			start = 1
		}
		if err := readFull(d.inflater, scratch[start:n]); err != nil {
			d.err = err
			return err
		}

		for i := 0; i < n; i++ {
			idx := int(scratch[i]) & quantMask
			coeff[i] = d.dequant[idx] * scale
		}
		if dcOffset {
			dc, err := d.readScale()
			if err != nil {
				d.err = err
				return err
			}
			coeff[0] = dc
		}

		m := 2 * n
		for i, v := range coeff {
			d.mdctIn[i] = float64(v)
		}
		d.tf.Inverse(d.mdctIn, d.mdctOut)
		dst := d.overlap[ch][d.base : d.base+m]
		for i, v := range d.mdctOut {
			dst[i] = float32(v)
		}

		prev := d.overlap[ch][d.base^d.xor : d.base^d.xor+m]
		cur := d.overlap[ch][d.base : d.base+m]
		overlapAdd32(prev, cur, d.final[ch])
	}

	d.base ^= d.xor
	d.bufPtr = 0
	return nil
}

func overlapAdd32(prev, cur, out []float32) {
	n2 := len(out)
	for i := 0; i < n2; i++ {
		out[i] = prev[i+n2] + cur[i]
	}
}

// ReadSamples decodes and writes interleaved samples in outFmt to buf,
// which must hold numSamples*outChannels*outFmt.BytesPerSample() bytes.
// It returns the number of samples actually written per channel (less than
// numSamples only at end of stream, or capped by the header's authoritative
// sample count when FlagNumSamples is set).
func (d *Decoder) ReadSamples(buf []byte, numSamples, outChannels int, outFmt sampleformat.Format) (int, error) {
	if numSamples < 0 || outChannels <= 0 || outChannels > 256 {
		return 0, errkind.Wrap(errkind.InvalidArgument, "kwl: negative sample count or channel count outside [1,256]")
	}
	if numSamples == 0 {
		return 0, nil
	}
	bps := outFmt.BytesPerSample()
	if bps == 0 {
		return 0, errkind.Wrap(errkind.InvalidArgument, "kwl: unsupported sample format")
	}
	needed := numSamples * outChannels * bps
	if len(buf) < needed {
		return 0, errkind.Wrapf(errkind.InvalidArgument, "kwl: output buffer holds %d bytes, need %d", len(buf), needed)
	}

	n := int(d.header.BlockSize)
	minChan := d.Channels()
	if outChannels < minChan {
		minChan = outChannels
	}
	numSamplesRead := 0
	pos := 0
	var tmp [4]byte

	for numSamples > 0 {
		rem := n - d.bufPtr
		if rem <= 0 {
			if err := d.decodeFrame(); err != nil {
				break
			}
			rem = n
		}
		if rem > numSamples {
			rem = numSamples
		}
		numSamplesRead += rem
		numSamples -= rem

		for i := 0; i < rem; i++ {
			var sam [256]float32 // outChannels is checked to be at most 256 above
			j := 0
			for ; j < minChan; j++ {
				sam[j] = d.final[j][d.bufPtr+i]
			}
			if j == 1 && j < outChannels {
				sam[j] = sam[0]
				j++
			}
			for ; j < outChannels; j++ {
				sam[j] = 0
			}
			for c := 0; c < outChannels; c++ {
				enc, err := sampleformat.FromFloat(sam[c], outFmt, tmp[:0])
				if err != nil {
					return numSamplesRead, err
				}
				pos += copy(buf[pos:], enc)
			}
		}
		d.bufPtr += rem
	}

	if d.header.Flags&FlagNumSamples != 0 {
		if uint64(numSamplesRead) > d.remSamples {
			numSamplesRead = int(d.remSamples)
		}
		d.remSamples -= uint64(numSamplesRead)
	}
	return numSamplesRead, nil
}
