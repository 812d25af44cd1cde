// Package bitio implements a buffered, LSB-first bit reader over a byte
// stream, with a fast-path accumulator for the common case of reading a
// handful of bits per call.
//
// Bit order: bit 0 of byte k precedes bit 1 of byte k, and byte k precedes
// byte k+1. A multi-bit value is assembled so the first bit read becomes
// its least significant bit. This is the convention DEFLATE (RFC 1951)
// requires.
package bitio

import (
	"io"

	"github.com/elliotnunn/kwlkit/internal/errkind"
)

const defaultBufSize = 8 * 1024

// accumWidth is the width, in bits, of the read accumulator. 32 is enough
// for ReadBits32's widest request (32) plus headroom for refill bookkeeping
// using a 64-bit register.
const accumWidth = 64

// Reader reads bits LSB-first from an underlying io.Reader, through an
// internal byte buffer refilled in bulk.
type Reader struct {
	r io.Reader

	buf   []byte
	pos   int // next unread byte in buf
	fill  int // valid bytes in buf (pos <= fill <= len(buf))
	accum uint64
	nbits uint // valid bits in accum, low-order
}

// NewReader wraps r with the default 8 KiB buffer.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, defaultBufSize)
}

// NewReaderSize wraps r with a buffer of the given size (minimum 16).
func NewReaderSize(r io.Reader, size int) *Reader {
	if size < 16 {
		size = 16
	}
	return &Reader{r: r, buf: make([]byte, size)}
}

// Reset rewinds the Reader's internal state (but not the underlying
// stream) so it can be reused from byte 0 of a freshly rewound r.
func (br *Reader) Reset(r io.Reader) {
	br.r = r
	br.pos, br.fill = 0, 0
	br.accum, br.nbits = 0, 0
}

// refillBuffer compacts any unread tail to the front of buf and requests a
// bulk read from the underlying stream. Returns an error only if no bytes
// at all could be obtained.
func (br *Reader) refillBuffer() error {
	if br.pos < br.fill {
		n := copy(br.buf, br.buf[br.pos:br.fill])
		br.fill = n
	} else {
		br.fill = 0
	}
	br.pos = 0

	n, err := io.ReadAtLeast(br.r, br.buf[br.fill:], 1)
	br.fill += n
	if n == 0 && err != nil {
		return errkind.Wrapf(errkind.TruncatedInput, "bitio: refill: %v", err)
	}
	return nil
}

// fillAccum pulls bytes from the buffer into the accumulator until either
// accumWidth bits are buffered or the stream runs dry, refilling the
// buffer from the stream whenever it empties. Reaching the end of the
// stream is an error only when no bits at all are buffered; callers check
// that enough bits arrived.
func (br *Reader) fillAccum() error {
	for br.nbits+8 <= accumWidth {
		if br.pos >= br.fill {
			if err := br.refillBuffer(); err != nil {
				if br.nbits > 0 {
					return nil
				}
				return err
			}
			if br.pos >= br.fill {
				return errkind.Wrap(errkind.TruncatedInput, "bitio: stream exhausted")
			}
		}
		br.accum |= uint64(br.buf[br.pos]) << br.nbits
		br.pos++
		br.nbits += 8
	}
	return nil
}

// ReadBits reads the next n bits (1 <= n <= 24) as an unsigned integer.
func (br *Reader) ReadBits(n uint) (uint32, error) {
	if n < 1 || n > 24 {
		return 0, errkind.Wrapf(errkind.InvalidArgument, "bitio: ReadBits: n=%d out of [1,24]", n)
	}
	if br.nbits < n {
		if err := br.fillAccum(); err != nil {
			return 0, err
		}
		if br.nbits < n {
			return 0, errkind.Wrap(errkind.TruncatedInput, "bitio: ReadBits: insufficient bits at EOF")
		}
	}
	v := uint32(br.accum & (1<<n - 1))
	br.accum >>= n
	br.nbits -= n
	return v, nil
}

// ReadBits32 reads the next n bits (1 <= n <= 32) via two-stage composition
// for widths beyond ReadBits's 24-bit limit.
func (br *Reader) ReadBits32(n uint) (uint32, error) {
	if n < 1 || n > 32 {
		return 0, errkind.Wrapf(errkind.InvalidArgument, "bitio: ReadBits32: n=%d out of [1,32]", n)
	}
	if n <= 24 {
		return br.ReadBits(n)
	}
	lo, err := br.ReadBits(16)
	if err != nil {
		return 0, err
	}
	hi, err := br.ReadBits(n - 16)
	if err != nil {
		return 0, err
	}
	return lo | hi<<16, nil
}

// ReadBit reads a single bit.
func (br *Reader) ReadBit() (uint32, error) {
	if br.nbits < 1 {
		if err := br.fillAccum(); err != nil {
			return 0, err
		}
		if br.nbits < 1 {
			return 0, errkind.Wrap(errkind.TruncatedInput, "bitio: ReadBit: no bits left")
		}
	}
	v := uint32(br.accum & 1)
	br.accum >>= 1
	br.nbits--
	return v, nil
}

// Buffered reports how many whole bits are currently cached in the
// accumulator without touching the underlying stream.
func (br *Reader) Buffered() uint {
	return br.nbits
}

// PeekBitsFast peeks at the next n bits (n <= 16) without consuming them.
// The caller must already know at least 16 bits are available (typically
// via a prior Buffered() check or simply by having just refilled); this
// mirrors the source's "assert the buffer holds enough data" contract.
func (br *Reader) PeekBitsFast(n uint) uint32 {
	if br.nbits < n {
		// One best-effort refill, matching the C++ source's "may refill
		// once and assert it was enough."
		_ = br.fillAccum()
	}
	return uint32(br.accum & (1<<n - 1))
}

// PopBitsFast advances past n bits (n <= 16) already validated by a prior
// PeekBitsFast/Buffered check.
func (br *Reader) PopBitsFast(n uint) {
	br.accum >>= n
	br.nbits -= n
}

// ReturnBits un-reads the low n bits of v back into the accumulator, for
// lookahead peeks that overshot. No-ops (returns false) if there isn't
// room.
func (br *Reader) ReturnBits(v uint32, n uint) bool {
	if br.nbits+n > accumWidth {
		return false
	}
	mask := uint64(1)<<n - 1
	br.accum = (br.accum << n) | (uint64(v) & mask)
	br.nbits += n
	return true
}

// FlushByte drops the fractional bits in the accumulator so the next read
// is byte-aligned. Never fails.
func (br *Reader) FlushByte() {
	drop := br.nbits % 8
	br.accum >>= drop
	br.nbits -= drop
}

// ReadByte implements io.ByteReader, reading one byte-aligned-or-not byte
// (8 bits) as a convenience over ReadBits.
func (br *Reader) ReadByte() (byte, error) {
	v, err := br.ReadBits(8)
	return byte(v), err
}

// ReadBytes reads len(p) bytes, byte-aligned, as a convenience over
// ReadBits. The accumulator must be byte-aligned-or-empty for this to be
// meaningful; callers typically FlushByte first.
func (br *Reader) ReadBytes(p []byte) error {
	for i := range p {
		b, err := br.ReadByte()
		if err != nil {
			return err
		}
		p[i] = b
	}
	return nil
}
