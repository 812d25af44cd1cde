package kwl

import (
	"encoding/binary"

	"github.com/elliotnunn/kwlkit/internal/errkind"
)

const headerSize = 32

// Flags is the KWL header's bitmask of format options.
type Flags uint16

const (
	// FlagNormalized selects the normalized MDCT scaling (prescale =
	// 4/MdctSize, postscale = 0.5) over the legacy scaling (1, 2/MdctSize).
	FlagNormalized Flags = 1 << 0
	// FlagNumSamples marks the header's NumSamples field authoritative;
	// emitted samples are clipped to it.
	FlagNumSamples Flags = 1 << 1
	// FlagDCOffset stores each frame's zeroth MDCT coefficient as a full
	// float appended after the quantized body, rather than quantizing it.
	FlagDCOffset Flags = 1 << 2
	// FlagNoQBias drops the 0.5 bias term from the dequantizer's
	// reconstruction denominator.
	FlagNoQBias Flags = 1 << 3
	// FlagHalfFloat stores per-frame scales (and the DC-offset field) as
	// 16-bit IEEE-754 binary16 rather than 32-bit binary32.
	FlagHalfFloat Flags = 1 << 4
)

var magic = [4]byte{'k', 'w', 'l', 0x1a}

const wantVersion = 0x0100

// Header is the 32-byte KWL file header, decoded from little-endian wire
// format.
type Header struct {
	Flags             Flags
	SampleRate        uint32
	NumChannels       uint8
	QuantBits         uint8
	BlockSize         uint16 // MDCT block size N, a power of two
	NumFrames         uint32
	LastFrameSamples  uint16
	PowerScaleFixed   uint16 // fixed-point /65536; 0 = legacy 0.2
	NumSamples        uint64 // valid iff Flags&FlagNumSamples
}

// parseHeader reads and validates the 32-byte header from p.
func parseHeader(p []byte) (Header, error) {
	if len(p) < headerSize {
		return Header{}, errkind.Wrap(errkind.TruncatedInput, "kwl: short header")
	}
	var h Header
	if p[0] != magic[0] || p[1] != magic[1] || p[2] != magic[2] || p[3] != magic[3] {
		return Header{}, errkind.Wrap(errkind.MalformedHeader, "kwl: bad magic")
	}
	version := binary.LittleEndian.Uint16(p[4:6])
	if version != wantVersion {
		return Header{}, errkind.Wrapf(errkind.MalformedHeader, "kwl: version %#x, want %#x", version, wantVersion)
	}
	h.Flags = Flags(binary.LittleEndian.Uint16(p[6:8]))
	h.SampleRate = binary.LittleEndian.Uint32(p[8:12])
	h.NumChannels = p[12]
	h.QuantBits = p[13]
	h.BlockSize = binary.LittleEndian.Uint16(p[14:16])
	h.NumFrames = binary.LittleEndian.Uint32(p[16:20])
	h.LastFrameSamples = binary.LittleEndian.Uint16(p[20:22])
	h.PowerScaleFixed = binary.LittleEndian.Uint16(p[22:24])
	h.NumSamples = binary.LittleEndian.Uint64(p[24:32])

	if h.BlockSize == 0 || h.BlockSize&(h.BlockSize-1) != 0 {
		return Header{}, errkind.Wrapf(errkind.MalformedHeader, "kwl: block size %d is not a power of two", h.BlockSize)
	}
	if h.NumChannels == 0 {
		return Header{}, errkind.Wrap(errkind.MalformedHeader, "kwl: zero channel count")
	}
	if h.SampleRate == 0 {
		return Header{}, errkind.Wrap(errkind.MalformedHeader, "kwl: zero sample rate")
	}
	if h.QuantBits == 0 || h.QuantBits > 16 {
		return Header{}, errkind.Wrapf(errkind.MalformedHeader, "kwl: implausible quantizer width %d", h.QuantBits)
	}
	return h, nil
}

// powerScale returns the power-curve exponent's reciprocal base: the
// legacy 0.2 when PowerScaleFixed is zero, else PowerScaleFixed/65536.
func (h Header) powerScale() float64 {
	if h.PowerScaleFixed == 0 {
		return 0.2
	}
	return float64(h.PowerScaleFixed) / 65536.0
}
