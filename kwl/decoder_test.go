package kwl

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"testing"

	"github.com/elliotnunn/kwlkit/bytestream"
	"github.com/elliotnunn/kwlkit/sampleformat"
)

// buildHeader encodes a 32-byte KWL header for test fixtures.
func buildHeader(flags Flags, sampleRate uint32, numChannels, quantBits uint8, blockSize uint16, numFrames uint32, numSamples uint64) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], wantVersion)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(flags))
	binary.LittleEndian.PutUint32(buf[8:12], sampleRate)
	buf[12] = numChannels
	buf[13] = quantBits
	binary.LittleEndian.PutUint16(buf[14:16], blockSize)
	binary.LittleEndian.PutUint32(buf[16:20], numFrames)
	binary.LittleEndian.PutUint16(buf[20:22], 0) // lastFrameSamples, unused by the decoder
	binary.LittleEndian.PutUint16(buf[22:24], 0) // legacy power scale
	binary.LittleEndian.PutUint64(buf[24:32], numSamples)
	return buf
}

// buildFrames compresses numFrames*numChannels worth of silent (mid-value
// quantized, zero-amplitude) frames into a zlib stream, honoring
// FlagDCOffset and FlagHalfFloat in the per-channel layout.
func buildFrames(flags Flags, numFrames uint32, numChannels int, blockSize uint16, quantBits uint8) []byte {
	n := int(blockSize)
	midIdx := byte(1 << (quantBits - 1)) // centre of the quant table: dequantizes to ~0

	var raw bytes.Buffer
	for f := uint32(0); f < numFrames; f++ {
		for c := 0; c < numChannels; c++ {
			writeScale(&raw, flags, 1.0)
			start := 0
			if flags&FlagDCOffset != 0 {
				start = 1
			}
			for i := start; i < n; i++ {
				raw.WriteByte(midIdx)
			}
			if flags&FlagDCOffset != 0 {
				writeScale(&raw, flags, 0.0)
			}
		}
	}

	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	w.Write(raw.Bytes())
	w.Close()
	return compressed.Bytes()
}

func writeScale(buf *bytes.Buffer, flags Flags, v float32) {
	if flags&FlagHalfFloat != 0 {
		// Only exact values used by these fixtures (0.0, 1.0) round-trip
		// cleanly through a hand-picked half-float encoding.
		var h uint16
		if v == 0 {
			h = 0x0000
		} else {
			h = 0x3C00 // 1.0
		}
		buf.WriteByte(byte(h))
		buf.WriteByte(byte(h >> 8))
		return
	}
	bits := math.Float32bits(v)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], bits)
	buf.Write(b[:])
}

func buildKwlFile(flags Flags, sampleRate uint32, numChannels, quantBits uint8, blockSize uint16, numFrames uint32, numSamples uint64) []byte {
	hdr := buildHeader(flags, sampleRate, numChannels, quantBits, blockSize, numFrames, numSamples)
	body := buildFrames(flags, numFrames, int(numChannels), blockSize, quantBits)
	return append(hdr, body...)
}

func TestMonoBlock512AfterPrimeFrame(t *testing.T) {
	data := buildKwlFile(FlagNormalized, 22050, 1, 6, 512, 2, 0)
	dec, err := Open(bytestream.FromBytes(data))
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 512*1*sampleformat.Signed16.BytesPerSample())
	n, err := dec.ReadSamples(buf, 512, 1, sampleformat.Signed16)
	if err != nil {
		t.Fatal(err)
	}
	if n != 512 {
		t.Fatalf("got %d samples, want 512", n)
	}
}

func TestDCOffsetStereoDecodesWithoutError(t *testing.T) {
	const n = 64
	data := buildKwlFile(FlagNormalized|FlagDCOffset, 44100, 2, 6, n, 3, 0)
	dec, err := Open(bytestream.FromBytes(data))
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, n*2*sampleformat.Float32.BytesPerSample())
	got, err := dec.ReadSamples(buf, n, 2, sampleformat.Float32)
	if err != nil {
		t.Fatal(err)
	}
	if got != n {
		t.Fatalf("got %d samples, want %d", got, n)
	}
}

func TestRewindAfterEOSProducesIdenticalOutput(t *testing.T) {
	const n = 32
	data := buildKwlFile(FlagNormalized, 8000, 1, 6, n, 4, 0)
	dec, err := Open(bytestream.FromBytes(data))
	if err != nil {
		t.Fatal(err)
	}
	bps := sampleformat.Signed16.BytesPerSample()
	total := n * 3 // 3 non-prime frames emitted
	buf1 := make([]byte, total*bps)
	read1 := 0
	for read1 < total {
		got, err := dec.ReadSamples(buf1[read1*bps:], total-read1, 1, sampleformat.Signed16)
		if err != nil {
			t.Fatal(err)
		}
		if got == 0 {
			break
		}
		read1 += got
	}

	if err := dec.Rewind(); err != nil {
		t.Fatal(err)
	}
	buf2 := make([]byte, total*bps)
	read2 := 0
	for read2 < total {
		got, err := dec.ReadSamples(buf2[read2*bps:], total-read2, 1, sampleformat.Signed16)
		if err != nil {
			t.Fatal(err)
		}
		if got == 0 {
			break
		}
		read2 += got
	}

	if read1 != read2 {
		t.Fatalf("sample counts differ: %d vs %d", read1, read2)
	}
	if !bytes.Equal(buf1, buf2) {
		t.Fatal("rewound decode produced different bytes")
	}
}

func TestNumSamplesCapTruncatesFinalFrame(t *testing.T) {
	const n = 16
	const wantTotal = n + 5 // less than two full frames
	data := buildKwlFile(FlagNormalized|FlagNumSamples, 8000, 1, 6, n, 3, wantTotal)
	dec, err := Open(bytestream.FromBytes(data))
	if err != nil {
		t.Fatal(err)
	}
	bps := sampleformat.Signed16.BytesPerSample()
	buf := make([]byte, (n*3)*bps)
	got, err := dec.ReadSamples(buf, n*3, 1, sampleformat.Signed16)
	if err != nil {
		t.Fatal(err)
	}
	if got != wantTotal {
		t.Fatalf("got %d samples, want capped %d", got, wantTotal)
	}
}

func TestHalfFloatHeaderDecodesSilence(t *testing.T) {
	const n = 16
	data := buildKwlFile(FlagNormalized|FlagHalfFloat, 8000, 1, 6, n, 2, 0)
	dec, err := Open(bytestream.FromBytes(data))
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, n*sampleformat.Signed16.BytesPerSample())
	got, err := dec.ReadSamples(buf, n, 1, sampleformat.Signed16)
	if err != nil {
		t.Fatal(err)
	}
	if got != n {
		t.Fatalf("got %d samples, want %d", got, n)
	}
}
