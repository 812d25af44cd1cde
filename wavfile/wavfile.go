// Package wavfile writes interleaved PCM samples out as a RIFF/WAVE file.
// It exists purely as a sink for cmd/kwl2wav: KWL decoding never reads a
// WAV file, so there is no reader side here.
package wavfile

import (
	"encoding/binary"
	"io"

	"github.com/elliotnunn/kwlkit/internal/errkind"
	"github.com/elliotnunn/kwlkit/sampleformat"
)

const (
	formatPCM   = 1
	formatFloat = 3

	riffHeaderSize = 12 // "RIFF" + size + "WAVE"
	fmtChunkSize   = 16
	fmtHeaderSize  = 8 + fmtChunkSize // "fmt " + size + body
	dataHeaderSize = 8                // "data" + size
)

// Writer emits a RIFF/WAVE file to an io.WriteSeeker: a fixed-size header
// up front, followed by interleaved PCM via Write, with the RIFF and data
// chunk sizes backpatched on Close.
type Writer struct {
	w           io.WriteSeeker
	numChannels int
	sampleRate  int
	format      sampleformat.Format
	dataBytes   int64
	closed      bool
}

// Create writes a RIFF/WAVE/fmt skeleton with a zero-length data chunk and
// returns a Writer ready to accept samples via Write. format must be
// Signed8, Unsigned8, Signed16, Signed24, or Float32; Unsigned16 and
// Unsigned24 are rejected since WAV's PCM compression tag has no unsigned
// 16/24-bit convention.
func Create(w io.WriteSeeker, numChannels, sampleRate int, format sampleformat.Format) (*Writer, error) {
	if numChannels <= 0 {
		return nil, errkind.Wrap(errkind.InvalidArgument, "wavfile: non-positive channel count")
	}
	if sampleRate <= 0 {
		return nil, errkind.Wrap(errkind.InvalidArgument, "wavfile: non-positive sample rate")
	}
	bps := format.BytesPerSample()
	if bps == 0 || format == sampleformat.Unsigned16 || format == sampleformat.Unsigned24 {
		return nil, errkind.Wrap(errkind.InvalidArgument, "wavfile: unsupported sample format")
	}

	wr := &Writer{w: w, numChannels: numChannels, sampleRate: sampleRate, format: format}
	if err := wr.writeHeader(); err != nil {
		return nil, err
	}
	return wr, nil
}

func (wr *Writer) writeHeader() error {
	bps := wr.format.BytesPerSample()
	blockAlign := bps * wr.numChannels
	byteRate := blockAlign * wr.sampleRate
	compression := uint16(formatPCM)
	if wr.format == sampleformat.Float32 {
		compression = formatFloat
	}

	var hdr [riffHeaderSize + fmtHeaderSize + dataHeaderSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 0) // patched on Close
	copy(hdr[8:12], "WAVE")

	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(hdr[20:22], compression)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(wr.numChannels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(wr.sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(bps*8))

	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], 0) // patched on Close

	_, err := wr.w.Write(hdr[:])
	if err != nil {
		return errkind.Wrapf(errkind.InvalidArgument, "wavfile: writing header: %v", err)
	}
	return nil
}

// Write appends raw interleaved PCM bytes (already encoded in the Writer's
// sample format) to the data chunk.
func (wr *Writer) Write(p []byte) (int, error) {
	n, err := wr.w.Write(p)
	wr.dataBytes += int64(n)
	if err != nil {
		return n, errkind.Wrapf(errkind.InvalidArgument, "wavfile: writing samples: %v", err)
	}
	return n, nil
}

// Close backpatches the RIFF and data chunk sizes. It does not close the
// underlying io.WriteSeeker.
func (wr *Writer) Close() error {
	if wr.closed {
		return nil
	}
	wr.closed = true

	riffSize := uint32(4 + fmtHeaderSize + dataHeaderSize + wr.dataBytes)
	if _, err := wr.w.Seek(4, io.SeekStart); err != nil {
		return errkind.Wrapf(errkind.InvalidArgument, "wavfile: seeking to RIFF size: %v", err)
	}
	var sz [4]byte
	binary.LittleEndian.PutUint32(sz[:], riffSize)
	if _, err := wr.w.Write(sz[:]); err != nil {
		return errkind.Wrapf(errkind.InvalidArgument, "wavfile: patching RIFF size: %v", err)
	}

	if _, err := wr.w.Seek(riffHeaderSize+fmtHeaderSize+4, io.SeekStart); err != nil {
		return errkind.Wrapf(errkind.InvalidArgument, "wavfile: seeking to data size: %v", err)
	}
	binary.LittleEndian.PutUint32(sz[:], uint32(wr.dataBytes))
	if _, err := wr.w.Write(sz[:]); err != nil {
		return errkind.Wrapf(errkind.InvalidArgument, "wavfile: patching data size: %v", err)
	}

	if _, err := wr.w.Seek(0, io.SeekEnd); err != nil {
		return errkind.Wrapf(errkind.InvalidArgument, "wavfile: seeking to end: %v", err)
	}
	return nil
}
