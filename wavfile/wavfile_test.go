package wavfile

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/elliotnunn/kwlkit/sampleformat"
)

// seekBuffer is an in-memory io.WriteSeeker over a growable byte slice,
// for testing, since bytes.Buffer cannot seek.
type seekBuffer struct {
	data []byte
	pos  int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.data) {
		s.data = append(s.data, make([]byte, end-len(s.data))...)
	}
	copy(s.data[s.pos:end], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.pos = int(offset)
	case io.SeekCurrent:
		s.pos += int(offset)
	case io.SeekEnd:
		s.pos = len(s.data) + int(offset)
	}
	return int64(s.pos), nil
}

func TestCreateAndCloseProducesValidRiffSizes(t *testing.T) {
	buf := &seekBuffer{}
	w, err := Create(buf, 2, 44100, sampleformat.Signed16)
	if err != nil {
		t.Fatal(err)
	}
	payload := make([]byte, 40) // 10 stereo frames
	if _, err := w.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data := buf.data
	if !bytes.Equal(data[0:4], []byte("RIFF")) {
		t.Fatal("missing RIFF tag")
	}
	riffSize := binary.LittleEndian.Uint32(data[4:8])
	if want := uint32(len(data) - 8); riffSize != want {
		t.Fatalf("riff size %d, want %d", riffSize, want)
	}
	if !bytes.Equal(data[8:12], []byte("WAVE")) {
		t.Fatal("missing WAVE tag")
	}
	if !bytes.Equal(data[12:16], []byte("fmt ")) {
		t.Fatal("missing fmt tag")
	}
	numChannels := binary.LittleEndian.Uint16(data[22:24])
	if numChannels != 2 {
		t.Fatalf("numChannels %d, want 2", numChannels)
	}
	sampleRate := binary.LittleEndian.Uint32(data[24:28])
	if sampleRate != 44100 {
		t.Fatalf("sampleRate %d, want 44100", sampleRate)
	}
	if !bytes.Equal(data[36:40], []byte("data")) {
		t.Fatal("missing data tag")
	}
	dataSize := binary.LittleEndian.Uint32(data[40:44])
	if dataSize != 40 {
		t.Fatalf("data size %d, want 40", dataSize)
	}
	if len(data) != 44+40 {
		t.Fatalf("total file size %d, want %d", len(data), 44+40)
	}
}

func TestCreateRejectsUnsignedFormats(t *testing.T) {
	buf := &seekBuffer{}
	if _, err := Create(buf, 1, 8000, sampleformat.Unsigned16); err == nil {
		t.Fatal("expected error for unsigned16")
	}
}

func TestCreateRejectsBadChannelsOrRate(t *testing.T) {
	buf := &seekBuffer{}
	if _, err := Create(buf, 0, 8000, sampleformat.Signed16); err == nil {
		t.Fatal("expected error for zero channels")
	}
	if _, err := Create(buf, 1, 0, sampleformat.Signed16); err == nil {
		t.Fatal("expected error for zero rate")
	}
}
