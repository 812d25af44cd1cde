// Package bytestream defines the minimal sequential-read contract the KWL
// decoder needs from its backing storage: read, skip-forward, and rewind
// to the start. No seek-to-offset is required since the decoder never
// needs random access.
package bytestream

import (
	"io"

	"github.com/elliotnunn/kwlkit/internal/errkind"
)

// Stream is a sequential byte source that can be rewound to its start and
// skipped forward, but never seeked to an arbitrary offset.
type Stream interface {
	io.Reader
	// Rewind repositions the stream at byte 0.
	Rewind() error
	// SkipRead advances n bytes forward, reading and discarding them.
	SkipRead(n int64) error
}

// fileStream adapts an io.ReadSeeker (typically an *os.File) to Stream.
type fileStream struct {
	rs io.ReadSeeker
}

// FromReadSeeker wraps any io.ReadSeeker (an open file, for instance) as a
// Stream.
func FromReadSeeker(rs io.ReadSeeker) Stream {
	return &fileStream{rs: rs}
}

func (f *fileStream) Read(p []byte) (int, error) {
	return f.rs.Read(p)
}

func (f *fileStream) Rewind() error {
	_, err := f.rs.Seek(0, io.SeekStart)
	if err != nil {
		return errkind.Wrapf(errkind.TruncatedInput, "bytestream: rewind: %v", err)
	}
	return nil
}

func (f *fileStream) SkipRead(n int64) error {
	_, err := f.rs.Seek(n, io.SeekCurrent)
	if err != nil {
		return errkind.Wrapf(errkind.TruncatedInput, "bytestream: skip: %v", err)
	}
	return nil
}

// bytesStream adapts an in-memory byte slice to Stream, for callers that
// have already buffered the whole compressed file (tests, embedded
// assets).
type bytesStream struct {
	data []byte
	pos  int
}

// FromBytes wraps an in-memory byte slice as a Stream.
func FromBytes(data []byte) Stream {
	return &bytesStream{data: data}
}

func (b *bytesStream) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}

func (b *bytesStream) Rewind() error {
	b.pos = 0
	return nil
}

func (b *bytesStream) SkipRead(n int64) error {
	b.pos += int(n)
	if b.pos > len(b.data) {
		b.pos = len(b.data)
		return errkind.Wrap(errkind.TruncatedInput, "bytestream: skip past end of buffer")
	}
	return nil
}
