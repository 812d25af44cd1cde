// Package errkind defines the sentinel error kinds shared by bitio,
// huffman, inflate, and kwl. Every error the decode chain returns can be
// tested with errors.Is against one of these, no matter which layer raised
// it.
package errkind

import "github.com/cockroachdb/errors"

var (
	// MalformedHeader covers KWL magic/version/field and zlib/gzip header
	// validation failures.
	MalformedHeader = errors.New("malformed header")

	// CorruptBitstream covers invalid DEFLATE block types, unassigned
	// Huffman codes, over-long code lengths, stored-block length
	// mismatches, and out-of-range distance/length symbols.
	CorruptBitstream = errors.New("corrupt bitstream")

	// TruncatedInput covers an underlying stream returning fewer bytes
	// than the decoder required.
	TruncatedInput = errors.New("truncated input")

	// ChecksumMismatch covers Adler-32/CRC-32/ISIZE trailer mismatches.
	ChecksumMismatch = errors.New("checksum mismatch")

	// InvalidArgument covers caller-supplied buffers or arguments that
	// violate a function's contract.
	InvalidArgument = errors.New("invalid argument")
)

// Wrap returns a new error with message msg, marked as belonging to kind so
// that errors.Is(result, kind) succeeds. The new error carries a stack
// trace taken where Wrap was called; it has no cause chain of its own.
func Wrap(kind error, msg string) error {
	return errors.Mark(errors.New(msg), kind)
}

// Wrapf is Wrap with formatting.
func Wrapf(kind error, format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), kind)
}
