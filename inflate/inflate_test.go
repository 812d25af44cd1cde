package inflate

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"io"
	"math/bits"
	"testing"
)

// bitWriter mirrors the one in package huffman's tests: it accumulates
// bits LSB-first into bytes, matching the bit order bitio.Reader consumes.
type bitWriter struct {
	buf  []byte
	cur  uint32
	nbit uint
}

func (w *bitWriter) writeBits(v uint32, n uint) {
	w.cur |= v << w.nbit
	w.nbit += n
	for w.nbit >= 8 {
		w.buf = append(w.buf, byte(w.cur))
		w.cur >>= 8
		w.nbit -= 8
	}
}

func (w *bitWriter) flush() []byte {
	if w.nbit > 0 {
		w.buf = append(w.buf, byte(w.cur))
		w.cur, w.nbit = 0, 0
	}
	return w.buf
}

func reverseBits(v uint16, n int) uint16 {
	return uint16(bits.Reverse16(v) >> (16 - n))
}

// canonicalCodes reproduces the canonical Huffman code assignment that
// huffman.Build performs internally, so tests can encode symbols against
// the exact same fixed tables tables.go builds, without reaching into
// package huffman's unexported fields.
func canonicalCodes(lengths []uint8) []uint16 {
	const maxLen = 15
	var count [maxLen + 1]int
	for _, l := range lengths {
		if l > 0 {
			count[l]++
		}
	}
	var nextCode [maxLen + 2]uint16
	code := 0
	for l := 1; l <= maxLen; l++ {
		code = (code + count[l-1]) << 1
		nextCode[l] = uint16(code)
	}
	codes := make([]uint16, len(lengths))
	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		raw := nextCode[l]
		nextCode[l]++
		codes[sym] = reverseBits(raw, int(l))
	}
	return codes
}

func fixedLitLengthsForTest() []uint8 {
	lengths := make([]uint8, 288)
	for i := 0; i < 144; i++ {
		lengths[i] = 8
	}
	for i := 144; i < 256; i++ {
		lengths[i] = 9
	}
	for i := 256; i < 280; i++ {
		lengths[i] = 7
	}
	for i := 280; i < 288; i++ {
		lengths[i] = 8
	}
	return lengths
}

func fixedDistLengthsForTest() []uint8 {
	lengths := make([]uint8, 30)
	for i := range lengths {
		lengths[i] = 5
	}
	return lengths
}

func writeFixedLiteral(w *bitWriter, litCodes []uint16, litLengths []uint8, sym int) {
	w.writeBits(uint32(litCodes[sym]), uint(litLengths[sym]))
}

func decodeAll(t *testing.T, r *Reader) []byte {
	t.Helper()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return out
}

func TestEmptyZlibStream(t *testing.T) {
	// zlib header 78 9C, followed by a final fixed-Huffman block holding
	// only the end-of-block symbol (03 00), followed by the Adler-32
	// checksum of zero bytes (1, big-endian).
	data := []byte{0x78, 0x9C, 0x03, 0x00, 0x00, 0x00, 0x00, 0x01}
	r, err := NewReader(bytes.NewReader(data), Zlib)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeAll(t, r)
	if len(got) != 0 {
		t.Fatalf("got %d bytes, want 0", len(got))
	}
}

func TestNonEmptyZlibStreamRoundTrips(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 200)

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(bytes.NewReader(buf.Bytes()), Zlib)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeAll(t, r)
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %d bytes, want %d bytes, equal=%v", len(got), len(payload), bytes.Equal(got, payload))
	}
}

func TestGzipStreamRoundTrips(t *testing.T) {
	payload := []byte("A")

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(bytes.NewReader(buf.Bytes()), Gzip)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeAll(t, r)
	if string(got) != "A" {
		t.Fatalf("got %q want %q", got, "A")
	}
}

func TestRawFixedHuffmanLiteral(t *testing.T) {
	litLengths := fixedLitLengthsForTest()
	litCodes := canonicalCodes(litLengths)

	var w bitWriter
	w.writeBits(3, 3) // BFINAL=1, BTYPE=01 (fixed Huffman)
	writeFixedLiteral(&w, litCodes, litLengths, 'A')
	writeFixedLiteral(&w, litCodes, litLengths, 256) // end of block
	data := w.flush()

	r, err := NewReader(bytes.NewReader(data), Raw)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeAll(t, r)
	if string(got) != "A" {
		t.Fatalf("got %q want %q", got, "A")
	}
}

func TestRawStoredBlockZeroLength(t *testing.T) {
	var w bitWriter
	w.writeBits(1, 3) // BFINAL=1, BTYPE=00 (stored)
	w.flush()
	// Stored headers are byte-aligned; rebuild with the LEN/NLEN fields
	// appended directly after the flushed partial byte.
	data := w.buf
	data = append(data, 0x00, 0x00, 0xFF, 0xFF) // LEN=0, NLEN=0xFFFF

	r, err := NewReader(bytes.NewReader(data), Raw)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeAll(t, r)
	if len(got) != 0 {
		t.Fatalf("got %d bytes, want 0", len(got))
	}
}

func TestRawStoredBlockWithData(t *testing.T) {
	payload := []byte("Hello")
	var w bitWriter
	w.writeBits(1, 3) // BFINAL=1, BTYPE=00
	w.flush()
	data := w.buf
	n := len(payload)
	data = append(data, byte(n), byte(n>>8), byte(^n)&0xFF, byte(^n>>8)&0xFF)
	data = append(data, payload...)

	r, err := NewReader(bytes.NewReader(data), Raw)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeAll(t, r)
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestSelfOverlappingBackref(t *testing.T) {
	litLengths := fixedLitLengthsForTest()
	litCodes := canonicalCodes(litLengths)
	distLengths := fixedDistLengthsForTest()
	distCodes := canonicalCodes(distLengths)

	var w bitWriter
	w.writeBits(3, 3) // BFINAL=1, BTYPE=01
	writeFixedLiteral(&w, litCodes, litLengths, 'a')
	// length 258 -> symbol 285 (lengthBase[28]==258, 0 extra bits)
	writeFixedLiteral(&w, litCodes, litLengths, 285)
	// distance 1 -> symbol 0 (distBase[0]==1, 0 extra bits)
	w.writeBits(uint32(distCodes[0]), uint(distLengths[0]))
	writeFixedLiteral(&w, litCodes, litLengths, 256)
	data := w.flush()

	r, err := NewReader(bytes.NewReader(data), Raw)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeAll(t, r)
	want := bytes.Repeat([]byte("a"), 259)
	if !bytes.Equal(got, want) {
		t.Fatalf("got %d bytes want %d bytes, equal=%v", len(got), len(want), bytes.Equal(got, want))
	}
}

func TestStoredLenNlenMismatchIsCorrupt(t *testing.T) {
	var w bitWriter
	w.writeBits(1, 3)
	w.flush()
	data := w.buf
	data = append(data, 0x05, 0x00, 0x00, 0x00) // NLEN should be ~LEN, isn't

	r, err := NewReader(bytes.NewReader(data), Raw)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadAll(r); err == nil {
		t.Fatal("expected corrupt bitstream error")
	}
}

func TestTruncatedRawStreamIsError(t *testing.T) {
	var w bitWriter
	w.writeBits(3, 3)
	litLengths := fixedLitLengthsForTest()
	litCodes := canonicalCodes(litLengths)
	writeFixedLiteral(&w, litCodes, litLengths, 'A')
	// Deliberately omit the end-of-block symbol and truncate.
	data := w.flush()

	r, err := NewReader(bytes.NewReader(data), Raw)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadAll(r); err == nil {
		t.Fatal("expected truncated input error")
	}
}
