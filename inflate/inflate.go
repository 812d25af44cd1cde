// Package inflate implements a DEFLATE (RFC 1951) decoder with raw, zlib
// (RFC 1950), gzip (RFC 1952), and "zip" (raw stream, externally supplied
// CRC-32) framings. It is pull-style: Read decodes just enough to satisfy
// the caller, keeping a 32 KiB sliding-dictionary write-ahead so that no
// single back-reference copy can wrap past data the caller hasn't consumed
// yet.
package inflate

import (
	"encoding/binary"
	"hash"
	"hash/adler32"
	"hash/crc32"
	"io"

	"github.com/elliotnunn/kwlkit/bitio"
	"github.com/elliotnunn/kwlkit/huffman"
	"github.com/elliotnunn/kwlkit/internal/errkind"
)

// Format selects the framing wrapped around the raw DEFLATE bitstream.
type Format int

const (
	Raw Format = iota
	Zlib
	Gzip
	Zip // raw stream, caller supplies the CRC-32 via SetZipCRC
)

const (
	windowSize  = 1 << 15 // 32768, sliding dictionary size
	windowMask  = windowSize - 1
	maxMatchLen = 258
	// decodeQuota bounds how far ahead of the flush cursor the decoder may
	// run: windowSize - maxMatchLen - 1 guarantees that after the quota is
	// reached, one more maximal-length copy still can't wrap onto
	// unconsumed data.
	decodeQuota = windowSize - maxMatchLen - 1
)

type state int

const (
	stBegin state = iota
	stZlibHeader
	stGzipHeader
	stBlockHeader
	stCompressed
	stStoredHeader
	stStored
	stFinalize
	stEnd
	stError
)

// Reader decodes a DEFLATE stream pulled from an underlying io.Reader.
type Reader struct {
	format Format
	state  state
	next   state // state to move to at end-of-block

	br *bitio.Reader

	dict       [windowSize]byte
	writeIdx   uint32
	flushIdx   uint32
	bfinalSeen bool

	litTable  *huffman.Table
	distTable *huffman.Table

	storedRemaining int

	checksum   hash.Hash32
	zipCRC     uint32
	haveZipCRC bool
	totalOut   uint64
	outLimit   int64 // -1 = unbounded

	gzipHeaderCRC uint32 // running CRC over gzip header bytes, for FHCRC

	err error
}

// NewReader constructs a Reader over r in the given framing and parses any
// leading header immediately.
func NewReader(r io.Reader, format Format) (*Reader, error) {
	rd := &Reader{
		format:   format,
		br:       bitio.NewReader(r),
		outLimit: -1,
	}
	switch format {
	case Zlib:
		rd.checksum = adler32.New()
		rd.state = stZlibHeader
	case Gzip:
		rd.checksum = crc32.NewIEEE()
		rd.state = stGzipHeader
	case Zip:
		rd.checksum = crc32.NewIEEE()
		rd.state = stBlockHeader
	default:
		rd.state = stBlockHeader
	}
	if err := rd.parseLeadingHeader(); err != nil {
		rd.fail(err)
		return rd, err
	}
	return rd, nil
}

// SetZipCRC supplies the externally-known CRC-32 to verify against, for
// Format Zip (which carries no in-stream trailer).
func (r *Reader) SetZipCRC(crc uint32) {
	r.zipCRC = crc
	r.haveZipCRC = true
}

// SetOutputLimit records a cap of n total output bytes; n < 0 means no cap
// (the default). The value is informational only: Read does not consult
// it, and decoding and delivery continue past n. The KWL decode path never
// sets this.
func (r *Reader) SetOutputLimit(n int64) {
	r.outLimit = n
}

// OutputSize returns the number of bytes decoded and delivered so far.
func (r *Reader) OutputSize() uint64 {
	return r.totalOut
}

func (r *Reader) fail(err error) {
	r.err = err
	r.state = stError
}

func (r *Reader) parseLeadingHeader() error {
	switch r.state {
	case stZlibHeader:
		return r.readZlibHeader()
	case stGzipHeader:
		return r.readGzipHeader()
	default:
		return nil
	}
}

func (r *Reader) readZlibHeader() error {
	cmf, err := r.br.ReadByte()
	if err != nil {
		return errkind.Wrapf(errkind.TruncatedInput, "inflate: zlib header: %v", err)
	}
	flg, err := r.br.ReadByte()
	if err != nil {
		return errkind.Wrapf(errkind.TruncatedInput, "inflate: zlib header: %v", err)
	}
	if cmf&0x0F != 8 {
		return errkind.Wrapf(errkind.MalformedHeader, "inflate: zlib CM=%d, want 8", cmf&0x0F)
	}
	if cmf>>4 > 7 {
		return errkind.Wrapf(errkind.MalformedHeader, "inflate: zlib CINFO=%d > 7", cmf>>4)
	}
	if (uint16(cmf)*256+uint16(flg))%31 != 0 {
		return errkind.Wrap(errkind.MalformedHeader, "inflate: zlib header checksum failed")
	}
	if flg&0x20 != 0 {
		var dictID [4]byte
		if err := r.br.ReadBytes(dictID[:]); err != nil {
			return errkind.Wrapf(errkind.TruncatedInput, "inflate: zlib FDICT: %v", err)
		}
		// Dictionary id is parsed and intentionally not validated.
	}
	r.state = stBlockHeader
	return nil
}

func (r *Reader) readGzipHeaderByte() (byte, error) {
	b, err := r.br.ReadByte()
	if err != nil {
		return 0, err
	}
	r.gzipHeaderCRC = crc32.Update(r.gzipHeaderCRC, crc32.IEEETable, []byte{b})
	return b, nil
}

func (r *Reader) readGzipHeader() error {
	magic0, err := r.readGzipHeaderByte()
	if err != nil {
		return errkind.Wrapf(errkind.TruncatedInput, "inflate: gzip header: %v", err)
	}
	magic1, err := r.readGzipHeaderByte()
	if err != nil {
		return errkind.Wrapf(errkind.TruncatedInput, "inflate: gzip header: %v", err)
	}
	if magic0 != 0x1F || magic1 != 0x8B {
		return errkind.Wrap(errkind.MalformedHeader, "inflate: bad gzip magic")
	}
	cm, err := r.readGzipHeaderByte()
	if err != nil || cm != 8 {
		return errkind.Wrap(errkind.MalformedHeader, "inflate: gzip CM != 8")
	}
	flg, err := r.readGzipHeaderByte()
	if err != nil {
		return errkind.Wrapf(errkind.TruncatedInput, "inflate: gzip header: %v", err)
	}
	if flg&0xE0 != 0 {
		return errkind.Wrap(errkind.MalformedHeader, "inflate: reserved gzip flag bits set")
	}
	for i := 0; i < 6; i++ { // MTIME(4) XFL(1) OS(1)
		if _, err := r.readGzipHeaderByte(); err != nil {
			return errkind.Wrapf(errkind.TruncatedInput, "inflate: gzip header: %v", err)
		}
	}
	if flg&0x04 != 0 { // FEXTRA
		lo, err := r.readGzipHeaderByte()
		if err != nil {
			return errkind.Wrapf(errkind.TruncatedInput, "inflate: gzip FEXTRA: %v", err)
		}
		hi, err := r.readGzipHeaderByte()
		if err != nil {
			return errkind.Wrapf(errkind.TruncatedInput, "inflate: gzip FEXTRA: %v", err)
		}
		n := int(lo) | int(hi)<<8
		for i := 0; i < n; i++ {
			if _, err := r.readGzipHeaderByte(); err != nil {
				return errkind.Wrapf(errkind.TruncatedInput, "inflate: gzip FEXTRA: %v", err)
			}
		}
	}
	if flg&0x08 != 0 { // FNAME
		if err := r.skipGzipCString(); err != nil {
			return err
		}
	}
	if flg&0x10 != 0 { // FCOMMENT
		if err := r.skipGzipCString(); err != nil {
			return err
		}
	}
	if flg&0x02 != 0 { // FHCRC
		want := r.gzipHeaderCRC & 0xFFFF
		lo, err := r.readGzipHeaderByte()
		if err != nil {
			return errkind.Wrapf(errkind.TruncatedInput, "inflate: gzip FHCRC: %v", err)
		}
		hi, err := r.readGzipHeaderByte()
		if err != nil {
			return errkind.Wrapf(errkind.TruncatedInput, "inflate: gzip FHCRC: %v", err)
		}
		got := uint32(lo) | uint32(hi)<<8
		if got != want {
			return errkind.Wrap(errkind.ChecksumMismatch, "inflate: gzip FHCRC mismatch")
		}
	}
	r.state = stBlockHeader
	return nil
}

func (r *Reader) skipGzipCString() error {
	for {
		b, err := r.readGzipHeaderByte()
		if err != nil {
			return errkind.Wrapf(errkind.TruncatedInput, "inflate: gzip header string: %v", err)
		}
		if b == 0 {
			return nil
		}
	}
}

func (r *Reader) buffered() int {
	return int((r.writeIdx - r.flushIdx) & windowMask)
}

// emit writes one byte into the sliding dictionary.
func (r *Reader) emit(b byte) {
	r.dict[r.writeIdx&windowMask] = b
	r.writeIdx++
}

// Read decodes and returns up to len(p) bytes. It returns io.EOF only once
// all output has been delivered and the trailer (if any) has verified.
func (r *Reader) Read(p []byte) (int, error) {
	if r.state == stError {
		return 0, r.err
	}
	total := 0
	for total < len(p) {
		if r.buffered() == 0 {
			if r.state == stEnd {
				break
			}
			if err := r.decodeAhead(); err != nil {
				r.fail(err)
				return total, err
			}
			if r.buffered() == 0 {
				if r.state == stEnd {
					break
				}
				// decodeAhead made no progress and isn't at EOS: treat as
				// truncated input rather than spinning.
				err := errkind.Wrap(errkind.TruncatedInput, "inflate: no progress decoding")
				r.fail(err)
				return total, err
			}
		}
		n := r.drainInto(p[total:])
		total += n
	}
	if total == 0 && r.state == stEnd {
		return 0, io.EOF
	}
	return total, nil
}

// drainInto copies buffered dictionary bytes out to p, updating the
// checksum and flush cursor, wrap-aware.
func (r *Reader) drainInto(p []byte) int {
	avail := r.buffered()
	n := len(p)
	if n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}
	start := r.flushIdx & windowMask
	first := windowSize - int(start)
	if first > n {
		first = n
	}
	copy(p[:first], r.dict[start:start+uint32(first)])
	if first < n {
		copy(p[first:n], r.dict[:n-first])
	}
	r.checksum.Write(p[:n])
	r.flushIdx += uint32(n)
	r.totalOut += uint64(n)
	return n
}

// decodeAhead runs the DEFLATE state machine until either the write-ahead
// quota is reached, the stream ends, or an error occurs. It holds off
// entering stFinalize until the buffer has been fully drained, so the
// trailer checksum is never compared before drainInto has folded in the
// last of the decoded bytes.
func (r *Reader) decodeAhead() error {
	for r.buffered() < decodeQuota && r.state != stEnd && r.state != stError {
		if r.state == stFinalize && r.buffered() > 0 {
			break
		}
		if err := r.step(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) step() error {
	switch r.state {
	case stBlockHeader:
		return r.readBlockHeader()
	case stStoredHeader:
		return r.readStoredHeader()
	case stStored:
		return r.copyStoredChunk()
	case stCompressed:
		return r.decodeSymbol()
	case stFinalize:
		return r.finalize()
	default:
		return errkind.Wrapf(errkind.CorruptBitstream, "inflate: unexpected state %d", r.state)
	}
}

func (r *Reader) readBlockHeader() error {
	hdr, err := r.br.ReadBits(3)
	if err != nil {
		return errkind.Wrapf(errkind.TruncatedInput, "inflate: block header: %v", err)
	}
	bfinal := hdr & 1
	btype := (hdr >> 1) & 3

	if bfinal != 0 {
		r.next = stFinalize
	} else {
		r.next = stBlockHeader
	}

	switch btype {
	case 0:
		r.state = stStoredHeader
	case 1:
		r.litTable = fixedLiteralTable
		r.distTable = fixedDistanceTable
		r.state = stCompressed
	case 2:
		if err := r.readDynamicTables(); err != nil {
			return err
		}
		r.state = stCompressed
	default:
		return errkind.Wrap(errkind.CorruptBitstream, "inflate: reserved block type 3")
	}
	return nil
}

func (r *Reader) readDynamicTables() error {
	hlit, err := r.br.ReadBits(5)
	if err != nil {
		return errkind.Wrapf(errkind.TruncatedInput, "inflate: HLIT: %v", err)
	}
	hdist, err := r.br.ReadBits(5)
	if err != nil {
		return errkind.Wrapf(errkind.TruncatedInput, "inflate: HDIST: %v", err)
	}
	hclen, err := r.br.ReadBits(4)
	if err != nil {
		return errkind.Wrapf(errkind.TruncatedInput, "inflate: HCLEN: %v", err)
	}
	hlit += 257
	hdist += 1
	hclen += 4
	if hclen > 19 {
		return errkind.Wrap(errkind.CorruptBitstream, "inflate: HCLEN > 19")
	}

	var clLengths [19]uint8
	for i := uint32(0); i < hclen; i++ {
		v, err := r.br.ReadBits(3)
		if err != nil {
			return errkind.Wrapf(errkind.TruncatedInput, "inflate: code-length lengths: %v", err)
		}
		clLengths[codeLengthOrder[i]] = uint8(v)
	}
	clTable, err := huffman.Build(clLengths[:])
	if err != nil {
		return err
	}

	total := int(hlit + hdist)
	lengths := make([]uint8, 0, total)
	for len(lengths) < total {
		sym, err := clTable.Decode(r.br)
		if err != nil {
			return err
		}
		switch {
		case sym <= 15:
			lengths = append(lengths, uint8(sym))
		case sym == 16:
			if len(lengths) == 0 {
				return errkind.Wrap(errkind.CorruptBitstream, "inflate: repeat code with no previous length")
			}
			extra, err := r.br.ReadBits(2)
			if err != nil {
				return errkind.Wrapf(errkind.TruncatedInput, "inflate: repeat length: %v", err)
			}
			prev := lengths[len(lengths)-1]
			for i := uint32(0); i < 3+extra; i++ {
				lengths = append(lengths, prev)
			}
		case sym == 17:
			extra, err := r.br.ReadBits(3)
			if err != nil {
				return errkind.Wrapf(errkind.TruncatedInput, "inflate: zero run: %v", err)
			}
			for i := uint32(0); i < 3+extra; i++ {
				lengths = append(lengths, 0)
			}
		case sym == 18:
			extra, err := r.br.ReadBits(7)
			if err != nil {
				return errkind.Wrapf(errkind.TruncatedInput, "inflate: zero run: %v", err)
			}
			for i := uint32(0); i < 11+extra; i++ {
				lengths = append(lengths, 0)
			}
		default:
			return errkind.Wrapf(errkind.CorruptBitstream, "inflate: bad code-length symbol %d", sym)
		}
	}
	if len(lengths) != total {
		return errkind.Wrap(errkind.CorruptBitstream, "inflate: code-length run overshoots table size")
	}

	litTable, err := huffman.Build(lengths[:hlit])
	if err != nil {
		return err
	}
	distTable, err := huffman.Build(lengths[hlit:])
	if err != nil {
		return err
	}
	r.litTable = litTable
	r.distTable = distTable
	return nil
}

func (r *Reader) readStoredHeader() error {
	r.br.FlushByte()
	lenLo, err := r.br.ReadBits(16)
	if err != nil {
		return errkind.Wrapf(errkind.TruncatedInput, "inflate: stored LEN: %v", err)
	}
	nlen, err := r.br.ReadBits(16)
	if err != nil {
		return errkind.Wrapf(errkind.TruncatedInput, "inflate: stored NLEN: %v", err)
	}
	if lenLo != (^nlen)&0xFFFF {
		return errkind.Wrap(errkind.CorruptBitstream, "inflate: stored LEN/NLEN mismatch")
	}
	r.storedRemaining = int(lenLo)
	if r.storedRemaining == 0 {
		r.state = r.next
		return nil
	}
	r.state = stStored
	return nil
}

func (r *Reader) copyStoredChunk() error {
	room := decodeQuota - r.buffered()
	n := r.storedRemaining
	if n > room {
		n = room
	}
	if n <= 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		b, err := r.br.ReadByte()
		if err != nil {
			return errkind.Wrapf(errkind.TruncatedInput, "inflate: stored block: %v", err)
		}
		r.emit(b)
	}
	r.storedRemaining -= n
	if r.storedRemaining == 0 {
		r.state = r.next
	}
	return nil
}

func (r *Reader) decodeSymbol() error {
	sym, err := r.litTable.Decode(r.br)
	if err != nil {
		return err
	}
	switch {
	case sym < 256:
		r.emit(byte(sym))
		return nil
	case sym == 256:
		r.state = r.next
		return nil
	case sym <= 285:
		idx := sym - 257
		length := int(lengthBase[idx])
		if extra := lengthExtraBits[idx]; extra > 0 {
			v, err := r.br.ReadBits(uint(extra))
			if err != nil {
				return errkind.Wrapf(errkind.TruncatedInput, "inflate: length extra bits: %v", err)
			}
			length += int(v)
		}
		dsym, err := r.distTable.Decode(r.br)
		if err != nil {
			return err
		}
		if dsym >= 30 {
			return errkind.Wrapf(errkind.CorruptBitstream, "inflate: distance symbol %d >= 30", dsym)
		}
		distance := int(distBase[dsym])
		if extra := distExtraBits[dsym]; extra > 0 {
			v, err := r.br.ReadBits(uint(extra))
			if err != nil {
				return errkind.Wrapf(errkind.TruncatedInput, "inflate: distance extra bits: %v", err)
			}
			distance += int(v)
		}
		if distance > windowSize || distance < 1 {
			return errkind.Wrapf(errkind.CorruptBitstream, "inflate: distance %d out of range", distance)
		}
		return r.copyBackref(distance, length)
	default:
		return errkind.Wrapf(errkind.CorruptBitstream, "inflate: literal/length symbol %d > 285", sym)
	}
}

// copyBackref copies length bytes from distance bytes behind the write
// cursor. When distance < length the copy is self-overlapping (the
// DEFLATE RLE idiom) and must proceed byte by byte so each emitted byte
// can be re-read by the same copy; otherwise runs of non-overlapping bytes
// are copied in bulk.
func (r *Reader) copyBackref(distance, length int) error {
	if uint32(distance) > r.writeIdx {
		return errkind.Wrapf(errkind.CorruptBitstream, "inflate: distance %d predates stream start", distance)
	}
	src := (r.writeIdx - uint32(distance)) & windowMask
	if distance < length {
		for i := 0; i < length; i++ {
			b := r.dict[src&windowMask]
			r.emit(b)
			src++
		}
		return nil
	}
	remaining := length
	for remaining > 0 {
		srcOff := src & windowMask
		run := windowSize - int(srcOff)
		dstOff := r.writeIdx & windowMask
		run2 := windowSize - int(dstOff)
		if run > run2 {
			run = run2
		}
		if run > remaining {
			run = remaining
		}
		copy(r.dict[dstOff:dstOff+uint32(run)], r.dict[srcOff:srcOff+uint32(run)])
		r.writeIdx += uint32(run)
		src += uint32(run)
		remaining -= run
	}
	return nil
}

func (r *Reader) finalize() error {
	r.br.FlushByte()
	switch r.format {
	case Zlib:
		var want [4]byte
		if err := r.br.ReadBytes(want[:]); err != nil {
			return errkind.Wrapf(errkind.TruncatedInput, "inflate: zlib trailer: %v", err)
		}
		got := r.checksum.Sum32()
		if binary.BigEndian.Uint32(want[:]) != got {
			return errkind.Wrap(errkind.ChecksumMismatch, "inflate: adler32 mismatch")
		}
	case Gzip:
		var trailer [8]byte
		if err := r.br.ReadBytes(trailer[:]); err != nil {
			return errkind.Wrapf(errkind.TruncatedInput, "inflate: gzip trailer: %v", err)
		}
		wantCRC := binary.LittleEndian.Uint32(trailer[0:4])
		wantSize := binary.LittleEndian.Uint32(trailer[4:8])
		if wantCRC != r.checksum.Sum32() {
			return errkind.Wrap(errkind.ChecksumMismatch, "inflate: gzip CRC-32 mismatch")
		}
		if wantSize != uint32(r.totalOut) {
			return errkind.Wrap(errkind.ChecksumMismatch, "inflate: gzip ISIZE mismatch")
		}
	case Zip:
		if r.haveZipCRC && r.zipCRC != r.checksum.Sum32() {
			return errkind.Wrap(errkind.ChecksumMismatch, "inflate: externally supplied CRC-32 mismatch")
		}
	case Raw:
		// no trailer
	}
	r.state = stEnd
	return nil
}
