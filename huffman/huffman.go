// Package huffman builds canonical Huffman decode tables from per-symbol
// code lengths — the table format DEFLATE (RFC 1951) uses for both its
// literal/length and distance alphabets — and decodes symbols from a
// bitio.Reader through either a direct lookup table (short codes) or a
// binary-tree walk (long codes).
package huffman

import (
	"math/bits"

	"github.com/elliotnunn/kwlkit/bitio"
	"github.com/elliotnunn/kwlkit/internal/errkind"
)

// MaxCodeLen is the longest code length this package (and DEFLATE) allows.
const MaxCodeLen = 15

// DirectLUTBits bounds the size of the direct lookup table to 1<<11
// entries; codes longer than this fall back to the tree walk.
const DirectLUTBits = 11

const noSymbol = -1

type node struct {
	// zero/one hold child node indices, or -1 if absent. When both are -1
	// and symbol >= 0, the node is a leaf.
	zero, one int32
	symbol    int32
}

// Table is a decode-ready canonical Huffman code.
type Table struct {
	lengths []uint8
	codes   []uint16 // canonical, LSB-first (bit-reversed), indexed by symbol
	nodes   []node
	root    int32

	lutBits int
	lut     []int32 // symbol index, or noSymbol meaning "descend the tree"
	maxLen  int
}

// reverseBits reverses the low n bits of v.
func reverseBits(v uint16, n int) uint16 {
	return uint16(bits.Reverse16(v) >> (16 - n))
}

// Build constructs the canonical Huffman decoder for the given per-symbol
// code lengths (each in [0, MaxCodeLen]). An all-zero length vector, or one
// that over-subscribes the Kraft inequality, is an error. An
// under-subscribed (incomplete) vector is accepted: some encoders emit
// those, and any in-tree symbol must still decode correctly.
func Build(lengths []uint8) (*Table, error) {
	var count [MaxCodeLen + 1]int
	maxLen := 0
	anyNonZero := false
	for _, l := range lengths {
		if l > MaxCodeLen {
			return nil, errkind.Wrapf(errkind.CorruptBitstream, "huffman: code length %d exceeds %d", l, MaxCodeLen)
		}
		if l > 0 {
			count[l]++
			anyNonZero = true
			if int(l) > maxLen {
				maxLen = int(l)
			}
		}
	}
	if !anyNonZero {
		return nil, errkind.Wrap(errkind.CorruptBitstream, "huffman: no non-zero code lengths")
	}

	var nextCode [MaxCodeLen + 2]uint16
	code := 0
	for l := 1; l <= MaxCodeLen; l++ {
		code = (code + count[l-1]) << 1
		nextCode[l] = uint16(code)
	}

	t := &Table{
		lengths: append([]uint8(nil), lengths...),
		codes:   make([]uint16, len(lengths)),
		maxLen:  maxLen,
	}

	// root node
	t.nodes = append(t.nodes, node{zero: -1, one: -1, symbol: noSymbol})
	t.root = 0

	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		raw := nextCode[l]
		if int(raw) >= (1 << l) {
			return nil, errkind.Wrapf(errkind.CorruptBitstream, "huffman: code for symbol %d overflows %d bits", sym, l)
		}
		nextCode[l]++
		rev := reverseBits(raw, int(l))
		t.codes[sym] = rev

		cur := t.root
		for b := 0; b < int(l); b++ {
			bit := (rev >> uint(b)) & 1
			n := &t.nodes[cur]
			var next int32
			if bit == 0 {
				next = n.zero
			} else {
				next = n.one
			}
			if next < 0 {
				t.nodes = append(t.nodes, node{zero: -1, one: -1, symbol: noSymbol})
				next = int32(len(t.nodes) - 1)
				if bit == 0 {
					t.nodes[cur].zero = next
				} else {
					t.nodes[cur].one = next
				}
			}
			cur = next
		}
		t.nodes[cur].symbol = int32(sym)
	}

	t.lutBits = maxLen
	if t.lutBits > DirectLUTBits {
		t.lutBits = DirectLUTBits
	}
	t.lut = make([]int32, 1<<uint(t.lutBits))
	for i := range t.lut {
		t.lut[i] = noSymbol
	}
	for sym, l := range lengths {
		if l == 0 || int(l) > t.lutBits {
			continue
		}
		rev := t.codes[sym]
		step := uint16(1) << l
		for entry := rev; int(entry) < len(t.lut); entry += step {
			t.lut[entry] = int32(sym)
		}
	}

	return t, nil
}

// Len returns the code length in bits for the given symbol index (0 if the
// symbol is unused).
func (t *Table) Len(sym int) int {
	return int(t.lengths[sym])
}

// Decode reads one symbol from br. It first checks the direct LUT
// (PeekBitsFast/PopBitsFast); on a sentinel it pops the LUT width and walks
// the tree bit by bit. Returns a CorruptBitstream error on an
// out-of-tree prefix and a TruncatedInput error when the stream ends
// inside a code.
func (t *Table) Decode(br *bitio.Reader) (int, error) {
	cur := t.root
	consumed := 0

	if t.lutBits > 0 {
		peek := br.PeekBitsFast(uint(t.lutBits))
		if sym := t.lut[peek]; sym != noSymbol {
			if br.Buffered() < uint(t.lengths[sym]) {
				return 0, errkind.Wrap(errkind.TruncatedInput, "huffman: stream ends inside a code")
			}
			br.PopBitsFast(uint(t.lengths[sym]))
			return int(sym), nil
		}
		if br.Buffered() < uint(t.lutBits) {
			return 0, errkind.Wrap(errkind.TruncatedInput, "huffman: stream ends inside a code")
		}
		br.PopBitsFast(uint(t.lutBits))

		// The sentinel only means "no code of length <= lutBits matches";
		// the lutBits bits already popped are still part of a longer
		// code's prefix, so walk the tree through them before reading
		// any further bits.
		for b := 0; b < t.lutBits; b++ {
			bit := (peek >> uint(b)) & 1
			n := &t.nodes[cur]
			if bit == 0 {
				cur = n.zero
			} else {
				cur = n.one
			}
			consumed++
			if cur < 0 {
				return 0, errkind.Wrap(errkind.CorruptBitstream, "huffman: out-of-tree prefix")
			}
		}
	}

	for {
		n := &t.nodes[cur]
		if n.symbol != noSymbol && n.zero < 0 && n.one < 0 {
			return int(n.symbol), nil
		}
		bit, err := br.ReadBit()
		if err != nil {
			return 0, err
		}
		consumed++
		if bit == 0 {
			cur = n.zero
		} else {
			cur = n.one
		}
		if cur < 0 {
			return 0, errkind.Wrap(errkind.CorruptBitstream, "huffman: out-of-tree prefix")
		}
		if consumed > MaxCodeLen {
			return 0, errkind.Wrap(errkind.CorruptBitstream, "huffman: code exceeds max length")
		}
	}
}
