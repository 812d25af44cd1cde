package inflate

import "github.com/elliotnunn/kwlkit/huffman"

// RFC 1951 §3.2.5 length/distance tables.

var lengthBase = [29]uint16{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31,
	35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258,
}

var lengthExtraBits = [29]uint8{
	0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2,
	3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0,
}

var distBase = [30]uint16{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193,
	257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145,
	8193, 12289, 16385, 24577,
}

var distExtraBits = [30]uint8{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
	7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}

// codeLengthOrder is the fixed permutation RFC 1951 uses to store the
// code-length alphabet's own code lengths.
var codeLengthOrder = [19]int{
	16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15,
}

var fixedLiteralTable *huffman.Table
var fixedDistanceTable *huffman.Table

func init() {
	litLengths := make([]uint8, 288)
	for i := 0; i < 144; i++ {
		litLengths[i] = 8
	}
	for i := 144; i < 256; i++ {
		litLengths[i] = 9
	}
	for i := 256; i < 280; i++ {
		litLengths[i] = 7
	}
	for i := 280; i < 288; i++ {
		litLengths[i] = 8
	}
	t, err := huffman.Build(litLengths)
	if err != nil {
		panic("inflate: fixed literal table: " + err.Error())
	}
	fixedLiteralTable = t

	distLengths := make([]uint8, 30)
	for i := range distLengths {
		distLengths[i] = 5
	}
	t, err = huffman.Build(distLengths)
	if err != nil {
		panic("inflate: fixed distance table: " + err.Error())
	}
	fixedDistanceTable = t
}
