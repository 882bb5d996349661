// Package bitvec provides the bit-array substrate of the bloom filter.
//
// The in-memory representation is a bits-and-blooms bitset; the serialized
// form is the raw bitmap used on disk, where bit i lives in byte i/8 at
// position i%8. Little-endian serialization of the bitset's 64-bit words
// produces exactly that layout.
package bitvec

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bitset"
)

// BitVec is a fixed-length vector of bits.
type BitVec struct {
	bits   *bitset.BitSet
	length int
}

// New creates a zeroed bit vector of the given length.
func New(length int) *BitVec {
	return &BitVec{
		bits:   bitset.New(uint(length)),
		length: length,
	}
}

// FromData rehydrates a bit vector from its raw on-disk bitmap. The vector
// length is the full bit width of the data, len(data)*8.
func FromData(data []byte) *BitVec {
	words := make([]uint64, (len(data)+7)/8)
	for i, b := range data {
		words[i/8] |= uint64(b) << (8 * uint(i%8))
	}
	return &BitVec{
		bits:   bitset.From(words),
		length: len(data) * 8,
	}
}

// Set sets bit index to 1.
func (bv *BitVec) Set(index int) {
	bv.bits.Set(uint(index))
}

// Get reports whether bit index is set.
func (bv *BitVec) Get(index int) bool {
	return bv.bits.Test(uint(index))
}

// Len returns the number of bits in the vector.
func (bv *BitVec) Len() int {
	return bv.length
}

// Bytes serializes the vector to its raw bitmap, ceil(len/8) bytes.
func (bv *BitVec) Bytes() []byte {
	words := bv.bits.Bytes()
	buf := make([]byte, 8*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[8*i:], w)
	}
	return buf[:(bv.length+7)/8]
}
