// Package filter implements the SSTable bloom filter.
//
// The on-disk form is the raw bitmap alone; the number of hash functions is
// not stored and must be supplied again when rehydrating (the table reader
// always passes k = 7).
package filter

import (
	"math"

	"terrierdb/utils/bitvec"
	"terrierdb/utils/seeded_hash"
)

// DefaultMissRate is the target false-positive probability when the caller
// does not choose one.
const DefaultMissRate = 0.01

// Filter is a bloom filter over keys.
type Filter struct {
	bits  *bitvec.BitVec
	funcs []seeded_hash.HashWithSeed
}

// BitsFor returns the filter size in bits for an expected item count and
// target miss rate, rounded up to a whole byte so a filter rehydrated from
// its stored bitmap indexes identically.
func BitsFor(itemCount int, missRate float64) int {
	m := int(math.Ceil(float64(itemCount) * math.Log(missRate) /
		math.Log(1.0/math.Pow(2.0, math.Ln2))))
	if rem := m % 8; rem != 0 {
		m += 8 - rem
	}
	return m
}

// FuncsFor returns the hash function count for a filter of m bits over
// itemCount items.
func FuncsFor(m, itemCount int) uint32 {
	return uint32(math.Round(float64(m) / float64(itemCount) * math.Ln2))
}

// New sizes a filter for itemCount expected keys at the target miss rate.
func New(itemCount int, missRate float64) *Filter {
	m := BitsFor(itemCount, missRate)
	k := FuncsFor(m, itemCount)
	return &Filter{
		bits:  bitvec.New(m),
		funcs: seeded_hash.CreateHashFunctions(k),
	}
}

// FromData rehydrates a filter from its raw bitmap with an externally
// supplied hash function count.
func FromData(data []byte, numFuncs uint32) *Filter {
	return &Filter{
		bits:  bitvec.FromData(data),
		funcs: seeded_hash.CreateHashFunctions(numFuncs),
	}
}

// Add marks key as present.
func (f *Filter) Add(key []byte) {
	for _, fn := range f.funcs {
		f.bits.Set(int(fn.Hash(key) % uint32(f.bits.Len())))
	}
}

// MayContain reports whether key might be present. False means definitely
// absent; true may be a false positive at roughly the configured rate.
func (f *Filter) MayContain(key []byte) bool {
	for _, fn := range f.funcs {
		if !f.bits.Get(int(fn.Hash(key) % uint32(f.bits.Len()))) {
			return false
		}
	}
	return true
}

// Bits returns the filter size in bits.
func (f *Filter) Bits() int {
	return f.bits.Len()
}

// NumFuncs returns the hash function count.
func (f *Filter) NumFuncs() uint32 {
	return uint32(len(f.funcs))
}

// Bytes returns the raw bitmap for storage.
func (f *Filter) Bytes() []byte {
	return f.bits.Bytes()
}
