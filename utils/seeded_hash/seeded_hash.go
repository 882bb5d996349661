// Package seeded_hash provides the seeded 32-bit hash family used by the
// bloom filter. The hash is standard MurmurHash3 x86_32 with the seed as the
// initial state, so the same (seed, key) pair always maps to the same index.
package seeded_hash

import (
	"github.com/spaolacci/murmur3"
)

// HashWithSeed is a single member of the hash family.
type HashWithSeed struct {
	Seed uint32
}

// Hash returns Murmur3(seed, data).
func (h HashWithSeed) Hash(data []byte) uint32 {
	return murmur3.Sum32WithSeed(data, h.Seed)
}

// CreateHashFunctions returns the family members with seeds 0..k-1.
// Seeds are deterministic so filters rebuilt from their on-disk bitmap hash
// identically.
func CreateHashFunctions(k uint32) []HashWithSeed {
	h := make([]HashWithSeed, k)
	for i := uint32(0); i < k; i++ {
		h[i] = HashWithSeed{Seed: i}
	}
	return h
}
