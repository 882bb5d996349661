package bitvec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferSize(t *testing.T) {
	assert.Equal(t, 2, len(New(10).Bytes()))
	assert.Equal(t, 1, len(New(8).Bytes()))
	assert.Equal(t, 4, len(New(31).Bytes()))
	assert.Equal(t, 4, len(New(32).Bytes()))
}

func TestSetAndGet(t *testing.T) {
	bv := New(12)
	bv.Set(10)
	assert.True(t, bv.Get(10))
	assert.False(t, bv.Get(11))
}

func TestRawBitmapLayout(t *testing.T) {
	// Bit i must land in byte i/8 at position i%8.
	bv := New(16)
	bv.Set(0)
	bv.Set(3)
	bv.Set(9)
	assert.Equal(t, []byte{0b0000_1001, 0b0000_0010}, bv.Bytes())
}

func TestFromDataRoundTrip(t *testing.T) {
	bv := New(77)
	for _, i := range []int{0, 7, 8, 63, 64, 76} {
		bv.Set(i)
	}

	got := FromData(bv.Bytes())
	assert.Equal(t, 80, got.Len()) // rounded up to the stored byte width
	for _, i := range []int{0, 7, 8, 63, 64, 76} {
		assert.True(t, got.Get(i), "bit %d", i)
	}
	assert.False(t, got.Get(1))
	assert.False(t, got.Get(75))
}
