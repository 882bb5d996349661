// Package block implements the prefix-compressed, restart-indexed key/value
// block shared by SSTable data, index, and meta-index sections.
//
// A block is a run of entries followed by the restart array and a trailing
// u32. Each entry is three varints (shared, non_shared, value_len), then the
// unshared key suffix, then the value. Every restart_interval-th entry is a
// restart point storing its key in full; the restart array lists the byte
// offset of each restart point (the first is always 0) and the trailer holds
// the restart count minus one.
package block

import (
	"bytes"
	"fmt"

	"terrierdb/utils/fixedint"
	"terrierdb/utils/varint"
)

// Writer accumulates strictly ascending key/value pairs into a block.
type Writer struct {
	restartEvery int
	buffer       bytes.Buffer
	restarts     []uint32
	counter      int
	firstKey     []byte
	lastKey      []byte
}

// NewWriter creates a block writer placing a restart point every
// restartEvery entries.
func NewWriter(restartEvery int) *Writer {
	return &Writer{
		restartEvery: restartEvery,
		restarts:     []uint32{0},
	}
}

// Empty reports whether no entry has been appended yet.
func (w *Writer) Empty() bool {
	return w.buffer.Len() == 0
}

// EstimateAfterAppend returns an upper bound on the finalized block size if
// (key, value) were appended next. It never under-reports: the key is
// counted uncompressed and a worst-case extra restart slot is included.
func (w *Writer) EstimateAfterAppend(key, value []byte) int {
	estimate := w.buffer.Len()
	estimate += varint.Len(uint64(len(key))) // shared <= len(key)
	estimate += varint.Len(uint64(len(key))) // non_shared <= len(key)
	estimate += varint.Len(uint64(len(value)))
	estimate += len(key) + len(value)
	estimate += 4 * (len(w.restarts) + 1) // restart array, worst-case one more
	estimate += 4                         // trailer
	return estimate
}

// Append adds an entry. Keys must arrive in strictly ascending order; a key
// not greater than the previous one is a programmer error and panics.
func (w *Writer) Append(key, value []byte) {
	if !w.Empty() && bytes.Compare(key, w.lastKey) <= 0 {
		panic(fmt.Sprintf("block: append out of order: %q after %q", key, w.lastKey))
	}

	if w.firstKey == nil {
		w.firstKey = append([]byte(nil), key...)
	}

	var shared int
	if w.counter >= w.restartEvery {
		w.restarts = append(w.restarts, uint32(w.buffer.Len()))
		w.counter = 0
	} else {
		shared = sharedPrefixLen(w.lastKey, key)
	}

	nonShared := len(key) - shared
	varint.Write(&w.buffer, uint64(shared))
	varint.Write(&w.buffer, uint64(nonShared))
	varint.Write(&w.buffer, uint64(len(value)))
	w.buffer.Write(key[shared:])
	w.buffer.Write(value)

	w.counter++
	w.lastKey = append(w.lastKey[:0], key...)
}

// Finalize appends the restart array and trailer and returns the block's
// first key along with the finished block bytes. Finalizing an empty block
// is a programmer error and panics.
func (w *Writer) Finalize() ([]byte, []byte) {
	if w.Empty() {
		panic("block: finalize of empty block")
	}
	for _, restart := range w.restarts {
		fixedint.WriteUint32(&w.buffer, restart)
	}
	fixedint.WriteUint32(&w.buffer, uint32(len(w.restarts)-1))
	return w.firstKey, w.buffer.Bytes()
}

func sharedPrefixLen(left, right []byte) int {
	n := min(len(left), len(right))
	offset := 0
	for offset < n && left[offset] == right[offset] {
		offset++
	}
	return offset
}
