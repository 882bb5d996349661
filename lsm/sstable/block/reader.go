package block

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"terrierdb/utils/varint"
)

// ErrCorrupt reports a structurally invalid block: truncated trailer,
// restart offsets out of range, or entry varints overrunning the payload.
var ErrCorrupt = errors.New("block: corrupt")

// Reader decodes a finalized block.
type Reader struct {
	block    []byte
	restarts []uint32
	dataLen  int
}

// NewReader parses the restart array of a finalized block.
func NewReader(blk []byte) (*Reader, error) {
	if len(blk) < 8 {
		return nil, fmt.Errorf("%w: %d bytes is too short for a trailer", ErrCorrupt, len(blk))
	}
	trailer := binary.LittleEndian.Uint32(blk[len(blk)-4:])
	restartCount := int(trailer) + 1

	arrayStart := len(blk) - 4 - 4*restartCount
	if arrayStart < 0 {
		return nil, fmt.Errorf("%w: restart array overruns the block", ErrCorrupt)
	}

	restarts := make([]uint32, restartCount)
	for i := range restarts {
		restarts[i] = binary.LittleEndian.Uint32(blk[arrayStart+4*i:])
	}
	if restarts[0] != 0 {
		return nil, fmt.Errorf("%w: first restart offset is %d, want 0", ErrCorrupt, restarts[0])
	}
	for i, restart := range restarts {
		if int(restart) >= arrayStart {
			return nil, fmt.Errorf("%w: restart %d offset %d out of range", ErrCorrupt, i, restart)
		}
	}

	return &Reader{
		block:    blk,
		restarts: restarts,
		dataLen:  arrayStart,
	}, nil
}

// Iter returns a fresh iterator over all entries in order.
func (r *Reader) Iter() *Iterator {
	return &Iterator{reader: r}
}

// IterFrom returns an iterator positioned at the first entry with
// key >= target. It binary-searches the restart array for the rightmost
// restart whose key is <= target, then scans forward.
func (r *Reader) IterFrom(target []byte) (*Iterator, error) {
	// sort.Search finds the first restart with key > target; the scan
	// starts one restart earlier.
	var searchErr error
	n := sort.Search(len(r.restarts), func(i int) bool {
		key, err := r.keyAtRestart(i)
		if err != nil {
			searchErr = err
			return true
		}
		return bytes.Compare(key, target) > 0
	})
	if searchErr != nil {
		return nil, searchErr
	}

	it := &Iterator{reader: r}
	if n > 0 {
		it.pos = int(r.restarts[n-1])
	}
	for {
		key, value, ok := it.Next()
		if !ok {
			return it, it.Err()
		}
		if bytes.Compare(key, target) >= 0 {
			it.pending = &entry{key: key, value: value}
			return it, nil
		}
	}
}

// Get returns the value stored under key, or found=false if the block holds
// no such key.
func (r *Reader) Get(key []byte) (value []byte, found bool, err error) {
	it, err := r.IterFrom(key)
	if err != nil {
		return nil, false, err
	}
	k, v, ok := it.Next()
	if !ok {
		return nil, false, it.Err()
	}
	if !bytes.Equal(k, key) {
		return nil, false, nil
	}
	return v, true, nil
}

// keyAtRestart decodes the full key stored at restart index i.
func (r *Reader) keyAtRestart(i int) ([]byte, error) {
	pos := int(r.restarts[i])
	shared, nonShared, _, n, err := r.decodeEntryHeader(pos)
	if err != nil {
		return nil, err
	}
	if shared != 0 {
		return nil, fmt.Errorf("%w: restart %d has shared prefix %d", ErrCorrupt, i, shared)
	}
	start := pos + n
	if start+nonShared > r.dataLen {
		return nil, fmt.Errorf("%w: restart %d key overruns the block", ErrCorrupt, i)
	}
	return r.block[start : start+nonShared], nil
}

func (r *Reader) decodeEntryHeader(pos int) (shared, nonShared, valueLen, n int, err error) {
	buf := r.block[pos:r.dataLen]
	s, n1, err := varint.Decode(buf)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("%w: entry header at %d: %v", ErrCorrupt, pos, err)
	}
	ns, n2, err := varint.Decode(buf[n1:])
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("%w: entry header at %d: %v", ErrCorrupt, pos, err)
	}
	vl, n3, err := varint.Decode(buf[n1+n2:])
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("%w: entry header at %d: %v", ErrCorrupt, pos, err)
	}
	return int(s), int(ns), int(vl), n1 + n2 + n3, nil
}

type entry struct {
	key   []byte
	value []byte
}

// Iterator walks a block's entries in order, reconstructing each key from
// the shared prefix of its predecessor. Iterators are single-use; obtain a
// fresh one per scan.
type Iterator struct {
	reader  *Reader
	pos     int
	key     []byte
	pending *entry
	err     error
}

// Next yields the next entry. After it returns false, Err distinguishes a
// clean end from corruption.
func (it *Iterator) Next() (key, value []byte, ok bool) {
	if it.pending != nil {
		e := it.pending
		it.pending = nil
		return e.key, e.value, true
	}
	if it.err != nil || it.pos >= it.reader.dataLen {
		return nil, nil, false
	}

	shared, nonShared, valueLen, n, err := it.reader.decodeEntryHeader(it.pos)
	if err != nil {
		it.err = err
		return nil, nil, false
	}
	it.pos += n

	if shared > len(it.key) {
		it.err = fmt.Errorf("%w: shared prefix %d exceeds previous key length %d", ErrCorrupt, shared, len(it.key))
		return nil, nil, false
	}
	if it.pos+nonShared+valueLen > it.reader.dataLen {
		it.err = fmt.Errorf("%w: entry at %d overruns the block", ErrCorrupt, it.pos)
		return nil, nil, false
	}

	it.key = append(it.key[:shared], it.reader.block[it.pos:it.pos+nonShared]...)
	it.pos += nonShared
	value = it.reader.block[it.pos : it.pos+valueLen]
	it.pos += valueLen

	key = append([]byte(nil), it.key...)
	return key, value, true
}

// Err returns the corruption error that terminated iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}
