package sstable

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"terrierdb/lsm/cache"
	"terrierdb/lsm/sstable/block"
	"terrierdb/lsm/sstable/filter"
)

// ErrCorrupt reports a structurally invalid table file.
var ErrCorrupt = errors.New("sstable: corrupt")

// Table serves reads from an immutable table file. It owns an in-memory
// copy of the filter and index but opens a fresh file handle per scan, so
// concurrent readers never share cursor state.
type Table struct {
	path   string
	filter *filter.Filter
	index  []IndexEntry
	blocks *cache.LRU[cache.BlockKey, *block.Reader]
}

// NewTable binds a table to its path, filter, and index. blockCache may be
// nil to read without caching.
func NewTable(path string, f *filter.Filter, index []IndexEntry, blockCache *cache.LRU[cache.BlockKey, *block.Reader]) *Table {
	return &Table{
		path:   path,
		filter: f,
		index:  index,
		blocks: blockCache,
	}
}

// Path returns the table's file path.
func (t *Table) Path() string {
	return t.path
}

// Get returns the value stored under key, or found=false when the table
// holds no such key. The bloom filter short-circuits most absent lookups
// without touching the file.
func (t *Table) Get(key []byte) (value []byte, found bool, err error) {
	if !t.filter.MayContain(key) {
		return nil, false, nil
	}

	i := t.partitionPoint(key)
	if i == 0 {
		return nil, false, nil
	}
	entry := t.index[i-1]

	reader, err := t.readBlockCached(nil, entry.Handle)
	if err != nil {
		return nil, false, err
	}
	return reader.Get(key)
}

// partitionPoint returns the count of index entries with FirstKey <= key.
func (t *Table) partitionPoint(key []byte) int {
	return sort.Search(len(t.index), func(i int) bool {
		return bytes.Compare(t.index[i].FirstKey, key) > 0
	})
}

// readBlockCached fetches a data block through the cache, reading from file
// on a miss. When file is nil a one-shot handle is opened.
func (t *Table) readBlockCached(file *os.File, handle block.Handle) (*block.Reader, error) {
	key := cache.BlockKey{Path: t.path, Offset: handle.Offset}
	if t.blocks != nil {
		if reader, ok := t.blocks.Get(key); ok {
			return reader, nil
		}
	}

	if file == nil {
		f, err := os.Open(t.path)
		if err != nil {
			return nil, fmt.Errorf("failed to open table file: %w", err)
		}
		defer f.Close()
		file = f
	}

	reader, err := readBlock(file, handle)
	if err != nil {
		return nil, err
	}
	if t.blocks != nil {
		t.blocks.Put(key, reader)
	}
	return reader, nil
}

// readBlock reads and decodes the block a handle points at.
func readBlock(file *os.File, handle block.Handle) (*block.Reader, error) {
	blk := make([]byte, handle.Size)
	if _, err := file.ReadAt(blk, int64(handle.Offset)); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: block at %d truncated", ErrCorrupt, handle.Offset)
		}
		return nil, fmt.Errorf("failed to read block: %w", err)
	}
	return block.NewReader(blk)
}

// Iter returns a single-pass iterator over the whole table in key order.
func (t *Table) Iter() (*Iterator, error) {
	return t.iterStartingAt(0, nil)
}

// IterFrom returns a single-pass iterator over the suffix of the table
// starting at the first key >= from.
func (t *Table) IterFrom(from []byte) (*Iterator, error) {
	start := t.partitionPoint(from)
	if start > 0 {
		start--
	}
	return t.iterStartingAt(start, from)
}

func (t *Table) iterStartingAt(blockIdx int, from []byte) (*Iterator, error) {
	file, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table file: %w", err)
	}
	return &Iterator{
		table:    t,
		file:     file,
		blockIdx: blockIdx,
		from:     from,
	}, nil
}

// Iterator walks a table block by block. It is single-use and forward-only;
// obtain a fresh one per scan. The underlying file handle is released when
// iteration ends or Close is called.
type Iterator struct {
	table     *Table
	file      *os.File
	blockIdx  int
	blockIter *block.Iterator
	from      []byte
	err       error
	done      bool
}

// Next yields the next entry in key order. After it returns false, Err
// distinguishes a clean end from a failure.
func (it *Iterator) Next() (key, value []byte, ok bool) {
	if it.done || it.err != nil {
		return nil, nil, false
	}
	for {
		if it.blockIter == nil {
			if it.blockIdx >= len(it.table.index) {
				it.Close()
				return nil, nil, false
			}
			handle := it.table.index[it.blockIdx].Handle
			reader, err := it.table.readBlockCached(it.file, handle)
			if err != nil {
				it.fail(err)
				return nil, nil, false
			}
			if it.from != nil {
				it.blockIter, err = reader.IterFrom(it.from)
				it.from = nil
				if err != nil {
					it.fail(err)
					return nil, nil, false
				}
			} else {
				it.blockIter = reader.Iter()
			}
			it.blockIdx++
		}

		key, value, ok = it.blockIter.Next()
		if ok {
			return key, value, true
		}
		if err := it.blockIter.Err(); err != nil {
			it.fail(err)
			return nil, nil, false
		}
		it.blockIter = nil
	}
}

// Err returns the error that terminated iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the iterator's file handle. Safe to call more than once.
func (it *Iterator) Close() error {
	if it.done {
		return nil
	}
	it.done = true
	return it.file.Close()
}

func (it *Iterator) fail(err error) {
	it.err = err
	it.Close()
}
