package sstable

import (
	"bytes"
	"fmt"
	"os"

	"terrierdb/lsm/cache"
	"terrierdb/lsm/sstable/block"
	"terrierdb/lsm/sstable/filter"
	"terrierdb/utils/fixedint"
)

// filterNumFuncs is the hash function count assumed when rehydrating a
// filter from disk; the raw-bitmap filter block has nowhere to store k.
const filterNumFuncs = 7

// Open reads a table file's footer, meta-index, filter, and index, and
// returns a Table ready to serve reads. blockCache may be nil.
func Open(path string, blockCache *cache.LRU[cache.BlockKey, *block.Reader]) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat table file: %w", err)
	}
	if info.Size() < FooterSize {
		return nil, fmt.Errorf("%w: %d bytes is too short for a footer", ErrCorrupt, info.Size())
	}

	footer := make([]byte, FooterSize)
	if _, err := file.ReadAt(footer, info.Size()-FooterSize); err != nil {
		return nil, fmt.Errorf("failed to read footer: %w", err)
	}

	magic, err := fixedint.ReadUint64(bytes.NewReader(footer[20:]))
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrCorrupt, magic)
	}

	metaHandle, err := block.ReadHandle(bytes.NewReader(footer[:20]))
	if err != nil {
		return nil, fmt.Errorf("%w: meta-index handle: %v", ErrCorrupt, err)
	}

	metaReader, err := readBlock(file, metaHandle)
	if err != nil {
		return nil, err
	}
	meta := make(map[string][]byte)
	it := metaReader.Iter()
	for {
		key, value, ok := it.Next()
		if !ok {
			break
		}
		meta[string(key)] = value
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	// Filter block.
	filterValue, ok := meta["filter"]
	if !ok {
		return nil, fmt.Errorf("%w: meta-index has no filter entry", ErrCorrupt)
	}
	filterHandle, err := block.DecodeHandle(filterValue)
	if err != nil {
		return nil, fmt.Errorf("%w: filter handle: %v", ErrCorrupt, err)
	}
	filterBlock := make([]byte, filterHandle.Size)
	if _, err := file.ReadAt(filterBlock, int64(filterHandle.Offset)); err != nil {
		return nil, fmt.Errorf("failed to read filter block: %w", err)
	}
	tableFilter := filter.FromData(filterBlock, filterNumFuncs)

	// Index block.
	indexValue, ok := meta["index"]
	if !ok {
		return nil, fmt.Errorf("%w: meta-index has no index entry", ErrCorrupt)
	}
	indexHandle, err := block.DecodeHandle(indexValue)
	if err != nil {
		return nil, fmt.Errorf("%w: index handle: %v", ErrCorrupt, err)
	}
	indexReader, err := readBlock(file, indexHandle)
	if err != nil {
		return nil, err
	}

	var index []IndexEntry
	it = indexReader.Iter()
	for {
		key, value, ok := it.Next()
		if !ok {
			break
		}
		handle, err := block.DecodeHandle(value)
		if err != nil {
			return nil, fmt.Errorf("%w: data-block handle for %q: %v", ErrCorrupt, key, err)
		}
		if len(index) > 0 && bytes.Compare(key, index[len(index)-1].FirstKey) <= 0 {
			return nil, fmt.Errorf("%w: index keys out of order at %q", ErrCorrupt, key)
		}
		index = append(index, IndexEntry{FirstKey: key, Handle: handle})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	return NewTable(path, tableFilter, index, blockCache), nil
}
