// Package sstable implements the immutable sorted-table file format:
// prefix-compressed data blocks, a bloom-filter block, a two-level index,
// a meta-index, and a fixed footer ending in the table magic.
package sstable

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"os"

	"terrierdb/lsm/sstable/block"
	"terrierdb/lsm/sstable/filter"
	"terrierdb/utils/config"
	"terrierdb/utils/fixedint"
)

// Magic terminates every table file (stored little-endian).
const Magic uint64 = 0x78e50942a7d0c7be

// FooterSize is the fixed footer length: the zero-padded meta-index handle
// plus the 8-byte magic.
const FooterSize = 20 + 8

// IndexEntry maps a data block's first key to its location in the file.
type IndexEntry struct {
	FirstKey []byte
	Handle   block.Handle
}

// Writer streams strictly ascending entries into a table file.
// Writes are buffered; nothing is durable until Finish returns.
type Writer struct {
	filePath    string
	file        *os.File
	buf         *bufio.Writer
	writtenSize uint64
	opts        *config.Options
	blockWriter *block.Writer
	filter      *filter.Filter
	index       []IndexEntry
	stats       Stats
}

// NewWriter creates a table file and a writer sized for itemCount entries.
func NewWriter(filePath string, itemCount int, opts *config.Options) (*Writer, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create table file: %w", err)
	}
	return &Writer{
		filePath:    filePath,
		file:        file,
		buf:         bufio.NewWriter(file),
		opts:        opts,
		blockWriter: block.NewWriter(opts.SST.BlockRestartInterval),
		filter:      filter.New(itemCount, opts.BloomFilter.FalsePositiveRate),
	}, nil
}

// Add appends an entry. Keys must arrive in strictly ascending order across
// the whole table. The current data block is cut first when this entry
// would push it past the configured block size.
func (w *Writer) Add(key, value []byte) error {
	w.stats.addEntry(key, value)
	if !w.blockWriter.Empty() &&
		w.blockWriter.EstimateAfterAppend(key, value) > w.opts.SST.BlockSize {
		if err := w.processBlock(); err != nil {
			return err
		}
	}
	w.blockWriter.Append(key, value)
	w.filter.Add(key)
	return nil
}

// processBlock finalizes the active data block, records it in the index,
// and writes it out.
func (w *Writer) processBlock() error {
	firstKey, blk := w.blockWriter.Finalize()
	w.blockWriter = block.NewWriter(w.opts.SST.BlockRestartInterval)

	handle := w.addHandle(len(blk))
	w.index = append(w.index, IndexEntry{FirstKey: firstKey, Handle: handle})
	w.stats.addDataBlock(len(blk))

	if _, err := w.buf.Write(blk); err != nil {
		return fmt.Errorf("failed to write data block: %w", err)
	}
	return nil
}

// addHandle allocates the next block's handle and advances the write offset.
func (w *Writer) addHandle(blockSize int) block.Handle {
	handle := block.Handle{Offset: w.writtenSize, Size: uint64(blockSize)}
	w.writtenSize += uint64(blockSize)
	return handle
}

func (w *Writer) indexToBlock() []byte {
	bw := block.NewWriter(w.opts.SST.IndexRestartInterval)
	for _, entry := range w.index {
		bw.Append(entry.FirstKey, entry.Handle.Encode())
	}
	_, blk := bw.Finalize()
	return blk
}

// Finish writes the final data block, the filter, index, and meta-index
// blocks, and the footer, then flushes the file and returns a reader bound
// to the written table. Finishing a table with no entries is a programmer
// error and panics.
func (w *Writer) Finish() (*Table, error) {
	if w.stats.EntryCount == 0 {
		panic("sstable: finish with no entries")
	}
	if err := w.processBlock(); err != nil {
		return nil, err
	}

	// Filter block: the raw bloom bitmap.
	filterBlock := w.filter.Bytes()
	w.stats.FilterSize = len(filterBlock)
	if _, err := w.buf.Write(filterBlock); err != nil {
		return nil, fmt.Errorf("failed to write filter block: %w", err)
	}
	filterHandle := w.addHandle(len(filterBlock))

	// Index block: first keys mapped to data-block handles.
	indexBlock := w.indexToBlock()
	w.stats.IndexSize = len(indexBlock)
	if _, err := w.buf.Write(indexBlock); err != nil {
		return nil, fmt.Errorf("failed to write index block: %w", err)
	}
	indexHandle := w.addHandle(len(indexBlock))

	// Meta-index block: names both auxiliary blocks.
	metaWriter := block.NewWriter(math.MaxInt)
	metaWriter.Append([]byte("filter"), filterHandle.Encode())
	metaWriter.Append([]byte("index"), indexHandle.Encode())
	_, metaBlock := metaWriter.Finalize()
	if _, err := w.buf.Write(metaBlock); err != nil {
		return nil, fmt.Errorf("failed to write meta-index block: %w", err)
	}
	metaHandle := w.addHandle(len(metaBlock))

	// Footer: meta-index handle zero-padded to 20 bytes, then the magic.
	var footer bytes.Buffer
	metaHandle.Write(&footer)
	footer.Write(make([]byte, 20-footer.Len()))
	fixedint.WriteUint64(&footer, Magic)
	if _, err := w.buf.Write(footer.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to write footer: %w", err)
	}

	if err := w.buf.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush table file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close table file: %w", err)
	}

	return NewTable(w.filePath, w.filter, w.index, nil), nil
}

// Stats returns the statistics gathered so far.
func (w *Writer) Stats() Stats {
	return w.stats
}
