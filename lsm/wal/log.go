// Package wal implements the write-ahead log: a block-framed stream of
// CRC-protected record fragments, the batch entry encoding carried inside
// the records, and the manager actor that owns the current log file.
//
// Each physical block (32 KiB by default) holds fragments of the form
// (u32 crc, u16 length, u8 type, payload). A record is one Full fragment or
// a First..Middle..Last chain; when fewer than HEADER_SIZE bytes remain in
// a block they are zero-padded and writing moves to the next block.
package wal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"terrierdb/utils/crc"
	"terrierdb/utils/fixedint"
)

// Fragment types.
const (
	RECORD_FULL   byte = 1
	RECORD_FIRST  byte = 2
	RECORD_MIDDLE byte = 3
	RECORD_LAST   byte = 4
)

// HEADER_SIZE is the fragment header width: CRC (4) + length (2) + type (1).
const HEADER_SIZE = crc.CRC_SIZE + 2 + 1

// ErrCorrupt reports a structurally invalid WAL payload. Torn tails are not
// corruption; replay recovers the valid prefix silently.
var ErrCorrupt = errors.New("wal: corrupt")

// FileName returns the log file name for an epoch, e.g. "WAL-0".
func FileName(logNumber uint64) string {
	return fmt.Sprintf("WAL-%d", logNumber)
}

// Log appends logical records to a single WAL file.
//
// Appends land in the OS page cache; the log is not fsynced, so durability
// after a crash extends only to what the kernel has written back.
type Log struct {
	logNumber          uint64
	file               *os.File
	blockSize          int
	remainingBlockSize int
}

// CreateLog creates the file for a fresh log epoch inside dir.
func CreateLog(logNumber uint64, dir string, blockSize int) (*Log, error) {
	path := filepath.Join(dir, FileName(logNumber))
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAL file: %w", err)
	}
	return &Log{
		logNumber:          logNumber,
		file:               file,
		blockSize:          blockSize,
		remainingBlockSize: blockSize,
	}, nil
}

// LogNumber returns the epoch this log belongs to.
func (l *Log) LogNumber() uint64 {
	return l.logNumber
}

// recordType classifies a fragment by its position in the record.
func recordType(isFirst, canFinish bool) byte {
	switch {
	case isFirst && canFinish:
		return RECORD_FULL
	case isFirst:
		return RECORD_FIRST
	case canFinish:
		return RECORD_LAST
	default:
		return RECORD_MIDDLE
	}
}

// Append writes one logical record, fragmenting it across blocks as needed.
func (l *Log) Append(data []byte) error {
	written := 0
	for written < len(data) {
		available := l.remainingBlockSize - HEADER_SIZE
		n := min(available, len(data)-written)
		fragment := data[written : written+n]
		typ := recordType(written == 0, written+n == len(data))

		if err := fixedint.WriteUint32(l.file, crc.Checksum(fragment)); err != nil {
			return fmt.Errorf("failed to write fragment header: %w", err)
		}
		if err := fixedint.WriteUint16(l.file, uint16(n)); err != nil {
			return fmt.Errorf("failed to write fragment header: %w", err)
		}
		if err := fixedint.WriteUint8(l.file, typ); err != nil {
			return fmt.Errorf("failed to write fragment header: %w", err)
		}
		if _, err := l.file.Write(fragment); err != nil {
			return fmt.Errorf("failed to write fragment: %w", err)
		}

		written += n
		l.remainingBlockSize -= n + HEADER_SIZE

		if l.remainingBlockSize < HEADER_SIZE {
			if l.remainingBlockSize > 0 {
				if _, err := l.file.Write(make([]byte, l.remainingBlockSize)); err != nil {
					return fmt.Errorf("failed to pad block: %w", err)
				}
			}
			l.remainingBlockSize = l.blockSize
		}
	}
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	return l.file.Close()
}
