package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"terrierdb/utils/crc"
)

// LogReader replays the records of one WAL file in write order.
//
// The reader delivers the longest valid prefix of the stream: a torn final
// write (bad CRC, impossible length, or a fragment chain broken mid-record)
// ends replay silently, which is the expected state after a crash.
type LogReader struct {
	file      *os.File
	blockSize int
	block     []byte
	blockLen  int
	pos       int
	frag      []byte
	inRecord  bool
	done      bool
}

// OpenLogReader opens a WAL file for replay.
func OpenLogReader(path string, blockSize int) (*LogReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}
	return &LogReader{
		file:      file,
		blockSize: blockSize,
		block:     make([]byte, blockSize),
	}, nil
}

// Next returns the next complete record payload, or ok=false at the end of
// the valid prefix.
func (r *LogReader) Next() (record []byte, ok bool) {
	if r.done {
		return nil, false
	}
	for {
		if r.pos+HEADER_SIZE > r.blockLen {
			if !r.loadBlock() {
				return r.stop()
			}
		}

		header := r.block[r.pos : r.pos+HEADER_SIZE]
		checksum := binary.LittleEndian.Uint32(header)
		length := int(binary.LittleEndian.Uint16(header[4:]))
		typ := header[6]

		if typ == 0 {
			// Zero padding fills the block tail; resume at the next block.
			r.pos = r.blockLen
			continue
		}
		if typ > RECORD_LAST || r.pos+HEADER_SIZE+length > r.blockLen {
			return r.stop()
		}

		payload := r.block[r.pos+HEADER_SIZE : r.pos+HEADER_SIZE+length]
		if crc.Checksum(payload) != checksum {
			return r.stop()
		}
		r.pos += HEADER_SIZE + length

		switch typ {
		case RECORD_FULL:
			if r.inRecord {
				return r.stop()
			}
			return append([]byte(nil), payload...), true
		case RECORD_FIRST:
			if r.inRecord {
				return r.stop()
			}
			r.inRecord = true
			r.frag = append(r.frag[:0], payload...)
		case RECORD_MIDDLE:
			if !r.inRecord {
				return r.stop()
			}
			r.frag = append(r.frag, payload...)
		case RECORD_LAST:
			if !r.inRecord {
				return r.stop()
			}
			r.inRecord = false
			record = append(append([]byte(nil), r.frag...), payload...)
			r.frag = r.frag[:0]
			return record, true
		}
	}
}

// loadBlock reads the next physical block; the final block may be short.
func (r *LogReader) loadBlock() bool {
	n, err := io.ReadFull(r.file, r.block)
	if err != nil && err != io.ErrUnexpectedEOF {
		return false
	}
	if n < HEADER_SIZE {
		return false
	}
	r.blockLen = n
	r.pos = 0
	return true
}

func (r *LogReader) stop() ([]byte, bool) {
	r.done = true
	return nil, false
}

// Close releases the reader's file handle.
func (r *LogReader) Close() error {
	return r.file.Close()
}
