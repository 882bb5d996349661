package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// CurrentFileName is the pointer file naming the active manifest.
const CurrentFileName = "CURRENT"

// manifestPrefix precedes the sequence number in manifest file names.
const manifestPrefix = "MANIFEST-"

// FileName returns the manifest file name for a sequence, e.g. "MANIFEST-0".
func FileName(seqNum uint64) string {
	return fmt.Sprintf("%s%d", manifestPrefix, seqNum)
}

// ReadCurrent returns the active manifest name and its parsed sequence.
func ReadCurrent(dir string) (string, uint64, error) {
	data, err := os.ReadFile(filepath.Join(dir, CurrentFileName))
	if err != nil {
		return "", 0, fmt.Errorf("failed to read CURRENT: %w", err)
	}
	name := string(data)
	if !strings.HasPrefix(name, manifestPrefix) {
		return "", 0, fmt.Errorf("%w: CURRENT names %q", ErrCorrupt, name)
	}
	seqNum, err := strconv.ParseUint(name[len(manifestPrefix):], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: CURRENT names %q: %v", ErrCorrupt, name, err)
	}
	return name, seqNum, nil
}

// Reader streams the entries of the active manifest. A truncated trailing
// entry ends the stream cleanly; structural corruption surfaces via Err.
type Reader struct {
	file *os.File
	buf  *bufio.Reader
	err  error
	done bool
}

// OpenReader resolves CURRENT inside dir and opens the manifest it names.
func OpenReader(dir string) (*Reader, error) {
	name, _, err := ReadCurrent(dir)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	return &Reader{file: file, buf: bufio.NewReader(file)}, nil
}

// Next returns the next entry, or ok=false at the end of the stream.
func (r *Reader) Next() (Entry, bool) {
	if r.done {
		return nil, false
	}
	entry, err := ReadEntry(r.buf)
	if err != nil {
		r.done = true
		// A tail cut mid-entry is the expected post-crash state; only
		// structural corruption is reported.
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			r.err = err
		}
		return nil, false
	}
	return entry, true
}

// Err returns the corruption error that ended the stream, if any.
func (r *Reader) Err() error {
	return r.err
}

// Close releases the reader's file handle.
func (r *Reader) Close() error {
	return r.file.Close()
}

// FileMeta is the recovered description of one live SSTable.
type FileMeta struct {
	Level         uint32
	FileNumber    uint64
	FileSize      uint64
	Smallest      []byte
	Largest       []byte
	SmallestSeqNo uint64
	LargestSeqNo  uint64
}

// State is the fold of a manifest log: what the catalog says is live.
type State struct {
	DbId            string
	LogNumber       uint64
	NextFileNumber  uint64
	LastSequence    uint64
	HasLastSequence bool
	LiveWals        []uint64
	Files           []FileMeta
}

// LoadState replays the active manifest in dir into a State.
func LoadState(dir string) (*State, error) {
	reader, err := OpenReader(dir)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	state := &State{}
	liveWals := make(map[uint64]bool)
	files := make(map[uint64]FileMeta)
	var fileOrder []uint64

	for {
		entry, ok := reader.Next()
		if !ok {
			break
		}
		switch e := entry.(type) {
		case DbId:
			state.DbId = e.DbId
		case LogNumber:
			state.LogNumber = e.LogNumber
		case NextFileNumber:
			state.NextFileNumber = e.FileNumber
		case LastSequence:
			state.LastSequence = e.Sequence
			state.HasLastSequence = true
		case NewFile:
			if _, seen := files[e.FileNumber]; !seen {
				fileOrder = append(fileOrder, e.FileNumber)
			}
			files[e.FileNumber] = FileMeta{
				Level:         e.Level,
				FileNumber:    e.FileNumber,
				FileSize:      e.FileSize,
				Smallest:      e.Smallest,
				Largest:       e.Largest,
				SmallestSeqNo: e.SmallestSeqNo,
				LargestSeqNo:  e.LargestSeqNo,
			}
		case DeletedFile:
			delete(files, e.FileNumber)
		case WalAddition:
			liveWals[e.LogNumber] = true
		case WalDeletion:
			delete(liveWals, e.LogNumber)
		}
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}

	for _, fileNumber := range fileOrder {
		if meta, live := files[fileNumber]; live {
			state.Files = append(state.Files, meta)
		}
	}
	for logNumber := range liveWals {
		state.LiveWals = append(state.LiveWals, logNumber)
	}
	sort.Slice(state.LiveWals, func(i, j int) bool {
		return state.LiveWals[i] < state.LiveWals[j]
	})
	return state, nil
}
