package manifest

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"terrierdb/utils/logger"
)

// Request is one message for the manifest actor: entries to append, or a
// shutdown sentinel.
type Request struct {
	Entries []Entry
	Close   bool
}

// Manifest is the actor owning the active manifest writer. A single
// consumer drains the request channel, so catalog updates are serialized
// and appear in the file in send order.
type Manifest struct {
	seqNum   uint64
	dir      string
	current  *Writer
	requests <-chan Request
	log      *zap.Logger
}

// Create bootstraps a fresh catalog in dir: CURRENT is written atomically
// (write-temp-then-rename) naming MANIFEST-0, and the empty manifest is
// opened for append.
func Create(dir string, requests <-chan Request) (*Manifest, error) {
	const seqNum = 0
	currentName := FileName(seqNum)

	currentPath := filepath.Join(dir, CurrentFileName)
	if err := atomic.WriteFile(currentPath, strings.NewReader(currentName)); err != nil {
		return nil, fmt.Errorf("failed to write CURRENT: %w", err)
	}

	current, err := NewWriter(seqNum, filepath.Join(dir, currentName))
	if err != nil {
		return nil, err
	}

	log := logger.Get()
	log.Info("created manifest", zap.Uint64("seq_num", seqNum))

	return &Manifest{
		seqNum:   seqNum,
		dir:      dir,
		current:  current,
		requests: requests,
		log:      log,
	}, nil
}

// Load opens the catalog CURRENT points at, positioned for append.
func Load(dir string, requests <-chan Request) (*Manifest, error) {
	currentName, seqNum, err := ReadCurrent(dir)
	if err != nil {
		return nil, err
	}

	current, err := NewWriter(seqNum, filepath.Join(dir, currentName))
	if err != nil {
		return nil, err
	}

	log := logger.Get()
	log.Info("loaded manifest", zap.Uint64("seq_num", seqNum))

	return &Manifest{
		seqNum:   seqNum,
		dir:      dir,
		current:  current,
		requests: requests,
		log:      log,
	}, nil
}

// SeqNum returns the active manifest's sequence.
func (m *Manifest) SeqNum() uint64 {
	return m.seqNum
}

// Append writes entries to the active manifest.
func (m *Manifest) Append(entries []Entry) error {
	return m.current.Append(entries)
}

// Run consumes requests until a Close sentinel arrives or the channel
// closes, then closes the writer. After a write failure the actor keeps
// draining so producers never block on a dead channel; the first error is
// returned at exit.
func (m *Manifest) Run() error {
	var firstErr error
	for req := range m.requests {
		if req.Close {
			break
		}
		if firstErr != nil {
			continue
		}
		if err := m.Append(req.Entries); err != nil {
			firstErr = err
			m.log.Error("manifest append failed", zap.Error(err))
		}
	}
	if err := m.current.Close(); firstErr == nil {
		firstErr = err
	}
	return firstErr
}
