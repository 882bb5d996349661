package wal

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"terrierdb/lsm/manifest"
	"terrierdb/utils/logger"
)

// Command is one message for the WAL actor: either a batch to append or a
// rotation request. Exactly one field is set.
type Command struct {
	Req    *Request
	Rotate *RotateRequest
}

// RotateRequest asks the actor to seal the current epoch, start the next
// one, and retire every sealed log. Done receives the outcome.
type RotateRequest struct {
	Done chan error
}

// Manager is the actor owning the current WAL file. It consumes commands in
// FIFO order, so fragments land in the file in the order requests were
// received.
type Manager struct {
	dir        string
	blockSize  int
	manifestCh chan<- manifest.Request
	commands   <-chan Command
	current    *Log
	liveLogs   []uint64
	log        *zap.Logger
}

// NewManager starts WAL epoch logNumber inside dir, advertising it to the
// manifest. replayed lists older epochs still covering unflushed data; they
// are retired on the next rotation.
func NewManager(dir string, logNumber uint64, replayed []uint64, manifestCh chan<- manifest.Request, commands <-chan Command, blockSize int) (*Manager, error) {
	manifestCh <- manifest.Request{Entries: []manifest.Entry{
		manifest.WalAddition{LogNumber: logNumber},
	}}

	current, err := CreateLog(logNumber, dir, blockSize)
	if err != nil {
		return nil, err
	}

	return &Manager{
		dir:        dir,
		blockSize:  blockSize,
		manifestCh: manifestCh,
		commands:   commands,
		current:    current,
		liveLogs:   append(append([]uint64(nil), replayed...), logNumber),
		log:        logger.Get(),
	}, nil
}

// LogNumber returns the current epoch.
func (m *Manager) LogNumber() uint64 {
	return m.current.LogNumber()
}

// Run consumes commands until the channel closes, then closes the current
// log file. After a write failure the actor keeps draining so producers
// never block on a dead channel; the first error is returned at exit.
func (m *Manager) Run() error {
	var firstErr error
	for cmd := range m.commands {
		switch {
		case cmd.Req != nil:
			if firstErr != nil {
				continue
			}
			if err := m.current.Append(cmd.Req.Encode()); err != nil {
				firstErr = fmt.Errorf("failed to append WAL record: %w", err)
				m.log.Error("WAL append failed", zap.Error(firstErr))
			}
		case cmd.Rotate != nil:
			cmd.Rotate.Done <- m.rotate()
		}
	}
	if err := m.current.Close(); firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// rotate seals the current epoch and begins the next. Sealed epochs are
// recorded as deleted in the manifest before their files are unlinked.
func (m *Manager) rotate() error {
	sealed := m.liveLogs
	next := m.current.LogNumber() + 1

	if err := m.current.Close(); err != nil {
		return fmt.Errorf("failed to close WAL file: %w", err)
	}
	current, err := CreateLog(next, m.dir, m.blockSize)
	if err != nil {
		return err
	}
	m.current = current
	m.liveLogs = []uint64{next}

	entries := []manifest.Entry{manifest.WalAddition{LogNumber: next}}
	for _, logNumber := range sealed {
		entries = append(entries, manifest.WalDeletion{LogNumber: logNumber})
	}
	m.manifestCh <- manifest.Request{Entries: entries}

	for _, logNumber := range sealed {
		path := filepath.Join(m.dir, FileName(logNumber))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete WAL file %s: %w", path, err)
		}
	}

	m.log.Info("rotated WAL", zap.Uint64("log_number", next))
	return nil
}
