// Package lsm ties the storage engine together: the database handle, the
// identity and catalog bootstrap, and the commit pipeline that sequences
// client batches into the write-ahead log and the memtable.
//
// One database is driven by three actors over bounded channels: the commit
// actor (Run) owns the sequence counter and the memtable, the WAL actor
// owns the current log file, and the manifest actor owns the catalog
// writer. Each channel has a single consumer, so every ordering guarantee
// reduces to FIFO delivery.
package lsm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"terrierdb/lsm/cache"
	"terrierdb/lsm/manifest"
	"terrierdb/lsm/memtable"
	"terrierdb/lsm/sstable"
	"terrierdb/lsm/sstable/block"
	"terrierdb/lsm/wal"
	"terrierdb/utils/config"
	"terrierdb/utils/crc"
	"terrierdb/utils/logger"
)

// channelCapacity bounds every actor queue.
const channelCapacity = 1024

// IdentityFileName holds the database UUID, written once on first open.
const IdentityFileName = "IDENTITY"

var (
	// ErrClosed reports an operation on a database whose commit actor has
	// been torn down.
	ErrClosed = errors.New("lsm: database closed")

	// ErrCorrupt reports a database directory whose files contradict each
	// other, e.g. a manifest DbId that does not match IDENTITY.
	ErrCorrupt = errors.New("lsm: corrupt")
)

// Command types.
const (
	CMD_SET    byte = 1
	CMD_DELETE byte = 2
)

// Cmd is a single client mutation.
type Cmd struct {
	Type  byte
	Key   []byte
	Value []byte
}

// SetCmd builds a set command.
func SetCmd(key, value []byte) Cmd {
	return Cmd{Type: CMD_SET, Key: key, Value: value}
}

// DeleteCmd builds a delete command.
func DeleteCmd(key []byte) Cmd {
	return Cmd{Type: CMD_DELETE, Key: key}
}

// Batch is an ordered group of commands committed atomically under one
// sequence number.
type Batch []Cmd

// Db is a single-writer embedded key-value database handle.
type Db struct {
	id   uuid.UUID
	path string
	opts *config.Options
	log  *zap.Logger

	manifestCh chan manifest.Request
	walCh      chan wal.Command
	walManager *wal.Manager

	cmdCh   chan Batch
	flushCh chan chan error

	mu         sync.RWMutex
	mem        *memtable.MemTable
	tables     []*sstable.Table // newest first
	blockCache *cache.LRU[cache.BlockKey, *block.Reader]

	seqNum         uint64 // next sequence to assign; owned by Run
	flushedSeq     uint64 // first sequence of the current memtable epoch
	nextFileNumber uint64

	actors  *errgroup.Group
	runDone chan struct{}
	closed  atomic.Bool
}

// Open creates or loads the database under path and starts the WAL and
// manifest actors. The returned channel feeds the commit actor; callers
// must drive it with Run. Closing the channel (or calling Close) shuts the
// database down.
func Open(path string, opts *config.Options) (*Db, chan<- Batch, error) {
	if opts == nil {
		opts = config.Default()
	}
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	log := logger.Get()
	log.Info("opening database", zap.String("path", path))

	id, created, err := openIdentity(path)
	if err != nil {
		return nil, nil, err
	}

	d := &Db{
		id:         id,
		path:       path,
		opts:       opts,
		log:        log,
		manifestCh: make(chan manifest.Request, channelCapacity),
		walCh:      make(chan wal.Command, channelCapacity),
		cmdCh:      make(chan Batch, channelCapacity),
		flushCh:    make(chan chan error),
		mem:        memtable.New(),
		blockCache: cache.New[cache.BlockKey, *block.Reader](opts.Cache.BlockCapacity),
		runDone:    make(chan struct{}),
	}

	var replayed []uint64
	walLogNumber := uint64(0)
	if !created {
		state, err := manifest.LoadState(path)
		if err != nil {
			return nil, nil, err
		}
		if state.DbId != id.String() {
			return nil, nil, fmt.Errorf("%w: manifest DbId %q does not match IDENTITY %q",
				ErrCorrupt, state.DbId, id)
		}
		if err := d.openTables(state); err != nil {
			return nil, nil, err
		}
		if err := d.replayWals(state.LiveWals); err != nil {
			return nil, nil, err
		}
		if state.HasLastSequence && state.LastSequence+1 > d.seqNum {
			d.seqNum = state.LastSequence + 1
		}
		// The replayed batches are the ones after the last flush.
		d.flushedSeq = 0
		if state.HasLastSequence {
			d.flushedSeq = state.LastSequence + 1
		}
		replayed = state.LiveWals
		if len(replayed) > 0 {
			walLogNumber = replayed[len(replayed)-1] + 1
		}
	}

	m, err := d.openManifest(created)
	if err != nil {
		return nil, nil, err
	}

	wm, err := wal.NewManager(path, walLogNumber, replayed, d.manifestCh, d.walCh, opts.WAL.BlockSize)
	if err != nil {
		return nil, nil, err
	}
	d.walManager = wm

	d.actors = &errgroup.Group{}
	d.actors.Go(m.Run)
	d.actors.Go(wm.Run)

	return d, d.cmdCh, nil
}

// openIdentity loads the database UUID, generating and persisting a fresh
// one on first open.
func openIdentity(path string) (uuid.UUID, bool, error) {
	identityPath := filepath.Join(path, IdentityFileName)
	data, err := os.ReadFile(identityPath)
	if os.IsNotExist(err) {
		id := uuid.New()
		if err := os.WriteFile(identityPath, []byte(id.String()), 0644); err != nil {
			return uuid.Nil, false, fmt.Errorf("failed to write IDENTITY: %w", err)
		}
		return id, true, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to read IDENTITY: %w", err)
	}
	id, err := uuid.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("%w: IDENTITY is not a UUID: %v", ErrCorrupt, err)
	}
	return id, false, nil
}

// openManifest creates or loads the catalog. On create the database id is
// its first entry.
func (d *Db) openManifest(created bool) (*manifest.Manifest, error) {
	if created {
		m, err := manifest.Create(d.path, d.manifestCh)
		if err != nil {
			return nil, err
		}
		if err := m.Append([]manifest.Entry{manifest.DbId{DbId: d.id.String()}}); err != nil {
			return nil, err
		}
		return m, nil
	}
	return manifest.Load(d.path, d.manifestCh)
}

// openTables opens every live table the manifest lists, newest first.
func (d *Db) openTables(state *manifest.State) error {
	for i := len(state.Files) - 1; i >= 0; i-- {
		meta := state.Files[i]
		table, err := sstable.Open(d.tablePath(meta.FileNumber), d.blockCache)
		if err != nil {
			return err
		}
		d.tables = append(d.tables, table)
		if meta.FileNumber+1 > d.nextFileNumber {
			d.nextFileNumber = meta.FileNumber + 1
		}
	}
	if state.NextFileNumber > d.nextFileNumber {
		d.nextFileNumber = state.NextFileNumber
	}
	return nil
}

// replayWals rebuilds the memtable from the live WAL epochs and resumes the
// sequence counter past the highest committed batch.
func (d *Db) replayWals(liveWals []uint64) error {
	for _, logNumber := range liveWals {
		path := filepath.Join(d.path, wal.FileName(logNumber))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		reader, err := wal.OpenLogReader(path, d.opts.WAL.BlockSize)
		if err != nil {
			return err
		}
		for {
			record, ok := reader.Next()
			if !ok {
				break
			}
			req, err := wal.DecodeRequest(record)
			if err != nil {
				reader.Close()
				return err
			}
			for _, entry := range req.Entries {
				if entry.Type == wal.ENTRY_SET {
					d.mem.Set(entry.Key, entry.Value)
				} else {
					d.mem.Delete(entry.Key)
				}
			}
			if req.SeqNum+1 > d.seqNum {
				d.seqNum = req.SeqNum + 1
			}
		}
		if err := reader.Close(); err != nil {
			return err
		}
		d.log.Info("replayed WAL", zap.Uint64("log_number", logNumber))
	}
	return nil
}

func (d *Db) tablePath(fileNumber uint64) string {
	return filepath.Join(d.path, fmt.Sprintf("%06d.sst", fileNumber))
}

// Id returns the database UUID.
func (d *Db) Id() uuid.UUID {
	return d.id
}

// Run drives the commit actor until the command channel closes, then shuts
// the WAL and manifest actors down and waits for them.
func (d *Db) Run() error {
	defer close(d.runDone)
	for {
		select {
		case batch, ok := <-d.cmdCh:
			if !ok {
				close(d.walCh)
				d.manifestCh <- manifest.Request{Close: true}
				return d.actors.Wait()
			}
			d.commit(batch)
		case done := <-d.flushCh:
			d.drainPending()
			done <- d.flush()
		}
	}
}

// drainPending commits every batch already queued, so a flush covers all
// mutations enqueued before it was requested.
func (d *Db) drainPending() {
	for {
		select {
		case batch, ok := <-d.cmdCh:
			if !ok {
				return
			}
			d.commit(batch)
		default:
			return
		}
	}
}

// commit assigns the next sequence number, hands the batch to the WAL
// actor, and applies it to the memtable. Enqueueing does not imply
// durability; the record is durable once the WAL actor's write reaches
// disk.
func (d *Db) commit(batch Batch) {
	seqNum := d.seqNum
	d.seqNum++

	entries := make([]wal.Entry, 0, len(batch))
	for _, cmd := range batch {
		if cmd.Type == CMD_DELETE {
			entries = append(entries, wal.Delete(cmd.Key))
		} else {
			entries = append(entries, wal.Set(cmd.Key, cmd.Value))
		}
	}
	d.walCh <- wal.Command{Req: wal.NewRequest(seqNum, entries)}

	for _, cmd := range batch {
		if cmd.Type == CMD_DELETE {
			d.mem.Delete(cmd.Key)
		} else {
			d.mem.Set(cmd.Key, cmd.Value)
		}
	}
}

// Set commits a single-command batch storing value under key.
func (d *Db) Set(key, value []byte) error {
	return d.Batch(Batch{SetCmd(key, value)})
}

// Delete commits a single-command batch removing key.
func (d *Db) Delete(key []byte) error {
	return d.Batch(Batch{DeleteCmd(key)})
}

// Batch enqueues a batch for commit, blocking while the pipeline is full.
func (d *Db) Batch(batch Batch) error {
	if d.closed.Load() {
		return ErrClosed
	}
	select {
	case d.cmdCh <- batch:
		return nil
	case <-d.runDone:
		return ErrClosed
	}
}

// Get returns the value stored under key. The memtable is consulted first,
// then the tables newest to oldest; a tombstone anywhere along the way
// means the key is absent.
func (d *Db) Get(key []byte) ([]byte, bool, error) {
	d.mu.RLock()
	mem := d.mem
	tables := make([]*sstable.Table, len(d.tables))
	copy(tables, d.tables)
	d.mu.RUnlock()

	if value, tombstone, found := mem.Get(key); found {
		if tombstone {
			return nil, false, nil
		}
		return append([]byte(nil), value...), true, nil
	}

	for _, table := range tables {
		raw, found, err := table.Get(key)
		if err != nil {
			return nil, false, err
		}
		if !found {
			continue
		}
		value, tombstone, err := decodeTableValue(raw)
		if err != nil {
			return nil, false, err
		}
		if tombstone {
			return nil, false, nil
		}
		return value, true, nil
	}
	return nil, false, nil
}

// Flush asks the commit actor to write the memtable out as a table file and
// rotate the WAL, and waits for the result.
func (d *Db) Flush() error {
	if d.closed.Load() {
		return ErrClosed
	}
	done := make(chan error, 1)
	select {
	case d.flushCh <- done:
	case <-d.runDone:
		return ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-d.runDone:
		return ErrClosed
	}
}

// flush runs inside the commit actor. It writes the memtable to the
// next numbered table file, records the file and the WAL turnover in the
// manifest, rotates the WAL, and swaps in a fresh memtable.
func (d *Db) flush() error {
	records := d.mem.Records()
	if len(records) == 0 {
		return nil
	}

	fileNumber := d.nextFileNumber
	d.nextFileNumber++
	path := d.tablePath(fileNumber)

	writer, err := sstable.NewWriter(path, len(records), d.opts)
	if err != nil {
		return err
	}
	for _, record := range records {
		if err := writer.Add(record.Key, encodeTableValue(record.Tombstone, record.Value)); err != nil {
			return err
		}
	}
	if _, err := writer.Finish(); err != nil {
		return err
	}

	table, err := sstable.Open(path, d.blockCache)
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat table file: %w", err)
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open table file: %w", err)
	}
	checksum, err := crc.ChecksumReader(file)
	file.Close()
	if err != nil {
		return err
	}

	lastSeq := d.seqNum - 1
	entries := []manifest.Entry{
		manifest.NewFile{
			Level:         0,
			FileNumber:    fileNumber,
			FileSize:      uint64(info.Size()),
			Smallest:      records[0].Key,
			Largest:       records[len(records)-1].Key,
			SmallestSeqNo: d.flushedSeq,
			LargestSeqNo:  lastSeq,
			Tags: []manifest.NewFileTag{
				manifest.FileChecksum{Checksum: checksum},
				manifest.FileChecksumFuncName{FuncName: crc.FUNC_NAME},
			},
		},
		manifest.NextFileNumber{FileNumber: d.nextFileNumber},
		manifest.LastSequence{Sequence: lastSeq},
	}
	d.manifestCh <- manifest.Request{Entries: entries}

	rotateDone := make(chan error, 1)
	d.walCh <- wal.Command{Rotate: &wal.RotateRequest{Done: rotateDone}}
	if err := <-rotateDone; err != nil {
		return err
	}

	d.mu.Lock()
	d.mem = memtable.New()
	d.tables = append([]*sstable.Table{table}, d.tables...)
	d.mu.Unlock()
	d.flushedSeq = d.seqNum

	d.log.Info("flushed memtable",
		zap.Uint64("file_number", fileNumber),
		zap.Int("entries", len(records)),
		zap.Int64("file_size", info.Size()))
	return nil
}

// Close stops accepting commands, drains the pipeline, and waits for every
// actor to finish. It must only be called while Run is executing.
func (d *Db) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	close(d.cmdCh)
	<-d.runDone
	return nil
}

// Table values carry the mutation type so a flushed delete still shadows
// older versions of its key.

func encodeTableValue(tombstone bool, value []byte) []byte {
	if tombstone {
		return []byte{CMD_DELETE}
	}
	return append([]byte{CMD_SET}, value...)
}

func decodeTableValue(raw []byte) (value []byte, tombstone bool, err error) {
	if len(raw) == 0 {
		return nil, false, fmt.Errorf("%w: empty table value", ErrCorrupt)
	}
	switch raw[0] {
	case CMD_SET:
		return append([]byte(nil), raw[1:]...), false, nil
	case CMD_DELETE:
		return nil, true, nil
	default:
		return nil, false, fmt.Errorf("%w: unknown table value type %d", ErrCorrupt, raw[0])
	}
}
