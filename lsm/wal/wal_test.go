package wal

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terrierdb/lsm/manifest"
)

const testBlockSize = 32768

// appendAll writes each payload as one logical record to a fresh log.
func appendAll(t *testing.T, dir string, blockSize int, payloads [][]byte) string {
	t.Helper()
	log, err := CreateLog(0, dir, blockSize)
	require.NoError(t, err)
	for _, payload := range payloads {
		require.NoError(t, log.Append(payload))
	}
	require.NoError(t, log.Close())
	return filepath.Join(dir, FileName(0))
}

// replayAll reads every record of the valid prefix.
func replayAll(t *testing.T, path string, blockSize int) [][]byte {
	t.Helper()
	reader, err := OpenLogReader(path, blockSize)
	require.NoError(t, err)
	defer reader.Close()

	var records [][]byte
	for {
		record, ok := reader.Next()
		if !ok {
			break
		}
		records = append(records, record)
	}
	return records
}

func payload(fill byte, size int) []byte {
	return bytes.Repeat([]byte{fill}, size)
}

func TestSingleRecord(t *testing.T) {
	dir := t.TempDir()
	path := appendAll(t, dir, testBlockSize, [][]byte{[]byte("Hello world")})

	records := replayAll(t, path, testBlockSize)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("Hello world"), records[0])
}

func TestLongRecords(t *testing.T) {
	// 97270 bytes spans three 32 KiB blocks as First/Middle/Last.
	payloads := [][]byte{
		payload('a', 1000),
		payload('b', 97270),
		payload('c', 8000),
	}
	dir := t.TempDir()
	path := appendAll(t, dir, testBlockSize, payloads)

	records := replayAll(t, path, testBlockSize)
	require.Len(t, records, 3)
	for i, want := range payloads {
		assert.True(t, bytes.Equal(want, records[i]), "record %d differs", i)
	}
}

func TestManySmallRecords(t *testing.T) {
	var payloads [][]byte
	for i := 0; i < 2000; i++ {
		payloads = append(payloads, []byte(fmt.Sprintf("record-%04d", i)))
	}
	dir := t.TempDir()
	path := appendAll(t, dir, 256, payloads)

	records := replayAll(t, path, 256)
	require.Len(t, records, len(payloads))
	for i := range payloads {
		assert.Equal(t, payloads[i], records[i])
	}
}

func TestRecordLandingOnBlockBoundary(t *testing.T) {
	// Sizes chosen so appends leave exactly 0..HEADER_SIZE-1 bytes of slack
	// in the block, forcing the padding path.
	for slack := 0; slack < HEADER_SIZE; slack++ {
		payloads := [][]byte{
			payload('x', testBlockSize-HEADER_SIZE-slack),
			payload('y', 100),
		}
		dir := t.TempDir()
		path := appendAll(t, dir, testBlockSize, payloads)

		records := replayAll(t, path, testBlockSize)
		require.Len(t, records, 2, "slack %d", slack)
		assert.True(t, bytes.Equal(payloads[0], records[0]), "slack %d", slack)
		assert.True(t, bytes.Equal(payloads[1], records[1]), "slack %d", slack)
	}
}

func TestTruncationYieldsValidPrefix(t *testing.T) {
	payloads := [][]byte{
		payload('a', 1000),
		payload('b', 50000),
		payload('c', 200),
		payload('d', 40000),
	}
	dir := t.TempDir()
	path := appendAll(t, dir, testBlockSize, payloads)

	full, err := os.ReadFile(path)
	require.NoError(t, err)

	// Cut the file at a spread of offsets; replay must always deliver a
	// prefix of the original records, never garbage.
	for cut := 0; cut <= len(full); cut += 997 {
		truncated := filepath.Join(dir, fmt.Sprintf("cut-%d", cut))
		require.NoError(t, os.WriteFile(truncated, full[:cut], 0644))

		records := replayAll(t, truncated, testBlockSize)
		require.LessOrEqual(t, len(records), len(payloads))
		for i, record := range records {
			assert.True(t, bytes.Equal(payloads[i], record),
				"cut %d: record %d differs", cut, i)
		}
	}
}

func TestCorruptFragmentEndsReplay(t *testing.T) {
	payloads := [][]byte{payload('a', 100), payload('b', 100), payload('c', 100)}
	dir := t.TempDir()
	path := appendAll(t, dir, testBlockSize, payloads)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a payload byte of the second record; its CRC no longer matches.
	data[HEADER_SIZE+100+HEADER_SIZE+10] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	records := replayAll(t, path, testBlockSize)
	require.Len(t, records, 1)
	assert.True(t, bytes.Equal(payloads[0], records[0]))
}

func TestEntryRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Set([]byte("key"), []byte("value")).Write(&buf))
	require.NoError(t, Delete([]byte("gone")).Write(&buf))

	r := bytes.NewReader(buf.Bytes())

	entry, err := ReadEntry(r)
	require.NoError(t, err)
	assert.Equal(t, ENTRY_SET, entry.Type)
	assert.Equal(t, []byte("key"), entry.Key)
	assert.Equal(t, []byte("value"), entry.Value)

	entry, err = ReadEntry(r)
	require.NoError(t, err)
	assert.Equal(t, ENTRY_DELETE, entry.Type)
	assert.Equal(t, []byte("gone"), entry.Key)
}

func TestRequestRoundTrip(t *testing.T) {
	req := NewRequest(42, []Entry{
		Set([]byte("foo"), []byte("bar")),
		Delete([]byte("baz")),
	})
	decoded, err := DecodeRequest(req.Encode())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), decoded.SeqNum)
	require.Len(t, decoded.Entries, 2)
	assert.Equal(t, req.Entries, decoded.Entries)
}

func TestDecodeRequestRejectsGarbage(t *testing.T) {
	_, err := DecodeRequest([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCorrupt)

	req := NewRequest(7, []Entry{Set([]byte("k"), []byte("v"))})
	data := req.Encode()
	data[12] = 99 // entry type byte
	_, err = DecodeRequest(data)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestManagerAppendsInOrder(t *testing.T) {
	dir := t.TempDir()
	manifestCh := make(chan manifest.Request, 16)
	commands := make(chan Command, 16)

	mgr, err := NewManager(dir, 0, nil, manifestCh, commands, testBlockSize)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		commands <- Command{Req: NewRequest(uint64(i), []Entry{
			Set([]byte(fmt.Sprintf("key%d", i)), []byte(fmt.Sprintf("value%d", i))),
		})}
	}
	close(commands)
	require.NoError(t, mgr.Run())

	// The creation advertised epoch 0 to the manifest.
	advertised := <-manifestCh
	require.Len(t, advertised.Entries, 1)
	assert.Equal(t, manifest.WalAddition{LogNumber: 0}, advertised.Entries[0])

	records := replayAll(t, filepath.Join(dir, FileName(0)), testBlockSize)
	require.Len(t, records, 10)
	for i, record := range records {
		req, err := DecodeRequest(record)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), req.SeqNum)
	}
}

func TestManagerRotate(t *testing.T) {
	dir := t.TempDir()
	manifestCh := make(chan manifest.Request, 16)
	commands := make(chan Command, 16)

	mgr, err := NewManager(dir, 0, nil, manifestCh, commands, testBlockSize)
	require.NoError(t, err)

	commands <- Command{Req: NewRequest(0, []Entry{Set([]byte("k"), []byte("v"))})}
	rotateDone := make(chan error, 1)
	commands <- Command{Rotate: &RotateRequest{Done: rotateDone}}
	commands <- Command{Req: NewRequest(1, []Entry{Set([]byte("k2"), []byte("v2"))})}
	close(commands)
	require.NoError(t, mgr.Run())
	require.NoError(t, <-rotateDone)

	// Epoch 0 is gone, epoch 1 holds only the post-rotation record.
	_, err = os.Stat(filepath.Join(dir, FileName(0)))
	assert.True(t, os.IsNotExist(err))

	records := replayAll(t, filepath.Join(dir, FileName(1)), testBlockSize)
	require.Len(t, records, 1)
	req, err := DecodeRequest(records[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(1), req.SeqNum)

	<-manifestCh // WalAddition{0} from creation
	turnover := <-manifestCh
	require.Len(t, turnover.Entries, 2)
	assert.Equal(t, manifest.WalAddition{LogNumber: 1}, turnover.Entries[0])
	assert.Equal(t, manifest.WalDeletion{LogNumber: 0}, turnover.Entries[1])
}
