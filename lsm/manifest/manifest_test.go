package manifest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryRoundTrip(t *testing.T) {
	entries := []Entry{
		LogNumber{LogNumber: 7},
		PrevFileNumber{FileNumber: 3},
		NextFileNumber{FileNumber: 12},
		LastSequence{Sequence: 99},
		MaxColumnFamily{MaxColumnFamily: 2},
		DeletedFile{Level: 1, FileNumber: 5},
		NewFile{
			Level:         0,
			FileNumber:    8,
			FileSize:      4096,
			Smallest:      []byte("aaa"),
			Largest:       []byte("zzz"),
			SmallestSeqNo: 10,
			LargestSeqNo:  20,
			Tags: []NewFileTag{
				NeedCompaction{},
				FileCreationTime{Time: 1700000000},
				FileChecksum{Checksum: 0xdeadbeef},
				FileChecksumFuncName{FuncName: "crc32"},
			},
		},
		InAtomicGroup{VersionEditCount: 4},
		DbId{DbId: "0b0e58c8-0b19-4870-9b5c-7c4b8c0f5f2e"},
		WalAddition{LogNumber: 0, Tags: []WalTag{SyncedSize{Size: 8192}}},
		WalAddition{LogNumber: 1},
		WalDeletion{LogNumber: 0},
	}

	var buf bytes.Buffer
	for _, entry := range entries {
		require.NoError(t, Write(&buf, entry))
	}

	r := bytes.NewReader(buf.Bytes())
	for i, want := range entries {
		got, err := ReadEntry(r)
		require.NoError(t, err, "entry %d", i)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("entry %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestReadEntryRejectsUnknownType(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(100) // not a known entry type

	_, err := ReadEntry(bytes.NewReader(buf.Bytes()))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestReadEntryRejectsInvalidDbId(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(TYPE_DB_ID))
	buf.WriteByte(2)
	buf.Write([]byte{0xff, 0xfe})

	_, err := ReadEntry(bytes.NewReader(buf.Bytes()))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestCreateBootstrap(t *testing.T) {
	dir := t.TempDir()
	requests := make(chan Request, 16)
	m, err := Create(dir, requests)
	require.NoError(t, err)

	current, err := os.ReadFile(filepath.Join(dir, CurrentFileName))
	require.NoError(t, err)
	assert.Equal(t, "MANIFEST-0", string(current))
	assert.FileExists(t, filepath.Join(dir, "MANIFEST-0"))
	assert.Equal(t, uint64(0), m.SeqNum())

	requests <- Request{Entries: []Entry{
		DbId{DbId: "test-id"},
		WalAddition{LogNumber: 0, Tags: []WalTag{SyncedSize{Size: 0}}},
	}}
	requests <- Request{Close: true}
	require.NoError(t, m.Run())

	reader, err := OpenReader(dir)
	require.NoError(t, err)
	defer reader.Close()

	entry, ok := reader.Next()
	require.True(t, ok)
	assert.Equal(t, DbId{DbId: "test-id"}, entry)

	entry, ok = reader.Next()
	require.True(t, ok)
	assert.Equal(t, WalAddition{LogNumber: 0, Tags: []WalTag{SyncedSize{Size: 0}}}, entry)

	_, ok = reader.Next()
	assert.False(t, ok)
	assert.NoError(t, reader.Err())
}

func TestLoadAppends(t *testing.T) {
	dir := t.TempDir()

	requests := make(chan Request)
	m, err := Create(dir, requests)
	require.NoError(t, err)
	require.NoError(t, m.Append([]Entry{DbId{DbId: "id-1"}}))
	close(requests)
	require.NoError(t, m.Run())

	requests = make(chan Request)
	m, err = Load(dir, requests)
	require.NoError(t, err)
	require.NoError(t, m.Append([]Entry{WalAddition{LogNumber: 3}}))
	close(requests)
	require.NoError(t, m.Run())

	state, err := LoadState(dir)
	require.NoError(t, err)
	assert.Equal(t, "id-1", state.DbId)
	assert.Equal(t, []uint64{3}, state.LiveWals)
}

func TestTruncatedTailEndsStreamCleanly(t *testing.T) {
	dir := t.TempDir()
	requests := make(chan Request)
	m, err := Create(dir, requests)
	require.NoError(t, err)
	require.NoError(t, m.Append([]Entry{
		DbId{DbId: "some-database-id"},
		WalAddition{LogNumber: 0},
	}))
	close(requests)
	require.NoError(t, m.Run())

	path := filepath.Join(dir, "MANIFEST-0")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-1], 0644))

	reader, err := OpenReader(dir)
	require.NoError(t, err)
	defer reader.Close()

	entry, ok := reader.Next()
	require.True(t, ok)
	assert.Equal(t, DbId{DbId: "some-database-id"}, entry)

	_, ok = reader.Next()
	assert.False(t, ok)
	assert.NoError(t, reader.Err())
}

func TestStateFold(t *testing.T) {
	dir := t.TempDir()
	requests := make(chan Request)
	m, err := Create(dir, requests)
	require.NoError(t, err)
	require.NoError(t, m.Append([]Entry{
		DbId{DbId: "fold-id"},
		WalAddition{LogNumber: 0},
		NewFile{Level: 0, FileNumber: 1, FileSize: 100, Smallest: []byte("a"), Largest: []byte("m")},
		NewFile{Level: 0, FileNumber: 2, FileSize: 200, Smallest: []byte("n"), Largest: []byte("z")},
		NextFileNumber{FileNumber: 3},
		LastSequence{Sequence: 41},
		DeletedFile{Level: 0, FileNumber: 1},
		WalAddition{LogNumber: 1},
		WalDeletion{LogNumber: 0},
	}))
	close(requests)
	require.NoError(t, m.Run())

	state, err := LoadState(dir)
	require.NoError(t, err)
	assert.Equal(t, "fold-id", state.DbId)
	assert.Equal(t, uint64(3), state.NextFileNumber)
	assert.Equal(t, uint64(41), state.LastSequence)
	assert.True(t, state.HasLastSequence)
	assert.Equal(t, []uint64{1}, state.LiveWals)
	require.Len(t, state.Files, 1)
	assert.Equal(t, uint64(2), state.Files[0].FileNumber)
}

func TestReadCurrentRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, CurrentFileName), []byte("nonsense"), 0644))

	_, _, err := ReadCurrent(dir)
	assert.ErrorIs(t, err, ErrCorrupt)
}
