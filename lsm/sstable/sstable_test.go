package sstable

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terrierdb/lsm/cache"
	"terrierdb/lsm/sstable/block"
	"terrierdb/utils/config"
)

// filledTable builds a table of count entries "fooNNN" -> "fooNNN", numbers
// zero-padded to the width of count-1.
func filledTable(t *testing.T, path string, count int, opts *config.Options) *Table {
	t.Helper()
	digits := len(fmt.Sprint(count - 1))
	writer, err := NewWriter(path, count, opts)
	require.NoError(t, err)
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("foo%0*d", digits, i)
		require.NoError(t, writer.Add([]byte(key), []byte(key)))
	}
	table, err := writer.Finish()
	require.NoError(t, err)
	return table
}

func TestReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.sst")
	table := filledTable(t, path, 1000, config.Default())

	for _, key := range []string{"foo382", "foo383", "foo384"} {
		value, found, err := table.Get([]byte(key))
		require.NoError(t, err)
		require.True(t, found, "key %s", key)
		assert.Equal(t, []byte(key), value)
	}

	for _, key := range []string{"abc", "bar"} {
		_, found, err := table.Get([]byte(key))
		require.NoError(t, err)
		assert.False(t, found, "key %s", key)
	}
}

func TestGetEveryKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.sst")
	table := filledTable(t, path, 1000, config.Default())

	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("foo%03d", i)
		value, found, err := table.Get([]byte(key))
		require.NoError(t, err)
		require.True(t, found, "key %s", key)
		assert.Equal(t, []byte(key), value)
	}
}

func TestIter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.sst")
	const count = 10000
	table := filledTable(t, path, count, config.Default())

	it, err := table.Iter()
	require.NoError(t, err)
	i := 0
	for {
		key, value, ok := it.Next()
		if !ok {
			break
		}
		want := fmt.Sprintf("foo%04d", i)
		require.Equal(t, want, string(key))
		require.Equal(t, want, string(value))
		i++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, count, i)
}

func TestIterFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.sst")
	table := filledTable(t, path, 1000, config.Default())

	it, err := table.IterFrom([]byte("foo567"))
	require.NoError(t, err)
	i := 567
	for {
		key, value, ok := it.Next()
		if !ok {
			break
		}
		want := fmt.Sprintf("foo%03d", i)
		require.Equal(t, want, string(key))
		require.Equal(t, want, string(value))
		i++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 1000, i) // exactly 433 pairs delivered

	// A start key before the whole table yields everything.
	it, err = table.IterFrom([]byte("aaa"))
	require.NoError(t, err)
	n := 0
	for {
		_, _, ok := it.Next()
		if !ok {
			break
		}
		n++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 1000, n)
}

func TestFooterLocatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.sst")
	filledTable(t, path, 100, config.Default())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), FooterSize)

	magic := binary.LittleEndian.Uint64(data[len(data)-8:])
	assert.Equal(t, Magic, magic)
}

func TestOpenMatchesWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.sst")
	filledTable(t, path, 1000, config.Default())

	table, err := Open(path, nil)
	require.NoError(t, err)

	for _, key := range []string{"foo000", "foo382", "foo999"} {
		value, found, err := table.Get([]byte(key))
		require.NoError(t, err)
		require.True(t, found, "key %s", key)
		assert.Equal(t, []byte(key), value)
	}

	_, found, err := table.Get([]byte("foo1000"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOpenWithBlockCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.sst")
	filledTable(t, path, 1000, config.Default())

	blockCache := cache.New[cache.BlockKey, *block.Reader](16)
	table, err := Open(path, blockCache)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		value, found, err := table.Get([]byte("foo382"))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []byte("foo382"), value)
	}
	assert.Greater(t, blockCache.Len(), 0)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.sst")
	filledTable(t, path, 10, config.Default())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint64(data[len(data)-8:], 0xdeadbeef)
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = Open(path, nil)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestBlocksRespectSizeBudget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.sst")
	opts := config.Default()
	opts.SST.BlockSize = 512

	table := filledTable(t, path, 1000, opts)
	require.Greater(t, len(table.index), 1)
	for i, entry := range table.index {
		assert.LessOrEqual(t, entry.Handle.Size, uint64(opts.SST.BlockSize),
			"data block %d overflows the block size", i)
	}
}
