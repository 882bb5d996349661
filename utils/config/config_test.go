package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	opts := Default()
	assert.Equal(t, 16, opts.SST.BlockRestartInterval)
	assert.Equal(t, 16, opts.SST.IndexRestartInterval)
	assert.Equal(t, 4096, opts.SST.BlockSize)
	assert.Equal(t, 32768, opts.WAL.BlockSize)
	assert.Equal(t, 0.01, opts.BloomFilter.FalsePositiveRate)
	assert.NoError(t, opts.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.json")
	payload := `{"sst": {"block_size": 8192}, "wal": {"block_size": 1024}}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0644))

	opts, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8192, opts.SST.BlockSize)
	assert.Equal(t, 1024, opts.WAL.BlockSize)
	// Untouched fields keep their defaults.
	assert.Equal(t, 16, opts.SST.BlockRestartInterval)
}

func TestValidateRejectsBadValues(t *testing.T) {
	opts := Default()
	opts.BloomFilter.FalsePositiveRate = 1.5
	assert.Error(t, opts.Validate())

	opts = Default()
	opts.SST.BlockRestartInterval = 0
	assert.Error(t, opts.Validate())
}
