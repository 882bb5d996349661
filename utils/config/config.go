// Package config holds the engine options and their defaults, with an
// optional JSON file loader.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Options are the knobs the storage engine recognises.
type Options struct {
	SST struct {
		// Entries per restart point in data blocks.
		BlockRestartInterval int `json:"block_restart_interval"`
		// Entries per restart point in the index block.
		IndexRestartInterval int `json:"index_restart_interval"`
		// Target data-block byte budget; a block is cut when the next
		// append would push its finalized size past this.
		BlockSize int `json:"block_size"`
	} `json:"sst"`

	WAL struct {
		// Physical block size of the write-ahead log.
		BlockSize int `json:"block_size"`
	} `json:"wal"`

	Cache struct {
		// Decoded data blocks kept on the read path; 0 disables the cache.
		BlockCapacity int `json:"block_capacity"`
	} `json:"cache"`

	BloomFilter struct {
		FalsePositiveRate float64 `json:"false_positive_rate"`
	} `json:"bloom_filter"`
}

// Default returns the engine defaults.
func Default() *Options {
	opts := &Options{}
	opts.SST.BlockRestartInterval = 16
	opts.SST.IndexRestartInterval = 16
	opts.SST.BlockSize = 4096
	opts.WAL.BlockSize = 32768
	opts.Cache.BlockCapacity = 256
	opts.BloomFilter.FalsePositiveRate = 0.01
	return opts
}

// Load reads options from a JSON file, filling unset fields with defaults.
func Load(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	opts := Default()
	if err := json.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Validate performs basic validation on option values.
func (opts *Options) Validate() error {
	if opts.SST.BlockRestartInterval < 1 {
		return fmt.Errorf("sst block_restart_interval must be at least 1")
	}
	if opts.SST.IndexRestartInterval < 1 {
		return fmt.Errorf("sst index_restart_interval must be at least 1")
	}
	if opts.SST.BlockSize < 1 {
		return fmt.Errorf("sst block_size must be at least 1")
	}
	// A WAL block must fit a fragment header and at least one payload byte.
	if opts.WAL.BlockSize < 8 {
		return fmt.Errorf("wal block_size must be at least 8")
	}
	if opts.Cache.BlockCapacity < 0 {
		return fmt.Errorf("cache block_capacity must not be negative")
	}
	if opts.BloomFilter.FalsePositiveRate <= 0 || opts.BloomFilter.FalsePositiveRate >= 1 {
		return fmt.Errorf("false_positive_rate must be between 0 and 1")
	}
	return nil
}
