// Package config defines the tunable parameters for the OBLIVION storage
// engine (spec.md §6) and an environment loader for the external
// collaborator that wires os.Environ() into it (spec.md §1 keeps that
// collaborator itself out of the CORE — only the struct and its
// validation/defaults live here).
package config

import (
	"os"

	"github.com/caarlos0/env/v9"

	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/internal/oberr"
)

const (
	// DefaultMemtableMaxSize is 4 MiB, per spec.md §6.
	DefaultMemtableMaxSize = 4 * 1024 * 1024

	// DefaultSizeRatio and DefaultCompactionThreshold are the size-tiered
	// compactor's defaults (spec.md §4.5).
	DefaultSizeRatio           = 10
	DefaultCompactionThreshold = 4
	// DefaultTier0Bytes is the upper bound of tier 0 (4 MiB, spec.md §4.5).
	DefaultTier0Bytes = 4 * 1024 * 1024

	// DefaultBloomFPR is the default target false-positive rate used when
	// sizing a Bloom filter for a freshly flushed SSTable.
	DefaultBloomFPR = 0.01
)

// Config holds everything the Engine needs to open a data directory.
type Config struct {
	// DataDir is the base directory for the WAL and SSTables.
	DataDir string `env:"OBLIVION_DATA_DIR" envDefault:"./data"`

	// MemtableMaxSize is the flush threshold in bytes.
	MemtableMaxSize int `env:"OBLIVION_MEMTABLE_MAX_SIZE" envDefault:"4194304"`

	// SyncWrites controls whether the WAL fsyncs after every append.
	SyncWrites bool `env:"OBLIVION_SYNC_WRITES" envDefault:"true"`

	// SizeRatio and CompactionThreshold tune the size-tiered compactor.
	SizeRatio           int `env:"OBLIVION_COMPACTION_SIZE_RATIO" envDefault:"10"`
	CompactionThreshold int `env:"OBLIVION_COMPACTION_THRESHOLD" envDefault:"4"`
	Tier0Bytes          int `env:"OBLIVION_COMPACTION_TIER0_BYTES" envDefault:"4194304"`

	// BloomFPR is the target false-positive rate passed to bloom.New when
	// sizing a filter for a freshly flushed SSTable.
	BloomFPR float64 `env:"OBLIVION_BLOOM_FPR" envDefault:"0.01"`
}

// New returns a Config pointed at dataDir with every other field defaulted,
// mirroring the original Rust Config::new(data_dir) builder.
func New(dataDir string) Config {
	c := Default()
	c.DataDir = dataDir
	return c
}

// Default returns the zero-value-free default Config.
func Default() Config {
	return Config{
		DataDir:             "./data",
		MemtableMaxSize:     DefaultMemtableMaxSize,
		SyncWrites:          true,
		SizeRatio:           DefaultSizeRatio,
		CompactionThreshold: DefaultCompactionThreshold,
		Tier0Bytes:          DefaultTier0Bytes,
		BloomFPR:            DefaultBloomFPR,
	}
}

// WithMemtableMaxSize mirrors the Rust builder's with_memtable_max_size.
func (c Config) WithMemtableMaxSize(size int) Config {
	c.MemtableMaxSize = size
	return c
}

// Load reads a Config from the process environment using the OBLIVION_*
// variables declared above, starting from Default() for any unset field.
func Load() (Config, error) {
	c := Default()
	if err := env.Parse(&c); err != nil {
		return Config{}, oberr.Wrap(oberr.KindConfig, err, "parsing environment configuration")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// EnsureDirs creates DataDir (and any missing parents) if it doesn't exist.
func (c Config) EnsureDirs() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return oberr.Wrapf(oberr.KindIO, err, "creating data dir %q", c.DataDir)
	}
	return nil
}

// Validate rejects configurations the engine cannot safely open with.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return oberr.New(oberr.KindConfig, "data_dir must not be empty")
	}
	if c.MemtableMaxSize <= 0 {
		return oberr.New(oberr.KindConfig, "memtable_max_size must be > 0")
	}
	if c.SizeRatio < 2 {
		return oberr.New(oberr.KindConfig, "compaction size_ratio must be >= 2")
	}
	if c.CompactionThreshold < 2 {
		return oberr.New(oberr.KindConfig, "compaction threshold must be >= 2")
	}
	if c.Tier0Bytes <= 0 {
		return oberr.New(oberr.KindConfig, "compaction tier0_bytes must be > 0")
	}
	return nil
}
