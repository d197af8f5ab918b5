// Package config holds the Config surface consumed by the backup
// creation pipeline (spec.md §6): source path, target paths, ignore globs,
// compression policy, concurrency, and temp directory. Loaded from a
// TOML file for real invocations, or assembled in-process via
// functional options for tests.
package config

import (
	"runtime"

	"github.com/BurntSushi/toml"

	"github.com/snapback/snapback/internal/compress"
	"github.com/snapback/snapback/internal/errors"
)

// CompressBySize maps a minimum file size to the compression method
// used for files at least that large; the largest matching threshold
// wins. An empty table means "always plain".
type CompressBySize struct {
	MinSize int64           `toml:"min_size"`
	Method  compress.Method `toml:"method"`
}

// Config is the full set of options the backup creation pipeline
// consumes from its caller.
type Config struct {
	SourcePath string `toml:"source_path"`

	Targets               []string `toml:"targets"`
	IgnorePatterns        []string `toml:"ignore_patterns"`
	FollowTargetSymlink   bool     `toml:"follow_target_symlink"`
	ReuseStatUnchangedFile bool    `toml:"reuse_stat_unchanged_file"`

	CreationSkipMissingFile        bool     `toml:"creation_skip_missing_file"`
	CreationSkipMissingFilePatterns []string `toml:"creation_skip_missing_file_patterns"`

	CompressBySize []CompressBySize `toml:"compress_by_size"`

	Concurrency int    `toml:"concurrency"`
	TempPath    string `toml:"temp_path"`
	Debug       bool   `toml:"debug"`

	BlobStoreRoot string `toml:"blob_store_root"`
	CatalogDSN    string `toml:"catalog_dsn"`
}

// Option mutates a Config in place; used to build fixtures in tests
// without a TOML file on disk.
type Option func(*Config)

// WithSourcePath sets the directory to scan.
func WithSourcePath(path string) Option {
	return func(c *Config) { c.SourcePath = path }
}

// WithTargets sets the target paths, relative to SourcePath, that the
// scanner walks; each is taken literally, not as a pattern.
func WithTargets(targets ...string) Option {
	return func(c *Config) { c.Targets = targets }
}

// WithIgnorePatterns sets the gitignore-form exclude list.
func WithIgnorePatterns(patterns ...string) Option {
	return func(c *Config) { c.IgnorePatterns = patterns }
}

// WithConcurrency overrides the effective concurrency.
func WithConcurrency(n int) Option {
	return func(c *Config) { c.Concurrency = n }
}

// WithTempPath overrides the temp directory.
func WithTempPath(path string) Option {
	return func(c *Config) { c.TempPath = path }
}

// WithBlobStoreRoot overrides the blob store root directory.
func WithBlobStoreRoot(path string) Option {
	return func(c *Config) { c.BlobStoreRoot = path }
}

// WithCatalogDSN overrides the sqlite DSN backing the catalog.
func WithCatalogDSN(dsn string) Option {
	return func(c *Config) { c.CatalogDSN = dsn }
}

// Default returns a Config with every field at its documented
// default, ready to be adjusted by Option values.
func Default() *Config {
	return &Config{
		Targets:                []string{"."},
		FollowTargetSymlink:    false,
		ReuseStatUnchangedFile: true,
		Concurrency:            runtime.GOMAXPROCS(0),
		TempPath:               "",
		BlobStoreRoot:          "blobstore",
		CatalogDSN:             "catalog.db",
		CompressBySize: []CompressBySize{
			{MinSize: 0, Method: compress.Zstd},
		},
	}
}

// New builds a Config from defaults, an optional TOML file, and any
// functional options, applied in that order (options win).
func New(tomlPath string, opts ...Option) (*Config, error) {
	c := Default()

	if tomlPath != "" {
		if _, err := toml.DecodeFile(tomlPath, c); err != nil {
			return nil, errors.Wrapf(err, "load config %s", tomlPath)
		}
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.SourcePath == "" {
		return nil, errors.New("config: source_path is required")
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}

	return c, nil
}

// GetEffectiveConcurrency returns the configured concurrency, always
// at least 1.
func (c *Config) GetEffectiveConcurrency() int {
	if c.Concurrency < 1 {
		return 1
	}
	return c.Concurrency
}

// GetCompressMethodFromSize returns the compression method configured
// for a file of the given size, per the largest matching threshold in
// CompressBySize. Returns Plain if no threshold is configured.
func (c *Config) GetCompressMethodFromSize(size int64) compress.Method {
	best := compress.Plain
	bestThreshold := int64(-1)
	for _, cbs := range c.CompressBySize {
		if size >= cbs.MinSize && cbs.MinSize > bestThreshold {
			best = cbs.Method
			bestThreshold = cbs.MinSize
		}
	}
	return best
}
