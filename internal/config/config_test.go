package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/snapback/snapback/internal/compress"
)

func TestDefaultValues(t *testing.T) {
	c := Default()

	if c.BlobStoreRoot != "blobstore" {
		t.Errorf("BlobStoreRoot = %q, want blobstore", c.BlobStoreRoot)
	}
	if c.CatalogDSN != "catalog.db" {
		t.Errorf("CatalogDSN = %q, want catalog.db", c.CatalogDSN)
	}
	if !c.ReuseStatUnchangedFile {
		t.Error("ReuseStatUnchangedFile should default to true")
	}
	if c.Concurrency < 1 {
		t.Errorf("Concurrency = %d, want >= 1", c.Concurrency)
	}
}

func TestNewRequiresSourcePath(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Fatal("expected an error when source_path is unset")
	}
}

func TestNewAppliesOptionsOverDefaults(t *testing.T) {
	c, err := New("", WithSourcePath("/data"), WithConcurrency(0), WithTargets("a", "b"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if c.SourcePath != "/data" {
		t.Errorf("SourcePath = %q, want /data", c.SourcePath)
	}
	if c.GetEffectiveConcurrency() != 1 {
		t.Errorf("GetEffectiveConcurrency() = %d, want 1 (clamped from 0)", c.GetEffectiveConcurrency())
	}
	if len(c.Targets) != 2 || c.Targets[0] != "a" || c.Targets[1] != "b" {
		t.Errorf("Targets = %v, want [a b]", c.Targets)
	}
}

func TestNewLoadsTOMLFileThenOptions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
source_path = "/from-toml"
concurrency = 4
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c, err := New(path, WithConcurrency(8))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if c.SourcePath != "/from-toml" {
		t.Errorf("SourcePath = %q, want /from-toml", c.SourcePath)
	}
	if c.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8 (option applied after TOML)", c.Concurrency)
	}
}

func TestGetCompressMethodFromSize(t *testing.T) {
	c := &Config{
		CompressBySize: []CompressBySize{
			{MinSize: 0, Method: compress.Plain},
			{MinSize: 1024, Method: compress.Gzip},
			{MinSize: 1024 * 1024, Method: compress.Zstd},
		},
	}

	cases := []struct {
		size int64
		want compress.Method
	}{
		{0, compress.Plain},
		{512, compress.Plain},
		{1024, compress.Gzip},
		{2048, compress.Gzip},
		{1024 * 1024, compress.Zstd},
		{10 * 1024 * 1024, compress.Zstd},
	}

	for _, tc := range cases {
		if got := c.GetCompressMethodFromSize(tc.size); got != tc.want {
			t.Errorf("GetCompressMethodFromSize(%d) = %v, want %v", tc.size, got, tc.want)
		}
	}
}

func TestGetCompressMethodFromSizeEmptyTable(t *testing.T) {
	c := &Config{}
	if got := c.GetCompressMethodFromSize(5000); got != compress.Plain {
		t.Errorf("GetCompressMethodFromSize with empty table = %v, want Plain", got)
	}
}
