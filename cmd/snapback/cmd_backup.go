package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/snapback/snapback/internal/archiver"
	"github.com/snapback/snapback/internal/config"
)

var backupOptions struct {
	ConfigFile  string
	SourcePath  string
	Targets     []string
	Ignore      []string
	BlobStore   string
	CatalogDSN  string
	Concurrency int
	CreatedBy   string
	Comment     string
}

func init() {
	cmdRoot.AddCommand(cmdBackup)

	f := cmdBackup.Flags()
	f.StringVar(&backupOptions.ConfigFile, "config", "", "load options from `FILE` (TOML)")
	f.StringVar(&backupOptions.SourcePath, "source", "", "source directory to back up (required unless set in --config)")
	f.StringArrayVar(&backupOptions.Targets, "target", nil, "path relative to --source to include, taken literally, not as a pattern (repeatable)")
	f.StringArrayVar(&backupOptions.Ignore, "ignore", nil, "gitignore-form pattern to exclude (repeatable)")
	f.StringVar(&backupOptions.BlobStore, "blob-store", "", "blob store root directory")
	f.StringVar(&backupOptions.CatalogDSN, "catalog", "", "sqlite catalog path")
	f.IntVar(&backupOptions.Concurrency, "concurrency", 0, "hash pre-pass worker count (0 = GOMAXPROCS)")
	f.StringVar(&backupOptions.CreatedBy, "created-by", "", "identity recorded on the new backup")
	f.StringVar(&backupOptions.Comment, "comment", "", "free-form comment recorded on the new backup")
}

var cmdBackup = &cobra.Command{
	Use:   "backup",
	Short: "Scan a source tree and create a new backup snapshot",
	Long: `
The "backup" command scans the configured source directory, deduplicates
file content against the blob store, and records the result as one new
snapshot in the catalog.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if a fatal error occurred (no snapshot created).
`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []config.Option{}
		if backupOptions.SourcePath != "" {
			opts = append(opts, config.WithSourcePath(backupOptions.SourcePath))
		}
		if len(backupOptions.Targets) > 0 {
			opts = append(opts, config.WithTargets(backupOptions.Targets...))
		}
		if len(backupOptions.Ignore) > 0 {
			opts = append(opts, config.WithIgnorePatterns(backupOptions.Ignore...))
		}
		if backupOptions.BlobStore != "" {
			opts = append(opts, config.WithBlobStoreRoot(backupOptions.BlobStore))
		}
		if backupOptions.CatalogDSN != "" {
			opts = append(opts, config.WithCatalogDSN(backupOptions.CatalogDSN))
		}
		if backupOptions.Concurrency > 0 {
			opts = append(opts, config.WithConcurrency(backupOptions.Concurrency))
		}

		cfg, err := config.New(backupOptions.ConfigFile, opts...)
		if err != nil {
			return err
		}

		info, err := archiver.Run(cmd.Context(), cfg, archiver.Options{
			CreatedBy: backupOptions.CreatedBy,
			Comment:   backupOptions.Comment,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "backup %d: %d files, %d raw bytes, %d stored bytes\n",
			info.BackupID, info.FileCount, info.RawBytes, info.StoredBytes)
		return nil
	},
}
