// Package catalog implements the Catalog Session (CS): a transactional
// handle over a relational catalog backed by SQLite, providing the
// batched lookups the Batch Query Manager drives and the row creation
// operations the Ingest Coordinator drives. Only one Session is ever
// open per run, matching the single-threaded-cooperative model of
// spec.md §5: all calls are made from the coordinator goroutine, so
// the Session takes no internal lock.
package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/snapback/snapback/internal/compress"
	"github.com/snapback/snapback/internal/data"
	"github.com/snapback/snapback/internal/debug"
	"github.com/snapback/snapback/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	hash      TEXT PRIMARY KEY,
	compress  TEXT NOT NULL,
	raw_size  INTEGER NOT NULL,
	stored_size INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS backups (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp  INTEGER NOT NULL,
	created_by TEXT NOT NULL,
	comment    TEXT NOT NULL,
	targets    TEXT NOT NULL,
	tags       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	backup_id INTEGER NOT NULL,
	path      TEXT NOT NULL,
	type      INTEGER NOT NULL,
	size      INTEGER NOT NULL,
	mode      INTEGER NOT NULL,
	uid       INTEGER NOT NULL,
	gid       INTEGER NOT NULL,
	mtime_us  INTEGER NOT NULL,
	content   BLOB,
	blob_hash TEXT,
	FOREIGN KEY (backup_id) REFERENCES backups(id)
);
CREATE INDEX IF NOT EXISTS idx_files_backup ON files(backup_id);
`

// Session is the Catalog Session: one open connection plus one
// in-flight transaction for the duration of a backup run.
type Session struct {
	db *sql.DB
	tx *sql.Tx

	reuse *reuseCache
}

// Open opens (creating if necessary) the sqlite-backed catalog at dsn
// and ensures its schema exists. The DSN is tuned for a single-writer,
// single-reader workload, matching the coordinator's single-threaded
// access pattern — grounded on the busy_timeout/foreign_keys pragma
// convention used to open local sqlite catalogs elsewhere in the
// ecosystem.
func Open(dsn string) (*Session, error) {
	if dsn == "" {
		dsn = "catalog.db"
	}
	fullDSN := fmt.Sprintf("file:%s?_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL", dsn)

	db, err := sql.Open("sqlite3", fullDSN)
	if err != nil {
		return nil, errors.Wrapf(err, "open catalog %s", dsn)
	}
	db.SetMaxOpenConns(1) // single-writer coordinator, see package doc

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "create schema in %s", dsn)
	}

	return &Session{db: db, reuse: newReuseCache()}, nil
}

// Close closes the underlying database connection.
func (s *Session) Close() error {
	return s.db.Close()
}

// Begin starts the transaction that will hold every row this run
// creates, until Commit or Rollback.
func (s *Session) Begin() error {
	tx, err := s.db.Begin()
	if err != nil {
		return &errors.CatalogError{Op: "begin", Err: err}
	}
	s.tx = tx
	return nil
}

// Commit finalizes the transaction. Per spec.md §4.6.9 this is the
// last step of a successful run, timed separately by the caller.
func (s *Session) Commit() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return &errors.CatalogError{Op: "commit", Err: err}
	}
	return nil
}

// Rollback aborts the transaction, discarding every row created
// during this run. Called whenever an error escapes the Ingest
// Coordinator.
func (s *Session) Rollback() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil {
		return &errors.CatalogError{Op: "rollback", Err: err}
	}
	return nil
}

// GetLastBackup returns the most recently created Backup, or nil if
// the catalog has none yet.
func (s *Session) GetLastBackup() (*data.Backup, error) {
	row := s.db.QueryRow(`SELECT id, timestamp, created_by, comment, targets, tags FROM backups ORDER BY id DESC LIMIT 1`)

	var b data.Backup
	var ts int64
	var targetsJSON, tagsJSON string
	err := row.Scan(&b.ID, &ts, &b.CreatedBy, &b.Comment, &targetsJSON, &tagsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.CatalogError{Op: "get_last_backup", Err: err}
	}

	b.Timestamp = time.UnixMicro(ts)
	if err := json.Unmarshal([]byte(targetsJSON), &b.Targets); err != nil {
		return nil, &errors.CatalogError{Op: "get_last_backup: decode targets", Err: err}
	}
	if err := json.Unmarshal([]byte(tagsJSON), &b.Tags); err != nil {
		return nil, &errors.CatalogError{Op: "get_last_backup: decode tags", Err: err}
	}

	return &b, nil
}

// GetBackupFiles loads every File row belonging to backupID, warming
// the sharded reuse cache as it goes so later LookupReuse calls hit
// memory.
func (s *Session) GetBackupFiles(backupID int64) ([]data.File, error) {
	rows, err := s.db.Query(`SELECT path, type, size, mode, uid, gid, mtime_us, content, blob_hash FROM files WHERE backup_id = ?`, backupID)
	if err != nil {
		return nil, &errors.CatalogError{Op: "get_backup_files", Err: err}
	}
	defer rows.Close()

	var files []data.File
	for rows.Next() {
		var f data.File
		var nodeType int
		var content []byte
		var blobHash sql.NullString

		if err := rows.Scan(&f.Path, &nodeType, &f.Size, &f.Mode, &f.UID, &f.GID, &f.MtimeUs, &content, &blobHash); err != nil {
			return nil, &errors.CatalogError{Op: "get_backup_files: scan", Err: err}
		}
		f.Type = data.NodeType(nodeType)
		if len(content) > 0 {
			f.Content = content
		}
		if blobHash.Valid {
			h := blobHash.String
			f.BlobHash = &h
		}

		fCopy := f
		s.reuse.Put(f.Path, &fCopy)
		files = append(files, f)
	}

	return files, rows.Err()
}

// LookupReuse returns the prior File row eligible for stat-based reuse
// at path, from the cache warmed by GetBackupFiles.
func (s *Session) LookupReuse(path string) (*data.File, bool) {
	return s.reuse.Get(path)
}

// HasBlobWithSizeBatched answers, for every size in sizes, whether any
// blob of that size exists — one SQL round-trip, chunked at
// MaxBatchSize since sqlite bounds the number of bound parameters.
func (s *Session) HasBlobWithSizeBatched(sizes []int64) (map[int64]bool, error) {
	result := make(map[int64]bool, len(sizes))
	for _, chunk := range chunkInt64(sizes, 100) {
		if len(chunk) == 0 {
			continue
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]interface{}, len(chunk))
		for i, v := range chunk {
			args[i] = v
		}

		rows, err := s.db.Query(`SELECT DISTINCT raw_size FROM blobs WHERE raw_size IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, &errors.CatalogError{Op: "has_blob_with_size_batched", Err: err}
		}

		found := make(map[int64]bool)
		for rows.Next() {
			var sz int64
			if err := rows.Scan(&sz); err != nil {
				rows.Close()
				return nil, &errors.CatalogError{Op: "has_blob_with_size_batched: scan", Err: err}
			}
			found[sz] = true
		}
		rows.Close()

		for _, sz := range chunk {
			result[sz] = found[sz]
		}
	}

	debug.Log("catalog: has_blob_with_size_batched(%d sizes) -> %d found", len(sizes), len(result))
	return result, nil
}

// GetBlobs returns the Blob row for every fingerprint in hashes that
// exists, chunked the same way as HasBlobWithSizeBatched.
func (s *Session) GetBlobs(hashes []string) (map[string]*data.Blob, error) {
	result := make(map[string]*data.Blob, len(hashes))
	for _, chunk := range chunkString(hashes, 100) {
		if len(chunk) == 0 {
			continue
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]interface{}, len(chunk))
		for i, v := range chunk {
			args[i] = v
		}

		rows, err := s.db.Query(`SELECT hash, compress, raw_size, stored_size FROM blobs WHERE hash IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, &errors.CatalogError{Op: "get_blobs", Err: err}
		}

		for rows.Next() {
			var b data.Blob
			var method string
			if err := rows.Scan(&b.Hash, &method, &b.RawSize, &b.Stored); err != nil {
				rows.Close()
				return nil, &errors.CatalogError{Op: "get_blobs: scan", Err: err}
			}
			b.Compress = compress.Method(method)
			bCopy := b
			result[b.Hash] = &bCopy
		}
		rows.Close()
	}

	return result, nil
}

// CreateBackup inserts a new Backup row inside the open transaction.
func (s *Session) CreateBackup(createdBy, comment string, targets []string, tags map[string]string) (*data.Backup, error) {
	if s.tx == nil {
		return nil, errors.New("catalog: CreateBackup called outside a transaction")
	}

	targetsJSON, _ := json.Marshal(targets)
	tagsJSON, _ := json.Marshal(tags)
	now := time.Now()

	res, err := s.tx.Exec(`INSERT INTO backups (timestamp, created_by, comment, targets, tags) VALUES (?, ?, ?, ?, ?)`,
		now.UnixMicro(), createdBy, comment, string(targetsJSON), string(tagsJSON))
	if err != nil {
		return nil, &errors.CatalogError{Op: "create_backup", Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, &errors.CatalogError{Op: "create_backup: last_insert_id", Err: err}
	}

	return &data.Backup{
		ID:        id,
		Timestamp: now,
		CreatedBy: createdBy,
		Comment:   comment,
		Targets:   targets,
		Tags:      tags,
	}, nil
}

// CreateFile inserts a File row attached to backupID.
func (s *Session) CreateFile(backupID int64, f data.File) error {
	if s.tx == nil {
		return errors.New("catalog: CreateFile called outside a transaction")
	}

	var blobHash interface{}
	if f.BlobHash != nil {
		blobHash = *f.BlobHash
	}

	_, err := s.tx.Exec(`INSERT INTO files (backup_id, path, type, size, mode, uid, gid, mtime_us, content, blob_hash) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		backupID, f.Path, int(f.Type), f.Size, f.Mode, f.UID, f.GID, f.MtimeUs, f.Content, blobHash)
	if err != nil {
		return &errors.CatalogError{Op: "create_file", Err: err}
	}
	return nil
}

// CreateOrGetBlob inserts a new Blob row, or — if a concurrent ingest
// already committed one with the same fingerprint — returns the
// existing row. INSERT OR IGNORE plus a follow-up SELECT gives
// upsert-or-get semantics without relying on sqlite's RETURNING
// clause being available in every build.
func (s *Session) CreateOrGetBlob(hash string, method compress.Method, rawSize, storedSize int64) (*data.Blob, error) {
	if s.tx == nil {
		return nil, errors.New("catalog: CreateOrGetBlob called outside a transaction")
	}

	_, err := s.tx.Exec(`INSERT OR IGNORE INTO blobs (hash, compress, raw_size, stored_size) VALUES (?, ?, ?, ?)`,
		hash, string(method), rawSize, storedSize)
	if err != nil {
		return nil, &errors.CatalogError{Op: "create_or_get_blob", Err: err}
	}

	row := s.tx.QueryRow(`SELECT hash, compress, raw_size, stored_size FROM blobs WHERE hash = ?`, hash)
	var b data.Blob
	var gotMethod string
	if err := row.Scan(&b.Hash, &gotMethod, &b.RawSize, &b.Stored); err != nil {
		return nil, &errors.CatalogError{Op: "create_or_get_blob: select", Err: err}
	}
	b.Compress = compress.Method(gotMethod)

	return &b, nil
}

func chunkInt64(s []int64, size int) [][]int64 {
	var out [][]int64
	for size < len(s) {
		out = append(out, s[:size])
		s = s[size:]
	}
	return append(out, s)
}

func chunkString(s []string, size int) [][]string {
	var out [][]string
	for size < len(s) {
		out = append(out, s[:size])
		s = s[size:]
	}
	return append(out, s)
}
