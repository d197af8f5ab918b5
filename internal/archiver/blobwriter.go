package archiver

import (
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"

	"github.com/snapback/snapback/internal/compress"
	"github.com/snapback/snapback/internal/data"
	"github.com/snapback/snapback/internal/errors"
	"github.com/snapback/snapback/internal/fs"
	"github.com/snapback/snapback/internal/hashing"
)

// acquireBlob implements the retry loop of spec.md §4.6.2: up to
// RetryCount attempts, the last forced to copy_hash so a concurrent
// writer cannot defeat it indefinitely.
func (t *ingestTask) acquireBlob() (*data.File, error) {
	for attempt := 1; attempt <= t.env.cfg.RetryCount; attempt++ {
		lastChance := attempt == t.env.cfg.RetryCount

		info, err := t.env.fileIO.Lstat(t.entry.AbsPath)
		if err != nil {
			return nil, &errors.SourceFileNotFound{Path: t.entry.AbsPath, Err: err}
		}

		file, err := t.attemptOnce(info, lastChance)
		if err == nil {
			return file, nil
		}

		var changed *errors.BlobFileChanged
		if !errors.As(err, &changed) {
			return nil, err
		}
	}

	return nil, &errors.VolatileBlobFile{Path: t.entry.AbsPath, Attempt: t.env.cfg.RetryCount}
}

// attemptOnce runs one attempt of the blob acquisition algorithm:
// policy selection (§4.6.3), dedup short-circuit (§4.6.4) and the
// matching write path (§4.6.5).
func (t *ingestTask) attemptOnce(info os.FileInfo, lastChance bool) (*data.File, error) {
	size := info.Size()
	method := t.env.cfg.CompressForSize(size)
	canCow := t.env.blobStore.CanCopyOnWrite(method == compress.Plain, info)
	preHash := t.env.preHashes[t.entry.AbsPath]

	pol, err := t.selectPolicy(lastChance, size, preHash, canCow, method)
	if err != nil {
		return nil, err
	}

	switch pol {
	case policyReadAll:
		return t.writeReadAll(info, method)
	case policyHashOnce:
		return t.writeHashOnce(info, method)
	case policyCopyHash:
		return t.writeCopyHash(info, method)
	default:
		return t.writeDefault(info, method, preHash, canCow)
	}
}

// dedupCheck consults blob_by_hash (cache-first via queryHash) and
// returns the existing Blob, if any, without writing anything.
func (t *ingestTask) dedupCheck(hash string) (*data.Blob, error) {
	return t.queryHash(hash)
}

// fileForBlob builds the File row for a (possibly pre-existing) blob.
// size is the blob's raw (uncompressed) size, which is what the reuse
// tuple (spec.md §3/§4.3) compares against a later scan's stat size —
// never the source file's current on-disk size, so a dedup hit always
// carries the size that was actually hashed into the blob.
func (t *ingestTask) fileForBlob(hash string, size int64) *data.File {
	h := hash
	return &data.File{
		Path:     t.entry.RelPath,
		Type:     data.NodeTypeFile,
		Size:     size,
		Mode:     t.entry.Mode,
		UID:      t.entry.UID,
		GID:      t.entry.GID,
		MtimeUs:  t.entry.MtimeUs,
		BlobHash: &h,
	}
}

// commitBlob registers the newly-written blob in the catalog (upsert-
// or-get: races with a concurrent ingest of identical content resolve
// to whichever row wins) and updates both per-run caches.
func (t *ingestTask) commitBlob(hash string, method compress.Method, rawSize, storedSize int64) (*data.File, error) {
	blob, err := t.env.catalog.CreateOrGetBlob(hash, method, rawSize, storedSize)
	if err != nil {
		return nil, &errors.CatalogError{Op: "create_or_get_blob", Err: err}
	}

	t.env.blobBySize[blob.RawSize] = true
	t.env.blobByHash[blob.Hash] = blob

	return t.fileForBlob(blob.Hash, blob.RawSize), nil
}

// writeReadAll implements spec.md §4.6.5's read_all path: the file
// fits entirely in memory, so it is read once, hashed, deduped, and
// (on a miss) compressed straight to the blob path.
func (t *ingestTask) writeReadAll(info os.FileInfo, method compress.Method) (*data.File, error) {
	f, err := t.env.fileIO.Open(t.entry.AbsPath)
	if err != nil {
		return nil, &errors.SourceFileNotFound{Path: t.entry.AbsPath, Err: err}
	}
	content, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", t.entry.AbsPath)
	}

	if int64(len(content)) != info.Size() {
		return nil, &errors.BlobFileChanged{Path: t.entry.AbsPath, Reason: "size changed while reading"}
	}

	hash := fingerprint(content)
	if existing, err := t.dedupCheck(hash); err != nil {
		return nil, err
	} else if existing != nil {
		return t.fileForBlob(existing.Hash, existing.RawSize), nil
	}

	blobPath, err := t.env.blobStore.GetBlobPath(hash)
	if err != nil {
		return nil, err
	}
	t.env.rollback.Add(blobPath)

	stored, err := compressToFile(blobPath, method, content)
	if err != nil {
		return nil, err
	}

	return t.commitBlob(hash, method, int64(len(content)), stored)
}

// writeHashOnce implements §4.6.5's hash_once path: stream the source
// through the compressor to a temp file while hashing, verify the
// observed size against the stat taken before this attempt, then
// rename into place. Per §4.6.6 this path never suspends once chosen.
func (t *ingestTask) writeHashOnce(info os.FileInfo, method compress.Method) (*data.File, error) {
	src, err := t.env.fileIO.Open(t.entry.AbsPath)
	if err != nil {
		return nil, &errors.SourceFileNotFound{Path: t.entry.AbsPath, Err: err}
	}
	defer src.Close()

	tempPath := filepath.Join(t.env.cfg.TempDir, tempFileName(t.entry.AbsPath))
	rawSize, hash, stored, err := streamCompress(tempPath, method, src)
	if err != nil {
		os.Remove(tempPath)
		return nil, err
	}

	if rawSize != info.Size() {
		os.Remove(tempPath)
		return nil, &errors.BlobFileChanged{Path: t.entry.AbsPath, Reason: "size changed while streaming"}
	}

	blobPath, err := t.env.blobStore.GetBlobPath(hash)
	if err != nil {
		os.Remove(tempPath)
		return nil, err
	}
	t.env.rollback.Add(blobPath)

	if err := renameOrCopy(tempPath, blobPath); err != nil {
		os.Remove(tempPath)
		return nil, errors.Wrapf(err, "finalize %s", blobPath)
	}

	return t.commitBlob(hash, method, rawSize, stored)
}

// writeCopyHash implements §4.6.5's copy_hash path, the last-resort
// policy forced on the final retry attempt: copy the source to a temp
// file first (fast-copy/reflink if possible), hash the copy, re-check
// dedup, then compress the copy into the blob store.
func (t *ingestTask) writeCopyHash(info os.FileInfo, method compress.Method) (*data.File, error) {
	tempPath := filepath.Join(t.env.cfg.TempDir, tempFileName(t.entry.AbsPath))

	_, copyErr := copyFileFast(tempPath, t.entry.AbsPath)
	if copyErr != nil {
		os.Remove(tempPath)
		return nil, &errors.SourceFileNotFound{Path: t.entry.AbsPath, Err: copyErr}
	}
	defer os.Remove(tempPath)

	rawSize, hash, err := hashFile(tempPath)
	if err != nil {
		return nil, err
	}
	if rawSize != info.Size() {
		return nil, &errors.BlobFileChanged{Path: t.entry.AbsPath, Reason: "size changed before copy completed"}
	}

	if existing, err := t.dedupCheck(hash); err != nil {
		return nil, err
	} else if existing != nil {
		return t.fileForBlob(existing.Hash, existing.RawSize), nil
	}

	blobPath, err := t.env.blobStore.GetBlobPath(hash)
	if err != nil {
		return nil, err
	}
	t.env.rollback.Add(blobPath)

	stored, err := compressFileToFile(blobPath, method, tempPath)
	if err != nil {
		return nil, err
	}

	return t.commitBlob(hash, method, rawSize, stored)
}

// writeDefault implements §4.6.5's default path: reflink-copy when
// possible, else stream-compress with concurrent hashing; verify
// against preHash if one was supplied.
func (t *ingestTask) writeDefault(info os.FileInfo, method compress.Method, preHash string, canCow bool) (*data.File, error) {
	if preHash != "" {
		if existing, err := t.dedupCheck(preHash); err != nil {
			return nil, err
		} else if existing != nil {
			return t.fileForBlob(existing.Hash, existing.RawSize), nil
		}
	}

	if canCow && method == compress.Plain {
		// Hash isn't known yet when reflinking; reflink first, then
		// hash the result, matching spec.md's "reflink then verify"
		// order.
		return t.writeDefaultReflink(info, preHash)
	}

	return t.writeDefaultStream(info, method, preHash)
}

func (t *ingestTask) writeDefaultReflink(info os.FileInfo, preHash string) (*data.File, error) {
	// The blob path isn't known until we have a hash, so reflink into
	// a temp file first, hash it, then rename into place — the same
	// shape as hash_once but using a reflink copy instead of a
	// streaming compressor, since compression is plain here.
	tempPath := filepath.Join(t.env.cfg.TempDir, tempFileName(t.entry.AbsPath))
	if _, err := copyFileFast(tempPath, t.entry.AbsPath); err != nil {
		os.Remove(tempPath)
		return nil, &errors.SourceFileNotFound{Path: t.entry.AbsPath, Err: err}
	}
	defer os.Remove(tempPath)

	newSize, hash, err := hashFile(tempPath)
	if err != nil {
		return nil, err
	}
	if newSize != info.Size() || (preHash != "" && hash != preHash) {
		return nil, &errors.BlobFileChanged{Path: t.entry.AbsPath, Reason: "size or hash changed"}
	}

	if existing, err := t.dedupCheck(hash); err != nil {
		return nil, err
	} else if existing != nil {
		return t.fileForBlob(existing.Hash, existing.RawSize), nil
	}

	blobPath, err := t.env.blobStore.GetBlobPath(hash)
	if err != nil {
		return nil, err
	}
	t.env.rollback.Add(blobPath)

	if _, err := copyFileFast(blobPath, tempPath); err != nil {
		return nil, errors.Wrapf(err, "finalize reflink copy %s", blobPath)
	}

	return t.commitBlob(hash, compress.Plain, newSize, newSize)
}

func (t *ingestTask) writeDefaultStream(info os.FileInfo, method compress.Method, preHash string) (*data.File, error) {
	src, err := t.env.fileIO.Open(t.entry.AbsPath)
	if err != nil {
		return nil, &errors.SourceFileNotFound{Path: t.entry.AbsPath, Err: err}
	}
	defer src.Close()

	tempPath := filepath.Join(t.env.cfg.TempDir, tempFileName(t.entry.AbsPath))
	rawSize, hash, stored, err := streamCompress(tempPath, method, src)
	if err != nil {
		os.Remove(tempPath)
		return nil, err
	}

	if rawSize != info.Size() || (preHash != "" && hash != preHash) {
		os.Remove(tempPath)
		return nil, &errors.BlobFileChanged{Path: t.entry.AbsPath, Reason: "size or hash changed while streaming"}
	}

	if existing, err := t.dedupCheck(hash); err != nil {
		os.Remove(tempPath)
		return nil, err
	} else if existing != nil {
		os.Remove(tempPath)
		return t.fileForBlob(existing.Hash, existing.RawSize), nil
	}

	blobPath, err := t.env.blobStore.GetBlobPath(hash)
	if err != nil {
		os.Remove(tempPath)
		return nil, err
	}
	t.env.rollback.Add(blobPath)

	if err := renameOrCopy(tempPath, blobPath); err != nil {
		os.Remove(tempPath)
		return nil, errors.Wrapf(err, "finalize %s", blobPath)
	}

	return t.commitBlob(hash, method, rawSize, stored)
}

// --- low-level helpers shared by the write paths ---

func compressToFile(dstPath string, method compress.Method, content []byte) (storedSize int64, err error) {
	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, errors.Wrapf(err, "create %s", dstPath)
	}
	defer out.Close()

	cw, err := compress.NewWriter(method, out)
	if err != nil {
		return 0, err
	}
	if _, err := cw.Write(content); err != nil {
		return 0, errors.Wrapf(err, "write %s", dstPath)
	}
	if err := cw.Close(); err != nil {
		return 0, err
	}

	info, err := os.Stat(dstPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func compressFileToFile(dstPath string, method compress.Method, srcPath string) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", srcPath)
	}
	defer src.Close()

	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, errors.Wrapf(err, "create %s", dstPath)
	}
	defer out.Close()

	cw, err := compress.NewWriter(method, out)
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(cw, src); err != nil {
		return 0, errors.Wrapf(err, "compress %s -> %s", srcPath, dstPath)
	}
	if err := cw.Close(); err != nil {
		return 0, err
	}

	info, err := os.Stat(dstPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// streamCompress streams src through a hashing reader and into a
// compressor writing to dstPath, returning the raw byte count, hex
// fingerprint, and compressed byte count observed.
func streamCompress(dstPath string, method compress.Method, src io.Reader) (rawSize int64, hash string, storedSize int64, err error) {
	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, "", 0, errors.Wrapf(err, "create %s", dstPath)
	}
	defer out.Close()

	cw, err := compress.NewWriter(method, out)
	if err != nil {
		return 0, "", 0, err
	}

	h := sha256.New()
	hr := hashing.NewReader(src, h)

	n, err := io.Copy(cw, hr)
	if err != nil {
		return 0, "", 0, errors.Wrapf(err, "stream compress -> %s", dstPath)
	}
	if err := cw.Close(); err != nil {
		return 0, "", 0, err
	}

	info, err := os.Stat(dstPath)
	if err != nil {
		return 0, "", 0, err
	}

	return n, fingerprintBytes(hr.Sum(nil)), info.Size(), nil
}

func hashFile(path string) (size int64, hash string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", errors.Wrapf(err, "hash %s", path)
	}

	return n, fingerprintBytes(h.Sum(nil)), nil
}

func hashFileHandle(f *os.File) (size int64, hash string, err error) {
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", errors.Wrapf(err, "hash %s", f.Name())
	}
	return n, fingerprintBytes(h.Sum(nil)), nil
}

func fingerprintBytes(sum []byte) string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(sum)*2)
	for i, b := range sum {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

func renameOrCopy(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Cross-device rename (EXDEV) falls back to copy, per spec.md
	// §4.6.5's hash_once path.
	if _, err := copyFileFast(dst, src); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFileFast(dst, src string) (bool, error) {
	return fs.CopyFileFast(dst, src)
}
