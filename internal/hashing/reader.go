// Package hashing provides an io.Reader that feeds every byte it
// passes through into a hash.Hash, used by the default and hash_once
// ingest policies to compute a blob's fingerprint while streaming it.
package hashing

import (
	"hash"
	"io"
)

// Reader wraps an io.Reader, hashing all data read from it.
type Reader struct {
	r io.Reader
	h hash.Hash
}

// NewReader returns a new Reader that hashes all data read from rd
// with h.
func NewReader(rd io.Reader, h hash.Hash) *Reader {
	return &Reader{
		r: rd,
		h: h,
	}
}

// Read reads from the wrapped reader, feeding the bytes into the hash.
func (h *Reader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	_, _ = h.h.Write(p[:n])
	return n, err
}

// WriteTo forwards to the underlying reader's WriteTo, if it has one,
// so that io.Copy can still take the fast path while hashing.
func (h *Reader) WriteTo(w io.Writer) (int64, error) {
	mw := io.MultiWriter(h.h, w)
	if wt, ok := h.r.(io.WriterTo); ok {
		return wt.WriteTo(mw)
	}
	return io.Copy(mw, struct{ io.Reader }{h.r})
}

// Sum returns the hash of all data read so far, appended to b.
func (h *Reader) Sum(b []byte) []byte {
	return h.h.Sum(b)
}
