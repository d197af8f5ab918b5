// Package compress implements the blob compression abstraction: a
// tag-dispatched writer/reader factory mirroring the Compressor class
// the ingest coordinator drives while writing and reading blobs.
package compress

import (
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/snapback/snapback/internal/errors"
)

// Method names a blob compression tag, persisted alongside each Blob
// row so the reader knows how to decompress it later.
type Method string

const (
	Plain Method = "plain"
	Gzip  Method = "gzip"
	Zstd  Method = "zstd"
	LZMA  Method = "lzma"
)

// ErrUnsupportedCompression is returned for compression tags with no
// implementation backing them.
var ErrUnsupportedCompression = errors.New("unsupported compression method")

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

// NewWriter returns a WriteCloser that compresses everything written
// to it with the given method before forwarding it to w. Close must
// be called to flush any buffered output.
func NewWriter(method Method, w io.Writer) (io.WriteCloser, error) {
	switch method {
	case Plain:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Zstd:
		return zstd.NewWriter(w)
	default:
		return nil, errors.Wrapf(ErrUnsupportedCompression, "method %q", method)
	}
}

// NewReader returns a ReadCloser that decompresses data read from r
// according to method.
func NewReader(method Method, r io.Reader) (io.ReadCloser, error) {
	switch method {
	case Plain:
		return nopReadCloser{r}, nil
	case Gzip:
		return gzip.NewReader(r)
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedCompression, "method %q", method)
	}
}
