package compress

import (
	"bytes"
	"io"
	"testing"

	goerrors "errors"
)

func roundTrip(t *testing.T, method Method) {
	t.Helper()

	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 256)

	var buf bytes.Buffer
	w, err := NewWriter(method, &buf)
	if err != nil {
		t.Fatalf("NewWriter(%v): %v", method, err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader(method, &buf)
	if err != nil {
		t.Fatalf("NewReader(%v): %v", method, err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if !bytes.Equal(got, payload) {
		t.Errorf("round trip for %v: got %d bytes, want %d bytes", method, len(got), len(payload))
	}
}

func TestRoundTripPlain(t *testing.T) { roundTrip(t, Plain) }
func TestRoundTripGzip(t *testing.T) { roundTrip(t, Gzip) }
func TestRoundTripZstd(t *testing.T) { roundTrip(t, Zstd) }

func TestUnsupportedCompressionMethod(t *testing.T) {
	var buf bytes.Buffer

	if _, err := NewWriter(LZMA, &buf); !goerrors.Is(err, ErrUnsupportedCompression) {
		t.Errorf("NewWriter(LZMA) error = %v, want wrapping ErrUnsupportedCompression", err)
	}

	if _, err := NewReader(LZMA, &buf); !goerrors.Is(err, ErrUnsupportedCompression) {
		t.Errorf("NewReader(LZMA) error = %v, want wrapping ErrUnsupportedCompression", err)
	}

	if _, err := NewWriter(Method("bogus"), &buf); !goerrors.Is(err, ErrUnsupportedCompression) {
		t.Errorf("NewWriter(bogus) error = %v, want wrapping ErrUnsupportedCompression", err)
	}
}
