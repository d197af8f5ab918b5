//go:build !linux

package fs

import (
	"errors"
	"os"
)

// HasCopyFileRange is false on platforms with no reflink ioctl
// wired up here; CopyFileFast always falls back to a plain copy.
const HasCopyFileRange = false

func reflinkCopy(dst, src string) error {
	return errors.New("reflink not supported on this platform")
}

// SupportsReflink always reports false outside Linux.
func SupportsReflink(dir string) bool { return false }

// SameDevice always reports false outside Linux, which simply means
// can_copy_on_write never selects the reflink fast path there.
func SameDevice(a, b os.FileInfo) bool { return false }
