//go:build linux

package fs

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// HasCopyFileRange reports whether this build was compiled with
// reflink support at all (always true on Linux; the per-filesystem
// capability is still probed separately via SupportsReflink).
const HasCopyFileRange = true

// reflinkCopy attempts a same-filesystem FICLONE reflink of src onto
// dst. It returns an error (never panics) when the filesystem doesn't
// support it, leaving the caller to fall back to a plain copy.
func reflinkCopy(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	return unix.IoctlFileClone(int(out.Fd()), int(in.Fd()))
}

// SupportsReflink probes whether the filesystem hosting dir supports
// copy-on-write reflinks, by attempting a self-clone of a throwaway
// file. The probe is best-effort: any error is treated as "no".
func SupportsReflink(dir string) bool {
	probe := dir + "/.snapback-reflink-probe"
	src := probe + ".src"
	dst := probe + ".dst"

	if err := os.WriteFile(src, []byte("x"), 0600); err != nil {
		return false
	}
	defer os.Remove(src)
	defer os.Remove(dst)

	return reflinkCopy(dst, src) == nil
}

// SameDevice reports whether a and b live on the same filesystem
// device, used by the can_copy_on_write predicate.
func SameDevice(a, b os.FileInfo) bool {
	sa, ok1 := a.Sys().(*syscall.Stat_t)
	sb, ok2 := b.Sys().(*syscall.Stat_t)
	if !ok1 || !ok2 {
		return false
	}
	return sa.Dev == sb.Dev
}
