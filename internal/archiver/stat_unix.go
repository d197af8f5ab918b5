//go:build unix

package archiver

import (
	"os"
	"syscall"
)

// statDevIno extracts the device and inode pair a Stat_t carries on
// every unix platform, used for the Scanner's cycle-prevention set.
func statDevIno(info os.FileInfo) (dev, ino uint64, ok bool) {
	sys, okCast := info.Sys().(*syscall.Stat_t)
	if !okCast {
		return 0, 0, false
	}
	return uint64(sys.Dev), uint64(sys.Ino), true
}

// statOwner extracts the owning uid/gid from a Stat_t.
func statOwner(info os.FileInfo) (uid, gid uint32, ok bool) {
	sys, okCast := info.Sys().(*syscall.Stat_t)
	if !okCast {
		return 0, 0, false
	}
	return sys.Uid, sys.Gid, true
}
