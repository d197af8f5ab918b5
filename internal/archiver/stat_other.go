//go:build !unix

package archiver

import "os"

// statDevIno has no portable equivalent outside unix: cycle prevention
// simply doesn't trigger on these platforms.
func statDevIno(info os.FileInfo) (dev, ino uint64, ok bool) {
	return 0, 0, false
}

// statOwner has no portable equivalent outside unix; entries keep the
// zero-value uid/gid.
func statOwner(info os.FileInfo) (uid, gid uint32, ok bool) {
	return 0, 0, false
}
