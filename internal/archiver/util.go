package archiver

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

func isValidUTF8(s string) bool { return utf8.ValidString(s) }

func toValidUTF8(s string) string { return strings.ToValidUTF8(s, "�") }

var tempFileCounter int64

// tempFileName builds a unique temp filename: pid, a per-process
// monotonic counter (standing in for the source's OS thread id, which
// Go has no portable equivalent for — see DESIGN.md), and an MD5 of
// the source path for uniqueness only, per spec.md §6/§9.
func tempFileName(srcPath string) string {
	n := atomic.AddInt64(&tempFileCounter, 1)
	sum := md5.Sum([]byte(srcPath))
	return fmt.Sprintf("blob_%d_%d_%s.tmp", os.Getpid(), n, hex.EncodeToString(sum[:]))
}
