//go:build darwin

package host

import (
	"io/fs"
	"syscall"
)

func statTimes(info fs.FileInfo) (accessed, created uint64, ok bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	accessed = uint64(stat.Atimespec.Sec)*1000 + uint64(stat.Atimespec.Nsec)/1_000_000
	created = uint64(stat.Birthtimespec.Sec)*1000 + uint64(stat.Birthtimespec.Nsec)/1_000_000
	return accessed, created, true
}
