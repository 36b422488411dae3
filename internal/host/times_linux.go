//go:build linux

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
	accessed = uint64(stat.Atim.Sec)*1000 + uint64(stat.Atim.Nsec)/1_000_000
	// Linux has no birth time through stat; change time is the closest.
	created = uint64(stat.Ctim.Sec)*1000 + uint64(stat.Ctim.Nsec)/1_000_000
	return accessed, created, true
}
