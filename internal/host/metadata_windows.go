//go:build windows

package host

import (
	"io/fs"
	"syscall"

	"github.com/chipsenkbeil/distant-go/internal/proto"
)

func fillPlatformMetadata(md *proto.Metadata, info fs.FileInfo) {
	if data, ok := info.Sys().(*syscall.Win32FileAttributeData); ok {
		attrs := data.FileAttributes
		md.Windows = &proto.WindowsMetadata{
			Archive:           attrs&syscall.FILE_ATTRIBUTE_ARCHIVE != 0,
			Hidden:            attrs&syscall.FILE_ATTRIBUTE_HIDDEN != 0,
			ReparsePoint:      attrs&syscall.FILE_ATTRIBUTE_REPARSE_POINT != 0,
			System:            attrs&syscall.FILE_ATTRIBUTE_SYSTEM != 0,
			NotContentIndexed: attrs&0x2000 != 0,
			Offline:           attrs&0x1000 != 0,
			Temporary:         attrs&0x100 != 0,
			Compressed:        attrs&0x800 != 0,
			Encrypted:         attrs&0x4000 != 0,
			SparseFile:        attrs&0x200 != 0,
		}
		accessed := uint64(data.LastAccessTime.Nanoseconds() / 1_000_000)
		created := uint64(data.CreationTime.Nanoseconds() / 1_000_000)
		md.Accessed = &accessed
		md.Created = &created
	}
}
