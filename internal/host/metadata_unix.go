//go:build unix

package host

import (
	"io/fs"

	"github.com/chipsenkbeil/distant-go/internal/proto"
)

func fillPlatformMetadata(md *proto.Metadata, info fs.FileInfo) {
	mode := uint32(info.Mode().Perm())
	unix := proto.UnixMetadataFromMode(mode)
	md.Unix = &unix

	if accessed, created, ok := statTimes(info); ok {
		md.Accessed = &accessed
		md.Created = &created
	}
}
