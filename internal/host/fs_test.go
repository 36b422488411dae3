//go:build unix

package host

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chipsenkbeil/distant-go/internal/proto"
)

func TestFileRoundTrip(t *testing.T) {
	t.Parallel()
	h, ctx, _ := testCtx(t)
	path := filepath.Join(t.TempDir(), "x")

	require.NoError(t, h.FileWrite(ctx, path, []byte("abc")))
	require.NoError(t, h.FileAppend(ctx, path, []byte("de")))

	data, err := h.FileRead(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcde"), data)

	require.NoError(t, h.Remove(ctx, path, false))

	exists, err := h.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFileReadTextValidatesUTF8(t *testing.T) {
	t.Parallel()
	h, ctx, _ := testCtx(t)
	path := filepath.Join(t.TempDir(), "bin")
	require.NoError(t, h.FileWrite(ctx, path, []byte{0xFF, 0xFE, 0x01}))

	_, err := h.FileReadText(ctx, path)
	assert.ErrorIs(t, err, &proto.Error{Kind: proto.KindInvalidData})

	require.NoError(t, h.FileWrite(ctx, path, []byte("héllo")))
	text, err := h.FileReadText(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "héllo", text)
}

func TestFileReadMissingIsNotFound(t *testing.T) {
	t.Parallel()
	h, ctx, _ := testCtx(t)
	_, err := h.FileRead(ctx, filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, &proto.Error{Kind: proto.KindNotFound})
}

func TestDirCreateAndRemove(t *testing.T) {
	t.Parallel()
	h, ctx, _ := testCtx(t)
	base := t.TempDir()

	nested := filepath.Join(base, "a", "b", "c")
	assert.Error(t, h.DirCreate(ctx, nested, false), "missing parents without all")
	require.NoError(t, h.DirCreate(ctx, nested, true))

	// Non-empty directory needs force.
	require.NoError(t, h.FileWrite(ctx, filepath.Join(nested, "f"), []byte("x")))
	assert.Error(t, h.Remove(ctx, filepath.Join(base, "a"), false))
	require.NoError(t, h.Remove(ctx, filepath.Join(base, "a"), true))

	exists, err := h.Exists(ctx, filepath.Join(base, "a"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCopyRecursesAndPreservesSymlinks(t *testing.T) {
	t.Parallel()
	h, ctx, _ := testCtx(t)
	base := t.TempDir()

	src := filepath.Join(base, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "file"), []byte("data"), 0o644))
	require.NoError(t, os.Symlink("sub/file", filepath.Join(src, "link")))

	dst := filepath.Join(base, "dst")
	require.NoError(t, h.Copy(ctx, src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "sub", "file"))
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)

	target, err := os.Readlink(filepath.Join(dst, "link"))
	require.NoError(t, err)
	assert.Equal(t, "sub/file", target)
}

func TestRenameLeavesNothingBehind(t *testing.T) {
	t.Parallel()
	h, ctx, _ := testCtx(t)
	base := t.TempDir()
	src := filepath.Join(base, "src")
	dst := filepath.Join(base, "dst")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	require.NoError(t, h.Rename(ctx, src, dst))
	exists, _ := h.Exists(ctx, src)
	assert.False(t, exists)
	exists, _ = h.Exists(ctx, dst)
	assert.True(t, exists)
}

func TestDirReadDepthAndRoot(t *testing.T) {
	t.Parallel()
	h, ctx, _ := testCtx(t)
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "d1", "d2"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "top"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "d1", "mid"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "d1", "d2", "deep"), nil, 0o644))

	// Depth 1: immediate children only.
	entries, err := h.DirRead(ctx, proto.DirRead{Path: base, Depth: 1})
	require.NoError(t, err)
	paths := entryPaths(entries)
	assert.ElementsMatch(t, []string{"d1", "top"}, paths)

	// Depth 0: unlimited.
	entries, err = h.DirRead(ctx, proto.DirRead{Path: base, Depth: 0})
	require.NoError(t, err)
	paths = entryPaths(entries)
	assert.Contains(t, paths, filepath.Join("d1", "d2", "deep"))

	// Root inclusion puts a canonical absolute dir first.
	entries, err = h.DirRead(ctx, proto.DirRead{Path: base, Depth: 1, IncludeRoot: true})
	require.NoError(t, err)
	require.NotEmpty(t, entries.Entries)
	root := entries.Entries[0]
	assert.True(t, filepath.IsAbs(root.Path))
	assert.Equal(t, proto.FileTypeDir, root.FileType)
	assert.Equal(t, uint64(0), root.Depth)
}

func entryPaths(entries proto.DirEntries) []string {
	var paths []string
	for _, e := range entries.Entries {
		if e.Depth == 0 {
			continue
		}
		paths = append(paths, e.Path)
	}
	return paths
}

func TestMetadataReportsTypeAndSize(t *testing.T) {
	t.Parallel()
	h, ctx, _ := testCtx(t)
	base := t.TempDir()
	path := filepath.Join(base, "f")
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o644))

	md, err := h.Metadata(ctx, proto.MetadataRequest{Path: path})
	require.NoError(t, err)
	assert.Equal(t, proto.FileTypeFile, md.FileType)
	assert.Equal(t, uint64(5), md.Len)
	assert.False(t, md.Readonly)
	require.NotNil(t, md.Unix)
	assert.True(t, md.Unix.OwnerRead)

	link := filepath.Join(base, "ln")
	require.NoError(t, os.Symlink(path, link))
	md, err = h.Metadata(ctx, proto.MetadataRequest{Path: link})
	require.NoError(t, err)
	assert.Equal(t, proto.FileTypeSymlink, md.FileType)

	md, err = h.Metadata(ctx, proto.MetadataRequest{Path: link, ResolveFileType: true})
	require.NoError(t, err)
	assert.Equal(t, proto.FileTypeFile, md.FileType)
}

func TestSetPermissionsLeavesUnsetBitsAlone(t *testing.T) {
	t.Parallel()
	h, ctx, _ := testCtx(t)
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	off := false
	require.NoError(t, h.SetPermissions(ctx, proto.SetPermissions{
		Path:        path,
		Permissions: proto.Permissions{OwnerWrite: &off},
	}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())
}
