package host

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"

	"github.com/chipsenkbeil/distant-go/internal/proto"
	"github.com/chipsenkbeil/distant-go/internal/server"
)

func (h *Host) FileRead(ctx server.Ctx, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, proto.ErrorFromErr(err)
	}
	return data, nil
}

func (h *Host) FileReadText(ctx server.Ctx, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", proto.ErrorFromErr(err)
	}
	if !utf8.Valid(data) {
		return "", proto.Errorf(proto.KindInvalidData, "%s does not contain valid UTF-8", path)
	}
	return string(data), nil
}

func (h *Host) FileWrite(ctx server.Ctx, path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return proto.ErrorFromErr(err)
	}
	return nil
}

func (h *Host) FileAppend(ctx server.Ctx, path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return proto.ErrorFromErr(err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return proto.ErrorFromErr(err)
	}
	return nil
}

func (h *Host) DirCreate(ctx server.Ctx, path string, all bool) error {
	var err error
	if all {
		err = os.MkdirAll(path, 0o755)
	} else {
		err = os.Mkdir(path, 0o755)
	}
	if err != nil {
		return proto.ErrorFromErr(err)
	}
	return nil
}

// Remove deletes a file or directory. Without force, a non-empty directory
// fails; with force, removal is recursive and partial failures are
// summarized.
func (h *Host) Remove(ctx server.Ctx, path string, force bool) error {
	info, err := os.Lstat(path)
	if err != nil {
		return proto.ErrorFromErr(err)
	}
	if !info.IsDir() || !force {
		if err := os.Remove(path); err != nil {
			return proto.ErrorFromErr(err)
		}
		return nil
	}

	// Recursive removal collects what it could not delete rather than
	// stopping at the first failure.
	var errs *multierror.Error
	walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = multierror.Append(errs, err)
			return nil
		}
		if !d.IsDir() {
			if err := os.Remove(p); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		return nil
	})
	if walkErr != nil {
		errs = multierror.Append(errs, walkErr)
	}
	if err := os.RemoveAll(path); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return proto.NewError(proto.KindOther, err.Error())
	}
	return nil
}

// Copy duplicates a file or directory tree. Symlinks are copied as symlinks.
func (h *Host) Copy(ctx server.Ctx, src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return proto.ErrorFromErr(err)
	}
	if err := copyEntry(src, dst, info); err != nil {
		return proto.ErrorFromErr(err)
	}
	return nil
}

func copyEntry(src, dst string, info fs.FileInfo) error {
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	case info.IsDir():
		if dstInfo, err := os.Stat(dst); err == nil && !dstInfo.IsDir() {
			return &fs.PathError{Op: "copy", Path: dst, Err: fs.ErrExist}
		}
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			entryInfo, err := entry.Info()
			if err != nil {
				return err
			}
			if err := copyEntry(
				filepath.Join(src, entry.Name()),
				filepath.Join(dst, entry.Name()),
				entryInfo,
			); err != nil {
				return err
			}
		}
		return nil
	default:
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		return os.WriteFile(dst, data, info.Mode().Perm())
	}
}

func (h *Host) Rename(ctx server.Ctx, src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return proto.ErrorFromErr(err)
	}
	return nil
}

// Exists follows symlinks and never errors on permission denied; an
// unreadable path reports false.
func (h *Host) Exists(ctx server.Ctx, path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		return false, nil
	}
	return true, nil
}

// DirRead lists entries under a path. Depth 0 means unlimited and 1 the
// immediate children. Per-entry failures are collected, not fatal.
func (h *Host) DirRead(ctx server.Ctx, req proto.DirRead) (proto.DirEntries, error) {
	root, err := filepath.Abs(req.Path)
	if err != nil {
		return proto.DirEntries{}, proto.ErrorFromErr(err)
	}
	if _, err := os.Stat(root); err != nil {
		return proto.DirEntries{}, proto.ErrorFromErr(err)
	}

	var entries []proto.DirEntry
	var entryErrors []proto.Error

	if req.IncludeRoot {
		canonical, err := filepath.EvalSymlinks(root)
		if err != nil {
			canonical = root
		}
		entries = append(entries, proto.DirEntry{
			Path:     canonical,
			FileType: proto.FileTypeDir,
			Depth:    0,
		})
	}

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			entryErrors = append(entryErrors, *proto.ErrorFromErr(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			entryErrors = append(entryErrors, *proto.ErrorFromErr(relErr))
			return nil
		}
		depth := uint64(1 + countSeparators(rel))

		if req.Depth > 0 && depth > req.Depth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		out := rel
		if req.Absolute || req.Canonicalize {
			out = p
			if req.Canonicalize {
				if canonical, err := filepath.EvalSymlinks(p); err == nil {
					out = canonical
				}
			}
			if !req.Absolute {
				if rel2, err := filepath.Rel(root, out); err == nil {
					out = rel2
				}
			}
		}

		entries = append(entries, proto.DirEntry{
			Path:     out,
			FileType: proto.FileTypeFromMode(d.Type()),
			Depth:    depth,
		})
		return nil
	})
	if walkErr != nil {
		return proto.DirEntries{}, proto.ErrorFromErr(walkErr)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return proto.DirEntries{Entries: entries, Errors: entryErrors}, nil
}

func countSeparators(rel string) int {
	count := 0
	for _, r := range rel {
		if r == filepath.Separator {
			count++
		}
	}
	return count
}

func (h *Host) Metadata(ctx server.Ctx, req proto.MetadataRequest) (proto.Metadata, error) {
	info, err := os.Lstat(req.Path)
	if err != nil {
		return proto.Metadata{}, proto.ErrorFromErr(err)
	}

	md := proto.Metadata{
		FileType: proto.FileTypeFromMode(info.Mode()),
		Len:      uint64(info.Size()),
		Readonly: info.Mode().Perm()&0o222 == 0,
	}

	if req.Canonicalize {
		if canonical, err := filepath.EvalSymlinks(req.Path); err == nil {
			md.CanonicalizedPath = canonical
		}
	}

	// Resolving the file type refreshes against the symlink target.
	if req.ResolveFileType && info.Mode()&fs.ModeSymlink != 0 {
		if resolved, err := os.Stat(req.Path); err == nil {
			md.FileType = proto.FileTypeFromMode(resolved.Mode())
		}
	}

	if modified := info.ModTime(); !modified.IsZero() {
		ms := uint64(modified.UnixMilli())
		md.Modified = &ms
	}
	fillPlatformMetadata(&md, info)
	return md, nil
}

func (h *Host) SetPermissions(ctx server.Ctx, req proto.SetPermissions) error {
	apply := func(path string) error {
		info, err := os.Lstat(path)
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 && !req.Options.FollowSymlinks {
			return nil
		}
		mode := uint32(info.Mode().Perm())
		newMode := req.Permissions.ApplyTo(mode)
		if newMode == mode {
			return nil
		}
		return os.Chmod(path, fs.FileMode(newMode))
	}

	if !req.Options.Recursive {
		if err := apply(req.Path); err != nil {
			return proto.ErrorFromErr(err)
		}
		return nil
	}

	var errs *multierror.Error
	walkErr := filepath.WalkDir(req.Path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = multierror.Append(errs, err)
			return nil
		}
		if err := apply(p); err != nil {
			errs = multierror.Append(errs, err)
		}
		return nil
	})
	if walkErr != nil {
		errs = multierror.Append(errs, walkErr)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return proto.NewError(proto.KindOther, err.Error())
	}
	return nil
}
