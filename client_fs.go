package distant

import (
	"context"

	"github.com/chipsenkbeil/distant-go/internal/proto"
)

// ReadFile fetches the raw bytes of a remote file.
func (c *Client) ReadFile(ctx context.Context, path string) ([]byte, error) {
	result, err := c.roundTrip(ctx, "file_read", proto.FileRead{Path: path})
	if err != nil {
		return nil, err
	}
	blob, ok := result.(*proto.Blob)
	if !ok {
		return nil, ErrUnexpectedResponse{Context: UnexpectedResponseContext{Op: "file_read", Got: payloadName(result)}}
	}
	return blob.Data, nil
}

// ReadFileText fetches a remote file validated as UTF-8 text.
func (c *Client) ReadFileText(ctx context.Context, path string) (string, error) {
	result, err := c.roundTrip(ctx, "file_read_text", proto.FileReadText{Path: path})
	if err != nil {
		return "", err
	}
	text, ok := result.(*proto.Text)
	if !ok {
		return "", ErrUnexpectedResponse{Context: UnexpectedResponseContext{Op: "file_read_text", Got: payloadName(result)}}
	}
	return text.Data, nil
}

// WriteFile replaces a remote file's contents, creating it if needed.
func (c *Client) WriteFile(ctx context.Context, path string, data []byte) error {
	return c.expectOk(ctx, "file_write", proto.FileWrite{Path: path, Data: data})
}

// WriteFileText is WriteFile for text content.
func (c *Client) WriteFileText(ctx context.Context, path, text string) error {
	return c.expectOk(ctx, "file_write_text", proto.FileWriteText{Path: path, Text: text})
}

// AppendFile appends bytes to a remote file, creating it if needed.
func (c *Client) AppendFile(ctx context.Context, path string, data []byte) error {
	return c.expectOk(ctx, "file_append", proto.FileAppend{Path: path, Data: data})
}

// AppendFileText is AppendFile for text content.
func (c *Client) AppendFileText(ctx context.Context, path, text string) error {
	return c.expectOk(ctx, "file_append_text", proto.FileAppendText{Path: path, Text: text})
}

// DirReadOptions tune ReadDir.
type DirReadOptions struct {
	// Depth limits traversal; 0 means unlimited, 1 immediate children.
	Depth uint64

	// Absolute returns absolute instead of relative paths.
	Absolute bool

	// Canonicalize resolves symlinks in returned paths.
	Canonicalize bool

	// IncludeRoot includes the root directory itself as the first entry.
	IncludeRoot bool
}

// ReadDir lists a remote directory.
func (c *Client) ReadDir(ctx context.Context, path string, opts DirReadOptions) (DirEntries, error) {
	result, err := c.roundTrip(ctx, "dir_read", proto.DirRead{
		Path:         path,
		Depth:        opts.Depth,
		Absolute:     opts.Absolute,
		Canonicalize: opts.Canonicalize,
		IncludeRoot:  opts.IncludeRoot,
	})
	if err != nil {
		return DirEntries{}, err
	}
	entries, ok := result.(*proto.DirEntries)
	if !ok {
		return DirEntries{}, ErrUnexpectedResponse{Context: UnexpectedResponseContext{Op: "dir_read", Got: payloadName(result)}}
	}
	return *entries, nil
}

// CreateDir makes a remote directory; all creates missing parents too.
func (c *Client) CreateDir(ctx context.Context, path string, all bool) error {
	return c.expectOk(ctx, "dir_create", proto.DirCreate{Path: path, All: all})
}

// Remove deletes a remote file or directory; force removes non-empty
// directories recursively.
func (c *Client) Remove(ctx context.Context, path string, force bool) error {
	return c.expectOk(ctx, "remove", proto.Remove{Path: path, Force: force})
}

// Copy duplicates a remote file or directory tree.
func (c *Client) Copy(ctx context.Context, src, dst string) error {
	return c.expectOk(ctx, "copy", proto.Copy{Src: src, Dst: dst})
}

// Rename moves a remote file or directory.
func (c *Client) Rename(ctx context.Context, src, dst string) error {
	return c.expectOk(ctx, "rename", proto.Rename{Src: src, Dst: dst})
}

// Exists checks whether a remote path exists, following symlinks.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	result, err := c.roundTrip(ctx, "exists", proto.Exists{Path: path})
	if err != nil {
		return false, err
	}
	exists, ok := result.(*proto.ExistsResponse)
	if !ok {
		return false, ErrUnexpectedResponse{Context: UnexpectedResponseContext{Op: "exists", Got: payloadName(result)}}
	}
	return exists.Value, nil
}

// MetadataOptions tune Metadata.
type MetadataOptions struct {
	Canonicalize    bool
	ResolveFileType bool
}

// Metadata fetches metadata of a remote path.
func (c *Client) Metadata(ctx context.Context, path string, opts MetadataOptions) (Metadata, error) {
	result, err := c.roundTrip(ctx, "metadata", proto.MetadataRequest{
		Path:            path,
		Canonicalize:    opts.Canonicalize,
		ResolveFileType: opts.ResolveFileType,
	})
	if err != nil {
		return Metadata{}, err
	}
	md, ok := result.(*proto.Metadata)
	if !ok {
		return Metadata{}, ErrUnexpectedResponse{Context: UnexpectedResponseContext{Op: "metadata", Got: payloadName(result)}}
	}
	return *md, nil
}

// SetPermissionsOptions tune SetPermissions.
type SetPermissionsOptions struct {
	Recursive      bool
	FollowSymlinks bool
}

// SetPermissions applies a partial permission change to a remote path;
// unset fields are left as they are.
func (c *Client) SetPermissions(ctx context.Context, path string, perms Permissions, opts SetPermissionsOptions) error {
	return c.expectOk(ctx, "set_permissions", proto.SetPermissions{
		Path:        path,
		Permissions: perms,
		Options: proto.PermissionsOptions{
			Recursive:      opts.Recursive,
			FollowSymlinks: opts.FollowSymlinks,
		},
	})
}
