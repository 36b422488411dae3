package proto

import "fmt"

// RequestPayload is one operation to perform on the remote machine. Concrete
// payloads are adjacently tagged on the wire by their payloadType.
type RequestPayload interface {
	payloadType() string
}

// Request type tags. Never change a tag that has shipped; it is part of the
// wire protocol.
const (
	TypeFileRead       = "file_read"
	TypeFileReadText   = "file_read_text"
	TypeFileWrite      = "file_write"
	TypeFileWriteText  = "file_write_text"
	TypeFileAppend     = "file_append"
	TypeFileAppendText = "file_append_text"
	TypeDirRead        = "dir_read"
	TypeDirCreate      = "dir_create"
	TypeRemove         = "remove"
	TypeCopy           = "copy"
	TypeRename         = "rename"
	TypeWatch          = "watch"
	TypeUnwatch        = "unwatch"
	TypeExists         = "exists"
	TypeMetadata       = "metadata"
	TypeSetPermissions = "set_permissions"
	TypeSearch         = "search"
	TypeCancelSearch   = "cancel_search"
	TypeProcSpawn      = "proc_spawn"
	TypeProcKill       = "proc_kill"
	TypeProcStdin      = "proc_stdin"
	TypeProcResizePty  = "proc_resize_pty"
	TypeSystemInfo     = "system_info"
	TypeVersion        = "version"
	TypeHeartbeat      = "heartbeat"
)

// Reads a file and returns its bytes.
type FileRead struct {
	Path string `codec:"path"`
}

// Reads a file and returns its contents as UTF-8 text.
type FileReadText struct {
	Path string `codec:"path"`
}

// Writes a file, creating it if needed and replacing any existing content.
type FileWrite struct {
	Path string `codec:"path"`
	Data []byte `codec:"data"`
}

type FileWriteText struct {
	Path string `codec:"path"`
	Text string `codec:"text"`
}

// Appends to a file, creating it if it does not exist.
type FileAppend struct {
	Path string `codec:"path"`
	Data []byte `codec:"data"`
}

type FileAppendText struct {
	Path string `codec:"path"`
	Text string `codec:"text"`
}

// Reads directory entries. Depth 0 means unlimited; 1 means the immediate
// children. The root entry, when included, is always canonicalized and
// absolute regardless of the other flags.
type DirRead struct {
	Path         string `codec:"path"`
	Depth        uint64 `codec:"depth"`
	Absolute     bool   `codec:"absolute"`
	Canonicalize bool   `codec:"canonicalize"`
	IncludeRoot  bool   `codec:"include_root"`
}

type DirCreate struct {
	Path string `codec:"path"`
	All  bool   `codec:"all"`
}

// Removes a file or directory. Force enables recursive removal of non-empty
// directories.
type Remove struct {
	Path  string `codec:"path"`
	Force bool   `codec:"force"`
}

type Copy struct {
	Src string `codec:"src"`
	Dst string `codec:"dst"`
}

type Rename struct {
	Src string `codec:"src"`
	Dst string `codec:"dst"`
}

// Watches a path for filesystem changes, optionally filtered by kind. Only
// takes precedence as an allowlist; Except removes kinds from the result.
type Watch struct {
	Path      string       `codec:"path"`
	Recursive bool         `codec:"recursive"`
	Only      []ChangeKind `codec:"only"`
	Except    []ChangeKind `codec:"except"`
}

type Unwatch struct {
	Path string `codec:"path"`
}

type Exists struct {
	Path string `codec:"path"`
}

type MetadataRequest struct {
	Path            string `codec:"path"`
	Canonicalize    bool   `codec:"canonicalize"`
	ResolveFileType bool   `codec:"resolve_file_type"`
}

type SetPermissions struct {
	Path        string             `codec:"path"`
	Permissions Permissions        `codec:"permissions"`
	Options     PermissionsOptions `codec:"options"`
}

type Search struct {
	Query SearchQuery `codec:"query"`
}

type CancelSearch struct {
	ID SearchID `codec:"id"`
}

// Spawns a process. The environment map is explicit: the server never leaks
// its own environment into children unless asked via the environment map.
type ProcSpawn struct {
	Cmd         string   `codec:"cmd"`
	Environment Map      `codec:"environment"`
	CurrentDir  string   `codec:"current_dir"`
	Pty         *PtySize `codec:"pty"`
}

type ProcKill struct {
	ID ProcessID `codec:"id"`
}

type ProcStdin struct {
	ID   ProcessID `codec:"id"`
	Data []byte    `codec:"data"`
}

type ProcResizePty struct {
	ID   ProcessID `codec:"id"`
	Size PtySize   `codec:"size"`
}

type SystemInfoRequest struct{}

type VersionRequest struct{}

// Heartbeat keeps half-open connections detectable; servers answer with Ok.
type Heartbeat struct{}

// ProcessID identifies a spawned process within a connection.
type ProcessID = uint32

// SearchID identifies an in-flight search within a connection.
type SearchID = uint32

// PtySize describes pseudo-terminal dimensions.
type PtySize struct {
	Rows        uint16 `codec:"rows"`
	Cols        uint16 `codec:"cols"`
	PixelWidth  uint16 `codec:"pixel_width"`
	PixelHeight uint16 `codec:"pixel_height"`
}

func (FileRead) payloadType() string        { return TypeFileRead }
func (FileReadText) payloadType() string    { return TypeFileReadText }
func (FileWrite) payloadType() string       { return TypeFileWrite }
func (FileWriteText) payloadType() string   { return TypeFileWriteText }
func (FileAppend) payloadType() string      { return TypeFileAppend }
func (FileAppendText) payloadType() string  { return TypeFileAppendText }
func (DirRead) payloadType() string         { return TypeDirRead }
func (DirCreate) payloadType() string       { return TypeDirCreate }
func (Remove) payloadType() string          { return TypeRemove }
func (Copy) payloadType() string            { return TypeCopy }
func (Rename) payloadType() string          { return TypeRename }
func (Watch) payloadType() string           { return TypeWatch }
func (Unwatch) payloadType() string         { return TypeUnwatch }
func (Exists) payloadType() string          { return TypeExists }
func (MetadataRequest) payloadType() string { return TypeMetadata }
func (SetPermissions) payloadType() string  { return TypeSetPermissions }
func (Search) payloadType() string          { return TypeSearch }
func (CancelSearch) payloadType() string    { return TypeCancelSearch }
func (ProcSpawn) payloadType() string       { return TypeProcSpawn }
func (ProcKill) payloadType() string        { return TypeProcKill }
func (ProcStdin) payloadType() string       { return TypeProcStdin }
func (ProcResizePty) payloadType() string   { return TypeProcResizePty }
func (SystemInfoRequest) payloadType() string { return TypeSystemInfo }
func (VersionRequest) payloadType() string  { return TypeVersion }
func (Heartbeat) payloadType() string       { return TypeHeartbeat }

var requestFactories = map[string]func() RequestPayload{
	TypeFileRead:       func() RequestPayload { return &FileRead{} },
	TypeFileReadText:   func() RequestPayload { return &FileReadText{} },
	TypeFileWrite:      func() RequestPayload { return &FileWrite{} },
	TypeFileWriteText:  func() RequestPayload { return &FileWriteText{} },
	TypeFileAppend:     func() RequestPayload { return &FileAppend{} },
	TypeFileAppendText: func() RequestPayload { return &FileAppendText{} },
	TypeDirRead:        func() RequestPayload { return &DirRead{} },
	TypeDirCreate:      func() RequestPayload { return &DirCreate{} },
	TypeRemove:         func() RequestPayload { return &Remove{} },
	TypeCopy:           func() RequestPayload { return &Copy{} },
	TypeRename:         func() RequestPayload { return &Rename{} },
	TypeWatch:          func() RequestPayload { return &Watch{} },
	TypeUnwatch:        func() RequestPayload { return &Unwatch{} },
	TypeExists:         func() RequestPayload { return &Exists{} },
	TypeMetadata:       func() RequestPayload { return &MetadataRequest{} },
	TypeSetPermissions: func() RequestPayload { return &SetPermissions{} },
	TypeSearch:         func() RequestPayload { return &Search{} },
	TypeCancelSearch:   func() RequestPayload { return &CancelSearch{} },
	TypeProcSpawn:      func() RequestPayload { return &ProcSpawn{} },
	TypeProcKill:       func() RequestPayload { return &ProcKill{} },
	TypeProcStdin:      func() RequestPayload { return &ProcStdin{} },
	TypeProcResizePty:  func() RequestPayload { return &ProcResizePty{} },
	TypeSystemInfo:     func() RequestPayload { return &SystemInfoRequest{} },
	TypeVersion:        func() RequestPayload { return &VersionRequest{} },
	TypeHeartbeat:      func() RequestPayload { return &Heartbeat{} },
}

func decodeRequestPayload(raw []byte) (RequestPayload, error) {
	typ, data, err := decodeTagged(raw)
	if err != nil {
		return nil, err
	}
	factory, ok := requestFactories[typ]
	if !ok {
		return nil, fmt.Errorf("unknown request type %q", typ)
	}
	payload := factory()
	if len(data) > 0 {
		if err := unmarshalPayload(data, payload); err != nil {
			return nil, fmt.Errorf("decoding %q payload: %w", typ, err)
		}
	}
	return payload, nil
}
