package distant

import "github.com/chipsenkbeil/distant-go/internal/proto"

// Re-exported wire types used by the public API.

type (
	Metadata        = proto.Metadata
	UnixMetadata    = proto.UnixMetadata
	WindowsMetadata = proto.WindowsMetadata
	FileType        = proto.FileType
	DirEntry        = proto.DirEntry
	DirEntries      = proto.DirEntries
	Permissions     = proto.Permissions

	ChangeKind = proto.ChangeKind
	Change     = proto.Changed

	SearchQuery        = proto.SearchQuery
	SearchTarget       = proto.SearchTarget
	SearchCondition    = proto.SearchCondition
	SearchQueryOptions = proto.SearchQueryOptions
	SearchMatch        = proto.SearchMatch
	SearchID           = proto.SearchID

	ProcessID = proto.ProcessID
	PtySize   = proto.PtySize

	SystemInfo      = proto.SystemInfo
	VersionResponse = proto.VersionResponse
	ProtocolVersion = proto.Version

	Map          = proto.Map
	ConnectionID = proto.ConnectionID
)

const (
	FileTypeDir     = proto.FileTypeDir
	FileTypeFile    = proto.FileTypeFile
	FileTypeSymlink = proto.FileTypeSymlink

	SearchTargetPath     = proto.SearchTargetPath
	SearchTargetContents = proto.SearchTargetContents
)

// Search condition constructors.
var (
	Contains   = proto.ConditionContainsValue
	EndsWith   = proto.ConditionEndsWithValue
	Equals     = proto.ConditionEqualsValue
	StartsWith = proto.ConditionStartsWithValue
	Regex      = proto.ConditionRegexValue
	AnyOf      = proto.ConditionOrValue
)

// Change kinds usable in watch filters.
const (
	ChangeAccess      = proto.ChangeAccess
	ChangeCreate      = proto.ChangeCreate
	ChangeContent     = proto.ChangeContent
	ChangeData        = proto.ChangeData
	ChangeMetadata    = proto.ChangeMetadata
	ChangeModify      = proto.ChangeModify
	ChangeRemove      = proto.ChangeRemove
	ChangeRename      = proto.ChangeRename
	ChangePermissions = proto.ChangePermissions
	ChangeUnknown     = proto.ChangeUnknown
)
