package proto

import (
	"sort"
	"strings"
)

// ChangeKind classifies a filesystem event.
type ChangeKind string

const (
	// Something about a file or directory was accessed, with no detail.
	ChangeAccess ChangeKind = "access"

	ChangeAccessCloseExecute ChangeKind = "access_close_execute"
	ChangeAccessCloseRead    ChangeKind = "access_close_read"
	ChangeAccessCloseWrite   ChangeKind = "access_close_write"
	ChangeAccessOpenExecute  ChangeKind = "access_open_execute"
	ChangeAccessOpenRead     ChangeKind = "access_open_read"
	ChangeAccessOpenWrite    ChangeKind = "access_open_write"
	ChangeAccessRead         ChangeKind = "access_read"

	// The access time of a file or directory was changed.
	ChangeAccessTime ChangeKind = "access_time"

	ChangeCreate  ChangeKind = "create"
	ChangeContent ChangeKind = "content"

	// The data of a file or directory was modified, with no detail.
	ChangeData ChangeKind = "data"

	// The metadata of a file or directory was modified, with no detail.
	ChangeMetadata ChangeKind = "metadata"

	// Something about a file or directory was modified, with no detail.
	ChangeModify ChangeKind = "modify"

	ChangeRemove ChangeKind = "remove"

	ChangeRename     ChangeKind = "rename"
	ChangeRenameBoth ChangeKind = "rename_both"
	ChangeRenameFrom ChangeKind = "rename_from"
	ChangeRenameTo   ChangeKind = "rename_to"

	ChangeSize        ChangeKind = "size"
	ChangeOwnership   ChangeKind = "ownership"
	ChangePermissions ChangeKind = "permissions"
	ChangeWriteTime   ChangeKind = "write_time"

	ChangeUnknown ChangeKind = "unknown"
)

// AllChangeKinds returns every kind in sorted order.
func AllChangeKinds() []ChangeKind {
	kinds := []ChangeKind{
		ChangeAccess, ChangeAccessCloseExecute, ChangeAccessCloseRead,
		ChangeAccessCloseWrite, ChangeAccessOpenExecute, ChangeAccessOpenRead,
		ChangeAccessOpenWrite, ChangeAccessRead, ChangeAccessTime,
		ChangeCreate, ChangeContent, ChangeData, ChangeMetadata, ChangeModify,
		ChangeRemove, ChangeRename, ChangeRenameBoth, ChangeRenameFrom,
		ChangeRenameTo, ChangeSize, ChangeOwnership, ChangePermissions,
		ChangeWriteTime, ChangeUnknown,
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// IsAccessKind reports whether the kind describes any form of access.
func (k ChangeKind) IsAccessKind() bool {
	return k == ChangeAccess || k == ChangeAccessRead ||
		k.IsOpenAccessKind() || k.IsCloseAccessKind()
}

func (k ChangeKind) IsOpenAccessKind() bool {
	return k == ChangeAccessOpenExecute || k == ChangeAccessOpenRead || k == ChangeAccessOpenWrite
}

func (k ChangeKind) IsCloseAccessKind() bool {
	return k == ChangeAccessCloseExecute || k == ChangeAccessCloseRead || k == ChangeAccessCloseWrite
}

// IsModifyKind reports whether the kind describes a data or metadata
// modification.
func (k ChangeKind) IsModifyKind() bool {
	switch k {
	case ChangeModify, ChangeContent, ChangeData, ChangeSize,
		ChangeMetadata, ChangeAccessTime, ChangeWriteTime,
		ChangeOwnership, ChangePermissions:
		return true
	}
	return false
}

func (k ChangeKind) IsRenameKind() bool {
	switch k {
	case ChangeRename, ChangeRenameBoth, ChangeRenameFrom, ChangeRenameTo:
		return true
	}
	return false
}

// ChangeKindSet is an unordered collection of change kinds.
type ChangeKindSet map[ChangeKind]struct{}

func NewChangeKindSet(kinds ...ChangeKind) ChangeKindSet {
	s := make(ChangeKindSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

func (s ChangeKindSet) Contains(k ChangeKind) bool {
	_, ok := s[k]
	return ok
}

func (s ChangeKindSet) IsEmpty() bool { return len(s) == 0 }

// Kinds returns the set's members in sorted order.
func (s ChangeKindSet) Kinds() []ChangeKind {
	kinds := make([]ChangeKind, 0, len(s))
	for k := range s {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (s ChangeKindSet) String() string {
	parts := make([]string, 0, len(s))
	for _, k := range s.Kinds() {
		parts = append(parts, string(k))
	}
	return strings.Join(parts, ",")
}
