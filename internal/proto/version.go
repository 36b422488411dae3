package proto

import (
	"fmt"

	goversion "github.com/hashicorp/go-version"
)

// Version is a semantic protocol version. Compatibility follows the usual
// semver rule: equal non-zero majors are compatible when the candidate's
// minor is at least ours; a zero major requires an identical minor.
type Version struct {
	Major uint64 `codec:"major"`
	Minor uint64 `codec:"minor"`
	Patch uint64 `codec:"patch"`
}

func NewVersion(major, minor, patch uint64) Version {
	return Version{Major: major, Minor: minor, Patch: patch}
}

// ParseVersion parses a semver string such as "1.2.3".
func ParseVersion(s string) (Version, error) {
	v, err := goversion.NewSemver(s)
	if err != nil {
		return Version{}, fmt.Errorf("bad version %q: %w", s, err)
	}
	segments := v.Segments64()
	out := Version{}
	if len(segments) > 0 {
		out.Major = uint64(segments[0])
	}
	if len(segments) > 1 {
		out.Minor = uint64(segments[1])
	}
	if len(segments) > 2 {
		out.Patch = uint64(segments[2])
	}
	return out, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// IsCompatibleWith reports whether a peer speaking other can interoperate
// with us.
func (v Version) IsCompatibleWith(other Version) bool {
	if v.Major != other.Major {
		return false
	}
	if v.Major == 0 {
		return v.Minor == other.Minor
	}
	return v.Minor <= other.Minor
}

// ProtocolVersion is the payload protocol spoken by this build.
var ProtocolVersion = Version{Major: 1, Minor: 0, Patch: 0}

// VersionResponse reports what the server runs and supports.
type VersionResponse struct {
	ServerVersion   string   `codec:"server_version"`
	ProtocolVersion Version  `codec:"protocol_version"`
	Capabilities    []string `codec:"capabilities"`
}

// DefaultCapabilities lists every operation family this server answers.
var DefaultCapabilities = []string{
	"fs_io", "fs_perm", "fs_search", "fs_watch", "proc", "sys_info",
}
