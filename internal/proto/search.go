package proto

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ugorji/go/codec"

	"github.com/chipsenkbeil/distant-go/internal/msgpack"
)

// SearchQuery asks the server to scan the filesystem for matches.
type SearchQuery struct {
	Target    SearchTarget       `codec:"target"`
	Condition SearchCondition    `codec:"condition"`
	Paths     []string           `codec:"paths"`
	Options   SearchQueryOptions `codec:"options"`
}

// SearchTarget selects what the condition is matched against.
type SearchTarget string

const (
	// Checks the path of a file, directory, or symlink.
	SearchTargetPath SearchTarget = "path"

	// Checks the contents of files.
	SearchTargetContents SearchTarget = "contents"
)

// SearchCondition is the match rule. Literal variants are regex-escaped; Or
// joins its children with alternation.
type SearchCondition struct {
	Type  string `codec:"type"`
	Value string `codec:"value,omitempty"`

	// Populated only for the "or" variant.
	Children []SearchCondition `codec:"children,omitempty"`
}

const (
	ConditionContains   = "contains"
	ConditionEndsWith   = "ends_with"
	ConditionEquals     = "equals"
	ConditionOr         = "or"
	ConditionRegex      = "regex"
	ConditionStartsWith = "starts_with"
)

func ConditionContainsValue(value string) SearchCondition {
	return SearchCondition{Type: ConditionContains, Value: value}
}

func ConditionEndsWithValue(value string) SearchCondition {
	return SearchCondition{Type: ConditionEndsWith, Value: value}
}

func ConditionEqualsValue(value string) SearchCondition {
	return SearchCondition{Type: ConditionEquals, Value: value}
}

func ConditionRegexValue(value string) SearchCondition {
	return SearchCondition{Type: ConditionRegex, Value: value}
}

func ConditionStartsWithValue(value string) SearchCondition {
	return SearchCondition{Type: ConditionStartsWith, Value: value}
}

func ConditionOrValue(children ...SearchCondition) SearchCondition {
	return SearchCondition{Type: ConditionOr, Children: children}
}

// ToRegexString renders the condition as a single regular expression.
func (c SearchCondition) ToRegexString() string {
	switch c.Type {
	case ConditionContains:
		return regexp.QuoteMeta(c.Value)
	case ConditionEndsWith:
		return regexp.QuoteMeta(c.Value) + "$"
	case ConditionEquals:
		return "^" + regexp.QuoteMeta(c.Value) + "$"
	case ConditionStartsWith:
		return "^" + regexp.QuoteMeta(c.Value)
	case ConditionRegex:
		return c.Value
	case ConditionOr:
		parts := make([]string, 0, len(c.Children))
		for _, child := range c.Children {
			parts = append(parts, child.ToRegexString())
		}
		return strings.Join(parts, "|")
	default:
		return regexp.QuoteMeta(c.Value)
	}
}

// Compile builds the matcher for this condition.
func (c SearchCondition) Compile() (*regexp.Regexp, error) {
	re, err := regexp.Compile(c.ToRegexString())
	if err != nil {
		return nil, fmt.Errorf("bad search condition: %w", err)
	}
	return re, nil
}

// SearchQueryOptions tune traversal and result delivery.
type SearchQueryOptions struct {
	// Restrict search to these file types; empty means all.
	AllowedFileTypes []FileType `codec:"allowed_file_types"`

	// Only paths matching include (and not matching exclude) are searched.
	Include *SearchCondition `codec:"include"`
	Exclude *SearchCondition `codec:"exclude"`

	// Walk upward through ancestors of each path, scanning each ancestor's
	// immediate entries, instead of descending.
	Upward bool `codec:"upward"`

	FollowSymbolicLinks bool `codec:"follow_symbolic_links"`

	// Stop after this many matches; zero means unlimited.
	Limit uint64 `codec:"limit"`

	// Do not descend past this depth; zero means unlimited. The given path
	// itself is depth 0.
	MaxDepth uint64 `codec:"max_depth"`

	// Emit results in batches of this size; zero sends everything at the
	// end. A final partial batch is always emitted.
	Pagination uint64 `codec:"pagination"`
}

// SearchMatch is a single hit, either a path match or a contents match. It is
// adjacently tagged on the wire like the payload unions.
type SearchMatch struct {
	Path     *SearchPathMatch
	Contents *SearchContentsMatch
}

// SearchPathMatch is a path whose string form satisfied the condition.
type SearchPathMatch struct {
	Path       string           `codec:"path"`
	Submatches []SearchSubmatch `codec:"submatches"`
}

// SearchContentsMatch is a line within a file that satisfied the condition.
type SearchContentsMatch struct {
	Path string `codec:"path"`

	// The matched line, without its trailing newline.
	Lines string `codec:"lines"`

	// 1-based line number.
	LineNumber uint64 `codec:"line_number"`

	// Byte offset of the line's start from the start of the file.
	AbsoluteOffset uint64 `codec:"absolute_offset"`

	Submatches []SearchSubmatch `codec:"submatches"`
}

// SearchSubmatch is a byte range within the matched line or path.
type SearchSubmatch struct {
	Match string `codec:"match"`
	Start uint64 `codec:"start"`
	End   uint64 `codec:"end"`
}

const (
	matchTypePath     = "path"
	matchTypeContents = "contents"
)

func (m *SearchMatch) CodecEncodeSelf(e *codec.Encoder) {
	var raw codec.Raw
	var err error
	switch {
	case m.Path != nil:
		raw, err = encodeTagged(matchTypePath, m.Path)
	case m.Contents != nil:
		raw, err = encodeTagged(matchTypeContents, m.Contents)
	default:
		err = fmt.Errorf("empty search match")
	}
	if err != nil {
		panic(err)
	}
	e.MustEncode(raw)
}

func (m *SearchMatch) CodecDecodeSelf(d *codec.Decoder) {
	var raw codec.Raw
	d.MustDecode(&raw)
	typ, data, err := decodeTagged(raw)
	if err != nil {
		panic(err)
	}
	switch typ {
	case matchTypePath:
		m.Path = new(SearchPathMatch)
		err = msgpack.Unmarshal(data, m.Path)
	case matchTypeContents:
		m.Contents = new(SearchContentsMatch)
		err = msgpack.Unmarshal(data, m.Contents)
	default:
		err = fmt.Errorf("unknown search match type %q", typ)
	}
	if err != nil {
		panic(err)
	}
}
