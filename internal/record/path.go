package record

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/jsondb/internal/dberr"
)

// Root is the DB key of the document root.
const Root = "/"

// MaxSegmentLength is the longest accepted path segment, in characters.
const MaxSegmentLength = 768

// Path is a parsed document path: human-readable segments, root first.
// Array positions are plain decimal segments ("0", "12").
type Path []string

// ParsePath parses a slash-delimited path. Empty segments are dropped, so
// "a/b", "/a/b/" and "//a//b" are the same path. "" and "/" are the root.
// Every segment is NFC-normalized and validated.
func ParsePath(s string) (Path, error) {
	var p Path
	for _, seg := range strings.Split(s, "/") {
		if seg == "" {
			continue
		}
		seg = norm.NFC.String(seg)
		if problem := segmentProblem(seg); problem != "" {
			return nil, dberr.InvalidPath(s, "%s", problem)
		}
		p = append(p, seg)
	}
	return p, nil
}

// String returns the canonical human form, "/" for the root.
func (p Path) String() string {
	return "/" + strings.Join(p, "/")
}

// Key returns the DB key for p.
func (p Path) Key() string {
	if len(p) == 0 {
		return Root
	}
	var b strings.Builder
	b.WriteByte('/')
	for _, seg := range p {
		b.WriteString(EncodeSegment(seg))
		b.WriteByte('/')
	}
	return b.String()
}

// KeyOf parses a human path and returns its DB key.
func KeyOf(s string) (string, error) {
	p, err := ParsePath(s)
	if err != nil {
		return "", err
	}
	return p.Key(), nil
}

// ValidateSegment checks a single path segment or object member name.
// Segments cannot be empty, contain . % $ # [ ] / or ASCII control
// characters 0-31 and 127, or exceed MaxSegmentLength characters.
func ValidateSegment(seg string) error {
	if problem := segmentProblem(seg); problem != "" {
		return dberr.InvalidPath(seg, "%s", problem)
	}
	return nil
}

func segmentProblem(seg string) string {
	if seg == "" {
		return "empty segment"
	}
	n := 0
	for _, r := range seg {
		n++
		switch {
		case r == '.', r == '%', r == '$', r == '#', r == '[', r == ']', r == '/':
			return fmt.Sprintf("segment %q cannot contain %q", seg, r)
		case r < 32, r == 127:
			return fmt.Sprintf("segment %q cannot contain control character %#x", seg, r)
		}
	}
	if n > MaxSegmentLength {
		return fmt.Sprintf("segment longer than %d characters", MaxSegmentLength)
	}
	return ""
}

// EncodeSegment converts a human segment into its stored form. All-digit
// segments are array positions and become index segments.
func EncodeSegment(seg string) string {
	if !isDigits(seg) {
		return seg
	}
	i, err := strconv.Atoi(seg)
	if err != nil {
		// Out of int range; keep it as a member name.
		return seg
	}
	return IndexSegment(i)
}

// DecodeSegment converts a stored segment back into its human form.
func DecodeSegment(seg string) string {
	if !IsIndexSegment(seg) {
		return seg
	}
	i, err := ParseIndex(seg)
	if err != nil {
		return seg
	}
	return strconv.Itoa(i)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Segments splits a DB key into its stored segments. The root has none.
func Segments(key string) []string {
	trimmed := strings.Trim(key, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Relative returns the stored segments of key below base. key must be base
// itself or a descendant of it.
func Relative(base, key string) []string {
	return Segments(key[len(base):])
}

// Join appends stored segments to a DB key.
func Join(base string, segs ...string) string {
	var b strings.Builder
	b.WriteString(base)
	for _, s := range segs {
		b.WriteString(s)
		b.WriteByte('/')
	}
	return b.String()
}

// Parent returns the DB key of key's parent. The root has no parent.
func Parent(key string) (string, bool) {
	if key == Root {
		return "", false
	}
	i := strings.LastIndexByte(key[:len(key)-1], '/')
	return key[:i+1], true
}

// Ancestors returns the proper ancestors of key, root first.
func Ancestors(key string) []string {
	var out []string
	for i := 0; i < len(key)-1; i++ {
		if key[i] == '/' {
			out = append(out, key[:i+1])
		}
	}
	return out
}

// Depth returns the number of segments in key.
func Depth(key string) int {
	return strings.Count(key, "/") - 1
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix. Keys always end in '/', so the last byte is bumped to '0'.
func PrefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

// HumanPath renders a DB key as a human path.
func HumanPath(key string) string {
	segs := Segments(key)
	for i, s := range segs {
		segs[i] = DecodeSegment(s)
	}
	return "/" + strings.Join(segs, "/")
}
