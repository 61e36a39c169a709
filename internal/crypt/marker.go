package crypt

import (
	"fmt"
	"path"

	"github.com/roach88/jsondb/internal/record"
)

// Marker decides which leaves are sensitive. Markers are configuration; they
// are never stored.
type Marker struct {
	patterns []string
	fields   map[string]bool
}

// NewMarker builds a marker from path patterns (path.Match syntax, matched
// against the human path, e.g. /connections/*/password) and member names
// that are sensitive wherever they appear. A pattern also marks everything
// below a matching location.
func NewMarker(patterns, fields []string) (*Marker, error) {
	m := &Marker{fields: make(map[string]bool, len(fields))}
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("sensitive path %q: %w", p, err)
		}
		m.patterns = append(m.patterns, p)
	}
	for _, f := range fields {
		m.fields[f] = true
	}
	return m, nil
}

// Empty reports whether nothing is marked.
func (m *Marker) Empty() bool {
	return m == nil || (len(m.patterns) == 0 && len(m.fields) == 0)
}

// Sensitive reports whether the leaf at the DB key must be sealed.
func (m *Marker) Sensitive(key string) bool {
	if m.Empty() {
		return false
	}

	segs := record.Segments(key)
	if len(segs) > 0 && m.fields[record.DecodeSegment(segs[len(segs)-1])] {
		return true
	}

	human := "/"
	for i, seg := range segs {
		if i > 0 {
			human += "/"
		}
		human += record.DecodeSegment(seg)
		for _, p := range m.patterns {
			if ok, _ := path.Match(p, human); ok {
				return true
			}
		}
	}
	return false
}
