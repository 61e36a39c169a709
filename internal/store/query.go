package store

import (
	"strings"
)

// scanQuery describes one page of a key range scan.
//
// Every query orders by path so pagination and iteration order are
// deterministic. All bounds are parameterized, never interpolated.
type scanQuery struct {
	lower          string
	lowerExclusive bool
	upper          string // exclusive; empty means unbounded
	reverse        bool
	limit          int
}

// build returns the SQL text and its parameters.
func (q scanQuery) build() (string, []any) {
	var sb strings.Builder
	params := make([]any, 0, 3)

	sb.WriteString("SELECT path, value FROM jsondb WHERE ")
	if q.lowerExclusive {
		sb.WriteString("path > ?")
	} else {
		sb.WriteString("path >= ?")
	}
	params = append(params, q.lower)

	if q.upper != "" {
		sb.WriteString(" AND path < ?")
		params = append(params, q.upper)
	}

	// MANDATORY: stable ordering
	if q.reverse {
		sb.WriteString(" ORDER BY path DESC")
	} else {
		sb.WriteString(" ORDER BY path ASC")
	}

	if q.limit > 0 {
		sb.WriteString(" LIMIT ?")
		params = append(params, q.limit)
	}

	return sb.String(), params
}

// deleteQuery returns the statement deleting keys in [start, end).
func deleteQuery(start, end string) (string, []any) {
	if end == "" {
		return "DELETE FROM jsondb WHERE path >= ?", []any{start}
	}
	return "DELETE FROM jsondb WHERE path >= ? AND path < ?", []any{start, end}
}
