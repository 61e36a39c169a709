package record

import (
	"fmt"
	"strconv"
	"strings"
)

// IndexMarker prefixes every array index segment. Member names can never
// contain it, so index and member segments never collide.
const IndexMarker = '['

// IndexSegment encodes an array position so that byte order matches numeric
// order. The decimal digits are preceded by a chain of their lengths
// ("length of the length ...") and one marker per link of the chain:
//
//	0   -> [0
//	9   -> [9
//	10  -> [[210
//	123 -> [[3123
func IndexSegment(i int) string {
	if i < 0 {
		panic(fmt.Sprintf("record: negative array index %d", i))
	}
	seqs := []string{strconv.Itoa(i)}
	for s := seqs[0]; len(s) > 1; {
		s = strconv.Itoa(len(s))
		seqs = append(seqs, s)
	}

	var b strings.Builder
	for range seqs {
		b.WriteByte(IndexMarker)
	}
	for j := len(seqs) - 1; j >= 0; j-- {
		b.WriteString(seqs[j])
	}
	return b.String()
}

// IsIndexSegment reports whether seg is a stored array index.
func IsIndexSegment(seg string) bool {
	return len(seg) > 0 && seg[0] == IndexMarker
}

// ParseIndex decodes a segment produced by IndexSegment.
func ParseIndex(seg string) (int, error) {
	markers := 0
	for markers < len(seg) && seg[markers] == IndexMarker {
		markers++
	}
	if markers == 0 {
		return 0, fmt.Errorf("segment %q is not an array index", seg)
	}

	rest := seg[markers:]
	width := 1
	value := 0
	for link := 0; link < markers; link++ {
		if width > len(rest) {
			return 0, fmt.Errorf("array index %q is truncated", seg)
		}
		n, err := strconv.Atoi(rest[:width])
		if err != nil {
			return 0, fmt.Errorf("array index %q: %w", seg, err)
		}
		rest = rest[width:]
		value = n
		width = n
	}
	if rest != "" {
		return 0, fmt.Errorf("array index %q has trailing data", seg)
	}
	if IndexSegment(value) != seg {
		return 0, fmt.Errorf("array index %q is not canonical", seg)
	}
	return value, nil
}
