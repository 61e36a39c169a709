package record

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"
)

// Kind is the first byte of an encoded leaf.
type Kind byte

const (
	KindNull        Kind = 0x00
	KindFalse       Kind = 0x01
	KindTrue        Kind = 0x02
	KindNumber      Kind = 0x03
	KindEmptyObject Kind = 0x04
	KindEmptyArray  Kind = 0x05
	KindSealed      Kind = 0x06
	KindString      Kind = '`'
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindFalse, KindTrue:
		return "boolean"
	case KindNumber:
		return "number"
	case KindEmptyObject:
		return "object"
	case KindEmptyArray:
		return "array"
	case KindSealed:
		return "sealed"
	case KindString:
		return "string"
	}
	return fmt.Sprintf("kind(%#x)", byte(k))
}

// Leaf is a stored scalar, an empty container marker, or a sealed
// (encrypted) value. Text holds the string contents, the original JSON
// number text, or the base64 ciphertext.
type Leaf struct {
	Kind Kind
	Text string
}

var (
	Null        = Leaf{Kind: KindNull}
	True        = Leaf{Kind: KindTrue}
	False       = Leaf{Kind: KindFalse}
	EmptyObject = Leaf{Kind: KindEmptyObject}
	EmptyArray  = Leaf{Kind: KindEmptyArray}
)

// String returns a string leaf.
func String(s string) Leaf { return Leaf{Kind: KindString, Text: s} }

// Number returns a number leaf from JSON number text.
func Number(text string) Leaf { return Leaf{Kind: KindNumber, Text: text} }

// Bool returns a boolean leaf.
func Bool(b bool) Leaf {
	if b {
		return True
	}
	return False
}

// Sealed returns a sealed leaf holding base64 ciphertext.
func Sealed(ciphertext string) Leaf { return Leaf{Kind: KindSealed, Text: ciphertext} }

// IsContainerMarker reports whether l stands for an empty object or array.
func (l Leaf) IsContainerMarker() bool {
	return l.Kind == KindEmptyObject || l.Kind == KindEmptyArray
}

// Encode returns the stored form: the kind byte followed by Text.
func (l Leaf) Encode() []byte {
	b := make([]byte, 0, 1+len(l.Text))
	b = append(b, byte(l.Kind))
	return append(b, l.Text...)
}

// DecodeLeaf parses a stored leaf.
func DecodeLeaf(b []byte) (Leaf, error) {
	if len(b) == 0 {
		return Leaf{}, fmt.Errorf("empty leaf")
	}
	k := Kind(b[0])
	text := string(b[1:])
	switch k {
	case KindNull, KindFalse, KindTrue, KindEmptyObject, KindEmptyArray:
		if text != "" {
			return Leaf{}, fmt.Errorf("%s leaf has trailing data", k)
		}
	case KindNumber:
		if !json.Valid(b[1:]) {
			return Leaf{}, fmt.Errorf("invalid number %q", text)
		}
	case KindString, KindSealed:
	default:
		return Leaf{}, fmt.Errorf("unknown leaf kind %#x", b[0])
	}
	return Leaf{Kind: k, Text: text}, nil
}

// AppendJSON appends the JSON text of l to dst. Sealed leaves have no JSON
// form and must be opened first.
func (l Leaf) AppendJSON(dst []byte) ([]byte, error) {
	switch l.Kind {
	case KindNull:
		return append(dst, "null"...), nil
	case KindTrue:
		return append(dst, "true"...), nil
	case KindFalse:
		return append(dst, "false"...), nil
	case KindNumber:
		return append(dst, l.Text...), nil
	case KindString:
		return AppendQuoted(dst, l.Text), nil
	case KindEmptyObject:
		return append(dst, "{}"...), nil
	case KindEmptyArray:
		return append(dst, "[]"...), nil
	}
	return dst, fmt.Errorf("cannot render %s leaf as JSON", l.Kind)
}

// Value returns l as a generic JSON value: nil, bool, json.Number, string,
// an empty map or an empty slice.
func (l Leaf) Value() (any, error) {
	switch l.Kind {
	case KindNull:
		return nil, nil
	case KindTrue:
		return true, nil
	case KindFalse:
		return false, nil
	case KindNumber:
		return json.Number(l.Text), nil
	case KindString:
		return l.Text, nil
	case KindEmptyObject:
		return map[string]any{}, nil
	case KindEmptyArray:
		return []any{}, nil
	}
	return nil, fmt.Errorf("cannot convert %s leaf to a value", l.Kind)
}

// LeafOf converts a generic scalar JSON value into a leaf. Empty maps and
// slices become container markers; other containers are rejected.
func LeafOf(v any) (Leaf, error) {
	switch val := v.(type) {
	case nil:
		return Null, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		if !json.Valid([]byte(val)) {
			return Leaf{}, fmt.Errorf("invalid number %q", val)
		}
		return Number(val.String()), nil
	case int:
		return Number(strconv.Itoa(val)), nil
	case int64:
		return Number(strconv.FormatInt(val, 10)), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return Leaf{}, fmt.Errorf("number %v has no JSON form", val)
		}
		return Number(strconv.FormatFloat(val, 'g', -1, 64)), nil
	case map[string]any:
		if len(val) == 0 {
			return EmptyObject, nil
		}
	case []any:
		if len(val) == 0 {
			return EmptyArray, nil
		}
	}
	return Leaf{}, fmt.Errorf("value of type %T is not a leaf", v)
}

const hexDigits = "0123456789abcdef"

// AppendQuoted appends s as a JSON string. HTML characters are not escaped;
// invalid UTF-8 is replaced with U+FFFD; U+2028 and U+2029 are escaped so the
// output is also safe inside a script callback.
func AppendQuoted(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch {
			case c == '"', c == '\\':
				dst = append(dst, '\\', c)
			case c == '\n':
				dst = append(dst, '\\', 'n')
			case c == '\r':
				dst = append(dst, '\\', 'r')
			case c == '\t':
				dst = append(dst, '\\', 't')
			case c < 0x20:
				dst = append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
			default:
				dst = append(dst, c)
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			dst = append(dst, `\ufffd`...)
		case r == '\u2028':
			dst = append(dst, `\u2028`...)
		case r == '\u2029':
			dst = append(dst, `\u2029`...)
		default:
			dst = append(dst, s[i:i+size]...)
		}
		i += size
	}
	return append(dst, '"')
}
