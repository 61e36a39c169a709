package crypt

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/jsondb/internal/record"
)

// placeholder matches @NAME@ and @ENC:NAME@.
var placeholder = regexp.MustCompile(`@(ENC:)?([A-Za-z_][A-Za-z0-9_]*)@`)

// Substitute replaces placeholders inside a JSON document before it is
// stored. @NAME@ becomes the value of NAME; @ENC:NAME@ becomes the sealed
// form of that value. Replacements are JSON-escaped, so placeholders belong
// inside string literals. Every referenced name must resolve.
func Substitute(doc []byte, lookup func(name string) (string, bool), c *Cipher) ([]byte, error) {
	var (
		missing  = map[string]bool{}
		firstErr error
	)

	out := placeholder.ReplaceAllFunc(doc, func(m []byte) []byte {
		sub := placeholder.FindSubmatch(m)
		enc, name := len(sub[1]) > 0, string(sub[2])

		val, ok := lookup(name)
		if !ok {
			missing[name] = true
			return m
		}
		if enc {
			if c == nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("placeholder @ENC:%s@: no encryption key configured", name)
				}
				return m
			}
			sealed, err := c.EncryptString(val)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("placeholder @ENC:%s@: %w", name, err)
				}
				return m
			}
			val = sealed
		}
		quoted := record.AppendQuoted(nil, val)
		return quoted[1 : len(quoted)-1]
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unresolved placeholders: %s", strings.Join(names, ", "))
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
