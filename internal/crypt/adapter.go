package crypt

import (
	"fmt"
	"iter"
	"strings"

	"github.com/roach88/jsondb/internal/dberr"
	"github.com/roach88/jsondb/internal/record"
)

// Adapter seals marked leaves on write and opens sealed leaves on read. A nil
// Adapter passes writes through and treats any sealed leaf as corrupt.
type Adapter struct {
	cipher *Cipher
	marker *Marker
}

// NewAdapter combines a cipher (may be nil) and a marker (may be nil).
func NewAdapter(c *Cipher, m *Marker) *Adapter {
	return &Adapter{cipher: c, marker: m}
}

// Cipher returns the configured cipher, or nil.
func (a *Adapter) Cipher() *Cipher {
	if a == nil {
		return nil
	}
	return a.cipher
}

// Marker returns the configured marker, or nil.
func (a *Adapter) Marker() *Marker {
	if a == nil {
		return nil
	}
	return a.marker
}

// Seal prepares an entry for storage. Strings already carrying SealedPrefix
// are stored as sealed leaves once they are shown to open with the configured
// key; without a key they are InvalidDocument. Marked scalar leaves are
// encrypted.
func (a *Adapter) Seal(e record.Entry) (record.Entry, error) {
	if e.Value.Kind == record.KindString {
		if text, ok := strings.CutPrefix(e.Value.Text, SealedPrefix); ok {
			human := record.HumanPath(e.Key)
			c := a.Cipher()
			if c == nil {
				return e, dberr.InvalidDocument(human, "value carries the sealed prefix but no encryption key is configured", nil)
			}
			plain, err := c.Decrypt(text)
			if err != nil {
				return e, dberr.InvalidDocument(human, "value carries the sealed prefix but does not decrypt", err)
			}
			if _, err := record.DecodeLeaf(plain); err != nil {
				return e, dberr.InvalidDocument(human, "sealed value does not hold a leaf", err)
			}
			e.Value = record.Sealed(text)
			return e, nil
		}
	}

	if a == nil || !a.marker.Sensitive(e.Key) {
		return e, nil
	}
	switch e.Value.Kind {
	case record.KindString, record.KindNumber, record.KindTrue, record.KindFalse:
	default:
		return e, nil
	}

	if a.cipher == nil {
		return e, fmt.Errorf("seal %s: sensitive leaf but no encryption key configured", record.HumanPath(e.Key))
	}
	text, err := a.cipher.Encrypt(e.Value.Encode())
	if err != nil {
		return e, fmt.Errorf("seal %s: %w", record.HumanPath(e.Key), err)
	}
	e.Value = record.Sealed(text)
	return e, nil
}

// Open reverses Seal. Failure to decrypt a sealed leaf is CorruptData.
// Marked leaves still stored in plaintext are returned as stored.
func (a *Adapter) Open(e record.Entry) (record.Entry, error) {
	if e.Value.Kind != record.KindSealed {
		return e, nil
	}
	human := record.HumanPath(e.Key)

	c := a.Cipher()
	if c == nil {
		return e, dberr.CorruptData(human, "sealed leaf but no encryption key configured", nil)
	}
	plain, err := c.Decrypt(e.Value.Text)
	if err != nil {
		return e, dberr.CorruptData(human, "cannot decrypt sealed leaf", err)
	}
	leaf, err := record.DecodeLeaf(plain)
	if err != nil {
		return e, dberr.CorruptData(human, "decrypted leaf does not decode", err)
	}
	e.Value = leaf
	return e, nil
}

// SealSeq applies Seal to every entry.
func (a *Adapter) SealSeq(entries iter.Seq2[record.Entry, error]) iter.Seq2[record.Entry, error] {
	return mapSeq(entries, a.Seal)
}

// OpenSeq applies Open to every entry.
func (a *Adapter) OpenSeq(entries iter.Seq2[record.Entry, error]) iter.Seq2[record.Entry, error] {
	return mapSeq(entries, a.Open)
}

func mapSeq(entries iter.Seq2[record.Entry, error], fn func(record.Entry) (record.Entry, error)) iter.Seq2[record.Entry, error] {
	return func(yield func(record.Entry, error) bool) {
		for e, err := range entries {
			if err == nil {
				e, err = fn(e)
			}
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// Armor returns a sealed leaf as the prefixed string Seal turns back into
// it, so ciphertext can travel through JSON without a key. Other entries are
// returned unchanged.
func Armor(e record.Entry) record.Entry {
	if e.Value.Kind == record.KindSealed {
		e.Value = record.String(SealedPrefix + e.Value.Text)
	}
	return e
}
