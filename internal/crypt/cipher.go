// Package crypt encrypts sensitive leaves before they reach the Path Index
// and decrypts them on the way out.
//
// Sealed values use XChaCha20-Poly1305 with a key derived by HKDF-SHA256 from
// the configured secret. Strings that carry SealedPrefix are ciphertext
// produced by this package, either at bootstrap (Substitute) or by a
// collaborator calling EncryptString.
package crypt

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"lukechampine.com/frand"

	"github.com/roach88/jsondb/internal/record"
)

// SealedPrefix marks a string value as ciphertext.
const SealedPrefix = "»ENC:"

// MinSecretLength is the shortest secret NewCipher accepts.
const MinSecretLength = 16

const (
	version byte = 1
	kdfSalt      = "jsondb/leaf-encryption"
)

// ErrDecrypt is returned when ciphertext cannot be opened with the key.
var ErrDecrypt = errors.New("decrypt failed")

// Cipher seals and opens byte strings.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives a key from secret.
func NewCipher(secret string) (*Cipher, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("encryption secret must be at least %d bytes", MinSecretLength)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), []byte(kdfSalt), []byte{version})
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt returns base64(version || nonce || sealed plaintext).
func (c *Cipher) Encrypt(plain []byte) (string, error) {
	nonce := frand.Bytes(c.aead.NonceSize())

	out := make([]byte, 0, 1+len(nonce)+len(plain)+c.aead.Overhead())
	out = append(out, version)
	out = append(out, nonce...)
	out = c.aead.Seal(out, nonce, plain, []byte{version})
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(text string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < 1+ns+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	if raw[0] != version {
		return nil, fmt.Errorf("%w: unknown version %d", ErrDecrypt, raw[0])
	}
	plain, err := c.aead.Open(nil, raw[1:1+ns], raw[1+ns:], []byte{version})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}

// EncryptString returns SealedPrefix followed by the ciphertext of s stored
// as a string leaf, the form Seal accepts and Open restores.
func (c *Cipher) EncryptString(s string) (string, error) {
	text, err := c.Encrypt(record.String(s).Encode())
	if err != nil {
		return "", err
	}
	return SealedPrefix + text, nil
}

// DecryptString opens a string produced by EncryptString. Strings without
// SealedPrefix are returned unchanged.
func (c *Cipher) DecryptString(s string) (string, error) {
	text, ok := strings.CutPrefix(s, SealedPrefix)
	if !ok {
		return s, nil
	}
	plain, err := c.Decrypt(text)
	if err != nil {
		return "", err
	}
	leaf, err := record.DecodeLeaf(plain)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if leaf.Kind != record.KindString {
		return "", fmt.Errorf("%w: sealed %s, not a string", ErrDecrypt, leaf.Kind)
	}
	return leaf.Text, nil
}
