// Package cryptox holds the client-side encryption primitives: an opaque
// AES-256 key type, AES-256-GCM sealing with a fresh random IV per call, and
// password-based key derivation (PBKDF2-HMAC-SHA256 or Argon2id).
//
// Nothing in this package performs I/O or logging, and no error message
// carries key or plaintext material.
package cryptox

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dmitrijs2005/zkdrop/internal/common"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

const redacted = "cryptox.Key(REDACTED)"

var (
	ErrInvalidKeyLength   = errors.New("invalid key length")
	ErrKeyNotSerializable = errors.New("key material is not serializable")
)

// Key is raw symmetric key material. The backing bytes are unexported and
// every formatting or serialization path renders a redaction marker, so a
// Key accidentally passed to a logger or encoder never leaks.
type Key struct {
	b []byte
}

// GenerateKey returns a fresh random 256-bit key.
func GenerateKey() (*Key, error) {
	b := make([]byte, KeySize)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Key{b: b}, nil
}

// KeyFromBytes copies b into a new Key. The caller keeps ownership of b and
// should wipe it.
func KeyFromBytes(b []byte) (*Key, error) {
	if len(b) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	c := make([]byte, KeySize)
	copy(c, b)
	return &Key{b: c}, nil
}

// Bytes returns a copy of the key material.
func (k Key) Bytes() []byte {
	c := make([]byte, len(k.b))
	copy(c, k.b)
	return c
}

// Len reports the key length in bytes.
func (k Key) Len() int { return len(k.b) }

// Wipe zeroes the backing memory. The key is unusable afterwards.
func (k Key) Wipe() { common.WipeByteArray(k.b) }

func (k Key) String() string   { return redacted }
func (k Key) GoString() string { return redacted }

// Format covers every fmt verb, including %x and %v with flags.
func (k Key) Format(f fmt.State, _ rune) { _, _ = io.WriteString(f, redacted) }

// LogValue implements slog.LogValuer.
func (k Key) LogValue() slog.Value { return slog.StringValue(redacted) }

func (k Key) MarshalJSON() ([]byte, error) { return nil, ErrKeyNotSerializable }
func (k Key) MarshalText() ([]byte, error) { return nil, ErrKeyNotSerializable }

func (k *Key) valid() bool {
	return k != nil && len(k.b) == KeySize
}
