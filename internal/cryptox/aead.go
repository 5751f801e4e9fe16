package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// AlgorithmAES256GCM is the only algorithm identifier accepted in public
	// metadata.
	AlgorithmAES256GCM = "AES-256-GCM"

	IVSize  = 12
	TagSize = 16
)

var ErrAuthenticationFailed = errors.New("authentication failed")

// Sealed is the output of Encrypt. The server-side blob is Ciphertext || Tag
// (see Blob); the IV travels in public metadata.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
}

// Blob returns ciphertext followed by the authentication tag.
func (s *Sealed) Blob() []byte {
	out := make([]byte, 0, len(s.Ciphertext)+len(s.Tag))
	out = append(out, s.Ciphertext...)
	return append(out, s.Tag...)
}

// SplitBlob separates a stored blob into ciphertext and tag.
func SplitBlob(blob []byte) (ciphertext, tag []byte, err error) {
	if len(blob) < TagSize {
		return nil, nil, ErrAuthenticationFailed
	}
	return blob[:len(blob)-TagSize], blob[len(blob)-TagSize:], nil
}

func newGCM(key *Key) (cipher.AEAD, error) {
	if !key.valid() {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key.b)
	if err != nil {
		return nil, ErrInvalidKeyLength
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with AES-256-GCM under key. A new random 96-bit IV
// is drawn for every call; callers cannot supply one.
func Encrypt(plaintext []byte, key *Key) (*Sealed, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	out := aesgcm.Seal(nil, iv, plaintext, nil)
	split := len(out) - TagSize

	return &Sealed{
		Ciphertext: out[:split:split],
		IV:         iv,
		Tag:        out[split:],
	}, nil
}

// Decrypt opens ciphertext with key, iv and tag. Every failure after the key
// length check (wrong key, wrong IV, corrupted data, tampering) is reported
// as the same ErrAuthenticationFailed.
func Decrypt(ciphertext []byte, key *Key, iv, tag []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize || len(tag) != TagSize {
		return nil, ErrAuthenticationFailed
	}

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aesgcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// DecryptBlob is Decrypt for a stored Ciphertext || Tag blob.
func DecryptBlob(blob []byte, key *Key, iv []byte) ([]byte, error) {
	ciphertext, tag, err := SplitBlob(blob)
	if err != nil {
		return nil, err
	}
	return Decrypt(ciphertext, key, iv, tag)
}
