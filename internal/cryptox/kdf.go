package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// Supported key-derivation functions, as recorded in public metadata.
const (
	KDFPBKDF2SHA256 = "pbkdf2-sha256"
	KDFArgon2id     = "argon2id"
)

const (
	MinPBKDF2Iterations     = 100_000
	DefaultPBKDF2Iterations = 600_000
	MaxPBKDF2Iterations     = 10_000_000

	// For Argon2id the iteration count is the time cost.
	MinArgon2idTime     = 1
	DefaultArgon2idTime = 3
	MaxArgon2idTime     = 16

	argon2idMemoryKiB = 64 * 1024
	argon2idThreads   = 4

	SaltSize    = 16
	MinSaltSize = 16
)

var (
	ErrWeakParameters      = errors.New("key derivation parameters below safety threshold")
	ErrExcessiveParameters = errors.New("key derivation parameters above allowed maximum")
	ErrUnknownKDF          = errors.New("unknown key derivation function")
)

// GenerateSalt returns SaltSize random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKeyFromPassword runs PBKDF2-HMAC-SHA256. Identical inputs always
// yield the same key. Iteration counts below MinPBKDF2Iterations and salts
// shorter than MinSaltSize are rejected to prevent parameter downgrades;
// counts above MaxPBKDF2Iterations are rejected so published parameters
// cannot stall the recipient.
func DeriveKeyFromPassword(password, salt []byte, iterations int) (*Key, error) {
	if err := ValidateKDFParams(KDFPBKDF2SHA256, salt, iterations); err != nil {
		return nil, err
	}
	return &Key{b: pbkdf2.Key(password, salt, iterations, KeySize, sha256.New)}, nil
}

// DeriveKeyArgon2id derives a key with Argon2id using a fixed 64 MiB memory
// cost and a time cost between MinArgon2idTime and MaxArgon2idTime.
func DeriveKeyArgon2id(password, salt []byte, timeCost int) (*Key, error) {
	if err := ValidateKDFParams(KDFArgon2id, salt, timeCost); err != nil {
		return nil, err
	}
	return &Key{b: argon2.IDKey(password, salt, uint32(timeCost), argon2idMemoryKiB, argon2idThreads, KeySize)}, nil
}

// DeriveKey dispatches on the KDF name stored in public metadata.
func DeriveKey(kdf string, password, salt []byte, iterations int) (*Key, error) {
	switch kdf {
	case KDFPBKDF2SHA256:
		return DeriveKeyFromPassword(password, salt, iterations)
	case KDFArgon2id:
		return DeriveKeyArgon2id(password, salt, iterations)
	default:
		return nil, ErrUnknownKDF
	}
}

// ValidateKDFParams checks stored parameters without deriving anything.
func ValidateKDFParams(kdf string, salt []byte, iterations int) error {
	if len(salt) < MinSaltSize {
		return ErrWeakParameters
	}
	var lo, hi int
	switch kdf {
	case KDFPBKDF2SHA256:
		lo, hi = MinPBKDF2Iterations, MaxPBKDF2Iterations
	case KDFArgon2id:
		lo, hi = MinArgon2idTime, MaxArgon2idTime
	default:
		return ErrUnknownKDF
	}
	switch {
	case iterations < lo:
		return ErrWeakParameters
	case iterations > hi:
		return ErrExcessiveParameters
	}
	return nil
}
