package models

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/zkdrop/internal/common"
	"github.com/dmitrijs2005/zkdrop/internal/cryptox"
	"github.com/dmitrijs2005/zkdrop/internal/keytransport"
)

// KDFParams are the public inputs of a password-based key derivation.
// They are not secret without the password.
type KDFParams struct {
	Algorithm  string `json:"algorithm"`
	Salt       []byte `json:"salt"`
	Iterations int    `json:"iterations"`
}

// PublicMetadata is everything the server may know about a ciphertext.
type PublicMetadata struct {
	Algorithm     string     `json:"algorithm"`
	IV            []byte     `json:"iv"`
	KeyHint       string     `json:"keyHint"`
	KDF           *KDFParams `json:"kdf,omitempty"`
	EncryptedSize int64      `json:"encryptedSize"`
	ContentType   string     `json:"contentType"`
	UploadedAt    time.Time  `json:"uploadedAt"`
}

// IsPasswordDerived reports whether the recipient needs a password to derive the key.
func (m *PublicMetadata) IsPasswordDerived() bool {
	return m.KeyHint == keytransport.HintPassword
}

// Validate checks the metadata shape. maxSize <= 0 disables the size bound.
func (m *PublicMetadata) Validate(maxSize int64) error {
	if m.Algorithm != cryptox.AlgorithmAES256GCM {
		return common.NewValidationError("algorithm", "unsupported algorithm")
	}
	if len(m.IV) != cryptox.IVSize {
		return common.NewValidationError("iv", "must be 12 bytes")
	}

	switch m.KeyHint {
	case keytransport.HintEmbedded:
		if m.KDF != nil {
			return common.NewValidationError("kdf", "not allowed for embedded keys")
		}
	case keytransport.HintPassword:
		if m.KDF == nil {
			return common.NewValidationError("kdf", "required for password-derived keys")
		}
		if err := cryptox.ValidateKDFParams(m.KDF.Algorithm, m.KDF.Salt, m.KDF.Iterations); err != nil {
			if errors.Is(err, cryptox.ErrUnknownKDF) {
				return common.NewValidationError("kdf.algorithm", "unsupported key derivation function")
			}
			if errors.Is(err, cryptox.ErrExcessiveParameters) {
				return common.NewValidationError("kdf", "parameters above allowed maximum")
			}
			return common.NewValidationError("kdf", "parameters below safety threshold")
		}
	default:
		return common.NewValidationError("keyHint", "must be embedded or password")
	}

	if m.ContentType != "" && m.ContentType != common.GenericContentType {
		return common.NewValidationError("contentType", "only "+common.GenericContentType+" is accepted")
	}

	if m.EncryptedSize < cryptox.TagSize {
		return common.NewValidationError("encryptedSize", "smaller than authentication tag")
	}
	if maxSize > 0 && m.EncryptedSize > maxSize {
		return common.ErrPayloadTooLarge
	}
	return nil
}
