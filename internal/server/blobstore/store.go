// Package blobstore stores opaque ciphertext blobs by key. It has no
// knowledge of encryption; callers hand it bytes and get the same bytes
// back.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/zkdrop/internal/common"
)

var (
	// ErrNotFound matches common.ErrorNotFound.
	ErrNotFound   = fmt.Errorf("blob %w", common.ErrorNotFound)
	ErrInvalidKey = errors.New("invalid blob key")
)

// Supported blob store drivers.
const (
	DriverFS     = "fs"
	DriverS3     = "s3"
	DriverMemory = "memory"
)

// Store is the ciphertext storage contract. Delete of a missing key is
// not an error.
type Store interface {
	Save(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// validateKey keeps keys safe as both file names and object keys.
func validateKey(key string) error {
	if key == "" || len(key) > 255 {
		return ErrInvalidKey
	}
	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == '/':
		default:
			return ErrInvalidKey
		}
	}
	return nil
}
