package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/zkdrop/internal/filex"
)

// FSStore keeps blobs as files under a base directory.
type FSStore struct {
	basePath string
}

// NewFSStore creates basePath if needed.
func NewFSStore(basePath string) (*FSStore, error) {
	dir, err := filex.EnsureDir(basePath)
	if err != nil {
		return nil, fmt.Errorf("blob dir: %w", err)
	}
	return &FSStore{basePath: dir}, nil
}

func (f *FSStore) path(key string) string {
	return filepath.Join(f.basePath, filepath.FromSlash(key))
}

// Save never exposes a partially written blob under key.
func (f *FSStore) Save(ctx context.Context, key string, data []byte) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	full := f.path(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o770); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	if err := filex.WriteFileAtomic(full, data, 0o640); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return key, nil
}

func (f *FSStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return b, nil
}

func (f *FSStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (f *FSStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	_, err := os.Stat(f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
