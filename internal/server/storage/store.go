// Package storage combines the record repository and the blob store into
// one lifecycle store. A saved record always points at a complete blob:
// the blob is written first and removed again if the record cannot be
// saved.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/zkdrop/internal/common"
	"github.com/dmitrijs2005/zkdrop/internal/logging"
	"github.com/dmitrijs2005/zkdrop/internal/server/blobstore"
	"github.com/dmitrijs2005/zkdrop/internal/server/models"
	"github.com/dmitrijs2005/zkdrop/internal/server/repositories/files"
	"github.com/gammazero/workerpool"
)

const (
	defaultCleanupBatch   = 100
	defaultCleanupWorkers = 4
	DefaultExhaustedGrace = 10 * time.Minute
)

// Options tunes the cleanup sweep. Zero values take defaults.
type Options struct {
	CleanupBatch   int
	CleanupWorkers int
	// ExhaustedGrace is how long a record that ran out of downloads is
	// kept after its last download. It must outlast a download request.
	ExhaustedGrace time.Duration
}

type Store struct {
	records files.Repository
	blobs   blobstore.Store
	logger  logging.Logger
	opts    Options
}

func New(records files.Repository, blobs blobstore.Store, logger logging.Logger, opts Options) *Store {
	if opts.CleanupBatch <= 0 {
		opts.CleanupBatch = defaultCleanupBatch
	}
	if opts.CleanupWorkers <= 0 {
		opts.CleanupWorkers = defaultCleanupWorkers
	}
	if opts.ExhaustedGrace <= 0 {
		opts.ExhaustedGrace = DefaultExhaustedGrace
	}
	return &Store{
		records: records,
		blobs:   blobs,
		logger:  logger.With("module", "storage"),
		opts:    opts,
	}
}

// Save writes the blob under rec.BlobRef and then inserts the record.
func (s *Store) Save(ctx context.Context, rec *models.FileRecord, blob []byte) error {
	ref, err := s.blobs.Save(ctx, rec.BlobRef, blob)
	if err != nil {
		return fmt.Errorf("save blob: %w", err)
	}
	rec.BlobRef = ref

	if err := s.records.Save(ctx, rec); err != nil {
		// the caller's ctx may already be done; the blob must go regardless
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if derr := s.blobs.Delete(cctx, ref); derr != nil {
			s.logger.Error(ctx, "failed to remove orphaned blob", "blob_ref", ref, "error", derr)
		}
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.FileRecord, error) {
	return s.records.FindByID(ctx, id)
}

func (s *Store) FindByShortURL(ctx context.Context, shortURL string) (*models.FileRecord, error) {
	return s.records.FindByShortURL(ctx, shortURL)
}

func (s *Store) IncrementDownloadCount(ctx context.Context, id string, now time.Time) (files.IncrementResult, error) {
	return s.records.IncrementDownloadCount(ctx, id, now)
}

func (s *Store) ReadBlob(ctx context.Context, rec *models.FileRecord) ([]byte, error) {
	return s.blobs.Read(ctx, rec.BlobRef)
}

// Delete removes the record and then its blob. A blob that cannot be
// removed is logged and left behind.
func (s *Store) Delete(ctx context.Context, id string) error {
	rec, err := s.records.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.records.Delete(ctx, id); err != nil {
		return err
	}
	s.deleteBlob(ctx, rec.BlobRef)
	return nil
}

// DeleteOwned is Delete guarded by ownership of the record.
func (s *Store) DeleteOwned(ctx context.Context, rec *models.FileRecord, owner string) error {
	if err := s.records.DeleteOwned(ctx, rec.ID, owner); err != nil {
		return err
	}
	s.deleteBlob(ctx, rec.BlobRef)
	return nil
}

func (s *Store) deleteBlob(ctx context.Context, ref string) {
	if err := s.blobs.Delete(ctx, ref); err != nil {
		s.logger.Error(ctx, "failed to delete blob", "blob_ref", ref, "error", err)
	}
}

// Cleanup removes every record that is expired at now, or that ran out of
// downloads more than ExhaustedGrace ago, together with its blob, and
// returns how many records were removed.
// Blobs are deleted first; a record whose blob could not be deleted stays
// and is retried on the next sweep.
func (s *Store) Cleanup(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		batch, err := s.records.ListExpired(ctx, now, now.Add(-s.opts.ExhaustedGrace), s.opts.CleanupBatch)
		if err != nil {
			return total, fmt.Errorf("list expired: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		removed := s.cleanupBatch(ctx, batch)
		total += removed
		if removed == 0 || len(batch) < s.opts.CleanupBatch {
			// nothing progressed, or this was the last page
			return total, nil
		}
	}
}

func (s *Store) cleanupBatch(ctx context.Context, batch []*models.FileRecord) int {
	pool := workerpool.New(s.opts.CleanupWorkers)

	var (
		mu      sync.Mutex
		removed int
	)
	for _, rec := range batch {
		pool.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			if err := s.blobs.Delete(ctx, rec.BlobRef); err != nil {
				s.logger.Warn(ctx, "cleanup: blob delete failed", "id", rec.ID, "error", err)
				return
			}
			if err := s.records.Delete(ctx, rec.ID); err != nil {
				if !errors.Is(err, common.ErrorNotFound) {
					s.logger.Warn(ctx, "cleanup: record delete failed", "id", rec.ID, "error", err)
				}
				return
			}
			mu.Lock()
			removed++
			mu.Unlock()
		})
	}
	pool.StopWait()
	return removed
}

func (s *Store) Ping(ctx context.Context) error {
	return s.records.Ping(ctx)
}
