// Package files persists file records. The download counter is only ever
// changed by IncrementDownloadCount, which every backend implements as a
// single conditional write.
package files

import (
	"context"
	"time"

	"github.com/dmitrijs2005/zkdrop/internal/server/models"
)

// IncrementResult is the outcome of one download attempt.
// Reason is set only when Permitted is false.
type IncrementResult struct {
	Count     int64
	Permitted bool
	Reason    models.RejectReason
}

type Repository interface {
	// Save inserts a new record. Collisions on id or short_url return
	// common.ErrDuplicateID.
	Save(ctx context.Context, rec *models.FileRecord) error
	FindByID(ctx context.Context, id string) (*models.FileRecord, error)
	FindByShortURL(ctx context.Context, shortURL string) (*models.FileRecord, error)
	// IncrementDownloadCount bumps the counter only when the record is live
	// at now and below its cap, and stamps the last download time with now.
	IncrementDownloadCount(ctx context.Context, id string, now time.Time) (IncrementResult, error)
	Delete(ctx context.Context, id string) error
	// DeleteOwned removes the record only if owner uploaded it.
	DeleteOwned(ctx context.Context, id, owner string) error
	// ListExpired returns up to limit records that are expired at now, or
	// that used up their downloads with the last one at or before
	// exhaustedBefore. The last permitted download may still be reading
	// its blob right after the increment.
	ListExpired(ctx context.Context, now, exhaustedBefore time.Time, limit int) ([]*models.FileRecord, error)
	Ping(ctx context.Context) error
}
