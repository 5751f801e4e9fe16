package files

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/zkdrop/internal/common"
	"github.com/dmitrijs2005/zkdrop/internal/server/models"
)

// MemoryRepository keeps records in process memory. The check and the
// increment in IncrementDownloadCount happen under one lock.
type MemoryRepository struct {
	mu      sync.Mutex
	byID    map[string]*models.FileRecord
	byShort map[string]string
	lastDL  map[string]time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*models.FileRecord),
		byShort: make(map[string]string),
		lastDL:  make(map[string]time.Time),
	}
}

func (r *MemoryRepository) Save(_ context.Context, rec *models.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[rec.ID]; ok {
		return common.ErrDuplicateID
	}
	if _, ok := r.byShort[rec.ShortURL]; ok {
		return common.ErrDuplicateID
	}
	r.byID[rec.ID] = cloneRecord(rec)
	r.byShort[rec.ShortURL] = rec.ID
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (*models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneRecord(rec), nil
}

func (r *MemoryRepository) FindByShortURL(ctx context.Context, shortURL string) (*models.FileRecord, error) {
	r.mu.Lock()
	id, ok := r.byShort[shortURL]
	r.mu.Unlock()
	if !ok {
		return nil, common.ErrorNotFound
	}
	return r.FindByID(ctx, id)
}

func (r *MemoryRepository) IncrementDownloadCount(_ context.Context, id string, now time.Time) (IncrementResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return IncrementResult{Reason: models.RejectNotFound}, nil
	}
	if reason := rec.Rejection(now); reason != models.RejectNone {
		return IncrementResult{Count: rec.DownloadCount, Reason: reason}, nil
	}
	rec.DownloadCount++
	r.lastDL[id] = now
	return IncrementResult{Count: rec.DownloadCount, Permitted: true}, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	r.deleteLocked(rec)
	return nil
}

func (r *MemoryRepository) DeleteOwned(_ context.Context, id, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	if !rec.IsOwnedBy(owner) {
		return common.ErrForbidden
	}
	r.deleteLocked(rec)
	return nil
}

func (r *MemoryRepository) deleteLocked(rec *models.FileRecord) {
	delete(r.byShort, rec.ShortURL)
	delete(r.byID, rec.ID)
	delete(r.lastDL, rec.ID)
}

func (r *MemoryRepository) ListExpired(_ context.Context, now, exhaustedBefore time.Time, limit int) ([]*models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.FileRecord
	for _, rec := range r.byID {
		if rec.IsExpired(now) || r.exhaustedLocked(rec, exhaustedBefore) {
			result = append(result, cloneRecord(rec))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *MemoryRepository) exhaustedLocked(rec *models.FileRecord, before time.Time) bool {
	if !rec.HasReachedMaxDownloads() {
		return false
	}
	last, ok := r.lastDL[rec.ID]
	return !ok || !last.After(before)
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func cloneRecord(rec *models.FileRecord) *models.FileRecord {
	c := *rec
	c.Metadata.IV = append([]byte(nil), rec.Metadata.IV...)
	if rec.Metadata.KDF != nil {
		kdf := *rec.Metadata.KDF
		kdf.Salt = append([]byte(nil), kdf.Salt...)
		c.Metadata.KDF = &kdf
	}
	if rec.MaxDownloads != nil {
		v := *rec.MaxDownloads
		c.MaxDownloads = &v
	}
	if rec.PasswordHash != nil {
		v := *rec.PasswordHash
		c.PasswordHash = &v
	}
	if rec.OwnerRef != nil {
		v := *rec.OwnerRef
		c.OwnerRef = &v
	}
	return &c
}
