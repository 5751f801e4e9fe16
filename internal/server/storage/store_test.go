package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/zkdrop/internal/common"
	"github.com/dmitrijs2005/zkdrop/internal/logging"
	"github.com/dmitrijs2005/zkdrop/internal/server/blobstore"
	"github.com/dmitrijs2005/zkdrop/internal/server/models"
	"github.com/dmitrijs2005/zkdrop/internal/server/repositories/files"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRepo struct {
	files.Repository
	saveErr error
}

func (f *failingRepo) Save(ctx context.Context, rec *models.FileRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Repository.Save(ctx, rec)
}

type flakyBlobs struct {
	blobstore.Store
	failDelete map[string]bool
}

func (f *flakyBlobs) Delete(ctx context.Context, key string) error {
	if f.failDelete[key] {
		return errors.New("blob backend unavailable")
	}
	return f.Store.Delete(ctx, key)
}

func newRecord(t *testing.T, now time.Time, ttl string, limit *int64) *models.FileRecord {
	t.Helper()
	rec, err := models.NewFileRecord(models.NewFileParams{
		Metadata: models.PublicMetadata{
			Algorithm:     "AES-256-GCM",
			IV:            []byte("abcdefghijkl"),
			KeyHint:       "embedded",
			EncryptedSize: 32,
		},
		TTL:          ttl,
		MaxDownloads: limit,
		Now:          now,
	})
	require.NoError(t, err)
	return rec
}

func TestStore_SaveThenRead(t *testing.T) {
	blobs := blobstore.NewMemoryStore()
	s := New(files.NewMemoryRepository(), blobs, logging.Discard(), Options{})
	ctx := context.Background()

	rec := newRecord(t, time.Now(), "1h", nil)
	blob := []byte("0123456789abcdef0123456789abcdef")
	require.NoError(t, s.Save(ctx, rec, blob))

	got, err := s.FindByShortURL(ctx, rec.ShortURL)
	require.NoError(t, err)
	data, err := s.ReadBlob(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, blob, data)
}

func TestStore_SaveRecordFailureRemovesBlob(t *testing.T) {
	blobs := blobstore.NewMemoryStore()
	repo := &failingRepo{Repository: files.NewMemoryRepository(), saveErr: common.ErrDuplicateID}
	s := New(repo, blobs, logging.Discard(), Options{})

	err := s.Save(context.Background(), newRecord(t, time.Now(), "1h", nil), []byte("ciphertext-bytes"))
	assert.ErrorIs(t, err, common.ErrDuplicateID)
	assert.Equal(t, 0, blobs.Len(), "orphaned blob must be removed")
}

func TestStore_SaveBlobFailureSkipsRecord(t *testing.T) {
	repo := files.NewMemoryRepository()
	s := New(repo, blobstore.NewMemoryStore(), logging.Discard(), Options{})

	rec := newRecord(t, time.Now(), "1h", nil)
	rec.BlobRef = "../escape"
	err := s.Save(context.Background(), rec, []byte("x"))
	assert.ErrorIs(t, err, blobstore.ErrInvalidKey)

	_, err = repo.FindByID(context.Background(), rec.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestStore_DeleteAndDeleteOwned(t *testing.T) {
	blobs := blobstore.NewMemoryStore()
	s := New(files.NewMemoryRepository(), blobs, logging.Discard(), Options{})
	ctx := context.Background()

	a := newRecord(t, time.Now(), "1h", nil)
	require.NoError(t, s.Save(ctx, a, []byte("aaaaaaaaaaaaaaaa")))
	require.NoError(t, s.Delete(ctx, a.ID))
	assert.ErrorIs(t, s.Delete(ctx, a.ID), common.ErrorNotFound)

	owner := "alice"
	b := newRecord(t, time.Now(), "1h", nil)
	b.OwnerRef = &owner
	require.NoError(t, s.Save(ctx, b, []byte("bbbbbbbbbbbbbbbb")))
	assert.ErrorIs(t, s.DeleteOwned(ctx, b, "mallory"), common.ErrForbidden)
	assert.Equal(t, 1, blobs.Len())
	require.NoError(t, s.DeleteOwned(ctx, b, "alice"))
	assert.Equal(t, 0, blobs.Len())
}

func TestStore_Cleanup(t *testing.T) {
	blobs := blobstore.NewMemoryStore()
	repo := files.NewMemoryRepository()
	s := New(repo, blobs, logging.Discard(), Options{CleanupBatch: 2, CleanupWorkers: 3})
	ctx := context.Background()
	now := time.Now()
	one := int64(1)

	var expired []*models.FileRecord
	for i := 0; i < 5; i++ {
		rec := newRecord(t, now.Add(-2*time.Hour), "1h", nil)
		require.NoError(t, s.Save(ctx, rec, []byte("expired-expired!")))
		expired = append(expired, rec)
	}
	exhausted := newRecord(t, now, "24h", &one)
	require.NoError(t, s.Save(ctx, exhausted, []byte("exhausted-blob!!")))
	_, err := s.IncrementDownloadCount(ctx, exhausted.ID, now)
	require.NoError(t, err)

	live := newRecord(t, now, "24h", nil)
	require.NoError(t, s.Save(ctx, live, []byte("live-live-live!!")))

	n, err := s.Cleanup(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 5, n, "the exhausted record waits out the grace period")

	later := now.Add(DefaultExhaustedGrace)
	n, err = s.Cleanup(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, blobs.Len())

	for _, rec := range append(expired, exhausted) {
		_, err := repo.FindByID(ctx, rec.ID)
		assert.ErrorIs(t, err, common.ErrorNotFound)
	}
	_, err = repo.FindByID(ctx, live.ID)
	assert.NoError(t, err)

	n, err = s.Cleanup(ctx, later)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_CleanupKeepsRecordWhenBlobDeleteFails(t *testing.T) {
	mem := blobstore.NewMemoryStore()
	blobs := &flakyBlobs{Store: mem, failDelete: map[string]bool{}}
	repo := files.NewMemoryRepository()
	s := New(repo, blobs, logging.Discard(), Options{})
	ctx := context.Background()
	now := time.Now()

	stuck := newRecord(t, now.Add(-2*time.Hour), "1h", nil)
	ok := newRecord(t, now.Add(-2*time.Hour), "1h", nil)
	require.NoError(t, s.Save(ctx, stuck, []byte("stuck-stuck-stuck")))
	require.NoError(t, s.Save(ctx, ok, []byte("ok-ok-ok-ok-ok-ok")))
	blobs.failDelete[stuck.BlobRef] = true

	n, err := s.Cleanup(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repo.FindByID(ctx, stuck.ID)
	assert.NoError(t, err, "record stays so the next sweep retries")

	blobs.failDelete[stuck.BlobRef] = false
	n, err = s.Cleanup(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
