package services

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/dmitrijs2005/zkdrop/internal/common"
	"github.com/dmitrijs2005/zkdrop/internal/cryptox"
	"github.com/dmitrijs2005/zkdrop/internal/logging"
	"github.com/dmitrijs2005/zkdrop/internal/retryx"
	"github.com/dmitrijs2005/zkdrop/internal/server/audit"
	"github.com/dmitrijs2005/zkdrop/internal/server/blobstore"
	"github.com/dmitrijs2005/zkdrop/internal/server/models"
	"github.com/dmitrijs2005/zkdrop/internal/server/ratelimit"
	"github.com/dmitrijs2005/zkdrop/internal/server/repositories/files"
	"github.com/dmitrijs2005/zkdrop/internal/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testBaseURL = "https://drop.example"

type fixture struct {
	svc    *FileService
	repo   *files.MemoryRepository
	blobs  *blobstore.MemoryStore
	audit  *audit.Recorder
	nowMu  sync.Mutex
	nowVal time.Time
}

func (f *fixture) now() time.Time {
	f.nowMu.Lock()
	defer f.nowMu.Unlock()
	return f.nowVal
}

func (f *fixture) advance(d time.Duration) {
	f.nowMu.Lock()
	defer f.nowMu.Unlock()
	f.nowVal = f.nowVal.Add(d)
}

func newFixture(t *testing.T, limiter ratelimit.Limiter) *fixture {
	t.Helper()
	f := &fixture{
		repo:   files.NewMemoryRepository(),
		blobs:  blobstore.NewMemoryStore(),
		audit:  &audit.Recorder{},
		nowVal: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	store := storage.New(f.repo, f.blobs, logging.Discard(), storage.Options{})
	f.svc = newTestService(store, limiter, f.audit)
	f.svc.now = f.now
	return f
}

func newTestService(store FileStore, limiter ratelimit.Limiter, sink audit.Sink) *FileService {
	return NewFileService(store, limiter, sink, logging.Discard(), FileServiceOptions{
		BaseURL:    testBaseURL,
		BcryptCost: bcrypt.MinCost,
		Retry:      retryx.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
}

func ciphertext(n int) []byte {
	return bytes.Repeat([]byte{0xAB}, n)
}

func embeddedRequest(blob []byte, ttl string, limit *int64) UploadRequest {
	return UploadRequest{
		Metadata: models.PublicMetadata{
			Algorithm:     cryptox.AlgorithmAES256GCM,
			IV:            make([]byte, cryptox.IVSize),
			KeyHint:       "embedded",
			EncryptedSize: int64(len(blob)),
		},
		TTLClass:     ttl,
		MaxDownloads: limit,
		Client:       "198.51.100.7",
	}
}

func passwordRequest(blob []byte, ttl string) UploadRequest {
	salt := bytes.Repeat([]byte{0x01}, cryptox.SaltSize)
	return UploadRequest{
		Metadata: models.PublicMetadata{
			Algorithm: cryptox.AlgorithmAES256GCM,
			IV:        make([]byte, cryptox.IVSize),
			KeyHint:   "password",
			KDF: &models.KDFParams{
				Algorithm:  cryptox.KDFPBKDF2SHA256,
				Salt:       salt,
				Iterations: cryptox.MinPBKDF2Iterations,
			},
			EncryptedSize: int64(len(blob)),
		},
		KeyData:  UploadKeyData{IsPasswordDerived: true, Salt: salt},
		TTLClass: ttl,
	}
}

func ptr(n int64) *int64 { return &n }

func TestUpload_ScenarioA_TwoDownloadsThenExhausted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	blob := ciphertext(1024)

	res, err := f.svc.Upload(ctx, embeddedRequest(blob, "1h", ptr(2)), blob)
	require.NoError(t, err)
	assert.Equal(t, f.now().Add(time.Hour), res.ExpiresAt)

	for i := 1; i <= 2; i++ {
		dl, err := f.svc.Download(ctx, res.ShortURL, "")
		require.NoError(t, err, "download %d", i)
		assert.Equal(t, blob, dl.Ciphertext)
		assert.Equal(t, int64(i), dl.DownloadCount)
		require.NotNil(t, dl.RemainingDownloads)
		assert.Equal(t, int64(2-i), *dl.RemainingDownloads)
	}

	dl, err := f.svc.Download(ctx, res.ShortURL, "")
	assert.ErrorIs(t, err, common.ErrDownloadsExhausted)
	assert.Nil(t, dl)

	assert.Equal(t, []audit.EventType{
		audit.UploadSucceeded,
		audit.DownloadSucceeded,
		audit.DownloadSucceeded,
		audit.DownloadRejectedExhausted,
	}, f.audit.Types())
}

func TestUpload_ScenarioB_PasswordLinkCarriesNoKey(t *testing.T) {
	f := newFixture(t, nil)
	blob := ciphertext(64)

	res, err := f.svc.Upload(context.Background(), passwordRequest(blob, "24h"), blob)
	require.NoError(t, err)

	assert.Equal(t, testBaseURL+"/s/"+res.ShortURL, res.ShareableURL)
	assert.NotContains(t, res.ShareableURL, "#")
	assert.NotContains(t, res.ShareableURL, "?")
	require.NotNil(t, res.Metadata.KDF)
	assert.Equal(t, cryptox.MinPBKDF2Iterations, res.Metadata.KDF.Iterations)
}

func TestUpload_ScenarioC_NeverIsFinite(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	blob := ciphertext(32)

	res, err := f.svc.Upload(ctx, embeddedRequest(blob, "never", nil), blob)
	require.NoError(t, err)
	assert.Equal(t, f.now().Add(models.NeverHorizon), res.ExpiresAt)

	info, err := f.svc.Describe(ctx, res.ShortURL)
	require.NoError(t, err)
	assert.Equal(t, res.ExpiresAt, info.ExpiresAt)
	assert.Nil(t, info.RemainingDownloads)
	assert.False(t, info.RequiresPassword)
}

func TestUpload_EmbeddedLinkIsBare(t *testing.T) {
	f := newFixture(t, nil)
	blob := ciphertext(32)

	res, err := f.svc.Upload(context.Background(), embeddedRequest(blob, "7d", nil), blob)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.ShareableURL, testBaseURL+"/s/"))
	assert.NotContains(t, res.ShareableURL, "#key=")
}

func TestUpload_ValidationFailsBeforeStorage(t *testing.T) {
	blob := ciphertext(64)

	cases := map[string]struct {
		mutate func(*UploadRequest)
		blob   []byte
		want   error
	}{
		"size mismatch": {
			mutate: func(r *UploadRequest) { r.Metadata.EncryptedSize = 63 },
			want:   common.ErrorIncorrectMetadata,
		},
		"bad ttl": {
			mutate: func(r *UploadRequest) { r.TTLClass = "2h" },
			want:   common.ErrInvalidTTL,
		},
		"zero max downloads": {
			mutate: func(r *UploadRequest) { r.MaxDownloads = ptr(0) },
			want:   common.ErrorIncorrectMetadata,
		},
		"key data disagrees with hint": {
			mutate: func(r *UploadRequest) { r.KeyData.IsPasswordDerived = true },
			want:   common.ErrorIncorrectMetadata,
		},
		"salt on embedded key": {
			mutate: func(r *UploadRequest) { r.KeyData.Salt = []byte("salt") },
			want:   common.ErrorIncorrectMetadata,
		},
		"unsupported algorithm": {
			mutate: func(r *UploadRequest) { r.Metadata.Algorithm = "ChaCha20" },
			want:   common.ErrorIncorrectMetadata,
		},
		"password too long": {
			mutate: func(r *UploadRequest) { r.AccessPassword = strings.Repeat("p", 73) },
			want:   common.ErrorIncorrectMetadata,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, nil)
			req := embeddedRequest(blob, "1h", nil)
			tc.mutate(&req)

			_, err := f.svc.Upload(context.Background(), req, blob)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, 0, f.blobs.Len())
			assert.Equal(t, []audit.EventType{audit.UploadRejected}, f.audit.Types())
		})
	}
}

func TestUpload_PayloadTooLarge(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.maxSize = 128
	blob := ciphertext(129)

	_, err := f.svc.Upload(context.Background(), embeddedRequest(blob, "1h", nil), blob)
	assert.ErrorIs(t, err, common.ErrPayloadTooLarge)
	assert.Equal(t, 0, f.blobs.Len())
}

func TestUpload_PasswordSaltMismatch(t *testing.T) {
	f := newFixture(t, nil)
	blob := ciphertext(64)
	req := passwordRequest(blob, "1h")
	req.KeyData.Salt = bytes.Repeat([]byte{0x02}, cryptox.SaltSize)

	_, err := f.svc.Upload(context.Background(), req, blob)
	var ve *common.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "keyData.salt", ve.Field)
}

type denyLimiter struct {
	retry time.Duration
	err   error
}

func (d denyLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	if d.err != nil {
		return ratelimit.Decision{}, d.err
	}
	return ratelimit.Decision{RetryAfter: d.retry}, nil
}

func TestUpload_RateLimited(t *testing.T) {
	f := newFixture(t, denyLimiter{retry: 12 * time.Second})
	blob := ciphertext(32)

	_, err := f.svc.Upload(context.Background(), embeddedRequest(blob, "1h", nil), blob)
	require.ErrorIs(t, err, common.ErrRateLimited)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 12*time.Second, rl.RetryAfter)
	assert.Equal(t, 0, f.blobs.Len())
	assert.Equal(t, []audit.EventType{audit.UploadRateLimited}, f.audit.Types())
}

func TestUpload_LimiterOutageFailsOpen(t *testing.T) {
	f := newFixture(t, denyLimiter{err: errors.New("redis: connection refused")})
	blob := ciphertext(32)

	_, err := f.svc.Upload(context.Background(), embeddedRequest(blob, "1h", nil), blob)
	assert.NoError(t, err)
}

func TestUpload_MemoryLimiterGate(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemoryLimiter(1))
	blob := ciphertext(32)

	_, err := f.svc.Upload(context.Background(), embeddedRequest(blob, "1h", nil), blob)
	require.NoError(t, err)
	_, err = f.svc.Upload(context.Background(), embeddedRequest(blob, "1h", nil), blob)
	assert.ErrorIs(t, err, common.ErrRateLimited)
}

func TestDownload_AccessPassword(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	blob := ciphertext(48)

	req := embeddedRequest(blob, "1h", nil)
	req.AccessPassword = "open sesame"
	res, err := f.svc.Upload(ctx, req, blob)
	require.NoError(t, err)

	rec, err := f.repo.FindByShortURL(ctx, res.ShortURL)
	require.NoError(t, err)
	require.NotNil(t, rec.PasswordHash)
	assert.NotContains(t, *rec.PasswordHash, "open sesame")

	_, err = f.svc.Download(ctx, res.ShortURL, "")
	assert.ErrorIs(t, err, common.ErrPasswordRequired)

	_, err = f.svc.Download(ctx, res.ShortURL, "wrong")
	assert.ErrorIs(t, err, common.ErrPasswordInvalid)

	// rejected attempts do not consume downloads
	rec, err = f.repo.FindByShortURL(ctx, res.ShortURL)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.DownloadCount)

	dl, err := f.svc.Download(ctx, res.ShortURL, "open sesame")
	require.NoError(t, err)
	assert.Equal(t, blob, dl.Ciphertext)

	info, err := f.svc.Describe(ctx, res.ShortURL)
	require.NoError(t, err)
	assert.True(t, info.RequiresPassword)
}

func TestDownload_NotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Download(context.Background(), "AAAAAAAAAAAAAAAA", "")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, []audit.EventType{audit.DownloadRejectedNotFound}, f.audit.Types())
}

func TestDownload_ExpiryBoundary(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	blob := ciphertext(32)

	res, err := f.svc.Upload(ctx, embeddedRequest(blob, "1h", nil), blob)
	require.NoError(t, err)

	f.advance(time.Hour - time.Second)
	_, err = f.svc.Download(ctx, res.ShortURL, "")
	require.NoError(t, err)

	f.advance(2 * time.Second)
	_, err = f.svc.Download(ctx, res.ShortURL, "")
	assert.ErrorIs(t, err, common.ErrExpired)

	_, err = f.svc.Describe(ctx, res.ShortURL)
	assert.ErrorIs(t, err, common.ErrExpired)
}

func TestDownload_ConcurrentSingleUse(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	blob := ciphertext(256)

	res, err := f.svc.Upload(ctx, embeddedRequest(blob, "1h", ptr(1)), blob)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		ok        atomic.Int32
		exhausted atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Download(ctx, res.ShortURL, "")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, common.ErrDownloadsExhausted):
				exhausted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(49), exhausted.Load())
}

// conflictStore fails the first increments with a storage conflict.
type conflictStore struct {
	FileStore
	conflicts atomic.Int32
	saveErrs  []error
}

func (c *conflictStore) IncrementDownloadCount(ctx context.Context, id string, now time.Time) (files.IncrementResult, error) {
	if c.conflicts.Add(-1) >= 0 {
		return files.IncrementResult{}, common.ErrVersionConflict
	}
	return c.FileStore.IncrementDownloadCount(ctx, id, now)
}

func (c *conflictStore) Save(ctx context.Context, rec *models.FileRecord, blob []byte) error {
	if len(c.saveErrs) > 0 {
		err := c.saveErrs[0]
		c.saveErrs = c.saveErrs[1:]
		return err
	}
	return c.FileStore.Save(ctx, rec, blob)
}

func TestDownload_RetriesStorageConflict(t *testing.T) {
	inner := storage.New(files.NewMemoryRepository(), blobstore.NewMemoryStore(), logging.Discard(), storage.Options{})
	cs := &conflictStore{FileStore: inner}
	svc := newTestService(cs, nil, nil)
	ctx := context.Background()
	blob := ciphertext(32)

	res, err := svc.Upload(ctx, embeddedRequest(blob, "1h", ptr(1)), blob)
	require.NoError(t, err)

	cs.conflicts.Store(2)
	dl, err := svc.Download(ctx, res.ShortURL, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), dl.DownloadCount)
}

func TestDownload_ConflictBudgetExhausted(t *testing.T) {
	inner := storage.New(files.NewMemoryRepository(), blobstore.NewMemoryStore(), logging.Discard(), storage.Options{})
	cs := &conflictStore{FileStore: inner}
	svc := newTestService(cs, nil, nil)
	ctx := context.Background()
	blob := ciphertext(32)

	res, err := svc.Upload(ctx, embeddedRequest(blob, "1h", nil), blob)
	require.NoError(t, err)

	cs.conflicts.Store(100)
	_, err = svc.Download(ctx, res.ShortURL, "")
	assert.ErrorIs(t, err, common.ErrVersionConflict)
}

func TestUpload_RegeneratesOnDuplicate(t *testing.T) {
	inner := storage.New(files.NewMemoryRepository(), blobstore.NewMemoryStore(), logging.Discard(), storage.Options{})
	cs := &conflictStore{FileStore: inner, saveErrs: []error{common.ErrDuplicateID}}
	svc := newTestService(cs, nil, nil)
	blob := ciphertext(32)

	res, err := svc.Upload(context.Background(), embeddedRequest(blob, "1h", nil), blob)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ShortURL)
}

func TestUpload_NonTransientSaveErrorSurfaces(t *testing.T) {
	inner := storage.New(files.NewMemoryRepository(), blobstore.NewMemoryStore(), logging.Discard(), storage.Options{})
	diskFull := errors.New("no space left on device")
	cs := &conflictStore{FileStore: inner, saveErrs: []error{diskFull, nil}}
	svc := newTestService(cs, nil, nil)
	blob := ciphertext(32)

	_, err := svc.Upload(context.Background(), embeddedRequest(blob, "1h", nil), blob)
	assert.ErrorIs(t, err, diskFull)
}

func TestDelete_OwnerOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	blob := ciphertext(32)

	req := embeddedRequest(blob, "1h", nil)
	req.Owner = "alice"
	res, err := f.svc.Upload(ctx, req, blob)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Delete(ctx, res.ShortURL, ""), common.ErrorUnauthorized)
	assert.ErrorIs(t, f.svc.Delete(ctx, res.ShortURL, "mallory"), common.ErrForbidden)
	require.NoError(t, f.svc.Delete(ctx, res.ShortURL, "alice"))

	_, err = f.svc.Describe(ctx, res.ShortURL)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, 0, f.blobs.Len())
}

func TestDelete_AnonymousFileCannotBeDeleted(t *testing.T) {
	f := newFixture(t, nil)
	blob := ciphertext(32)

	res, err := f.svc.Upload(context.Background(), embeddedRequest(blob, "1h", nil), blob)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Delete(context.Background(), res.ShortURL, "alice"), common.ErrForbidden)
}

func TestCleanup_RemovesExpiredAndExhausted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	blob := ciphertext(32)

	short, err := f.svc.Upload(ctx, embeddedRequest(blob, "1h", nil), blob)
	require.NoError(t, err)
	single, err := f.svc.Upload(ctx, embeddedRequest(blob, "7d", ptr(1)), blob)
	require.NoError(t, err)
	long, err := f.svc.Upload(ctx, embeddedRequest(blob, "30d", nil), blob)
	require.NoError(t, err)

	_, err = f.svc.Download(ctx, single.ShortURL, "")
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	n, err := f.svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, f.blobs.Len())

	_, err = f.repo.FindByShortURL(ctx, short.ShortURL)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = f.svc.Describe(ctx, long.ShortURL)
	assert.NoError(t, err)
}

// gatedBlobs holds every Read until release is closed.
type gatedBlobs struct {
	*blobstore.MemoryStore
	reading chan struct{}
	release chan struct{}
}

func (g *gatedBlobs) Read(ctx context.Context, key string) ([]byte, error) {
	g.reading <- struct{}{}
	<-g.release
	return g.MemoryStore.Read(ctx, key)
}

func TestDownload_CleanupDuringLastReadKeepsBlob(t *testing.T) {
	f := newFixture(t, nil)
	blobs := &gatedBlobs{
		MemoryStore: blobstore.NewMemoryStore(),
		reading:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	store := storage.New(f.repo, blobs, logging.Discard(), storage.Options{})
	svc := newTestService(store, nil, nil)
	svc.now = f.now
	ctx := context.Background()
	blob := ciphertext(64)

	res, err := svc.Upload(ctx, embeddedRequest(blob, "1h", ptr(1)), blob)
	require.NoError(t, err)

	type result struct {
		dl  *DownloadResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		dl, err := svc.Download(ctx, res.ShortURL, "")
		done <- result{dl, err}
	}()

	<-blobs.reading
	n, err := svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	close(blobs.release)

	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, blob, got.dl.Ciphertext)

	f.advance(storage.DefaultExhaustedGrace)
	n, err = svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, blobs.Len())
}

// lostReplyStore applies the increment and then reports a dropped
// connection, as if the reply never arrived.
type lostReplyStore struct {
	FileStore
	calls atomic.Int32
}

func (l *lostReplyStore) IncrementDownloadCount(ctx context.Context, id string, now time.Time) (files.IncrementResult, error) {
	l.calls.Add(1)
	if _, err := l.FileStore.IncrementDownloadCount(ctx, id, now); err != nil {
		return files.IncrementResult{}, err
	}
	return files.IncrementResult{}, &os.SyscallError{Syscall: "read", Err: syscall.ECONNRESET}
}

func TestDownload_IncrementNotRetriedAfterLostReply(t *testing.T) {
	repo := files.NewMemoryRepository()
	inner := storage.New(repo, blobstore.NewMemoryStore(), logging.Discard(), storage.Options{})
	ls := &lostReplyStore{FileStore: inner}
	svc := newTestService(ls, nil, nil)
	ctx := context.Background()
	blob := ciphertext(32)

	res, err := svc.Upload(ctx, embeddedRequest(blob, "1h", ptr(3)), blob)
	require.NoError(t, err)

	_, err = svc.Download(ctx, res.ShortURL, "")
	assert.ErrorIs(t, err, syscall.ECONNRESET)
	assert.Equal(t, int32(1), ls.calls.Load())

	rec, err := repo.FindByShortURL(ctx, res.ShortURL)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.DownloadCount)
}
