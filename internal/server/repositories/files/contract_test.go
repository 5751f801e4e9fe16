package files

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/zkdrop/internal/common"
	"github.com/dmitrijs2005/zkdrop/internal/server/migrations"
	"github.com/dmitrijs2005/zkdrop/internal/server/models"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newSQLiteRepo(t *testing.T) Repository {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "files.db") + "?_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	goose.SetBaseFS(migrations.Migrations)
	require.NoError(t, goose.SetDialect("sqlite3"))
	require.NoError(t, goose.UpContext(context.Background(), db, migrations.SQLiteDir))

	return NewSQLiteRepository(db)
}

func newMemoryRepo(*testing.T) Repository { return NewMemoryRepository() }

func newRecord(t *testing.T, now time.Time, ttl string, limit *int64) *models.FileRecord {
	t.Helper()
	rec, err := models.NewFileRecord(models.NewFileParams{
		Metadata: models.PublicMetadata{
			Algorithm:     "AES-256-GCM",
			IV:            []byte("abcdefghijkl"),
			KeyHint:       "embedded",
			EncryptedSize: 1024,
		},
		TTL:          ttl,
		MaxDownloads: limit,
		Now:          now,
	})
	require.NoError(t, err)
	return rec
}

func int64p(v int64) *int64 { return &v }

var backends = map[string]func(t *testing.T) Repository{
	"memory": newMemoryRepo,
	"sqlite": newSQLiteRepo,
}

func TestRepository_SaveAndFind(t *testing.T) {
	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			repo := newRepo(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Microsecond)

			rec := newRecord(t, now, "24h", int64p(3))
			owner := "alice"
			rec.OwnerRef = &owner
			rec.Metadata.KeyHint = "password"
			rec.Metadata.KDF = &models.KDFParams{Algorithm: "pbkdf2-sha256", Salt: []byte("0123456789abcdef"), Iterations: 100000}
			require.NoError(t, repo.Save(ctx, rec))

			got, err := repo.FindByShortURL(ctx, rec.ShortURL)
			require.NoError(t, err)
			assert.Equal(t, rec, got)

			got, err = repo.FindByID(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, rec.ShortURL, got.ShortURL)

			_, err = repo.FindByShortURL(ctx, "missing")
			assert.ErrorIs(t, err, common.ErrorNotFound)
			assert.NoError(t, repo.Ping(ctx))
		})
	}
}

func TestRepository_SaveDuplicate(t *testing.T) {
	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			repo := newRepo(t)
			ctx := context.Background()
			now := time.Now()

			rec := newRecord(t, now, "1h", nil)
			require.NoError(t, repo.Save(ctx, rec))

			sameID := newRecord(t, now, "1h", nil)
			sameID.ID = rec.ID
			assert.ErrorIs(t, repo.Save(ctx, sameID), common.ErrDuplicateID)

			sameShort := newRecord(t, now, "1h", nil)
			sameShort.ShortURL = rec.ShortURL
			assert.ErrorIs(t, repo.Save(ctx, sameShort), common.ErrDuplicateID)
		})
	}
}

func TestRepository_IncrementLifecycle(t *testing.T) {
	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			repo := newRepo(t)
			ctx := context.Background()
			now := time.Now()

			rec := newRecord(t, now, "1h", int64p(2))
			require.NoError(t, repo.Save(ctx, rec))

			for i := int64(1); i <= 2; i++ {
				res, err := repo.IncrementDownloadCount(ctx, rec.ID, now)
				require.NoError(t, err)
				assert.Equal(t, IncrementResult{Count: i, Permitted: true}, res)
			}

			res, err := repo.IncrementDownloadCount(ctx, rec.ID, now)
			require.NoError(t, err)
			assert.Equal(t, IncrementResult{Count: 2, Reason: models.RejectExhausted}, res)

			res, err = repo.IncrementDownloadCount(ctx, uuid.NewString(), now)
			require.NoError(t, err)
			assert.Equal(t, models.RejectNotFound, res.Reason)

			unlimited := newRecord(t, now, "1h", nil)
			require.NoError(t, repo.Save(ctx, unlimited))
			res, err = repo.IncrementDownloadCount(ctx, unlimited.ID, now.Add(2*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, IncrementResult{Count: 0, Reason: models.RejectExpired}, res)

			stored, err := repo.FindByID(ctx, unlimited.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(0), stored.DownloadCount)
		})
	}
}

func TestRepository_DownloadLimitRace(t *testing.T) {
	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			repo := newRepo(t)
			ctx := context.Background()
			now := time.Now()

			rec := newRecord(t, now, "1h", int64p(1))
			require.NoError(t, repo.Save(ctx, rec))

			const workers = 50
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				permitted int
				rejected  int
				failures  []error
			)
			start := make(chan struct{})
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					res, err := repo.IncrementDownloadCount(ctx, rec.ID, now)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err != nil:
						failures = append(failures, err)
					case res.Permitted:
						permitted++
					default:
						rejected++
					}
				}()
			}
			close(start)
			wg.Wait()

			require.Empty(t, failures)
			assert.Equal(t, 1, permitted)
			assert.Equal(t, workers-1, rejected)

			stored, err := repo.FindByID(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), stored.DownloadCount)
		})
	}
}

func TestRepository_DeleteAndOwnership(t *testing.T) {
	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			repo := newRepo(t)
			ctx := context.Background()
			now := time.Now()

			rec := newRecord(t, now, "1h", nil)
			owner := "alice"
			rec.OwnerRef = &owner
			require.NoError(t, repo.Save(ctx, rec))

			assert.ErrorIs(t, repo.DeleteOwned(ctx, rec.ID, "mallory"), common.ErrForbidden)
			require.NoError(t, repo.DeleteOwned(ctx, rec.ID, "alice"))
			assert.ErrorIs(t, repo.DeleteOwned(ctx, rec.ID, "alice"), common.ErrorNotFound)

			anon := newRecord(t, now, "1h", nil)
			require.NoError(t, repo.Save(ctx, anon))
			require.NoError(t, repo.Delete(ctx, anon.ID))
			assert.ErrorIs(t, repo.Delete(ctx, anon.ID), common.ErrorNotFound)

			_, err := repo.FindByShortURL(ctx, anon.ShortURL)
			assert.ErrorIs(t, err, common.ErrorNotFound)
		})
	}
}

func TestRepository_ListExpired(t *testing.T) {
	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			repo := newRepo(t)
			ctx := context.Background()
			now := time.Now()

			expired := newRecord(t, now.Add(-2*time.Hour), "1h", nil)
			exhausted := newRecord(t, now, "24h", int64p(1))
			live := newRecord(t, now, "24h", int64p(5))
			for _, r := range []*models.FileRecord{expired, exhausted, live} {
				require.NoError(t, repo.Save(ctx, r))
			}
			_, err := repo.IncrementDownloadCount(ctx, exhausted.ID, now)
			require.NoError(t, err)

			ids := func(recs []*models.FileRecord) []string {
				out := make([]string, 0, len(recs))
				for _, r := range recs {
					out = append(out, r.ID)
				}
				return out
			}

			// the last download happened at now; it is not listed until
			// exhaustedBefore reaches it
			got, err := repo.ListExpired(ctx, now, now.Add(-time.Minute), 10)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{expired.ID}, ids(got))

			got, err = repo.ListExpired(ctx, now, now, 10)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{expired.ID, exhausted.ID}, ids(got))

			got, err = repo.ListExpired(ctx, now, now, 1)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, expired.ID, got[0].ID)
		})
	}
}
