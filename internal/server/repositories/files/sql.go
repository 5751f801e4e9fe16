package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/zkdrop/internal/common"
	"github.com/dmitrijs2005/zkdrop/internal/dbx"
	"github.com/dmitrijs2005/zkdrop/internal/server/models"
)

// dialect captures what differs between the SQL backends. Queries are
// written with $n placeholders, each used once and in order.
type dialect struct {
	name              string
	positional        bool
	isUniqueViolation func(error) bool
}

func (d dialect) rebind(q string) string {
	if !d.positional {
		return q
	}
	var b strings.Builder
	b.Grow(len(q))
	for i := 0; i < len(q); i++ {
		if q[i] == '$' && i+1 < len(q) && q[i+1] >= '0' && q[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(q) && q[i+1] >= '0' && q[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// timeArg stores times as UTC timestamps on Postgres and as unix
// microseconds on SQLite, where text timestamps do not compare reliably.
func (d dialect) timeArg(t time.Time) any {
	if d.positional {
		return t.UTC().UnixMicro()
	}
	return t.UTC()
}

type dbTime struct{ t *time.Time }

func (s dbTime) Scan(v any) error {
	switch x := v.(type) {
	case time.Time:
		*s.t = x.UTC()
	case int64:
		*s.t = time.UnixMicro(x).UTC()
	default:
		return fmt.Errorf("unsupported time value %T", v)
	}
	return nil
}

const selectColumns = `id, short_url, blob_ref, algorithm, iv, key_hint, kdf_algorithm, kdf_salt, kdf_iterations,
	encrypted_size, content_type, uploaded_at, created_at, expires_at, download_count, max_downloads,
	password_hash, owner_ref`

// sqlRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type sqlRepository struct {
	db dbx.DBTX
	d  dialect
}

func (r *sqlRepository) Save(ctx context.Context, rec *models.FileRecord) error {
	query := r.d.rebind(`
		INSERT INTO files (id, short_url, blob_ref, algorithm, iv, key_hint, kdf_algorithm, kdf_salt,
			kdf_iterations, encrypted_size, content_type, uploaded_at, created_at, expires_at,
			download_count, max_downloads, password_hash, owner_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`)

	var kdfAlg sql.NullString
	var kdfSalt []byte
	var kdfIter sql.NullInt64
	if k := rec.Metadata.KDF; k != nil {
		kdfAlg = sql.NullString{String: k.Algorithm, Valid: true}
		kdfSalt = k.Salt
		kdfIter = sql.NullInt64{Int64: int64(k.Iterations), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.ShortURL, rec.BlobRef, rec.Metadata.Algorithm, rec.Metadata.IV, rec.Metadata.KeyHint,
		kdfAlg, kdfSalt, kdfIter, rec.Metadata.EncryptedSize, rec.Metadata.ContentType,
		r.d.timeArg(rec.Metadata.UploadedAt), r.d.timeArg(rec.CreatedAt), r.d.timeArg(rec.ExpiresAt),
		rec.DownloadCount, nullInt64(rec.MaxDownloads), nullString(rec.PasswordHash), nullString(rec.OwnerRef))
	if err != nil {
		if r.d.isUniqueViolation(err) {
			return common.ErrDuplicateID
		}
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

func (r *sqlRepository) FindByID(ctx context.Context, id string) (*models.FileRecord, error) {
	query := r.d.rebind(`SELECT ` + selectColumns + ` FROM files WHERE id = $1`)
	return r.findOne(ctx, query, id)
}

func (r *sqlRepository) FindByShortURL(ctx context.Context, shortURL string) (*models.FileRecord, error) {
	query := r.d.rebind(`SELECT ` + selectColumns + ` FROM files WHERE short_url = $1`)
	return r.findOne(ctx, query, shortURL)
}

func (r *sqlRepository) findOne(ctx context.Context, query string, arg string) (*models.FileRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return rec, nil
}

func (r *sqlRepository) IncrementDownloadCount(ctx context.Context, id string, now time.Time) (IncrementResult, error) {
	query := r.d.rebind(`
		UPDATE files SET download_count = download_count + 1, last_download_at = $1
		WHERE id = $2 AND expires_at > $3
			AND (max_downloads IS NULL OR download_count < max_downloads)
		RETURNING download_count`)

	var count int64
	err := r.db.QueryRowContext(ctx, query, r.d.timeArg(now), id, r.d.timeArg(now)).Scan(&count)
	if err == nil {
		return IncrementResult{Count: count, Permitted: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return IncrementResult{}, fmt.Errorf("failed to increment download count: %w", err)
	}

	// The guard refused the update. Read the row to report why; this read
	// never writes.
	var (
		maxCount  sql.NullInt64
		expiresAt time.Time
	)
	query = r.d.rebind(`SELECT download_count, max_downloads, expires_at FROM files WHERE id = $1`)
	err = r.db.QueryRowContext(ctx, query, id).Scan(&count, &maxCount, dbTime{&expiresAt})
	if errors.Is(err, sql.ErrNoRows) {
		return IncrementResult{Reason: models.RejectNotFound}, nil
	}
	if err != nil {
		return IncrementResult{}, fmt.Errorf("failed to classify rejected download: %w", err)
	}

	rec := models.FileRecord{DownloadCount: count, ExpiresAt: expiresAt}
	if maxCount.Valid {
		rec.MaxDownloads = &maxCount.Int64
	}
	reason := rec.Rejection(now)
	if reason == models.RejectNone {
		return IncrementResult{}, common.ErrVersionConflict
	}
	return IncrementResult{Count: count, Reason: reason}, nil
}

func (r *sqlRepository) Delete(ctx context.Context, id string) error {
	query := r.d.rebind(`DELETE FROM files WHERE id = $1`)
	return r.deleteOne(ctx, query, id)
}

func (r *sqlRepository) DeleteOwned(ctx context.Context, id, owner string) error {
	query := r.d.rebind(`DELETE FROM files WHERE id = $1 AND owner_ref = $2`)
	n, err := dbx.ExecCount(ctx, r.db, query, id, owner)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Tell a missing record apart from someone else's.
	exists, err := dbx.Exists(ctx, r.db, r.d.rebind(`SELECT 1 FROM files WHERE id = $1`), id)
	switch {
	case err != nil:
		return fmt.Errorf("failed to select file: %w", err)
	case !exists:
		return common.ErrorNotFound
	default:
		return common.ErrForbidden
	}
}

func (r *sqlRepository) deleteOne(ctx context.Context, query string, args ...any) error {
	n, err := dbx.ExecCount(ctx, r.db, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *sqlRepository) ListExpired(ctx context.Context, now, exhaustedBefore time.Time, limit int) ([]*models.FileRecord, error) {
	query := r.d.rebind(`SELECT ` + selectColumns + ` FROM files
		WHERE expires_at <= $1
			OR (max_downloads IS NOT NULL AND download_count >= max_downloads
				AND (last_download_at IS NULL OR last_download_at <= $2))
		ORDER BY expires_at
		LIMIT ` + strconv.Itoa(limit))

	rows, err := r.db.QueryContext(ctx, query, r.d.timeArg(now), r.d.timeArg(exhaustedBefore))
	if err != nil {
		return nil, fmt.Errorf("failed to select expired files: %w", err)
	}
	defer rows.Close()

	var result []*models.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *sqlRepository) Ping(ctx context.Context) error {
	return dbx.Ping(ctx, r.db)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.FileRecord, error) {
	var (
		rec      models.FileRecord
		kdfAlg   sql.NullString
		kdfSalt  []byte
		kdfIter  sql.NullInt64
		maxCount sql.NullInt64
		password sql.NullString
		owner    sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.ShortURL, &rec.BlobRef, &rec.Metadata.Algorithm, &rec.Metadata.IV,
		&rec.Metadata.KeyHint, &kdfAlg, &kdfSalt, &kdfIter, &rec.Metadata.EncryptedSize,
		&rec.Metadata.ContentType, dbTime{&rec.Metadata.UploadedAt}, dbTime{&rec.CreatedAt},
		dbTime{&rec.ExpiresAt}, &rec.DownloadCount, &maxCount, &password, &owner)
	if err != nil {
		return nil, err
	}

	if kdfAlg.Valid {
		rec.Metadata.KDF = &models.KDFParams{
			Algorithm:  kdfAlg.String,
			Salt:       kdfSalt,
			Iterations: int(kdfIter.Int64),
		}
	}
	if maxCount.Valid {
		rec.MaxDownloads = &maxCount.Int64
	}
	if password.Valid {
		rec.PasswordHash = &password.String
	}
	if owner.Valid {
		rec.OwnerRef = &owner.String
	}
	return &rec, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
