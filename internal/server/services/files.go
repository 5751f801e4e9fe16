// Package services contains server-side business logic. This file
// implements FileService, which orchestrates anonymous uploads and
// downloads of client-side encrypted files.
//
// The service never sees plaintext or keys: it validates the public
// metadata, stores the ciphertext, enforces expiration and download caps
// through the store's atomic increment, and hands out share links.
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/zkdrop/internal/common"
	"github.com/dmitrijs2005/zkdrop/internal/keytransport"
	"github.com/dmitrijs2005/zkdrop/internal/logging"
	"github.com/dmitrijs2005/zkdrop/internal/retryx"
	"github.com/dmitrijs2005/zkdrop/internal/server/audit"
	"github.com/dmitrijs2005/zkdrop/internal/server/metrics"
	"github.com/dmitrijs2005/zkdrop/internal/server/models"
	"github.com/dmitrijs2005/zkdrop/internal/server/ratelimit"
	"github.com/dmitrijs2005/zkdrop/internal/server/repositories/files"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultMaxUploadSize  = 100 << 20
	DefaultRequestTimeout = 30 * time.Second

	// bcrypt ignores input past this length
	maxAccessPasswordLen = 72

	// short URL collisions are regenerated this many times
	maxSaveAttempts = 3
)

// FileStore is the lifecycle store the service works against.
type FileStore interface {
	Save(ctx context.Context, rec *models.FileRecord, blob []byte) error
	FindByShortURL(ctx context.Context, shortURL string) (*models.FileRecord, error)
	IncrementDownloadCount(ctx context.Context, id string, now time.Time) (files.IncrementResult, error)
	ReadBlob(ctx context.Context, rec *models.FileRecord) ([]byte, error)
	DeleteOwned(ctx context.Context, rec *models.FileRecord, owner string) error
	Cleanup(ctx context.Context, now time.Time) (int, error)
	Ping(ctx context.Context) error
}

// FileServiceOptions configures a FileService. Zero values take defaults.
type FileServiceOptions struct {
	BaseURL        string
	MaxUploadSize  int64
	RequestTimeout time.Duration
	BcryptCost     int
	Retry          retryx.Config
}

type FileService struct {
	store   FileStore
	limiter ratelimit.Limiter
	audit   audit.Sink
	logger  logging.Logger

	baseURL    string
	maxSize    int64
	timeout    time.Duration
	bcryptCost int
	retry      retryx.Config

	now func() time.Time
}

func NewFileService(store FileStore, limiter ratelimit.Limiter, sink audit.Sink, logger logging.Logger, opts FileServiceOptions) *FileService {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialDelay == 0 {
		opts.Retry = retryx.DefaultConfig()
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &FileService{
		store:      store,
		limiter:    limiter,
		audit:      sink,
		logger:     logger.With("module", "file_service"),
		baseURL:    opts.BaseURL,
		maxSize:    opts.MaxUploadSize,
		timeout:    opts.RequestTimeout,
		bcryptCost: opts.BcryptCost,
		retry:      opts.Retry,
		now:        time.Now,
	}
}

// MaxUploadSize is the largest accepted ciphertext in bytes.
func (s *FileService) MaxUploadSize() int64 {
	return s.maxSize
}

// UploadKeyData is the public half of the key data: whether the key is
// password-derived and, if so, the salt used.
type UploadKeyData struct {
	Salt              []byte `json:"salt,omitempty"`
	IsPasswordDerived bool   `json:"isPasswordDerived"`
}

// UploadRequest describes one ciphertext upload. Client and Owner are set
// by the transport, never decoded from the request body.
type UploadRequest struct {
	Metadata       models.PublicMetadata `json:"publicMetadata"`
	KeyData        UploadKeyData         `json:"keyData"`
	AccessPassword string                `json:"accessPassword,omitempty"`
	TTLClass       string                `json:"ttlClass"`
	MaxDownloads   *int64                `json:"maxDownloads,omitempty"`

	Client string `json:"-"`
	Owner  string `json:"-"`
}

type UploadResult struct {
	ShortURL     string                `json:"shortUrl"`
	ShareableURL string                `json:"shareableUrl"`
	ExpiresAt    time.Time             `json:"expiresAt"`
	Metadata     models.PublicMetadata `json:"publicMetadata"`
}

// Upload stores blob and returns the share link. For embedded keys the
// link is bare: the client, which alone holds the key, appends the
// #key= fragment.
func (s *FileService) Upload(ctx context.Context, req UploadRequest, blob []byte) (*UploadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.checkRate(ctx, req.Client); err != nil {
		return nil, err
	}

	if err := s.validateUpload(&req, blob); err != nil {
		s.logger.Info(ctx, "upload rejected", "error", err)
		metrics.RecordUpload("rejected", 0)
		s.emit(ctx, audit.Event{Type: audit.UploadRejected, Client: req.Client, Reason: reasonOf(err)})
		return nil, err
	}

	var passwordHash *string
	if req.AccessPassword != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(req.AccessPassword), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash access password: %w", err)
		}
		hs := string(h)
		passwordHash = &hs
	}

	var owner *string
	if req.Owner != "" {
		owner = &req.Owner
	}

	var rec *models.FileRecord
	for attempt := 1; ; attempt++ {
		var err error
		rec, err = models.NewFileRecord(models.NewFileParams{
			Metadata:     req.Metadata,
			TTL:          req.TTLClass,
			MaxDownloads: req.MaxDownloads,
			PasswordHash: passwordHash,
			OwnerRef:     owner,
			MaxSize:      s.maxSize,
			Now:          s.now(),
		})
		if err != nil {
			return nil, err
		}

		err = retryx.Do(ctx, s.retryConfig(ctx, "save"), func(ctx context.Context) error {
			return s.store.Save(ctx, rec, blob)
		})
		if err == nil {
			break
		}
		if errors.Is(err, common.ErrDuplicateID) && attempt < maxSaveAttempts {
			s.logger.Warn(ctx, "identifier collision, regenerating", "attempt", attempt)
			continue
		}
		metrics.RecordUpload("error", 0)
		s.logger.Error(ctx, "upload failed", "error", err)
		return nil, err
	}

	link, err := keytransport.GenerateShareLink(s.baseURL, rec.ShortURL, keytransport.KeyData{
		IsPasswordDerived: req.KeyData.IsPasswordDerived,
		Salt:              req.KeyData.Salt,
	})
	if err != nil {
		return nil, fmt.Errorf("share link: %w", err)
	}

	metrics.RecordUpload("success", int64(len(blob)))
	s.emit(ctx, audit.Event{Type: audit.UploadSucceeded, ShortURL: rec.ShortURL, Client: req.Client})
	s.logger.Info(ctx, "file uploaded", "short_url", rec.ShortURL, "size", len(blob), "expires_at", rec.ExpiresAt)

	return &UploadResult{
		ShortURL:     rec.ShortURL,
		ShareableURL: link,
		ExpiresAt:    rec.ExpiresAt,
		Metadata:     rec.Metadata,
	}, nil
}

func (s *FileService) checkRate(ctx context.Context, client string) error {
	d, err := s.limiter.Allow(ctx, client)
	if err != nil {
		// limiter outage must not take uploads down with it
		s.logger.Warn(ctx, "rate limiter unavailable", "error", err)
		return nil
	}
	if d.Allowed {
		return nil
	}
	metrics.RecordUpload("rate_limited", 0)
	s.emit(ctx, audit.Event{Type: audit.UploadRateLimited, Client: client})
	return &RateLimitError{RetryAfter: d.RetryAfter}
}

// validateUpload fails fast, before any storage I/O.
func (s *FileService) validateUpload(req *UploadRequest, blob []byte) error {
	if int64(len(blob)) > s.maxSize {
		return common.ErrPayloadTooLarge
	}
	if _, err := models.ParseTTLClass(req.TTLClass); err != nil {
		return err
	}
	if req.MaxDownloads != nil && *req.MaxDownloads < 1 {
		return common.NewValidationError("maxDownloads", "must be at least 1")
	}
	if len(req.AccessPassword) > maxAccessPasswordLen {
		return common.NewValidationError("accessPassword", "longer than 72 bytes")
	}
	if err := req.Metadata.Validate(s.maxSize); err != nil {
		return err
	}
	if req.Metadata.EncryptedSize != int64(len(blob)) {
		return common.NewValidationError("encryptedSize", "does not match payload length")
	}
	if req.KeyData.IsPasswordDerived != req.Metadata.IsPasswordDerived() {
		return common.NewValidationError("keyData", "isPasswordDerived disagrees with keyHint")
	}
	if req.KeyData.IsPasswordDerived && len(req.KeyData.Salt) > 0 && !bytes.Equal(req.KeyData.Salt, req.Metadata.KDF.Salt) {
		return common.NewValidationError("keyData.salt", "does not match kdf salt")
	}
	if !req.KeyData.IsPasswordDerived && len(req.KeyData.Salt) > 0 {
		return common.NewValidationError("keyData.salt", "not allowed for embedded keys")
	}
	return nil
}

type DownloadResult struct {
	Ciphertext         []byte
	Metadata           models.PublicMetadata
	DownloadCount      int64
	RemainingDownloads *int64
}

// Download consumes one download of shortURL and returns its ciphertext.
// A rejected download returns no ciphertext.
func (s *FileService) Download(ctx context.Context, shortURL, accessPassword string) (*DownloadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rec, err := s.store.FindByShortURL(ctx, shortURL)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.rejectDownload(ctx, shortURL, models.RejectNotFound)
		}
		return nil, err
	}

	if err := checkAccessPassword(rec, accessPassword); err != nil {
		metrics.RecordDownload(reasonOf(err))
		s.emit(ctx, audit.Event{Type: audit.DownloadRejectedPassword, ShortURL: shortURL, Reason: reasonOf(err)})
		s.logger.Info(ctx, "download rejected", "short_url", shortURL, "reason", reasonOf(err))
		return nil, err
	}

	var res files.IncrementResult
	incCfg := s.retryConfig(ctx, "increment")
	incCfg.Retryable = retryx.IsSafeToRetryWrite
	err = retryx.Do(ctx, incCfg, func(ctx context.Context) error {
		var err error
		res, err = s.store.IncrementDownloadCount(ctx, rec.ID, s.now())
		return err
	})
	if err != nil {
		metrics.RecordDownload("error")
		s.logger.Error(ctx, "download count update failed", "short_url", shortURL, "error", err)
		return nil, err
	}
	if !res.Permitted {
		s.rejectDownload(ctx, shortURL, res.Reason)
		return nil, res.Reason.Err()
	}

	var blob []byte
	err = retryx.Do(ctx, s.retryConfig(ctx, "read"), func(ctx context.Context) error {
		var err error
		blob, err = s.store.ReadBlob(ctx, rec)
		return err
	})
	if err != nil {
		metrics.RecordDownload("error")
		s.logger.Error(ctx, "blob read failed after count update", "short_url", shortURL, "count", res.Count, "error", err)
		return nil, err
	}

	rec.DownloadCount = res.Count
	metrics.RecordDownload("success")
	s.emit(ctx, audit.Event{Type: audit.DownloadSucceeded, ShortURL: shortURL, Count: res.Count})

	return &DownloadResult{
		Ciphertext:         blob,
		Metadata:           rec.Metadata,
		DownloadCount:      res.Count,
		RemainingDownloads: rec.RemainingDownloads(),
	}, nil
}

func (s *FileService) rejectDownload(ctx context.Context, shortURL string, reason models.RejectReason) {
	metrics.RecordDownload(string(reason))
	var t audit.EventType
	switch reason {
	case models.RejectExpired:
		t = audit.DownloadRejectedExpired
	case models.RejectExhausted:
		t = audit.DownloadRejectedExhausted
	default:
		t = audit.DownloadRejectedNotFound
	}
	s.emit(ctx, audit.Event{Type: t, ShortURL: shortURL, Reason: string(reason)})
	s.logger.Info(ctx, "download rejected", "short_url", shortURL, "reason", string(reason))
}

func checkAccessPassword(rec *models.FileRecord, password string) error {
	if !rec.RequiresPassword() {
		return nil
	}
	if password == "" {
		return common.ErrPasswordRequired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*rec.PasswordHash), []byte(password)); err != nil {
		return common.ErrPasswordInvalid
	}
	return nil
}

// FileInfo is what a recipient may learn before downloading.
type FileInfo struct {
	ShortURL           string                `json:"shortUrl"`
	Metadata           models.PublicMetadata `json:"publicMetadata"`
	RequiresPassword   bool                  `json:"requiresPassword"`
	ExpiresAt          time.Time             `json:"expiresAt"`
	DownloadCount      int64                 `json:"downloadCount"`
	RemainingDownloads *int64                `json:"remainingDownloads,omitempty"`
}

// Describe returns the public view of shortURL without consuming a
// download. Files that can no longer be downloaded are reported with
// their rejection error.
func (s *FileService) Describe(ctx context.Context, shortURL string) (*FileInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rec, err := s.store.FindByShortURL(ctx, shortURL)
	if err != nil {
		return nil, err
	}
	if reason := rec.Rejection(s.now()); reason != models.RejectNone {
		return nil, reason.Err()
	}

	return &FileInfo{
		ShortURL:           rec.ShortURL,
		Metadata:           rec.Metadata,
		RequiresPassword:   rec.RequiresPassword(),
		ExpiresAt:          rec.ExpiresAt,
		DownloadCount:      rec.DownloadCount,
		RemainingDownloads: rec.RemainingDownloads(),
	}, nil
}

// Delete removes shortURL on behalf of its owner.
func (s *FileService) Delete(ctx context.Context, shortURL, owner string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if owner == "" {
		return common.ErrorUnauthorized
	}

	rec, err := s.store.FindByShortURL(ctx, shortURL)
	if err != nil {
		return err
	}
	if !rec.IsOwnedBy(owner) {
		return common.ErrForbidden
	}
	if err := s.store.DeleteOwned(ctx, rec, owner); err != nil {
		return err
	}

	s.emit(ctx, audit.Event{Type: audit.FileDeleted, ShortURL: shortURL})
	s.logger.Info(ctx, "file deleted", "short_url", shortURL)
	return nil
}

// Cleanup removes expired and exhausted files. It is meant for a
// background ticker, not the request path.
func (s *FileService) Cleanup(ctx context.Context) (int, error) {
	n, err := s.store.Cleanup(ctx, s.now())
	metrics.RecordCleanup(n)
	if n > 0 {
		s.emit(ctx, audit.Event{Type: audit.CleanupCompleted, Count: int64(n)})
		s.logger.Info(ctx, "cleanup finished", "removed", n)
	}
	if err != nil {
		return n, fmt.Errorf("cleanup: %w", err)
	}
	return n, nil
}

func (s *FileService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *FileService) retryConfig(ctx context.Context, op string) retryx.Config {
	cfg := s.retry
	cfg.OnRetry = func(attempt int, err error) {
		metrics.RecordStorageRetry(op)
		s.logger.Warn(ctx, "retrying storage operation", "operation", op, "attempt", attempt, "error", err)
	}
	return cfg
}

func (s *FileService) emit(ctx context.Context, e audit.Event) {
	if s.audit == nil {
		return
	}
	if e.At.IsZero() {
		e.At = s.now().UTC()
	}
	s.audit.Emit(ctx, e)
}

// RateLimitError is returned when the upload gate refuses a client.
// It matches common.ErrRateLimited.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v: retry after %s", common.ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return common.ErrRateLimited
}

// reasonOf names err for logs, metrics and audit events.
func reasonOf(err error) string {
	var ve *common.ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "invalid_" + ve.Field
	case errors.Is(err, common.ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, common.ErrInvalidTTL):
		return "invalid_ttl"
	case errors.Is(err, common.ErrPasswordRequired):
		return "password_required"
	case errors.Is(err, common.ErrPasswordInvalid):
		return "password_invalid"
	default:
		return "error"
	}
}
