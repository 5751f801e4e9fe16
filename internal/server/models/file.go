// Package models defines the server-side file record and the pure
// lifecycle rules that decide whether it may still be served.
package models

import (
	"time"

	"github.com/dmitrijs2005/zkdrop/internal/common"
	"github.com/google/uuid"
)

// ShortURLBytes random bytes give a 16 character base64url short URL.
const ShortURLBytes = 12

// FileRecord is one uploaded ciphertext. Only DownloadCount changes after
// creation, and only through the repository's atomic increment.
type FileRecord struct {
	ID            string         `json:"id"`
	ShortURL      string         `json:"shortUrl"`
	BlobRef       string         `json:"-"`
	Metadata      PublicMetadata `json:"publicMetadata"`
	CreatedAt     time.Time      `json:"createdAt"`
	ExpiresAt     time.Time      `json:"expiresAt"`
	DownloadCount int64          `json:"downloadCount"`
	MaxDownloads  *int64         `json:"maxDownloads,omitempty"`
	PasswordHash  *string        `json:"-"`
	OwnerRef      *string        `json:"ownerRef,omitempty"`
}

// NewFileParams are the inputs of NewFileRecord. Empty ID, ShortURL and
// BlobRef are generated; a zero Now means time.Now().
type NewFileParams struct {
	ID           string
	ShortURL     string
	BlobRef      string
	Metadata     PublicMetadata
	TTL          string
	MaxDownloads *int64
	PasswordHash *string
	OwnerRef     *string
	MaxSize      int64
	Now          time.Time
}

// NewFileRecord validates p and builds a record with DownloadCount 0.
func NewFileRecord(p NewFileParams) (*FileRecord, error) {
	ttl, err := ParseTTLClass(p.TTL)
	if err != nil {
		return nil, err
	}
	if p.MaxDownloads != nil && *p.MaxDownloads < 1 {
		return nil, common.NewValidationError("maxDownloads", "must be at least 1")
	}
	if err := p.Metadata.Validate(p.MaxSize); err != nil {
		return nil, err
	}

	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	rec := &FileRecord{
		ID:           p.ID,
		ShortURL:     p.ShortURL,
		BlobRef:      p.BlobRef,
		Metadata:     p.Metadata,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl.Duration()),
		MaxDownloads: p.MaxDownloads,
		PasswordHash: p.PasswordHash,
		OwnerRef:     p.OwnerRef,
	}
	if rec.Metadata.ContentType == "" {
		rec.Metadata.ContentType = common.GenericContentType
	}
	if rec.Metadata.UploadedAt.IsZero() {
		rec.Metadata.UploadedAt = now
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ShortURL == "" {
		s, err := common.MakeRandURLString(ShortURLBytes)
		if err != nil {
			return nil, err
		}
		rec.ShortURL = s
	}
	if rec.BlobRef == "" {
		rec.BlobRef = rec.ID
	}
	return rec, nil
}

// IsExpired reports whether now is at or past ExpiresAt.
func (r *FileRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// HasReachedMaxDownloads is always false for unlimited records.
func (r *FileRecord) HasReachedMaxDownloads() bool {
	return r.MaxDownloads != nil && r.DownloadCount >= *r.MaxDownloads
}

// CanBeDownloaded is a point-in-time check. Serving content still requires
// the repository's atomic increment to succeed.
func (r *FileRecord) CanBeDownloaded(now time.Time) bool {
	return !r.IsExpired(now) && !r.HasReachedMaxDownloads()
}

// Rejection returns why the record cannot be downloaded at now, or
// RejectNone.
func (r *FileRecord) Rejection(now time.Time) RejectReason {
	switch {
	case r.IsExpired(now):
		return RejectExpired
	case r.HasReachedMaxDownloads():
		return RejectExhausted
	default:
		return RejectNone
	}
}

// RemainingDownloads is nil for unlimited records.
func (r *FileRecord) RemainingDownloads() *int64 {
	if r.MaxDownloads == nil {
		return nil
	}
	n := *r.MaxDownloads - r.DownloadCount
	if n < 0 {
		n = 0
	}
	return &n
}

// RequiresPassword reports whether an access password gates retrieval.
func (r *FileRecord) RequiresPassword() bool {
	return r.PasswordHash != nil && *r.PasswordHash != ""
}

// IsOwnedBy reports whether owner uploaded the record. Anonymous records
// have no owner.
func (r *FileRecord) IsOwnedBy(owner string) bool {
	return owner != "" && r.OwnerRef != nil && *r.OwnerRef == owner
}

// RejectReason classifies a refused download.
type RejectReason string

const (
	RejectNone      RejectReason = ""
	RejectNotFound  RejectReason = "not_found"
	RejectExpired   RejectReason = "expired"
	RejectExhausted RejectReason = "exhausted"
)

// Err maps the reason to its sentinel error, nil for RejectNone.
func (r RejectReason) Err() error {
	switch r {
	case RejectNone:
		return nil
	case RejectNotFound:
		return common.ErrorNotFound
	case RejectExpired:
		return common.ErrExpired
	case RejectExhausted:
		return common.ErrDownloadsExhausted
	default:
		return common.ErrorInternal
	}
}
