// Package audit emits security events about the file lifecycle. Events
// carry identifiers and outcomes only: never keys, passwords or content.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/zkdrop/internal/logging"
	"github.com/dmitrijs2005/zkdrop/internal/server/metrics"
)

type EventType string

const (
	UploadSucceeded           EventType = "upload_succeeded"
	UploadRejected            EventType = "upload_rejected"
	UploadRateLimited         EventType = "upload_rate_limited"
	DownloadSucceeded         EventType = "download_succeeded"
	DownloadRejectedNotFound  EventType = "download_rejected_not_found"
	DownloadRejectedExpired   EventType = "download_rejected_expired"
	DownloadRejectedExhausted EventType = "download_rejected_exhausted"
	DownloadRejectedPassword  EventType = "download_rejected_password"
	FileDeleted               EventType = "file_deleted"
	CleanupCompleted          EventType = "cleanup_completed"
)

type Event struct {
	Type     EventType
	ShortURL string
	Client   string
	Reason   string
	Count    int64
	At       time.Time
}

type Sink interface {
	Emit(ctx context.Context, e Event)
}

// LogSink writes events to a structured logger at info level and counts
// them per type.
type LogSink struct {
	logger logging.Logger
}

func NewLogSink(l logging.Logger) *LogSink {
	return &LogSink{logger: l.With("module", "audit")}
}

func (s *LogSink) Emit(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	args := []any{"event", string(e.Type), "at", e.At}
	if e.ShortURL != "" {
		args = append(args, "short_url", e.ShortURL)
	}
	if e.Client != "" {
		args = append(args, "client", e.Client)
	}
	if e.Reason != "" {
		args = append(args, "reason", e.Reason)
	}
	if e.Count != 0 {
		args = append(args, "count", e.Count)
	}
	s.logger.Info(ctx, "audit", args...)
	metrics.RecordAuditEvent(string(e.Type))
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
