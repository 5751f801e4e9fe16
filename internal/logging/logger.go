// Package logging is the structured-logging facade used by every ZKDrop
// component. The only implementation wraps log/slog.
//
// Keys, passwords and plaintext must never be passed as log arguments;
// cryptox.Key already renders itself redacted.
package logging

import "context"

// Logger is a context-aware, structured logger. Args are key/value pairs:
//
//	log.Info(ctx, "upload stored", "short_url", short, "size", n)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	// Warn is for degraded but working conditions, such as a failing
	// rate limiter backend.
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given pairs.
	With(args ...any) Logger
}

var _ Logger = (*SlogLogger)(nil)
