// Package retryx retries storage calls that failed for transient reasons
// with bounded exponential backoff.
package retryx

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/dmitrijs2005/zkdrop/internal/common"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Config struct {
	MaxRetries   uint64
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// OnRetry, if set, is called before each new attempt.
	OnRetry func(attempt int, err error)
	// Retryable decides which errors get another attempt. Nil means
	// IsTransient.
	Retryable func(err error) bool
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
	}
}

// Do runs fn until it succeeds, fails with a non-transient error, the
// retry budget is spent or ctx is done. The last error is returned as is.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultConfig().InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}

	b := retry.NewExponential(cfg.InitialDelay)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithCappedDuration(cfg.MaxDelay, b)
	b = retry.WithMaxRetries(cfg.MaxRetries, b)

	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		return retry.RetryableError(err)
	})
}

// IsSafeToRetryWrite is the predicate for writes that must not apply
// twice. It accepts only failures where the statement is known not to have
// take effect: storage conflicts, pgx errors raised before anything was
// sent, Postgres serialization failures and deadlocks, SQLite busy or
// locked. A connection dropped after the write was sent is not retried;
// the write may have committed.
func IsSafeToRetryWrite(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, common.ErrVersionConflict) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isSQLiteBusy(err)
}

func isSQLiteBusy(err error) bool {
	var sqErr *sqlite.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	switch sqErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// IsTransient reports whether err is worth retrying: storage conflicts,
// network timeouts and resets, S3 throttling and 5xx, Postgres
// serialization, deadlock and connection failures, SQLite busy.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, syscall.ENOSPC) {
		return false
	}

	if errors.Is(err, common.ErrVersionConflict) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.SerializationFailure,
			pgErr.Code == pgerrcode.DeadlockDetected,
			pgErr.Code == pgerrcode.CannotConnectNow,
			pgerrcode.IsConnectionException(pgErr.Code):
			return true
		}
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		return isSQLiteBusy(err)
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return true
		}
	}

	return false
}
