// Package server initializes and runs the ZKDrop server.
// It wires the record and blob stores, starts the HTTP API and the gRPC
// health endpoint, runs the periodic cleanup and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/zkdrop/internal/logging"
	"github.com/dmitrijs2005/zkdrop/internal/server/audit"
	"github.com/dmitrijs2005/zkdrop/internal/server/blobstore"
	"github.com/dmitrijs2005/zkdrop/internal/server/config"
	"github.com/dmitrijs2005/zkdrop/internal/server/httpapi"
	"github.com/dmitrijs2005/zkdrop/internal/server/ratelimit"
	"github.com/dmitrijs2005/zkdrop/internal/server/repositories/files"
	"github.com/dmitrijs2005/zkdrop/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/zkdrop/internal/server/services"
	"github.com/dmitrijs2005/zkdrop/internal/server/storage"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/zkdrop/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	redis       *redis.Client
	fileService *services.FileService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	return newApp(ctx, c, os.Stdout)
}

func newApp(ctx context.Context, c *config.Config, logOut io.Writer) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger := logging.New(logOut, c.LogLevel)
	app := &App{config: c, logger: logger}

	records, err := app.initRecords(ctx)
	if err != nil {
		return nil, err
	}

	blobs, err := app.initBlobs(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	store := storage.New(records, blobs, logger, storage.Options{
		ExhaustedGrace: max(storage.DefaultExhaustedGrace, 2*c.RequestTimeout),
	})
	app.fileService = services.NewFileService(store, app.initLimiter(ctx), audit.NewLogSink(logger), logger, services.FileServiceOptions{
		BaseURL:        c.BaseURL,
		MaxUploadSize:  c.MaxUploadSize,
		RequestTimeout: c.RequestTimeout,
	})

	return app, nil
}

func (app *App) initRecords(ctx context.Context) (files.Repository, error) {
	if app.config.StorageDriver == repomanager.DriverMemory {
		app.logger.Warn(ctx, "using in-memory record store; files are lost on restart")
		return files.NewMemoryRepository(), nil
	}

	db, m, err := repomanager.Open(ctx, app.config.StorageDriver, app.config.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := m.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migrations error: %w", err)
	}
	app.db = db
	return m.Files(db), nil
}

func (app *App) initBlobs(ctx context.Context) (blobstore.Store, error) {
	c := app.config
	switch c.BlobDriver {
	case blobstore.DriverMemory:
		return blobstore.NewMemoryStore(), nil
	case blobstore.DriverS3:
		s, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
			Bucket:    c.S3Bucket,
			Prefix:    c.S3Prefix,
			Region:    c.S3Region,
			Endpoint:  c.S3BaseEndpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 init error: %w", err)
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("s3 init error: %w", err)
		}
		return s, nil
	default:
		s, err := blobstore.NewFSStore(c.BlobDir)
		if err != nil {
			return nil, fmt.Errorf("blob dir init error: %w", err)
		}
		return s, nil
	}
}

func (app *App) initLimiter(ctx context.Context) ratelimit.Limiter {
	c := app.config
	if c.UploadsPerMinute <= 0 {
		return ratelimit.Unlimited{}
	}
	switch c.RateLimitDriver {
	case ratelimit.DriverRedis:
		app.redis = redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		if err := app.redis.Ping(ctx).Err(); err != nil {
			app.logger.Warn(ctx, "redis unreachable; uploads are not rate limited until it is back", "error", err)
		}
		return ratelimit.NewRedisLimiter(app.redis, c.UploadsPerMinute)
	case ratelimit.DriverNone:
		return ratelimit.Unlimited{}
	default:
		return ratelimit.NewMemoryLimiter(c.UploadsPerMinute)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	handler := httpapi.NewRouter(app.fileService, app.logger, httpapi.Options{
		JWTSecret:      []byte(app.config.SecretKey),
		AllowedOrigins: app.config.AllowedOrigins,
		TrustProxy:     app.config.TrustProxy,
	})

	srv := &http.Server{
		Addr:              app.config.EndpointAddrHTTP,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			app.logger.Error(ctx, "HTTP shutdown error", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.EndpointAddrHTTP)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.fileService, 0)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// runCleanup sweeps expired and exhausted files every interval until ctx
// is done.
func (app *App) runCleanup(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := app.fileService.Cleanup(ctx); err != nil && ctx.Err() == nil {
				app.logger.Error(ctx, "cleanup failed", "error", err)
			}
		}
	}
}

// Run blocks until ctx is cancelled, a signal arrives or a server fails.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.runCleanup(ctx, app.config.CleanupInterval)
	}()

	wg.Wait()

	app.Close()
	app.logger.Info(context.Background(), "App stopped")
}

// Close releases the database and redis connections.
func (app *App) Close() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error(context.Background(), "db close error", "error", err)
		}
		app.db = nil
	}
	if app.redis != nil {
		_ = app.redis.Close()
		app.redis = nil
	}
}
