// Package config handles configuration for the server component,
// including defaults, environment, JSON overlay, and command-line flags.
package config

import (
	"fmt"
	"time"
)

// Config holds runtime settings for the ZKDrop server.
//
// Fields:
//   - EndpointAddrHTTP / EndpointAddrGRPC: bind addresses for the HTTP API and the gRPC health endpoint.
//   - BaseURL: public origin used to build share links.
//   - StorageDriver / DatabaseDSN: record store ("postgres", "sqlite", "memory") and its DSN.
//   - BlobDriver / BlobDir / S3*: ciphertext store ("fs", "s3", "memory") and its settings.
//   - SecretKey: HMAC secret for owner JWTs (HS256). Empty disables owner features.
//   - RateLimitDriver / Redis* / UploadsPerMinute: upload gate.
type Config struct {
	EndpointAddrHTTP string
	EndpointAddrGRPC string
	BaseURL          string
	LogLevel         string

	StorageDriver string
	DatabaseDSN   string

	BlobDriver     string
	BlobDir        string
	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3BaseEndpoint string
	S3AccessKey    string
	S3SecretKey    string

	SecretKey string

	RequestTimeout  time.Duration
	MaxUploadSize   int64
	CleanupInterval time.Duration

	RateLimitDriver  string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	UploadsPerMinute int

	AllowedOrigins []string
	TrustProxy     bool
}

// LoadDefaults populates Config with development defaults: SQLite and
// blobs on local disk, in-process rate limiting.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":8080"
	c.EndpointAddrGRPC = ":50051"
	c.BaseURL = "http://localhost:8080"
	c.LogLevel = "info"
	c.StorageDriver = "sqlite"
	c.DatabaseDSN = "data/zkdrop.db"
	c.BlobDriver = "fs"
	c.BlobDir = "data/blobs"
	c.S3Bucket = "zkdrop"
	c.S3Region = "us-east-1"
	c.RequestTimeout = 30 * time.Second
	c.MaxUploadSize = 100 << 20
	c.CleanupInterval = 5 * time.Minute
	c.RateLimitDriver = "memory"
	c.RedisAddr = "127.0.0.1:6379"
	c.UploadsPerMinute = 10
	c.AllowedOrigins = []string{"*"}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	switch c.BlobDriver {
	case "fs", "s3", "memory":
	default:
		return fmt.Errorf("unknown blob driver %q", c.BlobDriver)
	}
	switch c.RateLimitDriver {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unknown rate limit driver %q", c.RateLimitDriver)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base url is required")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive")
	}
	return nil
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from the environment (and an optional .env file), an optional JSON file
// and finally command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
