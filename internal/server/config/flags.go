package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/zkdrop/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string        HTTP bind address (e.g., ":8080")
//	-g string        gRPC health bind address (e.g., ":50051")
//	-u string        public base URL for share links
//	-storage string  record store: postgres, sqlite, memory
//	-d string        database DSN
//	-blob string     blob store: fs, s3, memory
//	-blob-dir string directory of the fs blob store
//	-b string        S3 bucket
//	-e string        S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-s string        JWT HMAC secret key
//	-t duration      per-request timeout
//	-m int           max ciphertext size, bytes
//	-i duration      cleanup interval
//	-ratelimit string upload gate: memory, redis, none
//	-redis string    redis address
//	-l int           uploads per minute per client
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-g", "-u", "-storage", "-d", "-blob", "-blob-dir", "-b", "-e",
		"-s", "-t", "-m", "-i", "-ratelimit", "-redis", "-l",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "HTTP address and port to run server")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "gRPC health address and port")
	fs.StringVar(&config.BaseURL, "u", config.BaseURL, "public base URL")
	fs.StringVar(&config.StorageDriver, "storage", config.StorageDriver, "record store driver")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.BlobDriver, "blob", config.BlobDriver, "blob store driver")
	fs.StringVar(&config.BlobDir, "blob-dir", config.BlobDir, "blob directory")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.DurationVar(&config.RequestTimeout, "t", config.RequestTimeout, "request timeout")
	fs.Int64Var(&config.MaxUploadSize, "m", config.MaxUploadSize, "max upload size in bytes")
	fs.DurationVar(&config.CleanupInterval, "i", config.CleanupInterval, "cleanup interval")
	fs.StringVar(&config.RateLimitDriver, "ratelimit", config.RateLimitDriver, "rate limit driver")
	fs.StringVar(&config.RedisAddr, "redis", config.RedisAddr, "redis address")
	fs.IntVar(&config.UploadsPerMinute, "l", config.UploadsPerMinute, "uploads per minute per client")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
