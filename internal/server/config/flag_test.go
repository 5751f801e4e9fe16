package config

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	// Test cases
	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "Test1 OK", args: []string{"cmd",
			"-a", "127.0.0.1:9090", "-g", ":6000", "-u", "https://drop.example",
			"-storage", "postgres", "-d", "db", "-blob", "s3", "-blob-dir", "/tmp/blobs",
			"-b", "bucket", "-e", "http://endpoint", "-s", "secret",
			"-t", "5s", "-m", "1024", "-i", "1m", "-ratelimit", "redis", "-redis", "redis:6379", "-l", "3",
		}, expectPanic: false,
			expected: &Config{
				EndpointAddrHTTP: "127.0.0.1:9090",
				EndpointAddrGRPC: ":6000",
				BaseURL:          "https://drop.example",
				StorageDriver:    "postgres",
				DatabaseDSN:      "db",
				BlobDriver:       "s3",
				BlobDir:          "/tmp/blobs",
				S3Bucket:         "bucket",
				S3BaseEndpoint:   "http://endpoint",
				SecretKey:        "secret",
				RequestTimeout:   5 * time.Second,
				MaxUploadSize:    1024,
				CleanupInterval:  time.Minute,
				RateLimitDriver:  "redis",
				RedisAddr:        "redis:6379",
				UploadsPerMinute: 3,
			}},
		{name: "unrelated flags ignored", args: []string{"cmd", "-x", "1", "-c", "cfg.json"},
			expected: &Config{}},
		{name: "bad duration", args: []string{"cmd", "-t", "soon"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)

			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
