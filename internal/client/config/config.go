package config

import (
	"time"

	"github.com/dmitrijs2005/zkdrop/internal/cryptox"
)

// Config holds runtime settings for the ZKDrop CLI.
//
// Fields:
//   - ServerURL: root URL of the ZKDrop HTTP API used for uploads.
//   - RequestTimeout: per-request HTTP timeout.
//   - Token: optional bearer token; uploads made with it can be deleted later.
//   - DefaultTTL: TTL class used when upload gets no -ttl.
//   - PBKDF2Iterations: work factor for password-derived keys.
type Config struct {
	ServerURL        string
	RequestTimeout   time.Duration
	Token            string
	DefaultTTL       string
	PBKDF2Iterations int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://localhost:8080"
	c.RequestTimeout = 60 * time.Second
	c.DefaultTTL = "24h"
	c.PBKDF2Iterations = cryptox.DefaultPBKDF2Iterations
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// the environment, JSON (if present) and command-line flags (if present).
// Later sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
