package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const envPrefix = "ZKDROP_"

// parseEnv overlays secrets and deployment settings from ZKDROP_*
// environment variables. A .env file in the working directory is loaded
// first if present; variables already set in the environment win.
func parseEnv(config *Config) {
	_ = godotenv.Load()

	envString("DATABASE_DSN", &config.DatabaseDSN)
	envString("SECRET_KEY", &config.SecretKey)
	envString("S3_ACCESS_KEY", &config.S3AccessKey)
	envString("S3_SECRET_KEY", &config.S3SecretKey)
	envString("S3_BASE_ENDPOINT", &config.S3BaseEndpoint)
	envString("REDIS_ADDR", &config.RedisAddr)
	envString("REDIS_PASSWORD", &config.RedisPassword)
	envString("BASE_URL", &config.BaseURL)

	if v, ok := os.LookupEnv(envPrefix + "TRUST_PROXY"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			config.TrustProxy = b
		}
	}
}

func envString(name string, dst *string) {
	if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
		*dst = v
	}
}
