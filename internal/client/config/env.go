package config

import (
	"os"

	"github.com/joho/godotenv"
)

func parseEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("ZKDROP_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("ZKDROP_TOKEN"); v != "" {
		cfg.Token = v
	}
}
