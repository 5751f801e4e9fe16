package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/zkdrop/internal/flagx"
	"github.com/dmitrijs2005/zkdrop/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Fields
// missing from the file leave the runtime Config untouched.
type JsonConfig struct {
	ServerURL        string          `json:"server_url"`
	RequestTimeout   *timex.Duration `json:"request_timeout"`
	Token            string          `json:"token"`
	DefaultTTL       string          `json:"default_ttl"`
	PBKDF2Iterations int             `json:"pbkdf2_iterations"`
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c or -config. It panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerURL != "" {
		cfg.ServerURL = jc.ServerURL
	}
	if jc.RequestTimeout != nil {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if jc.Token != "" {
		cfg.Token = jc.Token
	}
	if jc.DefaultTTL != "" {
		cfg.DefaultTTL = jc.DefaultTTL
	}
	if jc.PBKDF2Iterations > 0 {
		cfg.PBKDF2Iterations = jc.PBKDF2Iterations
	}
}
