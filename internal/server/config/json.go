package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/zkdrop/internal/flagx"
	"github.com/dmitrijs2005/zkdrop/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. Fields left out of the file keep their current
// value in the runtime Config.
type JsonConfig struct {
	EndpointAddrHTTP string          `json:"endpoint_addr_http"`
	EndpointAddrGRPC string          `json:"endpoint_addr_grpc"`
	BaseURL          string          `json:"base_url"`
	LogLevel         string          `json:"log_level"`
	StorageDriver    string          `json:"storage_driver"`
	DatabaseDSN      string          `json:"database_dsn"`
	BlobDriver       string          `json:"blob_driver"`
	BlobDir          string          `json:"blob_dir"`
	S3Bucket         string          `json:"s3_bucket"`
	S3Prefix         string          `json:"s3_prefix"`
	S3Region         string          `json:"s3_region"`
	S3BaseEndpoint   string          `json:"s3_base_endpoint"`
	S3AccessKey      string          `json:"s3_access_key"`
	S3SecretKey      string          `json:"s3_secret_key"`
	SecretKey        string          `json:"secret_key"`
	RequestTimeout   *timex.Duration `json:"request_timeout"`
	MaxUploadSize    int64           `json:"max_upload_size"`
	CleanupInterval  *timex.Duration `json:"cleanup_interval"`
	RateLimitDriver  string          `json:"rate_limit_driver"`
	RedisAddr        string          `json:"redis_addr"`
	RedisPassword    string          `json:"redis_password"`
	RedisDB          *int            `json:"redis_db"`
	UploadsPerMinute *int            `json:"uploads_per_minute"`
	AllowedOrigins   []string        `json:"allowed_origins"`
	TrustProxy       *bool           `json:"trust_proxy"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags. If it is
// not set, no JSON file is loaded. If the file cannot be read or contains
// invalid JSON, the function panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.BaseURL, c.BaseURL)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.StorageDriver, c.StorageDriver)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.BlobDriver, c.BlobDriver)
	setString(&config.BlobDir, c.BlobDir)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Prefix, c.S3Prefix)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.RateLimitDriver, c.RateLimitDriver)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)

	if c.RequestTimeout != nil {
		config.RequestTimeout = c.RequestTimeout.Duration
	}
	if c.CleanupInterval != nil {
		config.CleanupInterval = c.CleanupInterval.Duration
	}
	if c.MaxUploadSize > 0 {
		config.MaxUploadSize = c.MaxUploadSize
	}
	if c.RedisDB != nil {
		config.RedisDB = *c.RedisDB
	}
	if c.UploadsPerMinute != nil {
		config.UploadsPerMinute = *c.UploadsPerMinute
	}
	if c.AllowedOrigins != nil {
		config.AllowedOrigins = c.AllowedOrigins
	}
	if c.TrustProxy != nil {
		config.TrustProxy = *c.TrustProxy
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
