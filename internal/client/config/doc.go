// Package config loads runtime configuration for the ZKDrop CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. ZKDROP_SERVER_URL and ZKDROP_TOKEN, also read from a .env file.
//  3. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  4. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string     root URL of the ZKDrop server
//	-t duration   HTTP request timeout
//
// # JSON schema
//
// The JSON loader uses timex.Duration for the timeout, so values can be
// either strings like "30s" or integer nanoseconds:
//
//	{
//	  "server_url": "https://drop.example",
//	  "request_timeout": "30s",
//	  "token": "eyJhbGciOi...",
//	  "default_ttl": "7d",
//	  "pbkdf2_iterations": 600000
//	}
package config
