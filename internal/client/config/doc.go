// Package config loads runtime configuration for the TryItOut CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the API server
//	-t int      request timeout (seconds)
//	-d string   data directory for the session database
//
// # JSON schema
//
//	{
//	  "server_url": "http://127.0.0.1:4000",
//	  "request_timeout": "30s",
//	  "data_dir": "/home/me/.config/tryitout"
//	}
package config
