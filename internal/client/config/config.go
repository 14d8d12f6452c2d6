package config

import "time"

// Config holds runtime settings for the TryItOut CLI.
//
// Fields:
//   - ServerURL: base URL of the HTTP API.
//   - RequestTimeout: per-request timeout for API calls.
//   - DataDir: directory holding the session database; empty means the
//     user's config directory.
type Config struct {
	ServerURL      string
	RequestTimeout time.Duration
	DataDir        string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:4000"
	c.RequestTimeout = 30 * time.Second
	c.DataDir = ""
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
