package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/tryitout/internal/flagx"
	"github.com/dmitrijs2005/tryitout/internal/timex"
)

// JsonConfig is the on-disk shape of the optional JSON config file.
// Durations accept "15m"-style strings or integer nanoseconds.
type JsonConfig struct {
	EndpointAddrHTTP             string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC             string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	TrialCredits                 *int           `json:"trial_credits"`
	CORSOrigins                  []string       `json:"cors_origins"`
	ClientBaseURL                string         `json:"client_base_url"`
	LogLevel                     string         `json:"log_level"`
	StripeSecret                 string         `json:"stripe_secret"`
	StripePriceID                string         `json:"stripe_price_id"`
	StripeWebhookSecret          string         `json:"stripe_webhook_secret"`
	IdentityURL                  string         `json:"identity_url"`
	IdentityAnonKey              string         `json:"identity_anon_key"`
	IdentityJWTSecret            string         `json:"identity_jwt_secret"`
	GeminiAPIKey                 string         `json:"gemini_api_key"`
	GeminiModel                  string         `json:"gemini_model"`
	GeminiBaseURL                string         `json:"gemini_base_url"`
	GenerationTimeout            timex.Duration `json:"generation_timeout"`
	MaxUploadBytes               int64          `json:"max_upload_bytes"`
	TryOnPerMinute               int            `json:"tryon_per_minute"`
	TryOnBurst                   int            `json:"tryon_burst"`
	S3RootUser                   string         `json:"s3_root_user"`
	S3RootPassword               string         `json:"s3_root_password"`
	S3Bucket                     string         `json:"s3_bucket"`
	S3Region                     string         `json:"s3_region"`
	S3BaseEndpoint               string         `json:"s3_base_endpoint"`
	S3PublicBaseURL              string         `json:"s3_public_base_url"`
}

// parseJson overlays values from the file named by -c/-config. Fields absent
// from the file keep their current value. Unreadable or invalid files panic,
// the same way bad flags do.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	if c.AccessTokenValidityDuration.Duration > 0 {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.RefreshTokenValidityDuration.Duration > 0 {
		config.RefreshTokenValidityDuration = c.RefreshTokenValidityDuration.Duration
	}
	if c.TrialCredits != nil {
		config.TrialCredits = *c.TrialCredits
	}
	if len(c.CORSOrigins) > 0 {
		config.CORSOrigins = c.CORSOrigins
	}
	setString(&config.ClientBaseURL, c.ClientBaseURL)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.StripeSecret, c.StripeSecret)
	setString(&config.StripePriceID, c.StripePriceID)
	setString(&config.StripeWebhookSecret, c.StripeWebhookSecret)
	setString(&config.IdentityURL, c.IdentityURL)
	setString(&config.IdentityAnonKey, c.IdentityAnonKey)
	setString(&config.IdentityJWTSecret, c.IdentityJWTSecret)
	setString(&config.GeminiAPIKey, c.GeminiAPIKey)
	setString(&config.GeminiModel, c.GeminiModel)
	setString(&config.GeminiBaseURL, c.GeminiBaseURL)
	if c.GenerationTimeout.Duration > 0 {
		config.GenerationTimeout = c.GenerationTimeout.Duration
	}
	if c.MaxUploadBytes > 0 {
		config.MaxUploadBytes = c.MaxUploadBytes
	}
	if c.TryOnPerMinute > 0 {
		config.TryOnPerMinute = c.TryOnPerMinute
	}
	if c.TryOnBurst > 0 {
		config.TryOnBurst = c.TryOnBurst
	}
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3PublicBaseURL, c.S3PublicBaseURL)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
