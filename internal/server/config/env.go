package config

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/tryitout/internal/flagx"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// EnvConfig lists the environment variables understood by the server.
// Names follow the ones used by the deployment (PORT, JWT_SECRET, STRIPE_*).
type EnvConfig struct {
	Port                         string        `env:"PORT"`
	EndpointAddrHTTP             string        `env:"HTTP_ADDRESS"`
	EndpointAddrGRPC             string        `env:"GRPC_ADDRESS"`
	DatabaseDSN                  string        `env:"DATABASE_DSN"`
	SecretKey                    string        `env:"JWT_SECRET"`
	AccessTokenValidityDuration  time.Duration `env:"ACCESS_TOKEN_TTL"`
	RefreshTokenValidityDuration time.Duration `env:"REFRESH_TOKEN_TTL"`
	TrialCredits                 int           `env:"TRIAL_CREDITS,default=-1,strict"`
	CORSOrigin                   string        `env:"CORS_ORIGIN"`
	ClientBaseURL                string        `env:"CLIENT_BASE_URL"`
	LogLevel                     string        `env:"LOG_LEVEL"`
	StripeSecret                 string        `env:"STRIPE_SECRET"`
	StripePriceID                string        `env:"STRIPE_PRICE_ID"`
	StripeWebhookSecret          string        `env:"STRIPE_WEBHOOK_SECRET"`
	IdentityURL                  string        `env:"IDENTITY_URL"`
	IdentityAnonKey              string        `env:"IDENTITY_ANON_KEY"`
	IdentityJWTSecret            string        `env:"IDENTITY_JWT_SECRET"`
	GeminiAPIKey                 string        `env:"GEMINI_API_KEY"`
	GeminiModel                  string        `env:"GEMINI_MODEL"`
	GeminiBaseURL                string        `env:"GEMINI_BASE_URL"`
	GenerationTimeout            time.Duration `env:"GENERATION_TIMEOUT"`
	S3RootUser                   string        `env:"S3_ROOT_USER"`
	S3RootPassword               string        `env:"S3_ROOT_PASSWORD"`
	S3Bucket                     string        `env:"S3_BUCKET"`
	S3Region                     string        `env:"S3_REGION"`
	S3BaseEndpoint               string        `env:"S3_BASE_ENDPOINT"`
	S3PublicBaseURL              string        `env:"S3_PUBLIC_BASE_URL"`
}

// parseEnv loads an optional dotenv file (-env flag, or ./.env when present)
// and overlays every variable that is set. Existing process variables win
// over the dotenv file.
func parseEnv(config *Config) {
	if path := flagx.EnvFileFlags(); path != "" {
		if err := godotenv.Load(path); err != nil {
			panic(err)
		}
	} else {
		// a missing ./.env is normal outside local development
		_ = godotenv.Load()
	}

	e := &EnvConfig{}
	if err := envdecode.Decode(e); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return
		}
		panic(err)
	}

	e.apply(config)
}

func (e *EnvConfig) apply(config *Config) {
	if e.Port != "" {
		config.EndpointAddrHTTP = ":" + e.Port
	}
	setString(&config.EndpointAddrHTTP, e.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, e.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, e.DatabaseDSN)
	setString(&config.SecretKey, e.SecretKey)
	if e.AccessTokenValidityDuration > 0 {
		config.AccessTokenValidityDuration = e.AccessTokenValidityDuration
	}
	if e.RefreshTokenValidityDuration > 0 {
		config.RefreshTokenValidityDuration = e.RefreshTokenValidityDuration
	}
	// -1 is the decode default for an unset TRIAL_CREDITS; 0 is a valid setting.
	if e.TrialCredits >= 0 {
		config.TrialCredits = e.TrialCredits
	}
	if origins := splitList(e.CORSOrigin); len(origins) > 0 {
		config.CORSOrigins = origins
	}
	setString(&config.ClientBaseURL, e.ClientBaseURL)
	setString(&config.LogLevel, e.LogLevel)
	setString(&config.StripeSecret, e.StripeSecret)
	setString(&config.StripePriceID, e.StripePriceID)
	setString(&config.StripeWebhookSecret, e.StripeWebhookSecret)
	setString(&config.IdentityURL, e.IdentityURL)
	setString(&config.IdentityAnonKey, e.IdentityAnonKey)
	setString(&config.IdentityJWTSecret, e.IdentityJWTSecret)
	setString(&config.GeminiAPIKey, e.GeminiAPIKey)
	setString(&config.GeminiModel, e.GeminiModel)
	setString(&config.GeminiBaseURL, e.GeminiBaseURL)
	if e.GenerationTimeout > 0 {
		config.GenerationTimeout = e.GenerationTimeout
	}
	setString(&config.S3RootUser, e.S3RootUser)
	setString(&config.S3RootPassword, e.S3RootPassword)
	setString(&config.S3Bucket, e.S3Bucket)
	setString(&config.S3Region, e.S3Region)
	setString(&config.S3BaseEndpoint, e.S3BaseEndpoint)
	setString(&config.S3PublicBaseURL, e.S3PublicBaseURL)
}
