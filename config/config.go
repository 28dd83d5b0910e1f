/*
Package config loads server configuration from the environment.

SOURCES (later wins):
  1. Defaults in the struct tags below
  2. An optional .env file in the working directory
  3. Process environment
  4. Command-line flags (port and db only, applied by cmd/server)

VARIABLES:
  REFERRAL_PORT            HTTP port (default 8080)
  REFERRAL_DB_PATH         SQLite path, ":memory:" allowed (default referrals.db)
  REFERRAL_JWT_SECRET      HS256 secret for bearer tokens (required outside development)
  REFERRAL_LOG_LEVEL       debug, info, warn, error (default info)
  REFERRAL_ENV             development or production (default development)
  REFERRAL_SHARE_BASE_URL  Signup URL used in share messages
  REFERRAL_CORS_ORIGINS    Comma-separated allowed origins (default: local dev servers)
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// devJWTSecret signs tokens in development when no secret is configured.
const devJWTSecret = "dev-only-referral-secret"

// Config is the server configuration.
type Config struct {
	Port         int    `env:"REFERRAL_PORT,default=8080"`
	DBPath       string `env:"REFERRAL_DB_PATH,default=referrals.db"`
	JWTSecret    string `env:"REFERRAL_JWT_SECRET"`
	LogLevel     string `env:"REFERRAL_LOG_LEVEL,default=info"`
	Environment  string `env:"REFERRAL_ENV,default=development"`
	ShareBaseURL string `env:"REFERRAL_SHARE_BASE_URL,default=http://localhost:5173/signup"`
	CORSOrigins  string `env:"REFERRAL_CORS_ORIGINS"`
}

// Load reads an optional env file and decodes the environment.
// A missing env file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fills development defaults and rejects unusable values.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.JWTSecret == "" {
		if !c.IsDevelopment() {
			return errors.New("REFERRAL_JWT_SECRET is required outside development")
		}
		c.JWTSecret = devJWTSecret
	}
	return nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "" || c.Environment == "development"
}

// defaultOrigins are allowed when REFERRAL_CORS_ORIGINS is unset.
var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// AllowedOrigins splits CORSOrigins.
func (c *Config) AllowedOrigins() []string {
	if strings.TrimSpace(c.CORSOrigins) == "" {
		return defaultOrigins
	}
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
