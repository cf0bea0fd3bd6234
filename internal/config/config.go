// Package config provides configuration loading and management for the profile sync core.
// It handles environment variable parsing and provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// godotenv.Load() does not override already-set environment variables,
// preserving OS env > .env precedence.
func init() {
	// Load .env file if it exists (for shared development config)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// Load .env.local if it exists (for local overrides, gitignored)
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the profile sync core.
type Config struct {
	Env         string // Deployment environment (dev, staging, prod)
	DatabaseDSN string // Document store connection string (PostgreSQL); empty means in-memory
	NATSURL     string // Realtime feed URL; empty means in-process feed

	S3Endpoint      string // S3-compatible storage endpoint
	S3Region        string // S3 region
	S3Bucket        string // S3 bucket name
	S3AccessKey     string // S3 access key
	S3SecretKey     string // S3 secret key
	AssetPublicBase string // Base URL under which uploaded objects are retrievable

	// Session
	SessionToken string // Signed session token naming the current identity
	JWKSURL      string // Where session signing keys are published
	JWTIssuer    string // Expected issuer of session tokens
	JWTAudience  string // Expected audience of session tokens

	// Media limits
	MaxAvatarBytes int64    // Maximum transferable avatar size in bytes (default 4MiB)
	AllowedKinds   []string // Kinds the picker offers (image, video)

	MetricsAddr string // Address for /metrics and health endpoints; empty disables
}

// Default configuration values used when environment variables are not set
const (
	defaultEnv            = "dev"       // Default environment
	defaultS3Region       = "us-east-1" // Default S3 region
	defaultMaxAvatarBytes = 4 * 1024 * 1024
)

// Load reads environment variables and produces a Config suitable for wiring the CLI.
// Returns an error if a value is present but invalid.
func Load() (Config, error) {
	cfg := Config{
		Env:            getEnv("PROFILE_ENV", defaultEnv),
		DatabaseDSN:    os.Getenv("PROFILE_DB_DSN"),
		NATSURL:        os.Getenv("PROFILE_NATS_URL"),
		S3Endpoint:     os.Getenv("PROFILE_S3_ENDPOINT"),
		S3Region:       getEnv("PROFILE_S3_REGION", defaultS3Region),
		S3Bucket:       os.Getenv("PROFILE_S3_BUCKET"),
		S3AccessKey:    os.Getenv("PROFILE_S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("PROFILE_S3_SECRET_KEY"),
		SessionToken:   os.Getenv("PROFILE_SESSION_TOKEN"),
		JWKSURL:        os.Getenv("PROFILE_JWKS_URL"),
		JWTIssuer:      os.Getenv("PROFILE_JWT_ISSUER"),
		JWTAudience:    os.Getenv("PROFILE_JWT_AUDIENCE"),
		MetricsAddr:    os.Getenv("PROFILE_METRICS_ADDR"),
		MaxAvatarBytes: defaultMaxAvatarBytes,
		AllowedKinds:   []string{"image", "video"},
	}

	cfg.AssetPublicBase = getEnv("PROFILE_ASSET_PUBLIC_BASE", defaultPublicBase(cfg))

	if v, exists := os.LookupEnv("PROFILE_MAX_AVATAR_BYTES"); exists {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil || size <= 0 {
			return cfg, fmt.Errorf("PROFILE_MAX_AVATAR_BYTES must be a positive integer, got %q", v)
		}
		cfg.MaxAvatarBytes = size
	}

	if v, exists := os.LookupEnv("PROFILE_ALLOWED_KINDS"); exists {
		kinds := splitList(v)
		for _, k := range kinds {
			if k != "image" && k != "video" {
				return cfg, fmt.Errorf("PROFILE_ALLOWED_KINDS: unknown kind %q", k)
			}
		}
		if len(kinds) == 0 {
			return cfg, fmt.Errorf("PROFILE_ALLOWED_KINDS must name at least one kind")
		}
		cfg.AllowedKinds = kinds
	}

	// Partial S3 configuration is almost always a mistake
	if (cfg.S3Endpoint == "") != (cfg.S3Bucket == "") {
		return cfg, fmt.Errorf("PROFILE_S3_ENDPOINT and PROFILE_S3_BUCKET must be set together")
	}

	if cfg.JWKSURL != "" && (cfg.JWTIssuer == "" || cfg.JWTAudience == "") {
		return cfg, fmt.Errorf("PROFILE_JWT_ISSUER and PROFILE_JWT_AUDIENCE are required with PROFILE_JWKS_URL")
	}

	return cfg, nil
}

// defaultPublicBase derives the path-style object URL base from the S3 settings.
func defaultPublicBase(cfg Config) string {
	if cfg.S3Endpoint == "" {
		return "memory://assets"
	}
	return strings.TrimRight(cfg.S3Endpoint, "/") + "/" + cfg.S3Bucket
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

// splitList splits a comma separated value and trims each element
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
