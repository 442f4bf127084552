// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.beacon/config.yaml or ./config.yaml)
//  3. Default values
//
// A .env file in the working directory is loaded first when present, so
// local development matches the deployed environment-variable posture.
//
// Security: the telemetry secret is never logged and is masked in
// MarshalJSON. There is no compiled-in fallback secret — an unset
// TELEMETRY_SECRET means token issuance fails closed.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation.
var (
	// ErrInvalidMaxBodyBytes indicates the body size ceiling is out of range.
	ErrInvalidMaxBodyBytes = errors.New("invalid max body bytes")

	// ErrInvalidTimeout indicates a timeout value is out of range.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidRateLimit indicates the rate limit settings are out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrInvalidOTLPHeaders indicates OTEL_EXPORTER_OTLP_HEADERS is malformed.
	ErrInvalidOTLPHeaders = errors.New("invalid OTLP headers")
)

// Defaults for the ingestion guard.
const (
	DefaultAddr            = "127.0.0.1:3600"
	DefaultMaxBodyBytes    = 1_000_000
	DefaultBodyReadMS      = 10_000
	DefaultUpstreamMS      = 5_000
	DefaultRateLimitMax    = 10
	DefaultRateLimitWindow = 60_000
)

// Config stores application configuration.
// SECURITY: TelemetrySecret is masked in MarshalJSON. When adding new
// sensitive fields, update MarshalJSON.
type Config struct {
	// Server
	Addr string `mapstructure:"addr" json:"addr"`
	Dev  bool   `mapstructure:"dev" json:"dev"` // relaxes cookie Secure flag for local HTTP

	// Token signing secret. SENSITIVE: masked in MarshalJSON.
	// Empty means token issuance is disabled (fail-closed).
	TelemetrySecret string `mapstructure:"telemetry_secret" json:"telemetry_secret"`

	// Upstream OTLP collector. Empty endpoint means forwarding responds 503.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPHeaders  string `mapstructure:"otlp_headers" json:"otlp_headers"`

	// Request body policy
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" json:"max_body_bytes"`
	BodyReadMS   int   `mapstructure:"body_read_timeout_ms" json:"body_read_timeout_ms"`
	UpstreamMS   int   `mapstructure:"upstream_timeout_ms" json:"upstream_timeout_ms"`

	// Rate limiting
	RateLimitMax      int  `mapstructure:"rate_limit_max" json:"rate_limit_max"`
	RateLimitWindowMS int  `mapstructure:"rate_limit_window_ms" json:"rate_limit_window_ms"`
	RateLimitBypass   bool `mapstructure:"rate_limit_bypass" json:"rate_limit_bypass"` // test/E2E only
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	// Best-effort .env loading; absence is the normal case.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".beacon"))
	}
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("dev", false)
	v.SetDefault("max_body_bytes", DefaultMaxBodyBytes)
	v.SetDefault("body_read_timeout_ms", DefaultBodyReadMS)
	v.SetDefault("upstream_timeout_ms", DefaultUpstreamMS)
	v.SetDefault("rate_limit_max", DefaultRateLimitMax)
	v.SetDefault("rate_limit_window_ms", DefaultRateLimitWindow)
	v.SetDefault("rate_limit_bypass", false)
}

// bindEnvVariables binds environment variables explicitly. The OTLP names
// follow the OpenTelemetry SDK conventions so one set of variables drives
// both this guard and any co-located collector tooling.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("telemetry_secret", "TELEMETRY_SECRET")
	mustBind("otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	mustBind("otlp_headers", "OTEL_EXPORTER_OTLP_HEADERS")
	mustBind("addr", "BEACON_ADDR")
	mustBind("dev", "BEACON_DEV")
	mustBind("max_body_bytes", "BEACON_MAX_BODY_BYTES")
	mustBind("rate_limit_bypass", "BEACON_RATE_LIMIT_BYPASS")
}

// Validate performs fail-fast range checks.
func (c *Config) Validate() error {
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: max_body_bytes must be positive, got %d", ErrInvalidMaxBodyBytes, c.MaxBodyBytes)
	}
	if c.BodyReadMS < 0 {
		return fmt.Errorf("%w: body_read_timeout_ms must be non-negative, got %d", ErrInvalidTimeout, c.BodyReadMS)
	}
	if c.UpstreamMS <= 0 {
		return fmt.Errorf("%w: upstream_timeout_ms must be positive, got %d", ErrInvalidTimeout, c.UpstreamMS)
	}
	if c.RateLimitMax <= 0 {
		return fmt.Errorf("%w: rate_limit_max must be positive, got %d", ErrInvalidRateLimit, c.RateLimitMax)
	}
	if c.RateLimitWindowMS <= 0 {
		return fmt.Errorf("%w: rate_limit_window_ms must be positive, got %d", ErrInvalidRateLimit, c.RateLimitWindowMS)
	}
	if _, err := ParseOTLPHeaders(c.OTLPHeaders); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOTLPHeaders, err)
	}
	return nil
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// MarshalJSON masks sensitive fields so dumping the config is safe.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	masked := alias(c)
	if masked.TelemetrySecret != "" {
		masked.TelemetrySecret = maskedValue
	}
	return json.Marshal(masked)
}
