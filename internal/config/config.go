// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC ClaimService listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// HTTPAddr is the address of the ops/admin HTTP surface (health, admin claim listing, dev OTP).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN. When empty the server runs on in-memory stores (dev only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// JWTPublicKey is the PEM-encoded public key or path to file used to validate claimant access tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTPrivateKey is optional; when set (non-production) the server can mint dev tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTIssuer is the expected iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the expected aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`

	// OTPTTL is the code lifetime (e.g. "60m").
	OTPTTL string `mapstructure:"OTP_TTL"`
	// OTPMaxAttempts is the number of wrong codes accepted before a challenge locks.
	OTPMaxAttempts int `mapstructure:"OTP_MAX_ATTEMPTS"`
	// OTPMaxCodes is the number of challenges a single claim may be issued.
	OTPMaxCodes int `mapstructure:"OTP_MAX_CODES"`
	// OTPResendCooldown is the minimum interval between two code sends for one claim ("0" disables it).
	OTPResendCooldown string `mapstructure:"OTP_RESEND_COOLDOWN"`
	// OTPRetention is how long dead challenges are kept past expiry before the worker purges them.
	OTPRetention string `mapstructure:"OTP_RETENTION"`
	// OTPReturnToClient enables dev OTP mode: codes are captured for GET /dev/claims/{id}/otp. Forbidden in production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// ClaimPolicyFile is an optional Rego file overriding the built-in claim policy.
	ClaimPolicyFile string `mapstructure:"CLAIM_POLICY_FILE"`

	// MailDriver selects the email transport: log, smtp or http.
	MailDriver string `mapstructure:"MAIL_DRIVER"`
	MailFrom   string `mapstructure:"MAIL_FROM"`
	SMTPHost   string `mapstructure:"SMTP_HOST"`
	SMTPPort   int    `mapstructure:"SMTP_PORT"`
	SMTPUser   string `mapstructure:"SMTP_USERNAME"`
	SMTPPass   string `mapstructure:"SMTP_PASSWORD"`
	// MailHTTPURL is the endpoint of the HTTP mail relay when MAIL_DRIVER=http.
	MailHTTPURL    string `mapstructure:"MAIL_HTTP_URL"`
	MailHTTPAPIKey string `mapstructure:"MAIL_HTTP_API_KEY"`

	// RedisAddr enables the Redis-backed resend limiter when set.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	// KafkaBrokers is a comma-separated list of brokers for claim events (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// ClaimEventsTopic is the Kafka topic for claim lifecycle events.
	ClaimEventsTopic string `mapstructure:"CLAIM_EVENTS_TOPIC"`
	// KafkaGroupID is the consumer group ID for the worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where the worker forwards claim events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint enables OpenTelemetry export when set.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// AdminAPIKeyHash is the bcrypt hash of the key accepted on /admin routes. Empty disables them.
	AdminAPIKeyHash string `mapstructure:"ADMIN_API_KEY_HASH"`

	// SweepInterval is how often the worker purges dead challenges.
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("HTTP_ADDR", ":8081")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_ISSUER", "claims-auth")
	v.SetDefault("JWT_AUDIENCE", "claims-api")
	v.SetDefault("OTP_TTL", "60m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("OTP_MAX_CODES", 5)
	v.SetDefault("OTP_RESEND_COOLDOWN", "0s")
	v.SetDefault("OTP_RETENTION", "24h")
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("CLAIM_POLICY_FILE", "")
	v.SetDefault("MAIL_DRIVER", "log")
	v.SetDefault("MAIL_FROM", "no-reply@localhost")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 465)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("MAIL_HTTP_URL", "")
	v.SetDefault("MAIL_HTTP_API_KEY", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("CLAIM_EVENTS_TOPIC", "company-claims")
	v.SetDefault("KAFKA_GROUP_ID", "company-claims-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("ADMIN_API_KEY_HASH", "")
	v.SetDefault("SWEEP_INTERVAL", "5m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.OTPReturnToClient && cfg.IsProduction() {
		return nil, errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if cfg.IsProduction() && cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL must be set when APP_ENV=production")
	}
	if cfg.OTPMaxAttempts <= 0 {
		return nil, errors.New("config: OTP_MAX_ATTEMPTS must be positive")
	}
	if cfg.OTPMaxCodes <= 0 {
		return nil, errors.New("config: OTP_MAX_CODES must be positive")
	}
	switch cfg.MailDriver {
	case "log":
		if cfg.IsProduction() {
			return nil, errors.New("config: MAIL_DRIVER=log is not allowed when APP_ENV=production")
		}
	case "smtp":
		if cfg.SMTPHost == "" {
			return nil, errors.New("config: SMTP_HOST must be set when MAIL_DRIVER=smtp")
		}
	case "http":
		if cfg.MailHTTPURL == "" {
			return nil, errors.New("config: MAIL_HTTP_URL must be set when MAIL_DRIVER=http")
		}
	default:
		return nil, errors.New("config: MAIL_DRIVER must be one of log, smtp, http")
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c != nil && strings.EqualFold(c.Env, "production")
}

// CodeTTL parses OTPTTL. Returns 60m if unset or invalid.
func (c *Config) CodeTTL() time.Duration {
	return parseDuration(c.OTPTTL, 60*time.Minute)
}

// ResendCooldown parses OTPResendCooldown. Returns 0 (no cooldown) if unset or invalid.
func (c *Config) ResendCooldown() time.Duration {
	d, err := time.ParseDuration(c.OTPResendCooldown)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Retention parses OTPRetention. Returns 24h if unset or invalid.
func (c *Config) Retention() time.Duration {
	return parseDuration(c.OTPRetention, 24*time.Hour)
}

// SweepEvery parses SweepInterval. Returns 5m if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	return parseDuration(c.SweepInterval, 5*time.Minute)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
