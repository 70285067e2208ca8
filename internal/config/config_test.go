package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.GRPCAddr != ":8080" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":8080")
	}
	if cfg.HTTPAddr != ":8081" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8081")
	}
	if cfg.JWTIssuer != "claims-auth" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "claims-auth")
	}
	if cfg.OTPMaxAttempts != 5 {
		t.Errorf("OTPMaxAttempts = %d, want 5", cfg.OTPMaxAttempts)
	}
	if cfg.OTPMaxCodes != 5 {
		t.Errorf("OTPMaxCodes = %d, want 5", cfg.OTPMaxCodes)
	}
	if cfg.CodeTTL() != 60*time.Minute {
		t.Errorf("CodeTTL = %v, want 60m", cfg.CodeTTL())
	}
	if cfg.ResendCooldown() != 0 {
		t.Errorf("ResendCooldown = %v, want 0", cfg.ResendCooldown())
	}
	if cfg.MailDriver != "log" {
		t.Errorf("MailDriver = %q, want log", cfg.MailDriver)
	}
	if cfg.ClaimEventsTopic != "company-claims" {
		t.Errorf("ClaimEventsTopic = %q, want company-claims", cfg.ClaimEventsTopic)
	}
	if cfg.OTPReturnToClient {
		t.Error("OTPReturnToClient should default to false")
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":9090")
	os.Setenv("JWT_ISSUER", "custom-issuer")
	os.Setenv("OTP_MAX_ATTEMPTS", "3")
	os.Setenv("OTP_RESEND_COOLDOWN", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":9090")
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "custom-issuer")
	}
	if cfg.OTPMaxAttempts != 3 {
		t.Errorf("OTPMaxAttempts = %d, want 3", cfg.OTPMaxAttempts)
	}
	if cfg.ResendCooldown() != 30*time.Second {
		t.Errorf("ResendCooldown = %v, want 30s", cfg.ResendCooldown())
	}
}

func TestLoad_OTPReturnToClientProduction(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":8080")
	os.Setenv("OTP_RETURN_TO_CLIENT", "true")
	os.Setenv("APP_ENV", "production")
	os.Setenv("DATABASE_URL", "postgres://localhost/claims")
	os.Setenv("MAIL_DRIVER", "smtp")
	os.Setenv("SMTP_HOST", "smtp.example.com")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load should return error when OTP_RETURN_TO_CLIENT=true and APP_ENV=production")
	}
	if cfg != nil {
		t.Error("Load should return nil config on error")
	}
	if err.Error() != "config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestLoad_OTPReturnToClientDevelopment(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":8080")
	os.Setenv("OTP_RETURN_TO_CLIENT", "true")
	os.Setenv("APP_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.OTPReturnToClient {
		t.Error("OTPReturnToClient should be true")
	}
}

func TestLoad_ProductionRequirements(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{"missing database", map[string]string{"MAIL_DRIVER": "smtp", "SMTP_HOST": "smtp.example.com"}},
		{"log mailer", map[string]string{"DATABASE_URL": "postgres://localhost/claims"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("GRPC_ADDR", ":8080")
			os.Setenv("APP_ENV", "production")
			for k, v := range tc.env {
				os.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("Load should return error")
			}
		})
	}
}

func TestLoad_MailDriverValidation(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
		err  bool
	}{
		{"smtp without host", map[string]string{"MAIL_DRIVER": "smtp"}, true},
		{"smtp with host", map[string]string{"MAIL_DRIVER": "smtp", "SMTP_HOST": "smtp.example.com"}, false},
		{"http without url", map[string]string{"MAIL_DRIVER": "http"}, true},
		{"http with url", map[string]string{"MAIL_DRIVER": "http", "MAIL_HTTP_URL": "https://mail.example.com/send"}, false},
		{"unknown", map[string]string{"MAIL_DRIVER": "pigeon"}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("GRPC_ADDR", ":8080")
			for k, v := range tc.env {
				os.Setenv(k, v)
			}
			_, err := Load()
			if tc.err && err == nil {
				t.Fatal("Load should return error")
			}
			if !tc.err && err != nil {
				t.Fatalf("Load: %v", err)
			}
		})
	}
}

func TestLoad_NonPositiveLimits(t *testing.T) {
	for _, key := range []string{"OTP_MAX_ATTEMPTS", "OTP_MAX_CODES"} {
		t.Run(key, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("GRPC_ADDR", ":8080")
			os.Setenv(key, "0")
			if _, err := Load(); err == nil {
				t.Fatalf("Load should reject %s=0", key)
			}
		})
	}
}

func TestDurations_InvalidFallBackToDefaults(t *testing.T) {
	cfg := &Config{OTPTTL: "soon", OTPRetention: "-1h", SweepInterval: "0", OTPResendCooldown: "never"}
	if got := cfg.CodeTTL(); got != 60*time.Minute {
		t.Errorf("CodeTTL = %v, want 60m", got)
	}
	if got := cfg.Retention(); got != 24*time.Hour {
		t.Errorf("Retention = %v, want 24h", got)
	}
	if got := cfg.SweepEvery(); got != 5*time.Minute {
		t.Errorf("SweepEvery = %v, want 5m", got)
	}
	if got := cfg.ResendCooldown(); got != 0 {
		t.Errorf("ResendCooldown = %v, want 0", got)
	}
}

func TestKafkaBrokersList(t *testing.T) {
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should return nil brokers")
	}
	cfg := &Config{KafkaBrokers: " a:9092, ,b:9092 "}
	want := []string{"a:9092", "b:9092"}
	if got := cfg.KafkaBrokersList(); !reflect.DeepEqual(got, want) {
		t.Errorf("KafkaBrokersList = %v, want %v", got, want)
	}
}
