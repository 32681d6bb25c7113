// Package config reads the engine's configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the gigboard API server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Escrow   EscrowConfig
	Auth     AuthConfig
	External ExternalConfig
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	URL string
}

type EscrowConfig struct {
	// ApprovalTimeout is how long an employer has to approve submitted work
	// before the auto-release scheduler approves it for them.
	ApprovalTimeout time.Duration
	// CancelFeeBps is forfeited to the platform when a job is cancelled
	// after work has started.
	CancelFeeBps int64
	// PayoutMode is "inline" or "async".
	PayoutMode string
	// SweepInterval is how often the auto-release scheduler scans for
	// overdue approvals.
	SweepInterval time.Duration
	// ReconcileInterval is how often the reconciliation job cross-checks
	// jobs against the ledger.
	ReconcileInterval time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

type ExternalConfig struct {
	// NotifyWebhookURL receives job and payment events.
	NotifyWebhookURL string
	// VerifierURL is the identity/KYC verifier base URL.
	VerifierURL string
}

// Load reads configuration from environment variables and returns a
// validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("PORT", 8080),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Escrow: EscrowConfig{
			ApprovalTimeout:   envDuration("APPROVAL_TIMEOUT", 48*time.Hour),
			CancelFeeBps:      int64(envInt("CANCEL_FEE_BPS", 500)),
			PayoutMode:        envString("PAYOUT_MODE", "inline"),
			SweepInterval:     envDuration("SWEEP_INTERVAL", time.Minute),
			ReconcileInterval: envDuration("RECONCILE_INTERVAL", time.Hour),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		External: ExternalConfig{
			NotifyWebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
			VerifierURL:      os.Getenv("VERIFIER_URL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Escrow.PayoutMode != "inline" && c.Escrow.PayoutMode != "async" {
		return fmt.Errorf("PAYOUT_MODE must be inline or async, got %q", c.Escrow.PayoutMode)
	}
	if c.Escrow.ApprovalTimeout <= 0 {
		return fmt.Errorf("APPROVAL_TIMEOUT must be positive")
	}
	if c.Escrow.CancelFeeBps < 0 || c.Escrow.CancelFeeBps > 10000 {
		return fmt.Errorf("CANCEL_FEE_BPS must be between 0 and 10000, got %d", c.Escrow.CancelFeeBps)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
