package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/gigboard")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Escrow.ApprovalTimeout != 48*time.Hour {
		t.Errorf("approval timeout = %s, want 48h", cfg.Escrow.ApprovalTimeout)
	}
	if cfg.Escrow.CancelFeeBps != 500 {
		t.Errorf("cancel fee = %d bps, want 500", cfg.Escrow.CancelFeeBps)
	}
	if cfg.Escrow.PayoutMode != "inline" {
		t.Errorf("payout mode = %q, want inline", cfg.Escrow.PayoutMode)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9999")
	t.Setenv("APPROVAL_TIMEOUT", "72h")
	t.Setenv("PAYOUT_MODE", "async")
	t.Setenv("CANCEL_FEE_BPS", "250")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Escrow.ApprovalTimeout != 72*time.Hour {
		t.Errorf("approval timeout = %s, want 72h", cfg.Escrow.ApprovalTimeout)
	}
	if cfg.Escrow.PayoutMode != "async" {
		t.Errorf("payout mode = %q, want async", cfg.Escrow.PayoutMode)
	}
	if cfg.Escrow.CancelFeeBps != 250 {
		t.Errorf("cancel fee = %d bps, want 250", cfg.Escrow.CancelFeeBps)
	}
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "test-secret")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/gigboard")
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing JWT_SECRET")
	}
}

func TestLoad_BadPayoutMode(t *testing.T) {
	setRequired(t)
	t.Setenv("PAYOUT_MODE", "carrier-pigeon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown PAYOUT_MODE")
	}
}

func TestLoad_BadCancelFee(t *testing.T) {
	setRequired(t)
	t.Setenv("CANCEL_FEE_BPS", "20000")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for out-of-range CANCEL_FEE_BPS")
	}
}
