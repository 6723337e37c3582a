package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Env != "development" {
		t.Errorf("Expected development env, got %s", cfg.Server.Env)
	}
	if cfg.MFA.MaxAttempts != 5 {
		t.Errorf("Expected 5 max attempts, got %d", cfg.MFA.MaxAttempts)
	}
	if cfg.RateLimit.Endpoints["login"].Requests != 10 {
		t.Errorf("Unexpected default login limit: %+v", cfg.RateLimit.Endpoints["login"])
	}
}

func TestLoadRejectsDefaultSecretsInProduction(t *testing.T) {
	t.Setenv("ENV", "production")

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted development secrets in production")
	}

	t.Setenv("IDP_JWT_SECRET", "real-idp-secret")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted the development MFA encryption key in production")
	}

	t.Setenv("MFA_ENCRYPTION_KEY", "real-mfa-key")
	if _, err := Load(); err != nil {
		t.Fatalf("Load failed with real secrets: %v", err)
	}
}

func TestParseEndpointLimits(t *testing.T) {
	limits := parseEndpointLimits("login=3/30,bogus,also=bad/pair,reports=50/120", defaultEndpointLimits())

	if got := limits["login"]; got.Requests != 3 || got.Window != 30*time.Second {
		t.Errorf("Override not applied: %+v", got)
	}
	if got := limits["reports"]; got.Requests != 50 || got.Window != 2*time.Minute {
		t.Errorf("Override not applied: %+v", got)
	}
	// Untouched defaults survive, garbage entries are dropped.
	if got := limits["csrf"]; got.Requests != 30 {
		t.Errorf("Default lost: %+v", got)
	}
	if _, ok := limits["also"]; ok {
		t.Error("Malformed entry was accepted")
	}
}
