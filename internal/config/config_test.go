package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	v := NewViper()
	v.Set("auth.signing_secret", "test-secret")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected http address: %s", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != "tavern.db" {
		t.Fatalf("unexpected database path: %s", cfg.DatabasePath)
	}
	if cfg.TokenTTL != 30*time.Minute {
		t.Fatalf("unexpected token ttl: %s", cfg.TokenTTL)
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	v := NewViper()

	if _, err := Load(v); err == nil {
		t.Fatalf("expected missing signing secret to fail")
	}
}

func TestLoadRejectsNonPositiveTokenTTL(t *testing.T) {
	v := NewViper()
	v.Set("auth.signing_secret", "test-secret")
	v.Set("token.ttl_minutes", 0)

	if _, err := Load(v); err == nil {
		t.Fatalf("expected zero ttl to fail")
	}
}
