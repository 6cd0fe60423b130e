package config

import (
	"testing"
	"time"
)

const testEncryptionKey = "01234567890123456789012345678901"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testEncryptionKey)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want %q", cfg.Server.Port, "8080")
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want 5432", cfg.Database.Port)
	}
	if !cfg.Webhook.VerificationEnabled {
		t.Error("Webhook.VerificationEnabled = false, want true by default")
	}
	if cfg.Webhook.ReplayWindow != 300*time.Second {
		t.Errorf("Webhook.ReplayWindow = %v, want 300s", cfg.Webhook.ReplayWindow)
	}
	if cfg.Webhook.TokenHeader != "Plaid-Verification" {
		t.Errorf("Webhook.TokenHeader = %q, want %q", cfg.Webhook.TokenHeader, "Plaid-Verification")
	}
	if cfg.Webhook.KeySetURL != defaultKeySetURLs["sandbox"] {
		t.Errorf("Webhook.KeySetURL = %q, want sandbox default", cfg.Webhook.KeySetURL)
	}
	if cfg.Teller.BaseURL != "https://api.teller.io" {
		t.Errorf("Teller.BaseURL = %q, want api.teller.io default", cfg.Teller.BaseURL)
	}
}

func TestLoad_MissingEncryptionKey(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "")

	if _, err := Load(); err == nil {
		t.Error("Load() accepted empty ENCRYPTION_KEY")
	}
}

func TestLoad_ShortEncryptionKey(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "too-short")

	if _, err := Load(); err == nil {
		t.Error("Load() accepted short ENCRYPTION_KEY")
	}
}

func TestLoad_KeySetURLFollowsEnvironment(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testEncryptionKey)
	t.Setenv("PLAID_ENVIRONMENT", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Webhook.KeySetURL != defaultKeySetURLs["production"] {
		t.Errorf("Webhook.KeySetURL = %q, want production default", cfg.Webhook.KeySetURL)
	}
}

func TestLoad_ExplicitKeySetURLWins(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testEncryptionKey)
	t.Setenv("WEBHOOK_KEYSET_URL", "https://keys.example.com/jwks")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Webhook.KeySetURL != "https://keys.example.com/jwks" {
		t.Errorf("Webhook.KeySetURL = %q, want explicit override", cfg.Webhook.KeySetURL)
	}
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testEncryptionKey)
	t.Setenv("PLAID_ENVIRONMENT", "staging")

	if _, err := Load(); err == nil {
		t.Error("Load() accepted invalid PLAID_ENVIRONMENT")
	}
}

func TestLoad_BypassForbiddenInProduction(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testEncryptionKey)
	t.Setenv("PLAID_ENVIRONMENT", "production")
	t.Setenv("WEBHOOK_VERIFICATION_ENABLED", "false")

	if _, err := Load(); err == nil {
		t.Error("Load() allowed disabling webhook verification in production")
	}
}
