package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("session.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.DatabaseDriver != "sqlite" || cfg.DatabasePath != "ssa.db" {
		t.Fatalf("unexpected database defaults: %#v", cfg)
	}
	if cfg.SessionCookieName != "ssa_session" || cfg.SessionIssuer != "ssa-api" {
		t.Fatalf("unexpected session defaults: %#v", cfg)
	}
	if cfg.SessionTTL != 7*24*time.Hour {
		t.Fatalf("unexpected session ttl %s", cfg.SessionTTL)
	}
	if cfg.AnalyticsStream != "ssa:analytics" {
		t.Fatalf("unexpected analytics stream %q", cfg.AnalyticsStream)
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	if _, err := Load(NewViper()); err == nil {
		t.Fatalf("expected missing signing secret to fail")
	}
}

func TestLoadSplitsCommaSeparatedLists(t *testing.T) {
	configViper := NewViper()
	configViper.Set("session.signing_secret", "secret")
	configViper.Set("http.allowed_origins", "https://a.example.com, https://b.example.com ,")
	configViper.Set("identity.jwks_url", "https://clerk.example.com/.well-known/jwks.json")
	configViper.Set("identity.issuers", []string{"https://clerk.example.com"})

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins %#v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsJWKSWithoutIssuers(t *testing.T) {
	configViper := NewViper()
	configViper.Set("session.signing_secret", "secret")
	configViper.Set("identity.jwks_url", "https://clerk.example.com/.well-known/jwks.json")

	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected missing issuers to fail")
	}
}

func TestLoadValidatesDatabaseDriver(t *testing.T) {
	configViper := NewViper()
	configViper.Set("session.signing_secret", "secret")
	configViper.Set("database.driver", "mysql")
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected mysql without dsn to fail")
	}

	configViper.Set("database.driver", "oracle")
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected unsupported driver to fail")
	}
}

func TestLoadMaintenanceSkipsSessionSettings(t *testing.T) {
	configViper := NewViper()
	if _, err := LoadMaintenance(configViper); err == nil {
		t.Fatalf("expected missing migration secret to fail")
	}

	configViper.Set("migration.secret", "import-secret")
	cfg, err := LoadMaintenance(configViper)
	if err != nil {
		t.Fatalf("unexpected maintenance load error: %v", err)
	}
	if cfg.MigrationSecret != "import-secret" {
		t.Fatalf("unexpected migration secret %q", cfg.MigrationSecret)
	}
}
