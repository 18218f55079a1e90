package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("duckrelay", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Database.Path != "" {
		t.Fatalf("Database.Path = %q, want in-memory default", cfg.Database.Path)
	}
	if cfg.AI.Enabled {
		t.Fatal("AI.Enabled should default to false")
	}
	if cfg.AI.Model != "gpt-5" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.History.MaxOpenConns != 10 {
		t.Fatalf("History.MaxOpenConns = %d", cfg.History.MaxOpenConns)
	}
	if cfg.Archive.Enabled {
		t.Fatal("Archive.Enabled should default to false")
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"DUCKRELAY_PROFILE": "prod"})
	cfg, err := Load("duckrelay", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if !cfg.Archive.UseSSL {
		t.Fatal("Archive.UseSSL should default to true in prod")
	}
	if cfg.Archive.AutoCreateBucket {
		t.Fatal("Archive.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"DUCKRELAY_HTTP_ADDR":          ":9999",
		"DUCKRELAY_HTTP_WRITE_TIMEOUT": "90s",
		"DUCKRELAY_DB_PATH":            "/var/lib/duckrelay/chat.db",
		"DUCKRELAY_AI_ENABLED":         "true",
		"DUCKRELAY_AI_API_KEY":         "sk-test",
		"DUCKRELAY_AI_MODEL":           "gpt-4o-mini",
		"DUCKRELAY_AI_TEMPERATURE":     "0.7",
		"DUCKRELAY_HISTORY_DSN":        "postgres://localhost/duckrelay",
		"DUCKRELAY_AUTH_SIGNING_KEYS":  "k1:secret1",
		"DUCKRELAY_LOG_LEVEL":          "warn",
	})
	cfg, err := Load("duckrelay", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.WriteTimeout != 90*time.Second {
		t.Fatalf("HTTP.WriteTimeout = %v", cfg.HTTP.WriteTimeout)
	}
	if cfg.Database.Path != "/var/lib/duckrelay/chat.db" {
		t.Fatalf("Database.Path = %q", cfg.Database.Path)
	}
	if !cfg.AI.Enabled {
		t.Fatal("AI.Enabled should be true")
	}
	if cfg.AI.Model != "gpt-4o-mini" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.AI.Temperature != 0.7 {
		t.Fatalf("AI.Temperature = %v", cfg.AI.Temperature)
	}
	if cfg.History.DSN != "postgres://localhost/duckrelay" {
		t.Fatalf("History.DSN = %q", cfg.History.DSN)
	}
	if cfg.Auth.SigningKeys != "k1:secret1" {
		t.Fatalf("Auth.SigningKeys = %q", cfg.Auth.SigningKeys)
	}
	if cfg.Observability.LogLevel != slog.LevelWarn {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
}

func TestLoadRejectsInvalidProfile(t *testing.T) {
	_, err := Load("duckrelay", mapLookup(map[string]string{"DUCKRELAY_PROFILE": "staging"}))
	if err == nil {
		t.Fatal("expected error for invalid profile")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	_, err := Load("duckrelay", mapLookup(map[string]string{"DUCKRELAY_HTTP_READ_TIMEOUT": "soon"}))
	if err == nil || !strings.Contains(err.Error(), "DUCKRELAY_HTTP_READ_TIMEOUT") {
		t.Fatalf("error = %v, want invalid duration error", err)
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	_, err := Load("duckrelay", mapLookup(map[string]string{"DUCKRELAY_LOG_LEVEL": "loud"}))
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestLoadRequiresAPIKeyWhenAIEnabled(t *testing.T) {
	_, err := Load("duckrelay", mapLookup(map[string]string{"DUCKRELAY_AI_ENABLED": "true"}))
	if err == nil || !strings.Contains(err.Error(), "DUCKRELAY_AI_API_KEY") {
		t.Fatalf("error = %v, want missing api key error", err)
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
