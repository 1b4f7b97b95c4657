package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoadAppliesDefaultsAndEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("ALLOWED_CONTEXTS", "popup, panel")

	cfg, err := Load(writeConfig(t, `
port: "8091"
databaseURL: "data/studio.db"
vendorURL: "https://studio.vbee.vn"
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("redisAddr = %q", cfg.RedisAddr)
	}
	if cfg.ContextName != "background" || cfg.Vendor != "vbee" || cfg.SessionTTLSeconds != 3600 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if len(cfg.AllowedContexts) != 2 || cfg.AllowedContexts[1] != "panel" {
		t.Fatalf("allowedContexts = %v", cfg.AllowedContexts)
	}
}

func TestValidateConfigRejectsShortSecret(t *testing.T) {
	cfg := FileConfig{Port: "8091", DatabaseURL: "studio.db", ContextTokenSecret: "short"}
	if err := validateConfig(cfg); err == nil || !strings.Contains(err.Error(), "contextTokenSecret") {
		t.Fatalf("expected secret length error, got %v", err)
	}
}

func TestValidateConfigRejectsRelativeVendorURL(t *testing.T) {
	cfg := FileConfig{Port: "8091", DatabaseURL: "studio.db", VendorURL: "studio.vbee.vn/api"}
	if err := validateConfig(cfg); err == nil || !strings.Contains(err.Error(), "vendorURL") {
		t.Fatalf("expected vendorURL error, got %v", err)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(writeConfig(t, `port: "8091"`)); err == nil {
		t.Fatalf("expected databaseURL error")
	}
}
