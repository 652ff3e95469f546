package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8460 || cfg.Database.Driver != "sqlite" {
		t.Errorf("server/database defaults = %+v / %+v", cfg.Server, cfg.Database)
	}
	if cfg.Invitation.TTL != 7*24*time.Hour {
		t.Errorf("invitation ttl = %s, want 168h", cfg.Invitation.TTL)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour || cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("durations = %s / %s", cfg.Auth.TokenTTL, cfg.Server.ShutdownTimeout)
	}
	if cfg.Maintenance.RepairSchedule != "@daily" || cfg.Mail.Provider != "log" {
		t.Errorf("maintenance/mail defaults = %+v / %+v", cfg.Maintenance, cfg.Mail)
	}
	if len(cfg.Server.TrustedProxies) != 0 {
		t.Errorf("trusted proxies = %v, want none", cfg.Server.TrustedProxies)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REALFOLIO_SERVER_PORT", "9000")
	t.Setenv("REALFOLIO_INVITATION_TTL", "48h")
	t.Setenv("REALFOLIO_QUEUE_TYPE", "valkey")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Invitation.TTL != 48*time.Hour {
		t.Errorf("invitation ttl = %s, want 48h", cfg.Invitation.TTL)
	}
	if cfg.Queue.Type != "valkey" {
		t.Errorf("queue type = %s, want valkey", cfg.Queue.Type)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "realfolio.yaml")
	data := []byte(`
server:
  mode: production
auth:
  jwt_secret: s3cret
database:
  driver: postgres
  dsn: postgres://realfolio@localhost/realfolio
maintenance:
  repair_schedule: "0 3 * * *"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Database.Driver != "postgres" || cfg.Maintenance.RepairSchedule != "0 3 * * *" {
		t.Errorf("config = %+v", cfg)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for an explicit missing file")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("REALFOLIO_LOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("REALFOLIO_LOG_LEVEL") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %s, want debug from .env", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	defaults, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"production default secret", func(c *Config) { c.Server.Mode = "production" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"unknown queue", func(c *Config) { c.Queue.Type = "kafka" }},
		{"sendgrid without key", func(c *Config) { c.Mail.Provider = "sendgrid" }},
		{"oidc without issuer", func(c *Config) { c.Auth.Type = "oidc" }},
		{"zero ttl", func(c *Config) { c.Invitation.TTL = 0 }},
		{"bad rate limit", func(c *Config) { c.RateLimit.RPS = 0 }},
		{"bad trusted proxy", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/8", "gateway"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *defaults
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
