package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_TYPE", "sqlite")
	t.Setenv("DB_DATABASE", "stemflow.db")
	t.Setenv("AUTH_MODE", AuthModeHeader)
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != "3000" {
		t.Errorf("Expected default port 3000, got %s", cfg.Port)
	}
	if cfg.PresignTTL != 15*time.Minute {
		t.Errorf("Expected default presign ttl 15m, got %s", cfg.PresignTTL)
	}
	if cfg.MixerMode != "ffmpeg" {
		t.Errorf("Expected default mixer mode ffmpeg, got %s", cfg.MixerMode)
	}
	if cfg.ObjectStorageEnabled() {
		t.Error("Expected object storage disabled without MINIO_ENDPOINT")
	}
	if cfg.CacheEnabled() {
		t.Error("Expected cache disabled without REDIS_ADDR")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PRESIGN_TTL", "90s")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.PresignTTL != 90*time.Second {
		t.Errorf("Expected presign ttl 90s, got %s", cfg.PresignTTL)
	}
	if !cfg.MinioUseSSL {
		t.Error("Expected MINIO_USE_SSL to be true")
	}
	if cfg.RedisDB != 3 {
		t.Errorf("Expected redis db 3, got %d", cfg.RedisDB)
	}
	if !cfg.CacheEnabled() {
		t.Error("Expected cache enabled")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing database", func(c *Config) { c.DBDatabase = "" }, true},
		{"mysql needs user", func(c *Config) { c.DBType = "mysql" }, true},
		{"authorizer needs url", func(c *Config) { c.AuthMode = AuthModeAuthorizer }, true},
		{"unknown auth mode", func(c *Config) { c.AuthMode = "magic" }, true},
		{"unknown mixer", func(c *Config) { c.MixerMode = "tape" }, true},
		{"zero presign ttl", func(c *Config) { c.PresignTTL = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				DBType:     "sqlite",
				DBDatabase: "stemflow.db",
				AuthMode:   AuthModeHeader,
				MixerMode:  "paths",
				PresignTTL: time.Minute,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
