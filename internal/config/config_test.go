package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BUSTRACK_JWT_SECRET", "s3cret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != ":8080" {
		t.Errorf("Addr %q, want :8080", cfg.Addr())
	}
	if cfg.SpeedLimitKPH != 80 {
		t.Errorf("SpeedLimitKPH %v, want 80", cfg.SpeedLimitKPH)
	}
	if cfg.StreamQueueSize != 64 || cfg.StreamWriteTimeout != 10*time.Second || cfg.StreamPingInterval != 25*time.Second {
		t.Errorf("stream settings %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("CORSOrigins %v, want [*]", cfg.CORSOrigins)
	}
	if cfg.StreamAllowAnonymous {
		t.Error("anonymous streaming should be off by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BUSTRACK_JWT_SECRET", "s3cret")
	t.Setenv("PORT", ":9000")
	t.Setenv("BUSTRACK_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("BUSTRACK_STREAM_QUEUE_SIZE", "8")
	t.Setenv("BUSTRACK_STREAM_WRITE_TIMEOUT", "2s")
	t.Setenv("BUSTRACK_LOG_FORMAT", "json")
	t.Setenv("BUSTRACK_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != ":9000" {
		t.Errorf("Addr %q, want :9000", cfg.Addr())
	}
	if strings.Join(cfg.CORSOrigins, "|") != "https://a.example|https://b.example" {
		t.Errorf("CORSOrigins %v", cfg.CORSOrigins)
	}
	if cfg.StreamQueueSize != 8 || cfg.StreamWriteTimeout != 2*time.Second {
		t.Errorf("stream settings %+v", cfg)
	}
	if cfg.NewLogger() == nil {
		t.Error("NewLogger returned nil")
	}
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("BUSTRACK_JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without a jwt secret")
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"BUSTRACK_SPEED_LIMIT_KPH":   "0",
		"BUSTRACK_STREAM_QUEUE_SIZE": "-1",
		"BUSTRACK_LOG_LEVEL":         "loud",
		"BUSTRACK_LOG_FORMAT":        "xml",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("BUSTRACK_JWT_SECRET", "s3cret")
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", key, value)
			}
		})
	}
}
