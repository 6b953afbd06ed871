package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.OwnerHeader != "X-Taskchat-Owner" {
		t.Errorf("OwnerHeader = %q", cfg.OwnerHeader)
	}
	if cfg.HistoryLimit != 50 {
		t.Errorf("HistoryLimit = %d", cfg.HistoryLimit)
	}
	if cfg.ResolverTimeout != 30*time.Second {
		t.Errorf("ResolverTimeout = %s", cfg.ResolverTimeout)
	}
	if cfg.ReminderHorizon != 24*time.Hour {
		t.Errorf("ReminderHorizon = %s", cfg.ReminderHorizon)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TASKCHAT_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("TASKCHAT_RESOLVER_TIMEOUT", "5s")
	t.Setenv("TASKCHAT_DEBUG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.ResolverTimeout != 5*time.Second {
		t.Errorf("ResolverTimeout = %s", cfg.ResolverTimeout)
	}
	if !cfg.Debug {
		t.Error("Debug not set")
	}
}

func TestLoad_RejectsNonPositiveLimits(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"history limit", "TASKCHAT_HISTORY_LIMIT", "0"},
		{"message length", "TASKCHAT_MAX_MESSAGE_LEN", "-1"},
		{"resolver timeout", "TASKCHAT_RESOLVER_TIMEOUT", "0s"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Error("Load accepted an invalid value")
			}
		})
	}
}
