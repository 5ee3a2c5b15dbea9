package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "")
	t.Setenv("DASHBOARD_CACHE_TTL_SECONDS", "")
	t.Setenv("PAYMENT_IDEMPOTENCY", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("port = %q, want 8080", cfg.Port)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("token ttl = %d, want 480", cfg.AccessTokenTTLMinutes)
	}
	if cfg.DashboardCacheTTLSeconds != 60 {
		t.Fatalf("summary ttl = %d, want 60", cfg.DashboardCacheTTLSeconds)
	}
	if cfg.PaymentIdempotency {
		t.Fatalf("payment idempotency should default off")
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("address = %q", cfg.Address())
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "not-a-number")
	t.Setenv("PAYMENT_IDEMPOTENCY", "true")

	cfg := Load()
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("bad ttl should fall back to 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if !cfg.PaymentIdempotency {
		t.Fatalf("payment idempotency should be enabled")
	}
}
