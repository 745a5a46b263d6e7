// README: Config loader tests.
package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr == "" || cfg.DB.DSN == "" || cfg.Redis.Addr == "" {
		t.Fatal("expected defaults for addr, dsn, redis")
	}
	if cfg.Dispatch.ResponseWindow.Seconds() != 30 {
		t.Fatalf("expected 30s response window, got %v", cfg.Dispatch.ResponseWindow)
	}
	if cfg.Dispatch.StaleOfferAfter.Seconds() != 40 {
		t.Fatalf("expected 40s stale window, got %v", cfg.Dispatch.StaleOfferAfter)
	}
	if cfg.Dispatch.SearchTimeout.Seconds() != 180 {
		t.Fatalf("expected 180s search timeout, got %v", cfg.Dispatch.SearchTimeout)
	}
}

func TestLoadRejectsInvertedWindows(t *testing.T) {
	t.Setenv("FAREBID_STALE_OFFER_SEC", "20")
	if _, err := Load(); err == nil {
		t.Fatal("stale window shorter than the response window must be rejected")
	}
}
