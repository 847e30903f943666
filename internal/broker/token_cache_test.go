package broker

import (
	"path/filepath"
	"testing"
	"time"
)

func TestTokenCacheRefreshAndPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.enc")

	calls := 0
	tc := NewTokenCache(path, "test-passphrase")
	tc.Refresh = func() (string, time.Duration, error) {
		calls++
		return "tok-1", time.Hour, nil
	}

	tok, err := tc.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tok != "tok-1" {
		t.Fatalf("token = %q, want tok-1", tok)
	}

	// Second call within TTL must not call Refresh again.
	if _, err := tc.Get(); err != nil {
		t.Fatalf("Get (cached): %v", err)
	}
	if calls != 1 {
		t.Fatalf("Refresh called %d times, want 1", calls)
	}

	// A fresh cache instance pointed at the same file should load the
	// persisted (encrypted) token without calling Refresh.
	reloaded := NewTokenCache(path, "test-passphrase")
	reloaded.Refresh = func() (string, time.Duration, error) {
		t.Fatal("Refresh should not be called when a valid token was persisted")
		return "", 0, nil
	}
	tok2, err := reloaded.Get()
	if err != nil {
		t.Fatalf("Get (reloaded): %v", err)
	}
	if tok2 != "tok-1" {
		t.Fatalf("reloaded token = %q, want tok-1", tok2)
	}
}

func TestTokenCacheWrongPassphraseForcesRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.enc")

	tc := NewTokenCache(path, "correct-horse")
	tc.Refresh = func() (string, time.Duration, error) { return "tok-a", time.Hour, nil }
	if _, err := tc.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}

	wrong := NewTokenCache(path, "battery-staple")
	refreshed := false
	wrong.Refresh = func() (string, time.Duration, error) {
		refreshed = true
		return "tok-b", time.Hour, nil
	}
	tok, err := wrong.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !refreshed || tok != "tok-b" {
		t.Fatalf("expected refresh with wrong passphrase, got refreshed=%v tok=%q", refreshed, tok)
	}
}

func TestTokenCacheExpiryTriggersRefresh(t *testing.T) {
	tc := &TokenCache{}
	calls := 0
	tc.Refresh = func() (string, time.Duration, error) {
		calls++
		return "short-lived", 10 * time.Millisecond, nil
	}
	if _, err := tc.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := tc.Get(); err != nil {
		t.Fatalf("Get after expiry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("Refresh called %d times, want 2", calls)
	}
}
