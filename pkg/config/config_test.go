package config

import (
	"path/filepath"
	"testing"
	"time"
)

func resetGlobal() {
	globalMu.Lock()
	globalManager = nil
	globalMu.Unlock()
}

func TestInitialize(t *testing.T) {
	t.Run("registers all sections", func(t *testing.T) {
		resetGlobal()
		t.Cleanup(resetGlobal)

		if err := Initialize(filepath.Join(t.TempDir(), "config.json")); err != nil {
			t.Fatalf("Initialize failed: %v", err)
		}
		if !IsInitialized() {
			t.Fatal("Global manager should be initialized")
		}

		for _, id := range []string{SectionIDTunnel, SectionIDBrowser, SectionIDServer, SectionIDLoginAllowlist} {
			if _, ok := Global().GetSection(id); !ok {
				t.Errorf("%s section not registered", id)
			}
		}
		if GetTunnel() == nil || GetBrowser() == nil || GetServer() == nil || GetLoginAllowlist() == nil {
			t.Error("typed getters should return sections when initialized")
		}
	})

	t.Run("persists and reloads configuration", func(t *testing.T) {
		resetGlobal()
		t.Cleanup(resetGlobal)
		configPath := filepath.Join(t.TempDir(), "config.yaml")

		if err := Initialize(configPath); err != nil {
			t.Fatalf("First initialize failed: %v", err)
		}
		if err := GetBrowser().SetData(map[string]interface{}{"session_ttl": "10m"}); err != nil {
			t.Fatalf("SetData failed: %v", err)
		}
		if err := GetLoginAllowlist().AddEntry(AllowlistEntry{Pattern: "example.com", Type: MatchTypeSite}); err != nil {
			t.Fatalf("AddEntry failed: %v", err)
		}
		if err := Global().SaveAll(); err != nil {
			t.Fatalf("SaveAll failed: %v", err)
		}

		resetGlobal()
		if err := Initialize(configPath); err != nil {
			t.Fatalf("Re-initialize failed: %v", err)
		}

		if got := GetBrowser().Settings().SessionTTL; got != 10*time.Minute {
			t.Errorf("Expected session_ttl 10m after reload, got %v", got)
		}
		if !IsLoginURLAllowed("https://accounts.example.com/login") {
			t.Error("allowlist entry was not reloaded")
		}
		if IsLoginURLAllowed("https://evil.test/") {
			t.Error("allowlist should reject unlisted sites after reload")
		}
	})

	t.Run("rejects invalid stored values", func(t *testing.T) {
		resetGlobal()
		t.Cleanup(resetGlobal)
		configPath := filepath.Join(t.TempDir(), "config.json")

		store, err := NewFileStore(configPath)
		if err != nil {
			t.Fatalf("NewFileStore failed: %v", err)
		}
		store.SetSection(SectionIDServer, map[string]interface{}{"listen": "not-an-address"})
		if err := store.Save(); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		if err := Initialize(configPath); err == nil {
			t.Error("Initialize should fail on invalid listen address")
		}
		if IsInitialized() {
			t.Error("failed Initialize must not install a global manager")
		}
	})
}

func TestGlobal(t *testing.T) {
	t.Run("panics if not initialized", func(t *testing.T) {
		resetGlobal()

		defer func() {
			if r := recover(); r == nil {
				t.Error("Expected panic for uninitialized config")
			}
		}()

		Global()
	})

	t.Run("getters return nil when not initialized", func(t *testing.T) {
		resetGlobal()

		if GetTunnel() != nil || GetBrowser() != nil || GetServer() != nil || GetLoginAllowlist() != nil {
			t.Error("Expected nil sections for uninitialized config")
		}
		if !IsLoginURLAllowed("https://anything.example/") {
			t.Error("uninitialized config should not restrict login URLs")
		}
	})
}
