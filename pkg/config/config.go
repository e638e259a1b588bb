package config

import (
	"sync"
)

var (
	// globalManager is the singleton configuration manager instance
	globalManager *Manager
	globalMu      sync.Mutex
)

// Initialize creates and initializes the global configuration manager.
// This should be called once at application startup.
func Initialize(configPath string) error {
	store, err := NewFileStore(configPath)
	if err != nil {
		return err
	}

	manager, err := newDefaultManager(store)
	if err != nil {
		return err
	}

	if err := manager.LoadAll(); err != nil {
		return err
	}

	globalMu.Lock()
	globalManager = manager
	globalMu.Unlock()
	return nil
}

// newDefaultManager registers every known section on a fresh manager.
func newDefaultManager(store Store) (*Manager, error) {
	manager := NewManager(store)

	sections := []Section{
		NewTunnelSection(),
		NewBrowserSection(),
		NewServerSection(),
		NewLoginAllowlistSection(),
	}
	for _, section := range sections {
		if err := manager.RegisterSection(section); err != nil {
			return nil, err
		}
	}
	return manager, nil
}

// Global returns the global configuration manager.
// Panics if Initialize has not been called.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		panic("config not initialized: call config.Initialize first")
	}

	return globalManager
}

// IsInitialized returns true if the global configuration has been initialized.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager != nil
}

func globalSection[T Section](id string) T {
	var zero T
	if !IsInitialized() {
		return zero
	}

	section, ok := Global().GetSection(id)
	if !ok {
		return zero
	}

	typed, ok := section.(T)
	if !ok {
		return zero
	}
	return typed
}

// GetTunnel returns the tunnel section from global config.
// Returns nil if config is not initialized.
func GetTunnel() *TunnelSection {
	return globalSection[*TunnelSection](SectionIDTunnel)
}

// GetBrowser returns the browser section from global config.
// Returns nil if config is not initialized.
func GetBrowser() *BrowserSection {
	return globalSection[*BrowserSection](SectionIDBrowser)
}

// GetServer returns the server section from global config.
// Returns nil if config is not initialized.
func GetServer() *ServerSection {
	return globalSection[*ServerSection](SectionIDServer)
}

// GetLoginAllowlist returns the login allowlist section from global config.
// Returns nil if config is not initialized.
func GetLoginAllowlist() *LoginAllowlistSection {
	return globalSection[*LoginAllowlistSection](SectionIDLoginAllowlist)
}

// IsLoginURLAllowed checks a login URL against the global allowlist.
// Returns true if config is not initialized.
func IsLoginURLAllowed(rawURL string) bool {
	allowlist := GetLoginAllowlist()
	if allowlist == nil {
		return true
	}
	return allowlist.IsAllowed(rawURL)
}
