package config

import (
	"fmt"
	"net"
	"sync"
)

const (
	// SectionIDServer is the identifier for the HTTP server section
	SectionIDServer = "server"

	defaultListen = ":8787"
)

// ServerSection configures the HTTP boundary.
type ServerSection struct {
	Listen         string
	AuditDBPath    string
	MetricsEnabled bool
	mu             sync.RWMutex
}

// NewServerSection creates a server section with default settings.
func NewServerSection() *ServerSection {
	return &ServerSection{
		Listen:         defaultListen,
		MetricsEnabled: true,
	}
}

// ID returns the section identifier.
func (s *ServerSection) ID() string {
	return SectionIDServer
}

// Title returns the section title.
func (s *ServerSection) Title() string {
	return "Server Settings"
}

// Description returns the section description.
func (s *ServerSection) Description() string {
	return "Configure the HTTP listen address, the optional SQLite audit log and the /metrics endpoint."
}

// Data returns the current configuration data.
func (s *ServerSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"listen":          s.Listen,
		"audit_db_path":   s.AuditDBPath,
		"metrics_enabled": s.MetricsEnabled,
	}
}

// SetData updates the configuration from the provided data.
func (s *ServerSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "listen":
			s.Listen, err = asString(key, value)
		case "audit_db_path":
			s.AuditDBPath, err = asString(key, value)
		case "metrics_enabled":
			s.MetricsEnabled, err = asBool(key, value)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *ServerSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", s.Listen, err)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *ServerSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Listen = defaultListen
	s.AuditDBPath = ""
	s.MetricsEnabled = true
}

// GetListen returns the HTTP listen address.
func (s *ServerSection) GetListen() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Listen
}

// SetListen overrides the HTTP listen address.
func (s *ServerSection) SetListen(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Listen = addr
}

// GetAuditDBPath returns the audit database path; empty disables auditing.
func (s *ServerSection) GetAuditDBPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.AuditDBPath
}

// IsMetricsEnabled reports whether /metrics is served.
func (s *ServerSection) IsMetricsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.MetricsEnabled
}
