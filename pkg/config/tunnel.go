package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	// SectionIDTunnel is the identifier for the tunnel settings section
	SectionIDTunnel = "tunnel"

	// DefaultCredentialEnv is the environment variable read for the tunnel credential
	DefaultCredentialEnv = "AUTHRELAY_TUNNEL_TOKEN"

	defaultTunnelCommand      = "ngrok"
	defaultTunnelStartTimeout = 15 * time.Second
)

var defaultTunnelArgs = []string{
	"http", "{port}",
	// DevTools only answers requests addressed to localhost
	"--host-header=rewrite",
	"--log", "stdout",
	"--log-format", "logfmt",
}

// The credential goes through the environment so it never shows up in argv
var defaultTunnelEnv = map[string]string{
	"NGROK_AUTHTOKEN": "{credential}",
}

// TunnelSettings is a lock-free copy of the tunnel section.
type TunnelSettings struct {
	Command       string
	Args          []string
	Env           map[string]string
	Credential    string
	CredentialEnv string
	StartTimeout  time.Duration
	URLPatterns   []string
	StatusAPIURL  string
}

// TunnelSection configures the public tunnel process.
type TunnelSection struct {
	Command       string
	Args          []string
	Env           map[string]string
	Credential    string
	CredentialEnv string
	StartTimeout  time.Duration
	URLPatterns   []string
	StatusAPIURL  string
	mu            sync.RWMutex
}

// NewTunnelSection creates a tunnel section with default settings.
func NewTunnelSection() *TunnelSection {
	s := &TunnelSection{}
	s.Reset()
	return s
}

// ID returns the section identifier.
func (s *TunnelSection) ID() string {
	return SectionIDTunnel
}

// Title returns the section title.
func (s *TunnelSection) Title() string {
	return "Tunnel Settings"
}

// Description returns the section description.
func (s *TunnelSection) Description() string {
	return "Configure the tunnel command that exposes a session's debugging port. Args and env values may use {port} and {credential} placeholders."
}

// Data returns the current configuration data. The literal credential is
// never written back out.
func (s *TunnelSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"command":        s.Command,
		"args":           toInterfaceSlice(s.Args),
		"env":            toInterfaceMap(s.Env),
		"credential_env": s.CredentialEnv,
		"start_timeout":  s.StartTimeout.String(),
		"url_patterns":   toInterfaceSlice(s.URLPatterns),
		"status_api_url": s.StatusAPIURL,
	}
}

// SetData updates the configuration from the provided data.
func (s *TunnelSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "command":
			s.Command, err = asString(key, value)
		case "args":
			s.Args, err = asStringSlice(key, value)
		case "env":
			s.Env, err = asStringMap(key, value)
		case "credential":
			s.Credential, err = asString(key, value)
		case "credential_env":
			s.CredentialEnv, err = asString(key, value)
		case "start_timeout":
			s.StartTimeout, err = asDuration(key, value)
		case "url_patterns":
			s.URLPatterns, err = asStringSlice(key, value)
		case "status_api_url":
			s.StatusAPIURL, err = asString(key, value)
		default:
			// Ignore unknown keys for forward compatibility
			continue
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// Validate validates the current configuration. A missing credential is not
// a validation error here: it is reported when a session is requested.
func (s *TunnelSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("tunnel command is required")
	}
	if s.StartTimeout < time.Second || s.StartTimeout > 5*time.Minute {
		return fmt.Errorf("start_timeout must be between 1s and 5m, got %v", s.StartTimeout)
	}
	for _, p := range s.URLPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid url pattern %q: %w", p, err)
		}
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *TunnelSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Command = defaultTunnelCommand
	s.Args = append([]string(nil), defaultTunnelArgs...)
	s.Env = make(map[string]string, len(defaultTunnelEnv))
	for k, v := range defaultTunnelEnv {
		s.Env[k] = v
	}
	s.Credential = ""
	s.CredentialEnv = DefaultCredentialEnv
	s.StartTimeout = defaultTunnelStartTimeout
	s.URLPatterns = nil
	s.StatusAPIURL = ""
}

// ResolveCredential returns the configured credential, falling back to the
// credential environment variable.
func (s *TunnelSection) ResolveCredential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.Credential != "" {
		return s.Credential
	}
	if s.CredentialEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(s.CredentialEnv))
}

// Settings returns a copy of the current values.
func (s *TunnelSection) Settings() TunnelSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env := make(map[string]string, len(s.Env))
	for k, v := range s.Env {
		env[k] = v
	}
	return TunnelSettings{
		Command:       s.Command,
		Args:          append([]string(nil), s.Args...),
		Env:           env,
		Credential:    s.Credential,
		CredentialEnv: s.CredentialEnv,
		StartTimeout:  s.StartTimeout,
		URLPatterns:   append([]string(nil), s.URLPatterns...),
		StatusAPIURL:  s.StatusAPIURL,
	}
}
