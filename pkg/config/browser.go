package config

import (
	"fmt"
	"net/url"
	"sync"
	"time"
)

const (
	// SectionIDBrowser is the identifier for the browser settings section
	SectionIDBrowser = "browser"

	defaultViewportWidth     = 1280
	defaultViewportHeight    = 800
	defaultPortRangeStart    = 9222
	defaultPortRangeEnd      = 9322
	defaultPortTimeout       = 10 * time.Second
	defaultNavigationTimeout = 30 * time.Second
	defaultSessionTTL        = 6 * time.Minute
	defaultLoginURL          = "https://accounts.google.com/"
	defaultCaptureRate       = 5.0
	defaultCaptureTimeout    = 5 * time.Second
)

var defaultCookiePatterns = []string{"*token*", "*session*", "*auth*"}

// BrowserSettings is a lock-free copy of the browser section.
type BrowserSettings struct {
	Executable           string
	ViewportWidth        int
	ViewportHeight       int
	NoSandbox            bool
	PortRangeStart       int
	PortRangeEnd         int
	PortTimeout          time.Duration
	NavigationTimeout    time.Duration
	SessionTTL           time.Duration
	DefaultLoginURL      string
	CookiePatterns       []string
	CaptureRatePerSecond float64
	CaptureTimeout       time.Duration
}

// BrowserSection configures remote browser sessions.
type BrowserSection struct {
	settings BrowserSettings
	mu       sync.RWMutex
}

// NewBrowserSection creates a browser section with default settings.
func NewBrowserSection() *BrowserSection {
	s := &BrowserSection{}
	s.Reset()
	return s
}

// ID returns the section identifier.
func (s *BrowserSection) ID() string {
	return SectionIDBrowser
}

// Title returns the section title.
func (s *BrowserSection) Title() string {
	return "Browser Settings"
}

// Description returns the section description.
func (s *BrowserSection) Description() string {
	return "Configure the remote browser: executable, viewport, debugging port range, timeouts, session lifetime and token capture heuristics."
}

// Data returns the current configuration data.
func (s *BrowserSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := s.settings
	return map[string]interface{}{
		"executable":              b.Executable,
		"viewport_width":          b.ViewportWidth,
		"viewport_height":         b.ViewportHeight,
		"no_sandbox":              b.NoSandbox,
		"port_range_start":        b.PortRangeStart,
		"port_range_end":          b.PortRangeEnd,
		"port_timeout":            b.PortTimeout.String(),
		"navigation_timeout":      b.NavigationTimeout.String(),
		"session_ttl":             b.SessionTTL.String(),
		"default_login_url":       b.DefaultLoginURL,
		"cookie_patterns":         toInterfaceSlice(b.CookiePatterns),
		"capture_rate_per_second": b.CaptureRatePerSecond,
		"capture_timeout":         b.CaptureTimeout.String(),
	}
}

// SetData updates the configuration from the provided data.
func (s *BrowserSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := &s.settings
	for key, value := range data {
		var err error
		switch key {
		case "executable":
			b.Executable, err = asString(key, value)
		case "viewport_width":
			b.ViewportWidth, err = asInt(key, value)
		case "viewport_height":
			b.ViewportHeight, err = asInt(key, value)
		case "no_sandbox":
			b.NoSandbox, err = asBool(key, value)
		case "port_range_start":
			b.PortRangeStart, err = asInt(key, value)
		case "port_range_end":
			b.PortRangeEnd, err = asInt(key, value)
		case "port_timeout":
			b.PortTimeout, err = asDuration(key, value)
		case "navigation_timeout":
			b.NavigationTimeout, err = asDuration(key, value)
		case "session_ttl":
			b.SessionTTL, err = asDuration(key, value)
		case "default_login_url":
			b.DefaultLoginURL, err = asString(key, value)
		case "cookie_patterns":
			b.CookiePatterns, err = asStringSlice(key, value)
		case "capture_rate_per_second":
			b.CaptureRatePerSecond, err = asFloat(key, value)
		case "capture_timeout":
			b.CaptureTimeout, err = asDuration(key, value)
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
func (s *BrowserSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := s.settings
	if b.ViewportWidth < 100 || b.ViewportWidth > 5000 {
		return fmt.Errorf("viewport width must be between 100 and 5000 pixels")
	}
	if b.ViewportHeight < 100 || b.ViewportHeight > 5000 {
		return fmt.Errorf("viewport height must be between 100 and 5000 pixels")
	}
	if b.PortRangeStart < 1024 || b.PortRangeEnd > 65535 || b.PortRangeStart > b.PortRangeEnd {
		return fmt.Errorf("invalid debugging port range %d-%d", b.PortRangeStart, b.PortRangeEnd)
	}
	if b.PortTimeout <= 0 || b.NavigationTimeout <= 0 || b.CaptureTimeout <= 0 {
		return fmt.Errorf("port_timeout, navigation_timeout and capture_timeout must be positive")
	}
	if b.SessionTTL < time.Minute || b.SessionTTL > time.Hour {
		return fmt.Errorf("session_ttl must be between 1m and 1h, got %v", b.SessionTTL)
	}
	if b.DefaultLoginURL != "" {
		u, err := url.Parse(b.DefaultLoginURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("default_login_url must be an absolute http(s) URL")
		}
	}
	if len(b.CookiePatterns) == 0 {
		return fmt.Errorf("at least one cookie pattern is required")
	}
	if b.CaptureRatePerSecond < 0 {
		return fmt.Errorf("capture_rate_per_second must not be negative")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *BrowserSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = BrowserSettings{
		ViewportWidth:        defaultViewportWidth,
		ViewportHeight:       defaultViewportHeight,
		PortRangeStart:       defaultPortRangeStart,
		PortRangeEnd:         defaultPortRangeEnd,
		PortTimeout:          defaultPortTimeout,
		NavigationTimeout:    defaultNavigationTimeout,
		SessionTTL:           defaultSessionTTL,
		DefaultLoginURL:      defaultLoginURL,
		CookiePatterns:       append([]string(nil), defaultCookiePatterns...),
		CaptureRatePerSecond: defaultCaptureRate,
		CaptureTimeout:       defaultCaptureTimeout,
	}
}

// Settings returns a copy of the current values.
func (s *BrowserSection) Settings() BrowserSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := s.settings
	b.CookiePatterns = append([]string(nil), s.settings.CookiePatterns...)
	return b
}

// SetNoSandbox toggles the --no-sandbox browser flag.
func (s *BrowserSection) SetNoSandbox(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.NoSandbox = enabled
}
