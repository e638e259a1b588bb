package config

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"golang.org/x/net/publicsuffix"
)

const (
	// MatchTypeHost matches the URL host against a glob pattern
	MatchTypeHost = "host"
	// MatchTypeSite matches the URL's registrable domain exactly
	MatchTypeSite = "site"
	// SectionIDLoginAllowlist is the identifier for the login allowlist section
	SectionIDLoginAllowlist = "login_allowlist"
)

// AllowlistEntry describes a login destination that sessions may open.
type AllowlistEntry struct {
	Pattern     string `json:"pattern"`
	Description string `json:"description"`
	Type        string `json:"type"` // "host" or "site"
}

// LoginAllowlistSection restricts which login URLs a session may navigate to.
// An empty list allows any http(s) URL.
type LoginAllowlistSection struct {
	entries []AllowlistEntry
	globs   []glob.Glob
	mu      sync.RWMutex
}

// NewLoginAllowlistSection creates an empty (allow-all) login allowlist.
func NewLoginAllowlistSection() *LoginAllowlistSection {
	return &LoginAllowlistSection{}
}

// ID returns the section identifier.
func (s *LoginAllowlistSection) ID() string {
	return SectionIDLoginAllowlist
}

// Title returns the section title.
func (s *LoginAllowlistSection) Title() string {
	return "Login Allowlist"
}

// Description returns the section description.
func (s *LoginAllowlistSection) Description() string {
	return "Login URLs must match one of these entries. Leave empty to allow any http(s) URL."
}

// Data returns the current configuration data.
func (s *LoginAllowlistSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entriesData := make([]interface{}, len(s.entries))
	for i, e := range s.entries {
		entriesData[i] = map[string]interface{}{
			"pattern":     e.Pattern,
			"description": e.Description,
			"type":        e.Type,
		}
	}

	return map[string]interface{}{
		"entries": entriesData,
	}
}

// SetData updates the configuration from the provided data.
func (s *LoginAllowlistSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	entriesData, ok := data["entries"]
	if !ok {
		return nil
	}

	entriesSlice, ok := entriesData.([]interface{})
	if !ok {
		return fmt.Errorf("invalid entries type: expected []interface{}, got %T", entriesData)
	}

	entries := make([]AllowlistEntry, 0, len(entriesSlice))
	for i, item := range entriesSlice {
		entryMap, ok := item.(map[string]interface{})
		if !ok {
			return fmt.Errorf("invalid entry at index %d: expected map, got %T", i, item)
		}

		pattern, ok := entryMap["pattern"].(string)
		if !ok {
			return fmt.Errorf("invalid entry at index %d: missing or invalid pattern field", i)
		}

		description := ""
		if descriptionVal, has := entryMap["description"]; has {
			description, ok = descriptionVal.(string)
			if !ok {
				return fmt.Errorf("invalid entry at index %d: description field is not a string (got %T)", i, descriptionVal)
			}
		}

		entryType := MatchTypeHost
		if typeVal, has := entryMap["type"]; has {
			if typeStr, ok := typeVal.(string); ok && (typeStr == MatchTypeHost || typeStr == MatchTypeSite) {
				entryType = typeStr
			}
		}

		entries = append(entries, AllowlistEntry{
			Pattern:     strings.ToLower(strings.TrimSpace(pattern)),
			Description: description,
			Type:        entryType,
		})
	}

	globs, err := compileHostGlobs(entries)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.globs = globs
	return nil
}

// Validate validates the current configuration.
func (s *LoginAllowlistSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i, e := range s.entries {
		if e.Pattern == "" {
			return fmt.Errorf("entry at index %d is empty", i)
		}
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *LoginAllowlistSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.globs = nil
}

// AddEntry appends an entry to the allowlist.
func (s *LoginAllowlistSection) AddEntry(entry AllowlistEntry) error {
	if entry.Type == "" {
		entry.Type = MatchTypeHost
	}
	entry.Pattern = strings.ToLower(strings.TrimSpace(entry.Pattern))
	if entry.Pattern == "" {
		return fmt.Errorf("allowlist pattern cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(append([]AllowlistEntry(nil), s.entries...), entry)
	globs, err := compileHostGlobs(entries)
	if err != nil {
		return err
	}
	s.entries = entries
	s.globs = globs
	return nil
}

// Entries returns a copy of the configured entries.
func (s *LoginAllowlistSection) Entries() []AllowlistEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AllowlistEntry(nil), s.entries...)
}

// IsAllowed reports whether rawURL is an absolute http(s) URL permitted by
// the allowlist.
//
// Matching rules:
//   - Type "host": the lower-cased hostname must match the glob pattern,
//     e.g. "*.example.com" or "login.example.org"
//   - Type "site": the hostname's registrable domain (eTLD+1) must equal the
//     pattern, e.g. "example.co.uk" admits "accounts.example.co.uk"
func (s *LoginAllowlistSection) IsAllowed(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return true
	}

	for i, e := range s.entries {
		switch e.Type {
		case MatchTypeSite:
			site, err := publicsuffix.EffectiveTLDPlusOne(host)
			if err == nil && site == e.Pattern {
				return true
			}
		default:
			if g := s.globs[i]; g != nil && g.Match(host) {
				return true
			}
		}
	}
	return false
}

// compileHostGlobs returns one glob per entry, nil for site entries.
func compileHostGlobs(entries []AllowlistEntry) ([]glob.Glob, error) {
	globs := make([]glob.Glob, len(entries))
	for i, e := range entries {
		if e.Type != MatchTypeHost {
			continue
		}
		g, err := glob.Compile(e.Pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("invalid host pattern %q: %w", e.Pattern, err)
		}
		globs[i] = g
	}
	return globs, nil
}
