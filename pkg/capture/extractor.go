package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/entrhq/authrelay/pkg/browser"
)

// DefaultPatterns match authentication-related cookie and storage names.
// Names are lower-cased before matching.
var DefaultPatterns = []string{"*token*", "*session*", "*auth*"}

// Miss reasons
const (
	ReasonNotFound   = "no matching cookie or storage key"
	ReasonUnreadable = "page not readable"
)

// Inspector reads client-side state from a page. *browser.Instance
// satisfies it.
type Inspector interface {
	Cookies(ctx context.Context) ([]browser.Cookie, error)
	Evaluate(ctx context.Context, script string) (interface{}, error)
}

// Extractor applies the cookie and storage heuristics.
type Extractor struct {
	patterns []glob.Glob
}

// NewExtractor compiles name patterns. An empty list selects DefaultPatterns.
func NewExtractor(patterns []string) (*Extractor, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	e := &Extractor{patterns: make([]glob.Glob, 0, len(patterns))}
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("invalid name pattern %q: %w", p, err)
		}
		e.patterns = append(e.patterns, g)
	}
	return e, nil
}

// Extract looks for a token. It returns the token, or nil and a reason
// describing the miss. Read failures, which are common while the page is
// navigating, count as a miss.
func (e *Extractor) Extract(ctx context.Context, in Inspector) (*Token, string) {
	cookies, err := in.Cookies(ctx)
	if err != nil {
		return nil, fmt.Sprintf("%s: %v", ReasonUnreadable, err)
	}
	if tok := e.fromCookies(cookies); tok != nil {
		return tok, ""
	}

	raw, err := in.Evaluate(ctx, storageProbeScript)
	if err != nil {
		return nil, fmt.Sprintf("%s: %v", ReasonUnreadable, err)
	}
	entries, err := parseStorage(raw)
	if err != nil {
		return nil, fmt.Sprintf("%s: %v", ReasonUnreadable, err)
	}
	if tok := e.fromStorage(entries); tok != nil {
		return tok, ""
	}
	return nil, ReasonNotFound
}

// Matches reports whether name matches one of the patterns.
func (e *Extractor) Matches(name string) bool {
	name = strings.ToLower(name)
	for _, g := range e.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func (e *Extractor) fromCookies(cookies []browser.Cookie) *Token {
	for _, c := range cookies {
		if c.Value == "" || !e.Matches(c.Name) {
			continue
		}
		scheme, value := splitScheme(c.Value)
		if value == "" {
			continue
		}
		return &Token{Value: value, Source: SourceCookie, Key: c.Name, Scheme: scheme}
	}
	return nil
}

// fromStorage checks well-known keys first, then any key matching the
// patterns, keeping the probe's local-before-session order within each pass.
func (e *Extractor) fromStorage(entries []storageEntry) *Token {
	for _, known := range wellKnownKeys {
		for _, entry := range entries {
			if strings.ToLower(entry.Key) != known {
				continue
			}
			if tok, ok := tokenFromValue(entry.Key, entry.Value); ok {
				return tok
			}
		}
	}

	for _, entry := range entries {
		if !e.Matches(entry.Key) {
			continue
		}
		if tok, ok := tokenFromValue(entry.Key, entry.Value); ok {
			return tok
		}
	}
	return nil
}
