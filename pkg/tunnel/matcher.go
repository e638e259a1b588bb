package tunnel

import (
	"fmt"
	"regexp"
)

// DefaultPatterns recognise the public URL in the output of common tunnel
// clients. They are tried in order; the first one that matches a line wins.
// A capture group, when present, selects the URL.
var DefaultPatterns = []string{
	// ngrok --log-format logfmt: ... msg="started tunnel" ... url=https://x.ngrok-free.app
	`\burl=(https://[^\s"]+)`,
	// cloudflared quick tunnels
	`(https://[a-z0-9-]+\.trycloudflare\.com)`,
	// ngrok hosts in plain output
	`(https://[a-z0-9.-]+\.ngrok(?:-free)?\.(?:app|io|dev))`,
	// localtunnel
	`(?i)your url is:\s*(https://\S+)`,
	// last resort: a bare https origin ending the token
	`(https://[a-z0-9-]+(?:\.[a-z0-9-]+)*\.[a-z]{2,}/?)(?:\s|$)`,
}

// Matcher extracts a public URL from a line of tunnel output.
type Matcher struct {
	patterns []*regexp.Regexp
}

// NewMatcher compiles patterns. An empty list selects DefaultPatterns.
func NewMatcher(patterns []string) (*Matcher, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	m := &Matcher{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid url pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// Match returns the URL found in line.
func (m *Matcher) Match(line string) (string, bool) {
	for _, re := range m.patterns {
		sub := re.FindStringSubmatch(line)
		if sub == nil {
			continue
		}
		if len(sub) > 1 && sub[1] != "" {
			return sub[1], true
		}
		return sub[0], true
	}
	return "", false
}
