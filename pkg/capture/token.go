// Package capture finds an authentication token left behind in a browser
// page after a completed login. It inspects the cookie jar first and falls
// back to script-accessible storage.
//
// Detection is heuristic: it matches cookie and storage names against
// configurable patterns and cannot know the internals of arbitrary login
// providers. A miss is a normal outcome and callers are expected to poll.
package capture

import "strconv"

// Token sources
const (
	SourceCookie  = "cookie"
	SourceStorage = "storage"
)

// Token is a captured authentication artifact.
type Token struct {
	Value string
	// Source is SourceCookie or SourceStorage
	Source string
	// Key is the cookie name or storage key the value was read from
	Key string
	// Scheme is the auth-scheme prefix (e.g. "Bearer") when one was found
	Scheme string
	// UID is a numeric identity stored next to the token, when present
	UID *int64
}

// Header renders the token in Authorization header form.
func (t *Token) Header() string {
	if t.Scheme == "" {
		return t.Value
	}
	return t.Scheme + " " + t.Value
}

// Describe returns a log-safe summary that never includes the value.
func (t *Token) Describe() string {
	return t.Source + ":" + t.Key + " (" + strconv.Itoa(len(t.Value)) + " chars)"
}
