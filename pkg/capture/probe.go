package capture

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// storageProbeScript lists localStorage then sessionStorage entries. Values
// are filtered in Go so the heuristics stay testable without a browser.
const storageProbeScript = `(() => {
  const out = [];
  const areas = [['local', () => window.localStorage], ['session', () => window.sessionStorage]];
  for (const [area, get] of areas) {
    let store;
    try { store = get(); } catch (e) { continue; }
    if (!store) continue;
    for (let i = 0; i < store.length && out.length < 256; i++) {
      const key = store.key(i);
      const value = store.getItem(key);
      if (!key || !value || value.length > 16384) continue;
      out.push({area, key, value});
    }
  }
  return JSON.stringify(out);
})()`

// wellKnownKeys are checked before pattern matches, in this order.
var wellKnownKeys = []string{
	"access_token",
	"accesstoken",
	"auth_token",
	"authtoken",
	"token",
	"id_token",
	"jwt",
}

var (
	tokenFields  = []string{"token", "access_token", "accessToken", "auth_token", "authToken"}
	uidFields    = []string{"uid", "userId", "user_id", "id"}
	schemeFields = []string{"token_type", "tokenType", "scheme"}
)

const (
	minTokenLength = 8
	maxTokenLength = 8192
	maxSearchDepth = 4
)

type storageEntry struct {
	Area  string `json:"area"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// parseStorage decodes the probe script result. Playwright hands back the
// JSON string; a pre-decoded array is accepted as well.
func parseStorage(raw interface{}) ([]storageEntry, error) {
	var data []byte
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		data = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("unexpected storage probe result %T: %w", raw, err)
		}
		data = b
	}

	var entries []storageEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode storage probe result: %w", err)
	}
	return entries, nil
}

// tokenFromValue interprets a storage value: either a bare token string or a
// JSON document holding one.
func tokenFromValue(key, value string) (*Token, bool) {
	value = strings.TrimSpace(value)

	if strings.HasPrefix(value, "{") || strings.HasPrefix(value, "[") || strings.HasPrefix(value, `"`) {
		var doc interface{}
		if err := json.Unmarshal([]byte(value), &doc); err == nil {
			if s, ok := doc.(string); ok {
				return tokenFromString(key, s)
			}
			return searchDocument(key, doc, 0)
		}
	}
	return tokenFromString(key, value)
}

func tokenFromString(key, s string) (*Token, bool) {
	scheme, value := splitScheme(s)
	if !isTokenish(value) {
		return nil, false
	}
	return &Token{Value: value, Source: SourceStorage, Key: key, Scheme: scheme}, true
}

// searchDocument walks a decoded JSON value for an object carrying one of
// tokenFields, depth-first, and picks up sibling uid and scheme fields.
func searchDocument(key string, doc interface{}, depth int) (*Token, bool) {
	if depth > maxSearchDepth {
		return nil, false
	}

	switch v := doc.(type) {
	case map[string]interface{}:
		for _, field := range tokenFields {
			s, ok := v[field].(string)
			if !ok {
				continue
			}
			scheme, value := splitScheme(s)
			if !isTokenish(value) {
				continue
			}
			tok := &Token{Value: value, Source: SourceStorage, Key: key + "." + field, Scheme: scheme}
			if s := stringField(v, schemeFields); s != "" {
				tok.Scheme = normalizeScheme(s)
			}
			tok.UID = uidField(v)
			return tok, true
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if tok, ok := searchDocument(key, v[k], depth+1); ok {
				return tok, true
			}
		}
	case []interface{}:
		for _, child := range v {
			if tok, ok := searchDocument(key, child, depth+1); ok {
				return tok, true
			}
		}
	}
	return nil, false
}

func stringField(obj map[string]interface{}, fields []string) string {
	for _, f := range fields {
		if s, ok := obj[f].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func uidField(obj map[string]interface{}) *int64 {
	for _, f := range uidFields {
		switch v := obj[f].(type) {
		case float64:
			if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
				n := int64(v)
				return &n
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return &n
			}
		}
	}
	return nil
}

// splitScheme separates a leading "Bearer " or similar from the value.
func splitScheme(s string) (scheme, value string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i > 0 {
		prefix := s[:i]
		if strings.EqualFold(prefix, "bearer") || strings.EqualFold(prefix, "token") || strings.EqualFold(prefix, "jwt") {
			return normalizeScheme(prefix), strings.TrimSpace(s[i+1:])
		}
	}
	return "", s
}

func normalizeScheme(s string) string {
	if strings.EqualFold(s, "bearer") {
		return "Bearer"
	}
	return s
}

func isTokenish(s string) bool {
	if len(s) < minTokenLength || len(s) > maxTokenLength {
		return false
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	switch strings.ToLower(s) {
	case "null", "undefined", "true", "false":
		return false
	}
	return true
}
