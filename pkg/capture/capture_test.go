package capture

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/authrelay/pkg/browser"
)

type fakePage struct {
	cookies    []browser.Cookie
	cookieErr  error
	storage    []storageEntry
	evalErr    error
	evalCalled int
}

func (f *fakePage) Cookies(context.Context) ([]browser.Cookie, error) {
	return f.cookies, f.cookieErr
}

func (f *fakePage) Evaluate(_ context.Context, script string) (interface{}, error) {
	f.evalCalled++
	if f.evalErr != nil {
		return nil, f.evalErr
	}
	if script != storageProbeScript {
		return nil, errors.New("unexpected script")
	}
	b, err := json.Marshal(f.storage)
	return string(b), err
}

func newExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := NewExtractor(nil)
	require.NoError(t, err)
	return e
}

func TestExtract_CookieWins(t *testing.T) {
	page := &fakePage{
		cookies: []browser.Cookie{
			{Name: "_ga", Value: "GA1.2.3"},
			{Name: "X-Auth-Token", Value: "cookie-token-value"},
			{Name: "sessionid", Value: "later"},
		},
		storage: []storageEntry{{Area: "local", Key: "token", Value: "storage-token-value"}},
	}

	tok, reason := newExtractor(t).Extract(context.Background(), page)
	require.NotNil(t, tok, reason)
	assert.Equal(t, "cookie-token-value", tok.Value)
	assert.Equal(t, SourceCookie, tok.Source)
	assert.Equal(t, "X-Auth-Token", tok.Key)
	assert.Equal(t, 0, page.evalCalled, "storage is not probed when a cookie matches")
}

func TestExtract_CookieSkipsEmptyValues(t *testing.T) {
	page := &fakePage{cookies: []browser.Cookie{
		{Name: "auth", Value: ""},
		{Name: "SESSION", Value: "Bearer abc.def.ghi"},
	}}

	tok, _ := newExtractor(t).Extract(context.Background(), page)
	require.NotNil(t, tok)
	assert.Equal(t, "abc.def.ghi", tok.Value)
	assert.Equal(t, "Bearer", tok.Scheme)
	assert.Equal(t, "Bearer abc.def.ghi", tok.Header())
}

func TestExtract_Miss(t *testing.T) {
	page := &fakePage{
		cookies: []browser.Cookie{{Name: "_ga", Value: "GA1.2.3"}, {Name: "lang", Value: "en"}},
		storage: []storageEntry{{Area: "local", Key: "theme", Value: "dark"}},
	}
	e := newExtractor(t)

	for i := 0; i < 3; i++ {
		tok, reason := e.Extract(context.Background(), page)
		assert.Nil(t, tok)
		assert.Equal(t, ReasonNotFound, reason)
	}
}

func TestExtract_ReadErrorsAreMisses(t *testing.T) {
	e := newExtractor(t)

	tok, reason := e.Extract(context.Background(), &fakePage{cookieErr: errors.New("target navigated")})
	assert.Nil(t, tok)
	assert.Contains(t, reason, ReasonUnreadable)

	tok, reason = e.Extract(context.Background(), &fakePage{evalErr: errors.New("execution context was destroyed")})
	assert.Nil(t, tok)
	assert.Contains(t, reason, ReasonUnreadable)
}

func TestExtract_Storage(t *testing.T) {
	tests := []struct {
		name       string
		storage    []storageEntry
		wantValue  string
		wantKey    string
		wantScheme string
		wantUID    *int64
	}{
		{
			name:      "well-known key beats earlier pattern match",
			storage:   []storageEntry{{Area: "local", Key: "sessionState", Value: "s3ss10n-state-xyz"}, {Area: "session", Key: "access_token", Value: "eyJhbGciOi.payload.sig"}},
			wantValue: "eyJhbGciOi.payload.sig",
			wantKey:   "access_token",
		},
		{
			name:      "local before session",
			storage:   []storageEntry{{Area: "local", Key: "token", Value: "local-token-1234"}, {Area: "session", Key: "token", Value: "session-token-1234"}},
			wantValue: "local-token-1234",
			wantKey:   "token",
		},
		{
			name:      "pattern match",
			storage:   []storageEntry{{Area: "local", Key: "myapp.AuthData", Value: "opaque-value-42"}},
			wantValue: "opaque-value-42",
			wantKey:   "myapp.AuthData",
		},
		{
			name:       "json document with uid and scheme",
			storage:    []storageEntry{{Area: "local", Key: "auth", Value: `{"accessToken":"abcdef123456","token_type":"bearer","userId":4242}`}},
			wantValue:  "abcdef123456",
			wantKey:    "auth.accessToken",
			wantScheme: "Bearer",
			wantUID:    int64Ptr(4242),
		},
		{
			name:      "nested json document",
			storage:   []storageEntry{{Area: "local", Key: "persist:session", Value: `{"user":{"id":"17","token":"nested-token-99"}}`}},
			wantValue: "nested-token-99",
			wantKey:   "persist:session.token",
			wantUID:   int64Ptr(17),
		},
		{
			name:      "json string value",
			storage:   []storageEntry{{Area: "local", Key: "jwt", Value: `"quoted.jwt.value"`}},
			wantValue: "quoted.jwt.value",
			wantKey:   "jwt",
		},
		{
			name:      "placeholder values skipped",
			storage:   []storageEntry{{Area: "local", Key: "token", Value: "null"}, {Area: "local", Key: "authToken", Value: "real-token-value"}},
			wantValue: "real-token-value",
			wantKey:   "authToken",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := &fakePage{storage: tt.storage}
			tok, reason := newExtractor(t).Extract(context.Background(), page)
			require.NotNil(t, tok, reason)

			assert.Equal(t, SourceStorage, tok.Source)
			assert.Equal(t, tt.wantValue, tok.Value)
			assert.Equal(t, tt.wantKey, tok.Key)
			assert.Equal(t, tt.wantScheme, tok.Scheme)
			assert.Equal(t, tt.wantUID, tok.UID)
		})
	}
}

func TestExtract_StorageNoMatch(t *testing.T) {
	page := &fakePage{storage: []storageEntry{
		{Area: "local", Key: "token", Value: "short"},
		{Area: "local", Key: "auth", Value: `{"loggedIn":false}`},
		{Area: "local", Key: "prefs", Value: "some-long-preference-value"},
	}}

	tok, reason := newExtractor(t).Extract(context.Background(), page)
	assert.Nil(t, tok)
	assert.Equal(t, ReasonNotFound, reason)
}

func TestNewExtractor_CustomPatterns(t *testing.T) {
	e, err := NewExtractor([]string{"SID", "__Host-*"})
	require.NoError(t, err)

	assert.True(t, e.Matches("sid"))
	assert.True(t, e.Matches("__host-login"))
	assert.False(t, e.Matches("auth_token"))

	_, err = NewExtractor([]string{"[unterminated"})
	assert.Error(t, err)
}

func TestParseStorage(t *testing.T) {
	entries, err := parseStorage(nil)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = parseStorage([]interface{}{map[string]interface{}{"area": "local", "key": "k", "value": "v"}})
	require.NoError(t, err)
	assert.Equal(t, []storageEntry{{Area: "local", Key: "k", Value: "v"}}, entries)

	_, err = parseStorage("not json")
	assert.Error(t, err)
}

func TestToken_Header(t *testing.T) {
	assert.Equal(t, "raw", (&Token{Value: "raw"}).Header())
	assert.Equal(t, "JWT abc", (&Token{Value: "abc", Scheme: "JWT"}).Header())

	desc := (&Token{Value: "supersecretvalue", Source: SourceCookie, Key: "auth"}).Describe()
	assert.Equal(t, "cookie:auth (16 chars)", desc)
	assert.NotContains(t, desc, "supersecret")
}

func int64Ptr(n int64) *int64 { return &n }
