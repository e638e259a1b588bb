package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "audit.db")
	l, err := Open(path)
	require.NoError(t, err)
	return l, path
}

func TestRecordAndList(t *testing.T) {
	l, _ := openTestLog(t)
	defer l.Close()
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, l.Record(ctx, Event{SessionID: "s1", OwnerID: "u1", Kind: KindStarted, Detail: "https://abc123.tunnel.example/", At: base}))
	require.NoError(t, l.Record(ctx, Event{SessionID: "s2", OwnerID: "u2", Kind: KindStarted, At: base.Add(time.Second)}))
	require.NoError(t, l.Record(ctx, Event{SessionID: "s1", OwnerID: "u1", Kind: KindCaptured, Detail: "cookie:auth (32 chars)", At: base.Add(2 * time.Second)}))

	events, err := l.ListSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, KindStarted, events[0].Kind)
	assert.Equal(t, "u1", events[0].OwnerID)
	assert.Equal(t, "https://abc123.tunnel.example/", events[0].Detail)
	assert.True(t, events[0].At.Equal(base))
	assert.Equal(t, KindCaptured, events[1].Kind)
	assert.NotZero(t, events[1].ID)

	none, err := l.ListSession(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecord_StampsTime(t *testing.T) {
	l, _ := openTestLog(t)
	defer l.Close()

	before := time.Now().Add(-time.Second)
	require.NoError(t, l.Record(context.Background(), Event{SessionID: "s1", Kind: KindExpired}))

	events, err := l.ListSession(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].At.After(before))
}

func TestRecord_Validation(t *testing.T) {
	l, _ := openTestLog(t)
	defer l.Close()

	assert.Error(t, l.Record(context.Background(), Event{Kind: KindStarted}))
	assert.Error(t, l.Record(context.Background(), Event{SessionID: "s1"}))
}

func TestOpen_Reopen(t *testing.T) {
	l, path := openTestLog(t)
	require.NoError(t, l.Record(context.Background(), Event{SessionID: "s1", OwnerID: "u1", Kind: KindCleanup}))
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	events, err := reopened.ListSession(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindCleanup, events[0].Kind)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}
