// ABOUTME: Tests for DM queueing, short-name resolution, and sighting-driven flushes.
// ABOUTME: Covers the batch cap, delivered-row immutability, and TTL hiding.

package dmqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshlink/meshmini/internal/mesh"
	"github.com/meshlink/meshmini/internal/store"
)

func newQueue(t *testing.T, ttl time.Duration) (*Queue, *store.SQLiteStore, *mesh.MockLink) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	link := mesh.NewMockLink()
	return New(st, link, ttl, nil), st, link
}

func TestResolve_Precedence(t *testing.T) {
	q, _, link := newQueue(t, 0)
	link.SetNodes([]mesh.NodeEntry{
		{Num: 1, ID: "!00000001", ShortName: "BOB", LongName: "Bob Uphill"},
		{Num: 2, ID: "!00000002", ShortName: "BOBX", LongName: "Other Bob"},
		{Num: 3, ID: "!00000003", ShortName: "KT", LongName: "Kate Bobbin"},
	})

	// Exact short-name match wins even with prefix competitors.
	got := q.Resolve("bob")
	require.Len(t, got, 1)
	assert.Equal(t, "!00000001", got[0].ID)

	// The longer short name also resolves by exact match.
	got = q.Resolve("bobx")
	require.Len(t, got, 1)
	assert.Equal(t, "!00000002", got[0].ID)

	// Substring against long names is the last resort and may be plural.
	got = q.Resolve("bobb")
	require.Len(t, got, 1)
	assert.Equal(t, "!00000003", got[0].ID)

	assert.Empty(t, q.Resolve("zed"))
	assert.Empty(t, q.Resolve(""))
}

func TestResolve_AmbiguousPrefix(t *testing.T) {
	q, _, link := newQueue(t, 0)
	link.SetNodes([]mesh.NodeEntry{
		{Num: 1, ID: "!00000001", ShortName: "KAT"},
		{Num: 2, ID: "!00000002", ShortName: "KAZ"},
	})

	got := q.Resolve("ka")
	assert.Len(t, got, 2)
}

func TestFlushFor_BatchCapAndOrder(t *testing.T) {
	q, st, link := newQueue(t, 0)
	ctx := context.Background()

	for _, body := range []string{"one", "two", "three", "four"} {
		_, err := q.Enqueue(ctx, "!deadbeef", body)
		require.NoError(t, err)
	}

	q.FlushFor(ctx, "!deadbeef")

	sent := link.SentTo("!deadbeef")
	require.Len(t, sent, 3)
	assert.Equal(t, []string{"[DM] one", "[DM] two", "[DM] three"}, sent)

	// Next sighting drains the remainder.
	q.FlushFor(ctx, "!deadbeef")
	sent = link.SentTo("!deadbeef")
	require.Len(t, sent, 4)
	assert.Equal(t, "[DM] four", sent[3])

	// Nothing left: a further sighting sends nothing.
	q.FlushFor(ctx, "!deadbeef")
	assert.Len(t, link.SentTo("!deadbeef"), 4)

	pending, err := st.PendingDMs(ctx, "!deadbeef", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFlushFor_SendFailureLeavesQueued(t *testing.T) {
	q, st, link := newQueue(t, 0)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "!deadbeef", "hello")
	require.NoError(t, err)

	link.FailSends(errors.New("radio gone"))
	q.FlushFor(ctx, "!deadbeef")

	pending, err := st.PendingDMs(ctx, "!deadbeef", 10, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	link.FailSends(nil)
	q.FlushFor(ctx, "!deadbeef")
	pending, err = st.PendingDMs(ctx, "!deadbeef", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFlushFor_TTLHidesStaleRows(t *testing.T) {
	q, st, link := newQueue(t, time.Hour)
	ctx := context.Background()

	// A row created well before the horizon.
	_, err := st.EnqueueDM(ctx, "!deadbeef", "stale", time.Now().Add(-2*time.Hour).Unix())
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "!deadbeef", "fresh")
	require.NoError(t, err)

	q.FlushFor(ctx, "!deadbeef")

	sent := link.SentTo("!deadbeef")
	require.Len(t, sent, 1)
	assert.Equal(t, "[DM] fresh", sent[0])
}

func TestFlushFor_OtherRecipientsUntouched(t *testing.T) {
	q, _, link := newQueue(t, 0)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "!0badf00d", "not yours")
	require.NoError(t, err)

	q.FlushFor(ctx, "!deadbeef")
	assert.Empty(t, link.Sent())
}
