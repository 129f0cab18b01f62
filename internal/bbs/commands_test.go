// ABOUTME: Tests for the user command surface: board, notice, identity, nodes, DMs.
// ABOUTME: Includes the post round-trip, reply chain, and DM store-and-forward scenarios.

package bbs

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshlink/meshmini/internal/config"
	"github.com/meshlink/meshmini/internal/mesh"
)

func TestPostRoundTrip(t *testing.T) {
	d, _, link := newTestDispatcher(t, nil)
	ctx := context.Background()

	d.Handle(ctx, alice, "p hello")
	sent := link.SentTo(alice)
	require.Len(t, sent, 1)
	assert.Equal(t, "posted #1", sent[0])

	link.Reset()
	d.Handle(ctx, alice, "r 1")
	sent = link.SentTo(alice)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "#1")
	assert.Contains(t, sent[0], alice)
	assert.Contains(t, sent[0], "hello")
}

func TestReplyChain(t *testing.T) {
	d, _, link := newTestDispatcher(t, nil)
	ctx := context.Background()

	d.Handle(ctx, alice, "p hello")
	link.Reset()

	d.Handle(ctx, bob, "reply 1 hi")
	sent := link.SentTo(bob)
	require.Len(t, sent, 1)
	assert.Equal(t, "reply #2 -> #1", sent[0])

	link.Reset()
	d.Handle(ctx, alice, "r 1")
	sent = link.SentTo(alice)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "↳ #2")
	assert.Contains(t, sent[0], bob)
	assert.Contains(t, sent[0], "hi")
}

func TestReply_MissingParent(t *testing.T) {
	d, _, link := newTestDispatcher(t, nil)

	d.Handle(context.Background(), alice, "reply 9 hi")
	sent := link.SentTo(alice)
	require.Len(t, sent, 1)
	assert.Equal(t, "no post #9", sent[0])
}

func TestReadRecent_EmptyAndNewestFirst(t *testing.T) {
	d, _, link := newTestDispatcher(t, nil)
	ctx := context.Background()

	d.Handle(ctx, alice, "r")
	sent := link.SentTo(alice)
	require.Len(t, sent, 1)
	assert.Equal(t, "no posts yet. send p <text> to post", sent[0])

	d.Handle(ctx, alice, "p first")
	d.Handle(ctx, alice, "p second")
	link.Reset()

	d.Handle(ctx, alice, "r")
	sent = link.SentTo(alice)
	require.Len(t, sent, 1)
	first := strings.Index(sent[0], "#2")
	second := strings.Index(sent[0], "#1")
	assert.Greater(t, second, first, "newest post must lead: %q", sent[0])
}

func TestReadPost_Errors(t *testing.T) {
	d, _, link := newTestDispatcher(t, nil)
	ctx := context.Background()

	d.Handle(ctx, alice, "r 42")
	assert.Equal(t, []string{"no post #42"}, link.SentTo(alice))

	link.Reset()
	d.Handle(ctx, alice, "r abc")
	assert.Equal(t, []string{"usage: r <id>"}, link.SentTo(alice))
}

func TestStatus(t *testing.T) {
	d, _, link := newTestDispatcher(t, nil)
	link.SetMyInfo(0xdeadbeef, "Ridge Gateway", "RDG")

	d.Handle(context.Background(), alice, "status")

	sent := link.SentTo(alice)
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0], "Ridge Gateway / RDG / up "), sent[0])
}

func TestWhoami(t *testing.T) {
	d, _, link := newTestDispatcher(t, nil)
	link.SetNodes([]mesh.NodeEntry{
		{Num: 0xaaaaaaaa, ID: alice, LongName: "Alice Base", ShortName: "ALCE"},
	})

	d.Handle(context.Background(), alice, "whoami")
	assert.Equal(t, []string{"!aaaaaaaa (Alice Base / ALCE)"}, link.SentTo(alice))

	link.Reset()
	d.Handle(context.Background(), bob, "whoami")
	assert.Equal(t, []string{"!bbbbbbbb (- / -)"}, link.SentTo(bob))
}

func TestWhois(t *testing.T) {
	d, _, link := newTestDispatcher(t, nil)
	heard := time.Now().Add(-5 * time.Minute).Unix()
	link.SetNodes([]mesh.NodeEntry{
		{Num: 0xdeadbeef, ID: "!deadbeef", LongName: "Bob Uphill", ShortName: "BOB", LastHeard: heard},
	})

	d.Handle(context.Background(), alice, "whois bob")
	sent := link.SentTo(alice)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "BOB (!deadbeef) - Bob Uphill")
	assert.Contains(t, sent[0], "last seen: 5m")

	link.Reset()
	d.Handle(context.Background(), alice, "whois !deadbeef")
	require.Len(t, link.SentTo(alice), 1)

	link.Reset()
	d.Handle(context.Background(), alice, "whois nobody")
	assert.Equal(t, []string{"no node found for 'nobody'"}, link.SentTo(alice))
}

func TestNodes_SortedByShortName(t *testing.T) {
	d, _, link := newTestDispatcher(t, nil)

	d.Handle(context.Background(), alice, "nodes")
	assert.Equal(t, []string{"(no nodes)"}, link.SentTo(alice))

	link.Reset()
	link.SetNodes([]mesh.NodeEntry{
		{Num: 2, ID: "!00000002", ShortName: "ZED"},
		{Num: 1, ID: "!00000001", ShortName: "abe"},
	})

	d.Handle(context.Background(), alice, "nodes")
	sent := link.SentTo(alice)
	require.Len(t, sent, 1)
	assert.Less(t, strings.Index(sent[0], "abe"), strings.Index(sent[0], "ZED"))
	assert.Contains(t, sent[0], "last:unknown")
}

func TestDMStoreAndForward(t *testing.T) {
	d, st, link := newTestDispatcher(t, nil)
	ctx := context.Background()

	// No node with that short name yet.
	d.Handle(ctx, alice, "dm bob hello")
	assert.Equal(t, []string{"no node with short 'bob'"}, link.SentTo(alice))

	// The directory learns about BOB; queue the DM.
	link.SetNodes([]mesh.NodeEntry{
		{Num: 0xdeadbeef, ID: "!deadbeef", ShortName: "BOB"},
	})
	link.Reset()

	d.Handle(ctx, alice, "dm bob hello")
	assert.Equal(t, []string{"queued dm to BOB (!deadbeef)"}, link.SentTo(alice))

	// BOB is heard: the queued DM drains and is marked delivered.
	d.Handle(ctx, "!deadbeef", "?")
	sent := link.SentTo("!deadbeef")
	require.NotEmpty(t, sent)
	assert.Equal(t, "[DM] hello", sent[0])

	pending, err := st.PendingDMs(ctx, "!deadbeef", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Delivered rows never go out again.
	link.Reset()
	d.Handle(ctx, "!deadbeef", "?")
	for _, frame := range link.SentTo("!deadbeef") {
		assert.NotContains(t, frame, "[DM]")
	}
}

func TestDM_Usage(t *testing.T) {
	d, _, link := newTestDispatcher(t, nil)

	d.Handle(context.Background(), alice, "dm bob")
	assert.Equal(t, []string{"usage: dm <short> <text>"}, link.SentTo(alice))
}

func TestInfo_NoticeLifecycle(t *testing.T) {
	d, st, link := newTestDispatcher(t, nil)
	ctx := context.Background()

	d.Handle(ctx, alice, "info")
	assert.Equal(t, []string{"no notice set"}, link.SentTo(alice))

	link.Reset()
	d.Handle(ctx, alice, "info set meeting at the hall 7pm")
	assert.Equal(t, []string{"notice updated"}, link.SentTo(alice))

	link.Reset()
	d.Handle(ctx, alice, "info")
	sent := link.SentTo(alice)
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0], "[Notice "), sent[0])
	assert.Contains(t, sent[0], "meeting at the hall 7pm")

	// An expired notice disappears.
	past := time.Now().Add(-time.Hour).Unix()
	require.NoError(t, st.SetKV(ctx, "notice_expires_ts", strconv.FormatInt(past, 10)))
	link.Reset()
	d.Handle(ctx, alice, "info")
	assert.Equal(t, []string{"no notice set"}, link.SentTo(alice))
}

func TestInfoSet_ExpiryHours(t *testing.T) {
	d, st, link := newTestDispatcher(t, nil)
	ctx := context.Background()

	d.Handle(ctx, alice, "info set 2 closes at dusk")
	assert.Equal(t, []string{"notice updated"}, link.SentTo(alice))

	raw, err := st.GetKV(ctx, "notice_expires_ts")
	require.NoError(t, err)
	exp, err := strconv.ParseInt(raw, 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Add(2*time.Hour).Unix(), exp, 5)

	notice, err := st.GetKV(ctx, "notice")
	require.NoError(t, err)
	assert.Equal(t, "closes at dusk", notice)
}

func TestMenuCommand_NoticeThenMenu(t *testing.T) {
	d, _, link := newTestDispatcher(t, nil)
	ctx := context.Background()

	d.Handle(ctx, alice, "?")
	sent := link.SentTo(alice)
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0], "[MeshLink BBS] "), sent[0])

	d.Handle(ctx, alice, "info set trail closed past the ford")
	link.Reset()

	d.Handle(ctx, alice, "?")
	sent = link.SentTo(alice)
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0], "[Notice")
	assert.Contains(t, sent[0], "trail closed past the ford")
	assert.True(t, strings.HasPrefix(sent[1], "[MeshLink BBS] "), sent[1])
}

func TestHelpCommand_Paged(t *testing.T) {
	d, _, link := newTestDispatcher(t, func(c *config.Config) { c.MaxText = 80 })

	d.Handle(context.Background(), alice, "??")
	sent := link.SentTo(alice)
	require.NotEmpty(t, sent)
	for _, frame := range sent {
		assert.LessOrEqual(t, len(frame), 80)
	}
	assert.Contains(t, sent[0], "help")
}

func TestPostPushesToPeers(t *testing.T) {
	d, st, link := newTestDispatcher(t, nil)
	ctx := context.Background()

	require.NoError(t, st.AddPeer(ctx, "!cafef00d"))

	d.Handle(ctx, alice, "p spread the word")

	sent := link.SentTo("!cafef00d")
	require.Len(t, sent, 3)
	assert.True(t, strings.HasPrefix(sent[0], "#SYNC POST "), sent[0])
	assert.Contains(t, sent[1], "spread the word")
	assert.True(t, strings.HasPrefix(sent[2], "#SYNC END "), sent[2])
}
