// ABOUTME: End-to-end gateway tests over a mock link: command flow, seeding, replication, watchdog.
// ABOUTME: Each test runs the full goroutine set and cancels to shut down.

package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshlink/meshmini/internal/config"
	"github.com/meshlink/meshmini/internal/mesh"
	"github.com/meshlink/meshmini/internal/store"
)

func startGateway(t *testing.T, mutate func(*config.Config)) (*Gateway, *mesh.MockLink, *store.SQLiteStore, context.CancelFunc) {
	t.Helper()

	cfg := config.Default()
	cfg.RateSec = 0
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)

	link := mesh.NewMockLink()
	bus := mesh.NewPacketBus(nil)
	gw := NewWithLink(cfg, st, link, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		gw.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("gateway did not stop")
		}
	})

	return gw, link, st, cancel
}

// waitForReply polls the mock link until the sender has n frames.
func waitForReply(t *testing.T, link *mesh.MockLink, dest string, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sent := link.SentTo(dest); len(sent) >= n {
			return sent
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no reply to %s (have %v)", dest, link.SentTo(dest))
	return nil
}

func TestGateway_MenuRoundTrip(t *testing.T) {
	_, link, _, _ := startGateway(t, nil)

	link.InjectText("!aaaaaaaa", "?")

	sent := waitForReply(t, link, "!aaaaaaaa", 1)
	assert.True(t, strings.HasPrefix(sent[0], "[MeshLink BBS] "), sent[0])
}

func TestGateway_PostAndRead(t *testing.T) {
	_, link, _, _ := startGateway(t, nil)

	link.InjectText("!aaaaaaaa", "p hello")
	sent := waitForReply(t, link, "!aaaaaaaa", 1)
	assert.Equal(t, "posted #1", sent[0])

	link.InjectText("!aaaaaaaa", "r 1")
	sent = waitForReply(t, link, "!aaaaaaaa", 2)
	assert.Contains(t, sent[1], "hello")
}

func TestGateway_SeedsAdminsAndPeers(t *testing.T) {
	_, link, st, _ := startGateway(t, func(c *config.Config) {
		c.Admins = []string{"!AAAAAAAA"}
		c.Peers = []string{"!cafef00d", "junk"}
	})

	// Wait for a command round-trip so seeding has definitely run.
	link.InjectText("!aaaaaaaa", "?")
	waitForReply(t, link, "!aaaaaaaa", 1)

	ctx := context.Background()
	admins, err := st.ListAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"!aaaaaaaa"}, admins)

	isPeer, err := st.IsPeer(ctx, "!cafef00d")
	require.NoError(t, err)
	assert.True(t, isPeer)
}

func TestGateway_PeerReplicationBetweenTwoGateways(t *testing.T) {
	// Two gateways, each a peer of the other, bridged by copying frames
	// between their mock links.
	_, link1, st1, _ := startGateway(t, func(c *config.Config) { c.Name = "G1" })
	_, link2, st2, _ := startGateway(t, func(c *config.Config) { c.Name = "G2" })

	const g1 = "!00000001"
	const g2 = "!00000002"

	ctx := context.Background()
	require.NoError(t, st1.AddPeer(ctx, g2))
	require.NoError(t, st2.AddPeer(ctx, g1))

	// A user posts on G1; G1 pushes the transfer toward G2's address.
	link1.InjectText("!aaaaaaaa", "p ridge track clear")
	waitForReply(t, link1, "!aaaaaaaa", 1)
	transfer := waitForReply(t, link1, g2, 3)

	// Deliver the pushed frames to G2 as traffic from G1.
	for _, frame := range transfer {
		link2.InjectText(g1, frame)
	}

	require.Eventually(t, func() bool {
		posts, err := st2.RecentPosts(ctx, 10)
		return err == nil && len(posts) == 1
	}, 2*time.Second, 10*time.Millisecond)

	posts, err := st2.RecentPosts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "[peer]"+g1, posts[0].Author)
	assert.Equal(t, "ridge track clear", posts[0].Body)

	// Replay is a no-op.
	for _, frame := range transfer {
		link2.InjectText(g1, frame)
	}
	time.Sleep(100 * time.Millisecond)
	posts, err = st2.RecentPosts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}

func TestGateway_WatchdogReconnects(t *testing.T) {
	if testing.Short() {
		t.Skip("watchdog test waits on real ticks")
	}

	_, link, _, _ := startGateway(t, func(c *config.Config) {
		c.WatchTickSec = 1
		c.RxStaleSec = 1
	})

	// One packet starts the RX clock, then silence.
	link.InjectText("!aaaaaaaa", "?")
	waitForReply(t, link, "!aaaaaaaa", 1)

	require.Eventually(t, func() bool { return link.Reconnects() >= 1 },
		5*time.Second, 100*time.Millisecond)

	// The gateway still answers after the reconnect.
	link.InjectText("!aaaaaaaa", "status")
	sent := waitForReply(t, link, "!aaaaaaaa", 2)
	assert.Contains(t, sent[1], "up ")
}
