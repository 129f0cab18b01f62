// ABOUTME: Tests for packet intake normalization and dual-path dedup.
// ABOUTME: Covers sender canonicalization, payload fallback, and the last-RX clock.

package intake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshlink/meshmini/internal/mesh"
)

func startIntake(t *testing.T, link mesh.Link, bus *mesh.PacketBus) *Intake {
	t.Helper()
	in := New(link, bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go in.Run(ctx)
	return in
}

func recvMessage(t *testing.T, in *Intake) *Message {
	t.Helper()
	select {
	case msg := <-in.Messages():
		require.NotNil(t, msg)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestProcess_CanonicalizesNumericSender(t *testing.T) {
	link := mesh.NewMockLink()
	in := startIntake(t, link, nil)

	link.Inject(&mesh.Packet{ID: 1, From: 0xdeadbeef, Text: "hello"})

	msg := recvMessage(t, in)
	assert.Equal(t, "!deadbeef", msg.FromID)
	assert.Equal(t, "hello", msg.Text)
}

func TestProcess_PrefersFromID(t *testing.T) {
	link := mesh.NewMockLink()
	in := startIntake(t, link, nil)

	link.Inject(&mesh.Packet{ID: 2, From: 1, FromID: "!CAFEF00D", Text: "hi"})

	msg := recvMessage(t, in)
	assert.Equal(t, "!cafef00d", msg.FromID)
}

func TestProcess_PayloadFallback(t *testing.T) {
	link := mesh.NewMockLink()
	in := startIntake(t, link, nil)

	link.Inject(&mesh.Packet{ID: 3, From: 0xdeadbeef, Payload: []byte("raw text")})

	msg := recvMessage(t, in)
	assert.Equal(t, "raw text", msg.Text)
}

func TestProcess_DropsTextlessAndSenderless(t *testing.T) {
	link := mesh.NewMockLink()
	in := startIntake(t, link, nil)

	link.Inject(&mesh.Packet{ID: 4, From: 0xdeadbeef})   // no text
	link.Inject(&mesh.Packet{ID: 5, Text: "anonymous"})  // no sender
	link.Inject(&mesh.Packet{ID: 6, From: 1, Text: "ok"}) // sentinel

	msg := recvMessage(t, in)
	assert.Equal(t, "ok", msg.Text)
}

func TestProcess_DualPathDedup(t *testing.T) {
	link := mesh.NewMockLink()
	bus := mesh.NewPacketBus(nil)
	defer bus.Close()
	in := startIntake(t, link, bus)

	pkt := &mesh.Packet{ID: 42, From: 0xdeadbeef, Text: "once"}
	// Same packet arrives on the direct path and both topics.
	link.Inject(pkt)
	bus.Publish(mesh.TopicReceive, pkt)
	bus.Publish(mesh.TopicReceiveText, pkt)

	sentinel := &mesh.Packet{ID: 43, From: 0xdeadbeef, Text: "after"}
	link.Inject(sentinel)

	first := recvMessage(t, in)
	assert.Equal(t, "once", first.Text)
	second := recvMessage(t, in)
	assert.Equal(t, "after", second.Text)
}

func TestProcess_FallbackDiscriminator(t *testing.T) {
	link := mesh.NewMockLink()
	in := startIntake(t, link, nil)

	// No packet id: dedup falls back to (from, rxTime).
	link.Inject(&mesh.Packet{From: 0xdeadbeef, RxTime: 100, Text: "a"})
	link.Inject(&mesh.Packet{From: 0xdeadbeef, RxTime: 100, Text: "a"})
	link.Inject(&mesh.Packet{From: 0xdeadbeef, RxTime: 101, Text: "b"})

	first := recvMessage(t, in)
	assert.Equal(t, "a", first.Text)
	second := recvMessage(t, in)
	assert.Equal(t, "b", second.Text)
}

func TestLastRXClock(t *testing.T) {
	link := mesh.NewMockLink()
	in := startIntake(t, link, nil)

	_, ok := in.LastRX()
	assert.False(t, ok)

	before := time.Now()
	link.Inject(&mesh.Packet{ID: 9, From: 1, Text: "tick"})
	recvMessage(t, in)

	rx, ok := in.LastRX()
	require.True(t, ok)
	assert.False(t, rx.Before(before))

	in.ResetLastRX()
	rx2, ok := in.LastRX()
	require.True(t, ok)
	assert.False(t, rx2.Before(rx))
}
