// ABOUTME: Tests for the packet bus fan-out used as the second receive path.
// ABOUTME: Validates topic isolation, non-blocking publish, and unsubscribe.

package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketBus_PublishSubscribe(t *testing.T) {
	bus := NewPacketBus(nil)
	defer bus.Close()

	ch, _ := bus.Subscribe(TopicReceiveText)

	pkt := &Packet{FromID: "!deadbeef", Text: "hi"}
	bus.Publish(TopicReceiveText, pkt)

	got := <-ch
	assert.Same(t, pkt, got)
}

func TestPacketBus_TopicIsolation(t *testing.T) {
	bus := NewPacketBus(nil)
	defer bus.Close()

	textCh, _ := bus.Subscribe(TopicReceiveText)
	bus.Publish(TopicReceive, &Packet{FromID: "!deadbeef"})

	select {
	case pkt := <-textCh:
		t.Fatalf("unexpected packet on text topic: %+v", pkt)
	default:
	}
}

func TestPacketBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewPacketBus(nil)
	defer bus.Close()

	ch, _ := bus.Subscribe(TopicReceive)

	// Overfill the buffer; Publish must not block.
	for i := 0; i < busBufferSize+8; i++ {
		bus.Publish(TopicReceive, &Packet{ID: uint32(i)})
	}

	assert.Len(t, ch, busBufferSize)
}

func TestPacketBus_Unsubscribe(t *testing.T) {
	bus := NewPacketBus(nil)
	defer bus.Close()

	ch, subID := bus.Subscribe(TopicReceive)
	bus.Unsubscribe(TopicReceive, subID)

	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe is a no-op.
	bus.Publish(TopicReceive, &Packet{})
}

func TestPacketBus_CloseClosesSubscribers(t *testing.T) {
	bus := NewPacketBus(nil)
	ch, _ := bus.Subscribe(TopicReceive)

	bus.Close()

	_, open := <-ch
	assert.False(t, open)
}
