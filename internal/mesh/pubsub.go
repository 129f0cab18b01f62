// ABOUTME: In-memory topic bus providing the second (publish/subscribe) receive path
// ABOUTME: Both the direct packet channel and this bus feed the same intake

package mesh

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Topics the link publishes inbound packets on. TopicReceiveText carries
// only frames with a decoded text payload.
const (
	TopicReceive     = "receive"
	TopicReceiveText = "receive.text"
)

// busBufferSize is the channel buffer for each subscriber.
const busBufferSize = 64

// PacketBus is an in-memory pub/sub fan-out for inbound packets. The
// transport occasionally delivers a packet on only one of the direct
// callback and pub/sub paths, so intake subscribes to both and dedups.
type PacketBus struct {
	mu     sync.RWMutex
	subs   map[string]map[string]chan *Packet // topic -> subID -> ch
	logger *slog.Logger
}

// NewPacketBus creates a bus. Pass nil logger for default.
func NewPacketBus(logger *slog.Logger) *PacketBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &PacketBus{
		subs:   make(map[string]map[string]chan *Packet),
		logger: logger.With("component", "packetbus"),
	}
}

// Subscribe registers a subscriber for a topic. Returns the receive
// channel and a subscription id for Unsubscribe.
func (b *PacketBus) Subscribe(topic string) (<-chan *Packet, string) {
	subID := uuid.New().String()
	ch := make(chan *Packet, busBufferSize)

	b.mu.Lock()
	if _, ok := b.subs[topic]; !ok {
		b.subs[topic] = make(map[string]chan *Packet)
	}
	b.subs[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)
	return ch, subID
}

// Publish delivers a packet to every subscriber of the topic.
// Non-blocking: packets are dropped for subscribers whose channels are full.
func (b *PacketBus) Publish(topic string, pkt *Packet) {
	b.mu.RLock()
	subs := b.subs[topic]
	targets := make([]chan *Packet, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- pkt:
		default:
			b.logger.Debug("dropped packet for slow subscriber", "topic", topic)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *PacketBus) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subs[topic]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subs, topic)
	}
}

// Close shuts down the bus and closes all subscriber channels.
func (b *PacketBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subs {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subs, topic)
	}
}
