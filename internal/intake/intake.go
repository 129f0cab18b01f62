// ABOUTME: Packet intake: canonicalizes senders, extracts text, dedups the dual receive paths
// ABOUTME: Owns the last-RX clock the watchdog reads

package intake

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/meshlink/meshmini/internal/dedupe"
	"github.com/meshlink/meshmini/internal/mesh"
)

// fifoCapacity bounds the recent-discriminator set shared by both
// receive paths.
const fifoCapacity = 256

// Message is one normalized inbound text frame ready for dispatch.
type Message struct {
	FromID string
	Text   string
	Packet *mesh.Packet
}

// Intake merges the link's direct receive channel with the pub/sub
// topics, canonicalizes and deduplicates, and emits Messages.
type Intake struct {
	link   mesh.Link
	bus    *mesh.PacketBus
	fifo   *dedupe.FIFO
	logger *slog.Logger
	out    chan *Message

	// lastRX is unix nanos of the most recent packet; 0 means none yet.
	lastRX atomic.Int64
}

// New creates an intake reading from link and bus. Pass nil bus when the
// transport offers only the direct path.
func New(link mesh.Link, bus *mesh.PacketBus, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{
		link:   link,
		bus:    bus,
		fifo:   dedupe.New(fifoCapacity, 0),
		logger: logger.With("component", "intake"),
		out:    make(chan *Message, 32),
	}
}

// Messages is the normalized output stream. Closed when Run returns.
func (i *Intake) Messages() <-chan *Message {
	return i.out
}

// LastRX returns the wall time of the most recent packet on either path.
func (i *Intake) LastRX() (time.Time, bool) {
	ns := i.lastRX.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// ResetLastRX restarts the clock, used after a reconnect so the watchdog
// measures silence from the new connection.
func (i *Intake) ResetLastRX() {
	i.lastRX.Store(time.Now().UnixNano())
}

// Run consumes both receive paths until ctx is cancelled or the direct
// channel closes. It closes Messages on return.
func (i *Intake) Run(ctx context.Context) {
	defer close(i.out)

	direct := i.link.Packets()

	var busCh, busTextCh <-chan *mesh.Packet
	if i.bus != nil {
		var id1, id2 string
		busCh, id1 = i.bus.Subscribe(mesh.TopicReceive)
		busTextCh, id2 = i.bus.Subscribe(mesh.TopicReceiveText)
		defer i.bus.Unsubscribe(mesh.TopicReceive, id1)
		defer i.bus.Unsubscribe(mesh.TopicReceiveText, id2)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-direct:
			if !ok {
				return
			}
			i.process(ctx, pkt)
		case pkt, ok := <-busCh:
			if !ok {
				busCh = nil
				continue
			}
			i.process(ctx, pkt)
		case pkt, ok := <-busTextCh:
			if !ok {
				busTextCh = nil
				continue
			}
			i.process(ctx, pkt)
		}
	}
}

// process normalizes one packet and emits it unless it is a duplicate or
// carries no text.
func (i *Intake) process(ctx context.Context, pkt *mesh.Packet) {
	i.lastRX.Store(time.Now().UnixNano())

	fromID := canonicalSender(pkt)
	if fromID == "" {
		i.logger.Debug("packet without usable sender dropped")
		return
	}

	text := extractText(pkt)
	if text == "" {
		return
	}

	if i.fifo.CheckAndMark(discriminator(pkt)) {
		i.logger.Debug("duplicate packet dropped", "from", fromID, "id", pkt.ID)
		return
	}

	msg := &Message{FromID: fromID, Text: text, Packet: pkt}
	select {
	case i.out <- msg:
	case <-ctx.Done():
	}
}

// canonicalSender prefers an already-canonical FromID and falls back to
// the numeric sender masked to 32 bits.
func canonicalSender(pkt *mesh.Packet) string {
	if id, ok := mesh.Canonical(pkt.FromID); ok {
		return id
	}
	if pkt.From != 0 {
		return mesh.FormatNum(pkt.From)
	}
	return ""
}

// extractText prefers the decoded text and falls back to the raw payload
// decoded as UTF-8, with invalid bytes replaced by U+FFFD.
func extractText(pkt *mesh.Packet) string {
	if pkt.Text != "" {
		return pkt.Text
	}
	if len(pkt.Payload) > 0 {
		return strings.ToValidUTF8(string(pkt.Payload), "�")
	}
	return ""
}

// discriminator builds the dedup key: the radio packet id when assigned,
// else the (from, rxTime) pair.
func discriminator(pkt *mesh.Packet) string {
	if pkt.ID != 0 {
		return fmt.Sprintf("id:%d", pkt.ID)
	}
	return fmt.Sprintf("fp:%d|%d", pkt.From, pkt.RxTime)
}
