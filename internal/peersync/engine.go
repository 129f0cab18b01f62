// ABOUTME: Peer replication engine: inventory gossip, GET service, chunked transfer, idempotent apply
// ABOUTME: State machine keyed by transfer UID; AppliedUID is the authoritative dedup set

package peersync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/meshlink/meshmini/internal/mesh"
	"github.com/meshlink/meshmini/internal/store"
)

const (
	// pullCap bounds GET requests issued per received inventory, so one
	// INV cannot amplify into a burst of uplink traffic.
	pullCap = 3

	// rxPartsTTL garbage-collects reassembly buffers that never saw END.
	rxPartsTTL = 24 * time.Hour

	// peerAuthorPrefix marks replicated posts in the board listing.
	peerAuthorPrefix = "[peer]"
)

// Engine replicates posts between cooperating gateways over the normal
// text channel. All frames are unicast and carry the #SYNC sentinel;
// only senders present in the peers table are honored.
type Engine struct {
	store  store.Store
	link   mesh.Link
	logger *slog.Logger

	invWindow int
	chunkSize int

	enabled atomic.Bool
}

// New creates an engine. invWindow is the inventory size, chunkSize the
// max PART payload bytes.
func New(st store.Store, link mesh.Link, invWindow, chunkSize int, enabled bool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:     st,
		link:      link,
		logger:    logger.With("component", "peersync"),
		invWindow: invWindow,
		chunkSize: chunkSize,
	}
	e.enabled.Store(enabled)
	return e
}

// Enabled reports whether replication is on.
func (e *Engine) Enabled() bool {
	return e.enabled.Load()
}

// SetEnabled flips replication. The flag is in memory; restarts revert
// to the configured value.
func (e *Engine) SetEnabled(on bool) {
	e.enabled.Store(on)
	e.logger.Info("sync toggled", "enabled", on)
}

// newUID mints a 10-char lowercase transfer token.
func newUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// HandleFrame processes one inbound #SYNC frame. Frames from non-peers
// and malformed frames are dropped silently.
func (e *Engine) HandleFrame(ctx context.Context, fromID, text string) {
	if !e.Enabled() {
		return
	}

	isPeer, err := e.store.IsPeer(ctx, fromID)
	if err != nil {
		e.logger.Warn("peer lookup failed", "from", fromID, "error", err)
		return
	}
	if !isPeer {
		e.logger.Debug("sync frame from non-peer ignored", "from", fromID)
		return
	}

	if err := e.store.TouchPeer(ctx, fromID, time.Now().Unix()); err != nil {
		e.logger.Warn("touching peer failed", "peer", fromID, "error", err)
	}

	frame, err := ParseFrame(text)
	if err != nil {
		e.logger.Debug("malformed sync frame dropped", "from", fromID, "error", err)
		return
	}

	switch frame.Kind {
	case KindInv:
		e.handleInv(ctx, fromID, frame)
	case KindGet:
		e.handleGet(ctx, fromID, frame)
	case KindPost:
		e.handlePost(ctx, fromID, frame)
	case KindPart:
		e.handlePart(ctx, frame)
	case KindEnd:
		e.handleEnd(ctx, fromID, frame)
	}
}

// handleInv pulls up to pullCap advertised ids we do not hold locally.
func (e *Engine) handleInv(ctx context.Context, fromID string, frame *Frame) {
	requested := 0
	for _, id := range frame.IDs {
		if requested >= pullCap {
			break
		}
		have, err := e.store.HasPost(ctx, id)
		if err != nil {
			e.logger.Warn("post lookup failed", "id", id, "error", err)
			return
		}
		if have {
			continue
		}
		if err := e.link.Send(fromID, FormatGet(id)); err != nil {
			e.logger.Warn("sync GET send failed", "peer", fromID, "error", err)
			return
		}
		requested++
	}
}

// handleGet serves one post as a fresh transfer with a new UID.
func (e *Engine) handleGet(ctx context.Context, fromID string, frame *Frame) {
	post, err := e.store.GetPost(ctx, frame.ID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		e.logger.Warn("post lookup failed", "id", frame.ID, "error", err)
		return
	}
	e.sendTransfer(fromID, post)
}

// handlePost opens a reassembly buffer. Transfers already applied are
// ignored end to end.
func (e *Engine) handlePost(ctx context.Context, fromID string, frame *Frame) {
	applied, err := e.store.IsAppliedUID(ctx, frame.UID)
	if err != nil {
		e.logger.Warn("applied uid lookup failed", "uid", frame.UID, "error", err)
		return
	}
	if applied {
		return
	}

	now := time.Now().Unix()
	if err := e.store.MarkSeenUID(ctx, frame.UID, now); err != nil {
		e.logger.Warn("marking seen uid failed", "uid", frame.UID, "error", err)
		return
	}
	if err := e.store.CreateRxParts(ctx, frame.UID, frame.Total, fromID, now); err != nil {
		e.logger.Warn("opening rx buffer failed", "uid", frame.UID, "error", err)
	}
}

// handlePart appends a chunk in arrival order. The expected total is
// refreshed from the frame so a lost header's count self-heals. A PART
// with no open buffer means the header was lost entirely; dropped.
func (e *Engine) handlePart(ctx context.Context, frame *Frame) {
	applied, err := e.store.IsAppliedUID(ctx, frame.UID)
	if err != nil || applied {
		return
	}

	err = e.store.AppendRxPart(ctx, frame.UID, frame.Chunk, frame.Total)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Debug("part without header dropped", "uid", frame.UID)
		return
	}
	if err != nil {
		e.logger.Warn("appending rx part failed", "uid", frame.UID, "error", err)
	}
}

// handleEnd assembles and applies the transfer exactly once. Replays
// only clear any leftover buffer.
func (e *Engine) handleEnd(ctx context.Context, fromID string, frame *Frame) {
	applied, err := e.store.IsAppliedUID(ctx, frame.UID)
	if err != nil {
		e.logger.Warn("applied uid lookup failed", "uid", frame.UID, "error", err)
		return
	}
	if applied {
		if err := e.store.DeleteRxParts(ctx, frame.UID); err != nil {
			e.logger.Warn("clearing rx buffer failed", "uid", frame.UID, "error", err)
		}
		return
	}

	parts, err := e.store.GetRxParts(ctx, frame.UID)
	if errors.Is(err, store.ErrNotFound) {
		// END without a buffer: header and every part were lost.
		return
	}
	if err != nil {
		e.logger.Warn("rx buffer lookup failed", "uid", frame.UID, "error", err)
		return
	}

	author := peerAuthorPrefix + fromID
	id, err := e.store.CreatePost(ctx, time.Now().Unix(), author, parts.Data, nil)
	if err != nil {
		e.logger.Warn("applying replicated post failed", "uid", frame.UID, "error", err)
		return
	}
	if err := e.store.MarkAppliedUID(ctx, frame.UID, time.Now().Unix()); err != nil {
		e.logger.Warn("marking applied uid failed", "uid", frame.UID, "error", err)
	}
	if err := e.store.DeleteRxParts(ctx, frame.UID); err != nil {
		e.logger.Warn("clearing rx buffer failed", "uid", frame.UID, "error", err)
	}

	e.logger.Info("replicated post applied", "uid", frame.UID, "post", id, "peer", fromID)
}

// SendInventories advertises the recent post window to every peer,
// unicast. Called by the ticker and by "sync now"; the explicit command
// works even while the ticker is disabled.
func (e *Engine) SendInventories(ctx context.Context) error {
	ids, err := e.store.RecentPostIDs(ctx, e.invWindow)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	peers, err := e.store.ListPeers(ctx)
	if err != nil {
		return err
	}

	frame := FormatInv(ids)
	for _, p := range peers {
		if err := e.link.Send(p.ID, frame); err != nil {
			e.logger.Warn("inventory send failed", "peer", p.ID, "error", err)
		}
	}
	return nil
}

// PushPost eagerly replicates a locally created post to every peer.
// Receivers dedup by UID, so pushing ahead of the inventory cycle is
// safe.
func (e *Engine) PushPost(ctx context.Context, post *store.Post) {
	if !e.Enabled() {
		return
	}

	peers, err := e.store.ListPeers(ctx)
	if err != nil {
		e.logger.Warn("listing peers failed", "error", err)
		return
	}
	for _, p := range peers {
		e.sendTransfer(p.ID, post)
	}
}

// sendTransfer emits POST, PART×N, END for one post. Each transfer gets
// a fresh UID.
func (e *Engine) sendTransfer(dest string, post *store.Post) {
	uid := newUID()
	chunks := chunkBody(post.Body, e.chunkSize)

	frames := make([]string, 0, len(chunks)+2)
	frames = append(frames, FormatPost(uid, post.ID, post.TS, post.Author, post.ReplyTo, len(chunks)))
	for i, c := range chunks {
		frames = append(frames, FormatPart(uid, i+1, len(chunks), c))
	}
	frames = append(frames, FormatEnd(uid))

	for _, f := range frames {
		if err := e.link.Send(dest, f); err != nil {
			e.logger.Warn("transfer send failed", "peer", dest, "uid", uid, "error", err)
			return
		}
	}
	e.logger.Debug("transfer sent", "peer", dest, "uid", uid, "post", post.ID, "parts", len(chunks))
}

// chunkBody splits a body into raw chunks of at most size bytes.
func chunkBody(body string, size int) []string {
	if size < 1 {
		size = 1
	}
	if body == "" {
		return []string{""}
	}
	var out []string
	for len(body) > size {
		out = append(out, body[:size])
		body = body[size:]
	}
	if body != "" {
		out = append(out, body)
	}
	return out
}

// PruneRx garbage-collects reassembly buffers that never completed.
func (e *Engine) PruneRx(ctx context.Context) {
	cutoff := time.Now().Add(-rxPartsTTL).Unix()
	if _, err := e.store.PruneRxParts(ctx, cutoff); err != nil {
		e.logger.Warn("pruning rx buffers failed", "error", err)
	}
}
