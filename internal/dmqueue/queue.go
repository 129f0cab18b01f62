// ABOUTME: Store-and-forward DM queue keyed by resolved node address
// ABOUTME: Queues on command, drains a small batch whenever the recipient is heard

package dmqueue

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/meshlink/meshmini/internal/mesh"
	"github.com/meshlink/meshmini/internal/store"
)

// flushBatch caps deliveries per sighting so a returning node does not
// trigger a burst that blows the duty cycle.
const flushBatch = 3

// Queue is the store-and-forward DM queue.
type Queue struct {
	store  store.Store
	link   mesh.Link
	logger *slog.Logger
	ttl    time.Duration
}

// New creates a queue. ttl hides undelivered rows older than the
// horizon; zero disables expiry.
func New(st store.Store, link mesh.Link, ttl time.Duration, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:  st,
		link:   link,
		logger: logger.With("component", "dmqueue"),
		ttl:    ttl,
	}
}

// Resolve finds directory entries whose short name matches, case
// insensitively: exact match wins, then a unique prefix, then substring
// matches against short or long names.
func (q *Queue) Resolve(short string) []mesh.NodeEntry {
	want := strings.ToLower(strings.TrimSpace(short))
	if want == "" {
		return nil
	}

	nodes := q.link.Nodes()

	var exact, prefix, contains []mesh.NodeEntry
	for _, n := range nodes {
		sn := strings.ToLower(n.ShortName)
		if sn == "" {
			continue
		}
		switch {
		case sn == want:
			exact = append(exact, n)
		case strings.HasPrefix(sn, want):
			prefix = append(prefix, n)
		case strings.Contains(sn, want) || strings.Contains(strings.ToLower(n.LongName), want):
			contains = append(contains, n)
		}
	}

	if len(exact) > 0 {
		return exact
	}
	if len(prefix) == 1 {
		return prefix
	}
	return append(prefix, contains...)
}

// Enqueue inserts a DM for a resolved node address and returns the row id.
func (q *Queue) Enqueue(ctx context.Context, toID, body string) (int64, error) {
	id, err := q.store.EnqueueDM(ctx, toID, body, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	q.logger.Info("dm queued", "id", id, "to", toID)
	return id, nil
}

// FlushFor drains up to flushBatch undelivered rows for a node that was
// just heard. Each is sent as "[DM] <body>" and marked delivered on a
// successful send; failures leave the row queued for the next sighting.
func (q *Queue) FlushFor(ctx context.Context, dest string) {
	var minCreated int64
	if q.ttl > 0 {
		minCreated = time.Now().Add(-q.ttl).Unix()
	}

	rows, err := q.store.PendingDMs(ctx, dest, flushBatch, minCreated)
	if err != nil {
		q.logger.Warn("pending dm lookup failed", "to", dest, "error", err)
		return
	}

	for _, dm := range rows {
		if err := q.link.Send(dest, "[DM] "+dm.Body); err != nil {
			q.logger.Warn("dm delivery failed", "id", dm.ID, "to", dest, "error", err)
			return
		}
		if err := q.store.MarkDMDelivered(ctx, dm.ID, time.Now().Unix()); err != nil {
			q.logger.Warn("marking dm delivered failed", "id", dm.ID, "error", err)
			return
		}
		q.logger.Info("dm delivered", "id", dm.ID, "to", dest)
	}
}
