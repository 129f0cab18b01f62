// ABOUTME: Command dispatcher: normalization, bypass set, rate limiting, routing
// ABOUTME: The ordering of checks (flush, sync, blacklist, bypass, rate) is the session contract

package bbs

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/meshlink/meshmini/internal/config"
	"github.com/meshlink/meshmini/internal/dmqueue"
	"github.com/meshlink/meshmini/internal/mesh"
	"github.com/meshlink/meshmini/internal/peersync"
	"github.com/meshlink/meshmini/internal/store"
)

// Dispatcher interprets inbound text from the mesh and replies over the
// same link.
type Dispatcher struct {
	cfg     *config.Config
	store   store.Store
	link    mesh.Link
	dmq     *dmqueue.Queue
	sync    *peersync.Engine
	limiter *RateLimiter
	logger  *slog.Logger
	loc     *time.Location

	startedAt time.Time

	// LastRX reports the receive clock for the health report. Wired by
	// the gateway; nil reads as "never".
	LastRX func() (time.Time, bool)
}

// New creates a dispatcher.
func New(cfg *config.Config, st store.Store, link mesh.Link, dmq *dmqueue.Queue, syncEngine *peersync.Engine, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:       cfg,
		store:     st,
		link:      link,
		dmq:       dmq,
		sync:      syncEngine,
		limiter:   NewRateLimiter(cfg.RateWindow()),
		logger:    logger.With("component", "dispatcher"),
		loc:       cfg.Location(),
		startedAt: time.Now(),
	}
}

// Handle processes one inbound text frame from fromID.
//
// Order matters: the DM queue drains before anything else so peers
// recovering from an outage get their backlog, sync frames skip both the
// blacklist and the rate limiter, blacklisted senders are then dropped
// silently, bypass commands always run, and everything else pays the
// per-sender cooldown.
func (d *Dispatcher) Handle(ctx context.Context, fromID, text string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic recovered", "from", fromID, "panic", r)
		}
	}()

	d.dmq.FlushFor(ctx, fromID)

	if peersync.IsSync(text) {
		d.sync.HandleFrame(ctx, fromID, text)
		return
	}

	blacklisted, err := d.store.IsBlacklisted(ctx, fromID)
	if err != nil {
		d.logger.Warn("blacklist lookup failed", "from", fromID, "error", err)
		return
	}
	if blacklisted {
		d.logger.Debug("blacklisted sender dropped", "from", fromID)
		return
	}

	norm := normalize(text)
	if norm == "" {
		return
	}
	low := strings.ToLower(norm)

	if !isBypass(low) && !d.limiter.Allow(fromID) {
		d.logger.Debug("rate limited", "from", fromID)
		return
	}

	d.route(ctx, fromID, strings.TrimSpace(text))
}

// normalize trims and collapses internal whitespace. Keyword matching
// uses this; body arguments come from the original text.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// isBypass reports whether a normalized, lowercased command skips the
// rate limiter: discovery and notice reads must always succeed.
func isBypass(low string) bool {
	switch low {
	case "?", "??", "help", "menu":
		return true
	}
	return strings.HasPrefix(low, "info")
}

// splitCmd peels the first token off the original text, preserving the
// body's internal spacing.
func splitCmd(text string) (keyword, body string) {
	text = strings.TrimSpace(text)
	i := strings.IndexAny(text, " \t")
	if i < 0 {
		return strings.ToLower(text), ""
	}
	return strings.ToLower(text[:i]), strings.TrimSpace(text[i:])
}

// route matches the first token and runs the handler.
func (d *Dispatcher) route(ctx context.Context, fromID, text string) {
	keyword, body := splitCmd(text)

	switch keyword {
	case "?", "menu", "help":
		d.cmdMenu(ctx, fromID)
	case "??":
		d.cmdHelp(ctx, fromID)
	case "r", "read":
		if body == "" {
			d.cmdReadRecent(ctx, fromID)
		} else {
			d.cmdReadPost(ctx, fromID, body)
		}
	case "p", "post":
		d.cmdPost(ctx, fromID, body)
	case "reply":
		d.cmdReply(ctx, fromID, body)
	case "info":
		d.cmdInfo(ctx, fromID, body)
	case "status":
		d.cmdStatus(fromID)
	case "whoami":
		d.cmdWhoami(fromID)
	case "whois":
		d.cmdWhois(fromID, body)
	case "nodes":
		d.cmdNodes(fromID)
	case "dm":
		d.cmdDM(ctx, fromID, body)
	case "admins":
		d.cmdAdmins(ctx, fromID, body)
	case "bl":
		d.cmdBlacklist(ctx, fromID, body)
	case "peer":
		d.cmdPeers(ctx, fromID, body)
	case "sync":
		d.cmdSync(ctx, fromID, body)
	case "name":
		d.cmdName(ctx, fromID, body)
	case "health":
		d.cmdHealth(ctx, fromID, body)
	default:
		if d.cfg.UnknownReply {
			d.reply(fromID, "unknown. send ? for menu")
		}
	}
}

// reply sends one possibly multi-line text, paged to the MTU.
func (d *Dispatcher) reply(dest, text string) {
	d.sendPages(dest, Paginate(strings.Split(text, "\n"), "", d.cfg.MaxText))
}

// replyLines pages a list of lines under an optional repeated title.
func (d *Dispatcher) replyLines(dest, title string, lines []string) {
	d.sendPages(dest, Paginate(lines, title, d.cfg.MaxText))
}

// sendPages transmits pages in order; the link enforces the TX gap.
// A failed send logs and drops the rest of the reply.
func (d *Dispatcher) sendPages(dest string, pages []string) {
	for _, page := range pages {
		if err := d.link.Send(dest, page); err != nil {
			d.logger.Warn("reply send failed", "to", dest, "error", err)
			return
		}
	}
}

// displayName is the configured name, overridable at runtime via kv.
func (d *Dispatcher) displayName(ctx context.Context) string {
	if v, err := d.store.GetKV(ctx, "name"); err == nil && strings.TrimSpace(v) != "" {
		return clip(strings.TrimSpace(v), 40)
	}
	return clip(d.cfg.Name, 40)
}
