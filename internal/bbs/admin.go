// ABOUTME: Admin command handlers: admins, blacklist, peers, sync, notice, name, health
// ABOUTME: Bootstrap mode (empty admins set) accepts everyone, loudly

package bbs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/meshlink/meshmini/internal/mesh"
)

// isAdmin implements the admin predicate: membership, or bootstrap mode
// while the set is empty. Every bootstrap acceptance logs a warning so
// operators notice the open door.
func (d *Dispatcher) isAdmin(ctx context.Context, fromID string) bool {
	admins, err := d.store.ListAdmins(ctx)
	if err != nil {
		d.logger.Warn("admin lookup failed", "error", err)
		return false
	}
	if len(admins) == 0 {
		d.logger.Warn("bootstrap admin mode: accepting admin action from unlisted sender; set ADMINS", "from", fromID)
		return true
	}
	for _, a := range admins {
		if a == fromID {
			return true
		}
	}
	return false
}

// requireAdmin gates a handler, replying "admin only" on failure.
func (d *Dispatcher) requireAdmin(ctx context.Context, fromID string) bool {
	if d.isAdmin(ctx, fromID) {
		return true
	}
	d.reply(fromID, "admin only")
	return false
}

// idSetOps is the add/del/list plumbing shared by admins, bl, and peer.
type idSetOps struct {
	usage     string
	add       func(ctx context.Context, id string) error
	del       func(ctx context.Context, id string) error
	listLines func(ctx context.Context) ([]string, error)
	empty     string
}

func (d *Dispatcher) handleIDSet(ctx context.Context, fromID, body string, ops idSetOps) {
	if !d.requireAdmin(ctx, fromID) {
		return
	}

	sub, rest := splitCmd(body)
	switch sub {
	case "add", "del":
		target, ok := mesh.Canonical(rest)
		if !ok {
			d.reply(fromID, fmt.Sprintf("bad node id '%s'", strings.TrimSpace(rest)))
			return
		}
		op := ops.add
		verb := "added"
		if sub == "del" {
			op = ops.del
			verb = "removed"
		}
		if err := op(ctx, target); err != nil {
			d.logger.Warn("id set mutation failed", "error", err)
			return
		}
		d.reply(fromID, fmt.Sprintf("%s %s", verb, target))
	case "list":
		lines, err := ops.listLines(ctx)
		if err != nil {
			d.logger.Warn("id set listing failed", "error", err)
			return
		}
		if len(lines) == 0 {
			d.reply(fromID, ops.empty)
			return
		}
		d.replyLines(fromID, "", lines)
	default:
		d.reply(fromID, ops.usage)
	}
}

// cmdAdmins handles "admins add|del|list".
func (d *Dispatcher) cmdAdmins(ctx context.Context, fromID, body string) {
	d.handleIDSet(ctx, fromID, body, idSetOps{
		usage: "usage: admins add|del|list",
		add:   d.store.AddAdmin,
		del:   d.store.RemoveAdmin,
		listLines: func(ctx context.Context) ([]string, error) {
			return d.namedIDLines(d.store.ListAdmins(ctx))
		},
		empty: "admins: (none) - everyone is admin",
	})
}

// cmdBlacklist handles "bl add|del|list".
func (d *Dispatcher) cmdBlacklist(ctx context.Context, fromID, body string) {
	d.handleIDSet(ctx, fromID, body, idSetOps{
		usage: "usage: bl add|del|list",
		add:   d.store.AddBlacklist,
		del:   d.store.RemoveBlacklist,
		listLines: func(ctx context.Context) ([]string, error) {
			return d.namedIDLines(d.store.ListBlacklist(ctx))
		},
		empty: "blacklist: (empty)",
	})
}

// cmdPeers handles "peer add|del|list".
func (d *Dispatcher) cmdPeers(ctx context.Context, fromID, body string) {
	d.handleIDSet(ctx, fromID, body, idSetOps{
		usage: "usage: peer add|del|list",
		add:   d.store.AddPeer,
		del:   d.store.RemovePeer,
		listLines: func(ctx context.Context) ([]string, error) {
			peers, err := d.store.ListPeers(ctx)
			if err != nil {
				return nil, err
			}
			lines := make([]string, len(peers))
			for i, p := range peers {
				seen := "-"
				if p.LastSeen != nil {
					seen = mesh.FormatAgo(time.Since(time.Unix(*p.LastSeen, 0)))
				}
				lines[i] = fmt.Sprintf("%s last:%s", p.ID, seen)
			}
			return lines, nil
		},
		empty: "peers: (none)",
	})
}

// namedIDLines renders ids with directory names attached.
func (d *Dispatcher) namedIDLines(ids []string, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	lines := make([]string, len(ids))
	for i, id := range ids {
		longName, shortName := d.namesFor(id)
		lines[i] = fmt.Sprintf("%s (%s / %s)", id, longName, shortName)
	}
	return lines, nil
}

// cmdSync handles "sync now|on|off".
func (d *Dispatcher) cmdSync(ctx context.Context, fromID, body string) {
	if !d.requireAdmin(ctx, fromID) {
		return
	}

	switch strings.ToLower(strings.TrimSpace(body)) {
	case "now":
		if err := d.sync.SendInventories(ctx); err != nil {
			d.logger.Warn("sync now failed", "error", err)
			d.reply(fromID, "sync failed")
			return
		}
		d.reply(fromID, "sync sent")
	case "on":
		d.sync.SetEnabled(true)
		d.reply(fromID, "sync on")
	case "off":
		d.sync.SetEnabled(false)
		d.reply(fromID, "sync off")
	default:
		d.reply(fromID, "usage: sync now|on|off")
	}
}

// cmdInfoSet handles "info set [<hours>] <text>". A leading integer is
// read as an expiry horizon in hours.
func (d *Dispatcher) cmdInfoSet(ctx context.Context, fromID, body string) {
	if !d.requireAdmin(ctx, fromID) {
		return
	}
	if strings.TrimSpace(body) == "" {
		d.reply(fromID, "usage: info set [<hours>] <text>")
		return
	}

	var expires int64
	first, rest, _ := strings.Cut(body, " ")
	rest = strings.TrimSpace(rest)
	if hours, err := strconv.Atoi(first); err == nil && hours > 0 && rest != "" {
		expires = time.Now().Add(time.Duration(hours) * time.Hour).Unix()
		body = rest
	}

	now := time.Now().Unix()
	if err := d.store.SetKV(ctx, "notice", body); err != nil {
		d.logger.Warn("setting notice failed", "error", err)
		return
	}
	if err := d.store.SetKV(ctx, "notice_ts", strconv.FormatInt(now, 10)); err != nil {
		d.logger.Warn("setting notice_ts failed", "error", err)
		return
	}
	if expires > 0 {
		if err := d.store.SetKV(ctx, "notice_expires_ts", strconv.FormatInt(expires, 10)); err != nil {
			d.logger.Warn("setting notice_expires_ts failed", "error", err)
			return
		}
	} else if err := d.store.DeleteKV(ctx, "notice_expires_ts"); err != nil {
		d.logger.Warn("clearing notice_expires_ts failed", "error", err)
		return
	}

	d.reply(fromID, "notice updated")
}

// cmdName handles "name" (show) and "name set <text>" (admin override of
// the display name).
func (d *Dispatcher) cmdName(ctx context.Context, fromID, body string) {
	if strings.TrimSpace(body) == "" {
		d.reply(fromID, d.displayName(ctx))
		return
	}

	sub, rest := splitCmd(body)
	if sub != "set" {
		d.reply(fromID, "usage: name | name set <text>")
		return
	}
	if !d.requireAdmin(ctx, fromID) {
		return
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		d.reply(fromID, "usage: name set <text>")
		return
	}

	name := clip(rest, 40)
	if err := d.store.SetKV(ctx, "name", name); err != nil {
		d.logger.Warn("setting name failed", "error", err)
		return
	}
	d.reply(fromID, "name set to: "+name)
}

// cmdHealth handles "health [full]". Public only when configured.
func (d *Dispatcher) cmdHealth(ctx context.Context, fromID, body string) {
	if !d.cfg.HealthPublic && !d.requireAdmin(ctx, fromID) {
		return
	}

	lines := d.HealthLines(ctx, strings.EqualFold(strings.TrimSpace(body), "full"))
	d.replyLines(fromID, "", lines)
}

// HealthLines builds the health report. Shared with the local HTTP
// health endpoint.
func (d *Dispatcher) HealthLines(ctx context.Context, full bool) []string {
	rx := "rx never"
	if d.LastRX != nil {
		if t, ok := d.LastRX(); ok {
			rx = "rx " + mesh.FormatAgo(time.Since(t)) + " ago"
		}
	}

	syncState := "sync off"
	if d.sync.Enabled() {
		syncState = "sync on"
	}

	lines := []string{
		fmt.Sprintf("[%s] %s", d.displayName(ctx), d.uptime()),
		rx,
		syncState,
	}

	counts, err := d.store.Counts(ctx)
	if err != nil {
		d.logger.Warn("health counts failed", "error", err)
		return lines
	}
	lines = append(lines, fmt.Sprintf("posts %d peers %d dms %d",
		counts.Posts, counts.Peers, counts.PendingDMs))
	if full {
		lines = append(lines,
			fmt.Sprintf("admins %d bl %d", counts.Admins, counts.Blacklist),
			fmt.Sprintf("seen %d applied %d rxbuf %d",
				counts.SeenUIDs, counts.AppliedUIDs, counts.RxParts))
	}
	return lines
}
