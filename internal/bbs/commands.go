// ABOUTME: User command handlers: board read/write, notice, identity, node lookup, DMs
// ABOUTME: Replies are terse single frames or paged lists per the response taxonomy

package bbs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/meshlink/meshmini/internal/mesh"
	"github.com/meshlink/meshmini/internal/store"
)

// cmdMenu handles "?": the notice (when set and unexpired) as its own
// paged message, then the menu in a single shrunk frame.
func (d *Dispatcher) cmdMenu(ctx context.Context, fromID string) {
	if title, lines, ok := d.notice(ctx); ok {
		d.replyLines(fromID, title, lines)
	}
	d.sendPages(fromID, []string{Menu(d.displayName(ctx), d.cfg.MaxText)})
}

// cmdHelp handles "??".
func (d *Dispatcher) cmdHelp(ctx context.Context, fromID string) {
	d.replyLines(fromID, "", helpLines(d.displayName(ctx)))
}

// cmdReadRecent handles "r": the last 10 posts, newest first.
func (d *Dispatcher) cmdReadRecent(ctx context.Context, fromID string) {
	posts, err := d.store.RecentPosts(ctx, 10)
	if err != nil {
		d.logger.Warn("recent posts lookup failed", "error", err)
		return
	}
	if len(posts) == 0 {
		d.reply(fromID, "no posts yet. send p <text> to post")
		return
	}

	lines := make([]string, len(posts))
	for i, p := range posts {
		lines[i] = d.postLine(p)
	}
	d.replyLines(fromID, "", lines)
}

// cmdReadPost handles "r <id>": header, body, and replies in id order.
func (d *Dispatcher) cmdReadPost(ctx context.Context, fromID, arg string) {
	id, err := strconv.ParseInt(strings.Fields(arg)[0], 10, 64)
	if err != nil {
		d.reply(fromID, "usage: r <id>")
		return
	}

	post, err := d.store.GetPost(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		d.reply(fromID, fmt.Sprintf("no post #%d", id))
		return
	}
	if err != nil {
		d.logger.Warn("post lookup failed", "id", id, "error", err)
		return
	}

	lines := []string{
		fmt.Sprintf("#%d %s %s", post.ID, d.formatPostTime(post.TS), post.Author),
	}
	lines = append(lines, strings.Split(post.Body, "\n")...)

	replies, err := d.store.Replies(ctx, id)
	if err != nil {
		d.logger.Warn("replies lookup failed", "id", id, "error", err)
		return
	}
	for _, r := range replies {
		lines = append(lines, fmt.Sprintf("↳ #%d %s %s: %s",
			r.ID, d.formatPostTime(r.TS), r.Author, clip(r.Body, 60)))
	}

	d.replyLines(fromID, "", lines)
}

// cmdPost handles "p <text>" and "post <text>".
func (d *Dispatcher) cmdPost(ctx context.Context, fromID, body string) {
	if body == "" {
		d.reply(fromID, "usage: p <text>")
		return
	}

	id, err := d.store.CreatePost(ctx, time.Now().Unix(), fromID, body, nil)
	if err != nil {
		d.logger.Warn("creating post failed", "error", err)
		return
	}
	d.reply(fromID, fmt.Sprintf("posted #%d", id))

	d.pushToPeers(ctx, id)
}

// cmdReply handles "reply <id> <text>". The parent must exist.
func (d *Dispatcher) cmdReply(ctx context.Context, fromID, body string) {
	idTok, text, _ := strings.Cut(body, " ")
	text = strings.TrimSpace(text)
	id, err := strconv.ParseInt(idTok, 10, 64)
	if err != nil || text == "" {
		d.reply(fromID, "usage: reply <id> <text>")
		return
	}

	exists, err := d.store.HasPost(ctx, id)
	if err != nil {
		d.logger.Warn("post lookup failed", "id", id, "error", err)
		return
	}
	if !exists {
		d.reply(fromID, fmt.Sprintf("no post #%d", id))
		return
	}

	rid, err := d.store.CreatePost(ctx, time.Now().Unix(), fromID, text, &id)
	if err != nil {
		d.logger.Warn("creating reply failed", "error", err)
		return
	}
	d.reply(fromID, fmt.Sprintf("reply #%d -> #%d", rid, id))

	d.pushToPeers(ctx, rid)
}

// pushToPeers eagerly replicates a locally created post.
func (d *Dispatcher) pushToPeers(ctx context.Context, id int64) {
	post, err := d.store.GetPost(ctx, id)
	if err != nil {
		d.logger.Warn("post reload for push failed", "id", id, "error", err)
		return
	}
	d.sync.PushPost(ctx, post)
}

// cmdInfo handles "info" (show notice) and routes "info set" to the
// admin surface.
func (d *Dispatcher) cmdInfo(ctx context.Context, fromID, body string) {
	if body != "" {
		sub, rest := splitCmd(body)
		if sub == "set" {
			d.cmdInfoSet(ctx, fromID, rest)
			return
		}
		d.reply(fromID, "usage: info | info set <text>")
		return
	}

	title, lines, ok := d.notice(ctx)
	if !ok {
		d.reply(fromID, "no notice set")
		return
	}
	d.replyLines(fromID, title, lines)
}

// notice loads the current notice unless absent or expired.
func (d *Dispatcher) notice(ctx context.Context) (title string, lines []string, ok bool) {
	text, err := d.store.GetKV(ctx, "notice")
	if err != nil || strings.TrimSpace(text) == "" {
		return "", nil, false
	}

	if raw, err := d.store.GetKV(ctx, "notice_expires_ts"); err == nil {
		if exp, perr := strconv.ParseInt(raw, 10, 64); perr == nil && time.Now().Unix() > exp {
			return "", nil, false
		}
	}

	title = "[Notice]"
	if raw, err := d.store.GetKV(ctx, "notice_ts"); err == nil {
		if ts, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			title = fmt.Sprintf("[Notice %s]", d.formatClock(ts))
		}
	}
	return title, strings.Split(text, "\n"), true
}

// cmdStatus handles "status": station names and uptime.
func (d *Dispatcher) cmdStatus(fromID string) {
	longName, shortName := "-", "-"
	if _, ln, sn, ok := d.link.MyInfo(); ok {
		longName, shortName = ln, sn
	}
	d.reply(fromID, fmt.Sprintf("%s / %s / %s", longName, shortName, d.uptime()))
}

// cmdWhoami handles "whoami".
func (d *Dispatcher) cmdWhoami(fromID string) {
	longName, shortName := d.namesFor(fromID)
	d.reply(fromID, fmt.Sprintf("%s (%s / %s)", fromID, longName, shortName))
}

// cmdWhois handles "whois <short|!id>".
func (d *Dispatcher) cmdWhois(fromID, query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		d.reply(fromID, "usage: whois <short>")
		return
	}

	var node *mesh.NodeEntry
	if strings.HasPrefix(query, "!") {
		id, ok := mesh.Canonical(query)
		if !ok {
			d.reply(fromID, fmt.Sprintf("bad node id '%s'", query))
			return
		}
		node = d.findNode(id)
		if node == nil {
			d.reply(fromID, fmt.Sprintf("no node found for '%s'", query))
			return
		}
	} else {
		matches := d.dmq.Resolve(query)
		switch len(matches) {
		case 0:
			d.reply(fromID, fmt.Sprintf("no node found for '%s'", query))
			return
		case 1:
			node = &matches[0]
		default:
			d.reply(fromID, "ambiguous: "+describeMatches(matches))
			return
		}
	}

	longName, shortName := orDash(node.LongName), orDash(node.ShortName)
	lines := []string{
		fmt.Sprintf("%s (%s) - %s", shortName, node.ID, longName),
		"last seen: " + lastHeardAgo(node.LastHeard),
	}
	d.replyLines(fromID, "", lines)
}

// cmdNodes handles "nodes": the directory sorted by short name.
func (d *Dispatcher) cmdNodes(fromID string) {
	nodes := d.link.Nodes()
	if len(nodes) == 0 {
		d.reply(fromID, "(no nodes)")
		return
	}

	sort.Slice(nodes, func(i, j int) bool {
		return strings.ToLower(nodes[i].ShortName) < strings.ToLower(nodes[j].ShortName)
	})

	lines := make([]string, len(nodes))
	for i, n := range nodes {
		lines[i] = fmt.Sprintf("%s %s last:%s", orDash(n.ShortName), n.ID, lastHeardAgo(n.LastHeard))
	}
	d.replyLines(fromID, "", lines)
}

// cmdDM handles "dm <short> <text>": resolve the short name against the
// live directory and queue for store-and-forward delivery.
func (d *Dispatcher) cmdDM(ctx context.Context, fromID, body string) {
	short, text, _ := strings.Cut(body, " ")
	text = strings.TrimSpace(text)
	if short == "" || text == "" {
		d.reply(fromID, "usage: dm <short> <text>")
		return
	}

	matches := d.dmq.Resolve(short)
	switch len(matches) {
	case 0:
		d.reply(fromID, fmt.Sprintf("no node with short '%s'", short))
		return
	case 1:
	default:
		d.reply(fromID, fmt.Sprintf("ambiguous '%s': %s", short, describeMatches(matches)))
		return
	}

	target := matches[0]
	if _, err := d.dmq.Enqueue(ctx, target.ID, text); err != nil {
		d.logger.Warn("queueing dm failed", "to", target.ID, "error", err)
		return
	}
	d.reply(fromID, fmt.Sprintf("queued dm to %s (%s)", orDash(target.ShortName), target.ID))
}

// findNode scans the directory for a canonical id.
func (d *Dispatcher) findNode(id string) *mesh.NodeEntry {
	for _, n := range d.link.Nodes() {
		if n.ID == id {
			node := n
			return &node
		}
	}
	return nil
}

// namesFor resolves long/short names for a canonical id, "-" when unknown.
func (d *Dispatcher) namesFor(id string) (string, string) {
	if n := d.findNode(id); n != nil {
		return orDash(n.LongName), orDash(n.ShortName)
	}
	return "-", "-"
}

// describeMatches lists candidates as "SN(!id), SN(!id)".
func describeMatches(matches []mesh.NodeEntry) string {
	parts := make([]string, len(matches))
	for i, m := range matches {
		parts[i] = fmt.Sprintf("%s(%s)", orDash(m.ShortName), m.ID)
	}
	return strings.Join(parts, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// lastHeardAgo renders a directory last-heard timestamp as an age.
func lastHeardAgo(lastHeard int64) string {
	if lastHeard <= 0 {
		return "unknown"
	}
	return mesh.FormatAgo(time.Since(time.Unix(lastHeard, 0)))
}

// postLine renders one board listing row: #id mm-dd HH:MM author: body.
func (d *Dispatcher) postLine(p *store.Post) string {
	return fmt.Sprintf("#%d %s %s: %s", p.ID, d.formatPostTime(p.TS), p.Author, clip(p.Body, 60))
}

// formatPostTime renders a post timestamp as mm-dd HH:MM in the
// configured zone.
func (d *Dispatcher) formatPostTime(ts int64) string {
	return time.Unix(ts, 0).In(d.loc).Format("01-02 15:04")
}

// formatClock renders a notice timestamp: clock time when today in the
// configured zone, full date otherwise.
func (d *Dispatcher) formatClock(ts int64) string {
	t := time.Unix(ts, 0).In(d.loc)
	now := time.Now().In(d.loc)
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("2006-01-02 15:04")
}

// uptime renders time since start as "up 3h07m".
func (d *Dispatcher) uptime() string {
	up := time.Since(d.startedAt)
	hours := int(up.Hours())
	mins := int(up.Minutes()) % 60
	return fmt.Sprintf("up %dh%02dm", hours, mins)
}
