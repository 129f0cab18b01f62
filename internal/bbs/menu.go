// ABOUTME: Menu construction with the fixed shrink-to-MTU removal order
// ABOUTME: Deployments get predictable menus because the removal order is part of the contract

package bbs

import "strings"

// menuItem is one entry in the full menu, keyed for removal.
type menuItem struct {
	key   string
	label string
}

// fullMenu lists every item in display order.
var fullMenu = []menuItem{
	{"r list", "r list"},
	{"r <id>", "r <id>"},
	{"p", "p <text>"},
	{"reply", "reply <id> <txt>"},
	{"info", "info"},
	{"status", "status"},
	{"whoami", "whoami"},
	{"whois", "whois <s>"},
	{"nodes", "nodes"},
	{"dm", "dm <s> <txt>"},
	{"??", "??"},
}

// menuRemovalOrder drops the least essential items first. "r list" and
// "??" are never removed.
var menuRemovalOrder = []string{
	"dm", "whois", "nodes", "whoami", "status", "info", "reply", "p", "r <id>",
}

// Menu renders the command menu for the given display name, shrunk until
// it fits in maxText. Falls back to a minimal listing when even the
// shrunk menu is too long.
func Menu(name string, maxText int) string {
	items := make([]menuItem, len(fullMenu))
	copy(items, fullMenu)

	m := renderMenu(name, items)
	for _, key := range menuRemovalOrder {
		if len(m) <= maxText {
			return m
		}
		items = removeItem(items, key)
		m = renderMenu(name, items)
	}
	if len(m) <= maxText {
		return m
	}

	fallback := "[" + name + "] r list | p | r <id> | ??"
	if len(fallback) <= maxText {
		return fallback
	}
	return "[BBS] r|p|r#|??"
}

func renderMenu(name string, items []menuItem) string {
	labels := make([]string, len(items))
	for i, it := range items {
		labels[i] = it.label
	}
	return "[" + name + "] " + strings.Join(labels, " | ")
}

func removeItem(items []menuItem, key string) []menuItem {
	out := items[:0]
	for _, it := range items {
		if it.key != key {
			out = append(out, it)
		}
	}
	return out
}

// helpLines is the detailed listing behind "??". The pager splits it to
// fit the MTU.
func helpLines(name string) []string {
	return []string{
		"[" + name + "] help",
		"r            last 10 posts",
		"r <id>       one post + replies",
		"p <text>     post a message",
		"reply <id> <txt>  reply to a post",
		"dm <s> <txt> queue a DM by short name",
		"whois <s>    look up a node",
		"nodes        known nodes",
		"info         current notice",
		"status       station name + uptime",
		"whoami       your id + names",
		"?            menu   ?? this help",
	}
}
