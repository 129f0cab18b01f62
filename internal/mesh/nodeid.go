// ABOUTME: NodeId canonicalization helpers shared by intake, dispatch, and sync
// ABOUTME: Directory keys arrive as ints, bare hex, or !-prefixed strings

package mesh

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var canonicalRe = regexp.MustCompile(`^![0-9a-f]{8}$`)

// FormatNum renders a node number in canonical "!hhhhhhhh" form.
func FormatNum(num uint32) string {
	return fmt.Sprintf("!%08x", num)
}

// ParseID converts a canonical "!hhhhhhhh" id back to its node number.
func ParseID(id string) (uint32, error) {
	c, ok := Canonical(id)
	if !ok {
		return 0, fmt.Errorf("bad node id %q", id)
	}
	n, err := strconv.ParseUint(c[1:], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad node id %q: %w", id, err)
	}
	return uint32(n), nil
}

// Canonical normalizes a node identifier of any observed shape into
// "!hhhhhhhh" (8 lowercase hex digits). Accepted shapes: canonical ids,
// decimal strings, bare hex strings, and integer node numbers (masked
// to 32 bits). An unprefixed all-digit string is always read as
// decimal; hex needs a "!" prefix or a hex letter to disambiguate.
// Returns false for anything else.
func Canonical(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		if s == "" {
			return "", false
		}
		if !strings.HasPrefix(s, "!") {
			if n, err := strconv.ParseUint(s, 10, 64); err == nil {
				return FormatNum(uint32(n)), true
			}
			s = "!" + s
		}
		if canonicalRe.MatchString(s) {
			return s, true
		}
		return "", false
	case int:
		return FormatNum(uint32(uint64(x))), true
	case int32:
		return FormatNum(uint32(x)), true
	case int64:
		return FormatNum(uint32(uint64(x))), true
	case uint32:
		return FormatNum(x), true
	case uint64:
		return FormatNum(uint32(x)), true
	case float64:
		return FormatNum(uint32(uint64(x))), true
	default:
		return "", false
	}
}

// FormatAgo renders a last-heard age the way operators read it on a
// 4-line screen: 42s, 7m, 3h07m, 2d05h.
func FormatAgo(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}
	secs := int64(d.Seconds())
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	mins := secs / 60
	if mins < 60 {
		return fmt.Sprintf("%dm", mins)
	}
	hours, mins := mins/60, mins%60
	if hours < 24 {
		return fmt.Sprintf("%dh%02dm", hours, mins)
	}
	days, hours := hours/24, hours%24
	return fmt.Sprintf("%dd%02dh", days, hours)
}
