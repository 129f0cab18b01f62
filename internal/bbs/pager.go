// ABOUTME: Pager: splits reply lines into MTU-sized pages with (i/N) prefixes
// ABOUTME: A page repeats the optional title; the prefix appears only on multi-page replies

package bbs

import (
	"fmt"
	"strings"
)

// Paginate splits lines into pages no longer than maxText. Each page
// starts with the optional title, lines are appended greedily, and every
// page carries an "(i/N) " prefix when more than one page results.
// Overlong single lines are hard-split so the budget always holds.
func Paginate(lines []string, title string, maxText int) []string {
	if maxText < 1 {
		maxText = 1
	}
	if len(lines) == 0 {
		return nil
	}

	pages := packPages(lines, title, maxText)
	if len(pages) <= 1 {
		return pages
	}

	// Multi-page: repack with room reserved for the widest prefix. The
	// page count can shift as the budget shrinks, so iterate to a fixed
	// point (bounded; the count only grows).
	reserve := prefixWidth(len(pages))
	for {
		pages = packPages(lines, title, maxInt(1, maxText-reserve))
		if w := prefixWidth(len(pages)); w > reserve {
			reserve = w
			continue
		}
		break
	}

	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = fmt.Sprintf("(%d/%d) %s", i+1, len(pages), p)
	}
	return out
}

// prefixWidth returns the length of the "(N/N) " prefix for a count.
func prefixWidth(n int) int {
	return len(fmt.Sprintf("(%d/%d) ", n, n))
}

// packPages greedily fills pages up to limit characters.
func packPages(lines []string, title string, limit int) []string {
	var pages []string

	cur := title
	flush := func() {
		if cur != "" && cur != title {
			pages = append(pages, cur)
		}
		cur = title
	}

	for _, line := range lines {
		for _, piece := range splitLong(line, lineBudget(title, limit)) {
			candidate := piece
			if cur != "" {
				candidate = cur + "\n" + piece
			}
			if len(candidate) <= limit {
				cur = candidate
				continue
			}
			flush()
			if cur != "" {
				cur = cur + "\n" + piece
			} else {
				cur = piece
			}
		}
	}
	flush()
	return pages
}

// lineBudget is the widest a single line may be once the title claims
// its share of a page.
func lineBudget(title string, limit int) int {
	budget := limit
	if title != "" {
		budget = limit - len(title) - 1
	}
	return maxInt(1, budget)
}

// splitLong hard-splits a line into width-sized pieces.
func splitLong(line string, width int) []string {
	if len(line) <= width {
		return []string{line}
	}
	var out []string
	for len(line) > width {
		out = append(out, line[:width])
		line = line[width:]
	}
	if line != "" {
		out = append(out, line)
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// clip truncates a string for one-line listings.
func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
