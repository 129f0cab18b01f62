// ABOUTME: slog setup: JSON for collectors, or a console handler aware of the component convention
// ABOUTME: Every meshmini logger tags itself with "component"; the console view renders it as a bracket tag

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/meshlink/meshmini/internal/config"
)

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	// Logs go to stderr so the startup banner and health output on
	// stdout stay clean for pipes.
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(newConsoleHandler(os.Stderr, level))
}

// consoleHandler renders records as
//
//	15:04:05 inf [peersync] replicated post applied uid=ab12cd34ef post=7 peer=!cafef00d
//
// pulling the "component" attr (which every meshmini component sets on
// its logger) out of the key=value tail and into a bracket tag. Group
// names qualify attr keys dot-separated, matching what the JSON handler
// would nest.
type consoleHandler struct {
	mu     *sync.Mutex // shared across WithAttrs/WithGroup clones
	w      io.Writer
	level  slog.Level
	attrs  []slog.Attr // pre-qualified by the groups open at WithAttrs time
	groups []string
}

func newConsoleHandler(w io.Writer, level slog.Level) *consoleHandler {
	return &consoleHandler{
		mu:    &sync.Mutex{},
		w:     w,
		level: level,
	}
}

var levelTags = map[slog.Level]string{
	slog.LevelDebug: color.MagentaString("dbg"),
	slog.LevelInfo:  color.CyanString("inf"),
	slog.LevelWarn:  color.YellowString("wrn"),
	slog.LevelError: color.New(color.FgRed, color.Bold).Sprint("err"),
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var component string
	var kvs []slog.Attr

	collect := func(a slog.Attr) {
		if a.Key == "component" && component == "" {
			component = a.Value.String()
			return
		}
		kvs = append(kvs, a)
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(h.qualify(a))
		return true
	})

	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05")))
	buf.WriteByte(' ')
	if tag, ok := levelTags[r.Level]; ok {
		buf.WriteString(tag)
	} else {
		buf.WriteString(r.Level.String())
	}
	if component != "" {
		buf.WriteString(color.GreenString(" [" + component + "]"))
	}
	buf.WriteByte(' ')
	buf.WriteString(r.Message)
	for _, a := range kvs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, buf.String())
	return err
}

// qualify prefixes an attr key with the open group path.
func (h *consoleHandler) qualify(a slog.Attr) slog.Attr {
	if len(h.groups) == 0 {
		return a
	}
	a.Key = strings.Join(h.groups, ".") + "." + a.Key
	return a
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, h.qualify(a))
	}
	return &clone
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = make([]string, 0, len(h.groups)+1)
	clone.groups = append(clone.groups, h.groups...)
	clone.groups = append(clone.groups, name)
	return &clone
}
