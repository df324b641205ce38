// Package logging provides a slog.Handler that collects formatted log lines
// into a buffer. The summary handler injects it per request in debug mode so
// the run's log output can be returned in the JSON response instead of (or in
// addition to) going to the process log.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Collector accumulates formatted log lines. Safe for concurrent use.
type Collector struct {
	mu    sync.Mutex
	lines []string
}

// Lines returns a copy of everything collected so far.
func (c *Collector) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Collector) append(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

// CollectHandler is a slog.Handler writing one formatted line per record into
// a Collector, optionally passing records through to an inner handler.
type CollectHandler struct {
	collector *Collector
	inner     slog.Handler // may be nil
	attrs     []slog.Attr
	groups    []string
}

// NewCollectHandler returns a handler feeding the given collector. If inner is
// non-nil, records are also forwarded to it.
func NewCollectHandler(collector *Collector, inner slog.Handler) *CollectHandler {
	return &CollectHandler{collector: collector, inner: inner}
}

func (h *CollectHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelDebug
}

func (h *CollectHandler) Handle(ctx context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Level.String())
	b.WriteString(" ")
	b.WriteString(r.Message)

	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		writeAttr(&b, prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, prefix, a)
		return true
	})

	h.collector.append(b.String())

	if h.inner != nil && h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

func (h *CollectHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	if h.inner != nil {
		clone.inner = h.inner.WithAttrs(attrs)
	}
	return &clone
}

func (h *CollectHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	if h.inner != nil {
		clone.inner = h.inner.WithGroup(name)
	}
	return &clone
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	fmt.Fprintf(b, " %s=%v", key, a.Value.Resolve())
}

var _ slog.Handler = (*CollectHandler)(nil)
