package logging

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// LogLine is one rendered record kept in the ring buffer for admin viewing.
type LogLine struct {
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Time    time.Time      `json:"ts"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// RingHandler wraps a slog.TextHandler and mirrors every record into a
// bounded ring buffer with its own pub/sub, so the admin surface can tail
// logs without shelling out to the process's stderr.
type RingHandler struct {
	inner       slog.Handler
	mu          *sync.RWMutex
	ring        []LogLine
	ringSize    int
	ringPos     *int
	ringCount   *int
	subscribers map[int]chan LogLine
	nextID      *int
	level       slog.Leveler
	attrs       []slog.Attr
	groups      []string
}

func NewRingHandler(level slog.Leveler, ringSize int) *RingHandler {
	if ringSize <= 0 {
		ringSize = 1000
	}
	return &RingHandler{
		inner:       slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
		mu:          &sync.RWMutex{},
		ring:        make([]LogLine, ringSize),
		ringSize:    ringSize,
		ringPos:     new(int),
		ringCount:   new(int),
		subscribers: make(map[int]chan LogLine),
		nextID:      new(int),
		level:       level,
	}
}

func (h *RingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *RingHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}

	attrs := make(map[string]any)
	prefix := groupPrefix(h.groups)
	for _, a := range h.attrs {
		attrs[prefix+a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[prefix+a.Key] = a.Value.Any()
		return true
	})

	line := LogLine{
		Level:   r.Level.String(),
		Message: r.Message,
		Time:    r.Time,
	}
	if len(attrs) > 0 {
		line.Attrs = attrs
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring[*h.ringPos] = line
	*h.ringPos = (*h.ringPos + 1) % h.ringSize
	if *h.ringCount < h.ringSize {
		*h.ringCount++
	}

	for _, ch := range h.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
	return nil
}

func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithAttrs(attrs)
	clone.attrs = append(cloneAttrs(h.attrs), attrs...)
	return &clone
}

func (h *RingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.inner = h.inner.WithGroup(name)
	clone.attrs = cloneAttrs(h.attrs)
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

func (h *RingHandler) Subscribe() (id int, ch <-chan LogLine, recent []LogLine) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := make(chan LogLine, 64)
	id = *h.nextID
	*h.nextID++
	h.subscribers[id] = c

	recent = h.recentLocked()
	return id, c, recent
}

func (h *RingHandler) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

func (h *RingHandler) recentLocked() []LogLine {
	if *h.ringCount == 0 {
		return nil
	}
	result := make([]LogLine, *h.ringCount)
	start := (*h.ringPos - *h.ringCount + h.ringSize) % h.ringSize
	for i := range *h.ringCount {
		result[i] = h.ring[(start+i)%h.ringSize]
	}
	return result
}

func groupPrefix(groups []string) string {
	if len(groups) == 0 {
		return ""
	}
	var p string
	for _, g := range groups {
		p += g + "."
	}
	return p
}

func cloneAttrs(attrs []slog.Attr) []slog.Attr {
	if len(attrs) == 0 {
		return nil
	}
	c := make([]slog.Attr, len(attrs))
	copy(c, attrs)
	return c
}
