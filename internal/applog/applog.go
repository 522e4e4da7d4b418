// Package applog captures recent structured log lines per cr_id so the
// Controller API's get_logs(cr_id) (spec.md §4.6) can serve "worker process
// logs" without a separate log aggregation system. The teacher has no
// analogous component — pkg/queue/worker.go logs straight to stdout via
// log/slog and relies on the surrounding platform (pod logs) for retrieval,
// which Hadron's single-process deployment doesn't have. This is plain
// log/slog usage wrapped in a bounded ring buffer, not a third-party
// library: no example repo ships an in-process per-key log tail.
package applog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

const perRunCapacity = 500

// Hub is a slog.Handler that forwards to an underlying handler and also
// retains the last perRunCapacity formatted lines per cr_id, evicting the
// oldest on overflow.
type Hub struct {
	next slog.Handler

	mu   *sync.Mutex
	logs map[string][]string
}

func NewHub(next slog.Handler) *Hub {
	return &Hub{next: next, mu: &sync.Mutex{}, logs: make(map[string][]string)}
}

func (h *Hub) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Hub) Handle(ctx context.Context, r slog.Record) error {
	var crID string
	line := fmt.Sprintf("%s %s %s", r.Time.Format("2006-01-02T15:04:05.000Z07:00"), r.Level, r.Message)
	r.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		if a.Key == "cr_id" {
			crID = a.Value.String()
		}
		return true
	})

	if crID != "" {
		h.mu.Lock()
		buf := append(h.logs[crID], line)
		if len(buf) > perRunCapacity {
			buf = buf[len(buf)-perRunCapacity:]
		}
		h.logs[crID] = buf
		h.mu.Unlock()
	}

	return h.next.Handle(ctx, r)
}

func (h *Hub) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Hub{next: h.next.WithAttrs(attrs), mu: h.mu, logs: h.logs}
}

func (h *Hub) WithGroup(name string) slog.Handler {
	return &Hub{next: h.next.WithGroup(name), mu: h.mu, logs: h.logs}
}

// Tail returns the retained log lines for a cr_id, oldest first.
func (h *Hub) Tail(crID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.logs[crID]))
	copy(out, h.logs[crID])
	return out
}

// Forget drops a cr_id's retained lines, called by the retention sweep so
// memory doesn't grow unbounded across a long-lived process's lifetime.
func (h *Hub) Forget(crID string) {
	h.mu.Lock()
	delete(h.logs, crID)
	h.mu.Unlock()
}
