package exslim

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/ukaji3/exslim-go/pkg/exslim/models"
)

// recorder is a slog.Handler that keeps records at info level and above as
// report events and forwards every record the wrapped handler accepts.
type recorder struct {
	log    *eventLog
	next   slog.Handler
	attrs  []slog.Attr
	groups []string
}

type eventLog struct {
	mu     sync.Mutex
	events []models.Event
}

func newRecorder(next slog.Handler) *recorder {
	return &recorder{log: &eventLog{}, next: next}
}

func (h *recorder) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo || h.next.Enabled(ctx, level)
}

func (h *recorder) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelInfo {
		ev := models.Event{
			Time:    r.Time,
			Level:   r.Level.String(),
			Message: r.Message,
		}
		attrs := make(map[string]any)
		prefix := strings.Join(h.groups, ".")
		for _, a := range h.attrs {
			flatten(attrs, "", a)
		}
		r.Attrs(func(a slog.Attr) bool {
			flatten(attrs, prefix, a)
			return true
		})
		if len(attrs) > 0 {
			ev.Attrs = attrs
		}
		h.log.mu.Lock()
		h.log.events = append(h.log.events, ev)
		h.log.mu.Unlock()
	}
	if h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *recorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	prefix := strings.Join(h.groups, ".")
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		c.attrs = append(c.attrs, a)
	}
	return &c
}

func (h *recorder) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.next = h.next.WithGroup(name)
	c.groups = append(append([]string(nil), h.groups...), name)
	return &c
}

// Events returns a copy of the recorded events.
func (h *recorder) Events() []models.Event {
	h.log.mu.Lock()
	defer h.log.mu.Unlock()
	return append([]models.Event(nil), h.log.events...)
}

func flatten(dst map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			flatten(dst, key, ga)
		}
		return
	}
	if key == "" {
		return
	}
	switch x := v.Any().(type) {
	case error:
		dst[key] = x.Error()
	default:
		dst[key] = x
	}
}
