// Package logctx lleva un *slog.Logger dentro del context.Context y permite
// capturar todas las líneas de log de una sesión (un job) sin tocar el logger global.
package logctx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
)

type ctxKey struct{}

// With devuelve un contexto que transporta el logger dado.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From devuelve el logger del contexto, o slog.Default() si no hay ninguno.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// Session acumula los registros emitidos a través de su logger.
type Session struct {
	buf *buffer
}

// Entries devuelve una copia de las líneas capturadas hasta ahora.
func (s *Session) Entries() []domain.SessionLogEntry {
	s.buf.mu.Lock()
	defer s.buf.mu.Unlock()
	out := make([]domain.SessionLogEntry, len(s.buf.entries))
	copy(out, s.buf.entries)
	return out
}

// StartSession envuelve el logger del contexto con un recorder y lo vuelve a
// guardar en el contexto. Los registros siguen llegando al handler original.
func StartSession(ctx context.Context, attrs ...any) (context.Context, *Session) {
	base := From(ctx)
	buf := &buffer{}
	h := &recorder{next: base.Handler(), buf: buf}
	l := slog.New(h).With(attrs...)
	return With(ctx, l), &Session{buf: buf}
}

type buffer struct {
	mu      sync.Mutex
	entries []domain.SessionLogEntry
}

// recorder es un slog.Handler que copia cada registro al buffer de la sesión.
type recorder struct {
	next   slog.Handler
	buf    *buffer
	attrs  []slog.Attr
	groups []string
}

func (r *recorder) Enabled(context.Context, slog.Level) bool {
	return true
}

func (r *recorder) Handle(ctx context.Context, rec slog.Record) error {
	entry := domain.SessionLogEntry{
		Time:    rec.Time,
		Level:   rec.Level.String(),
		Message: rec.Message,
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}

	attrs := make(map[string]string, len(r.attrs)+rec.NumAttrs())
	prefix := groupPrefix(r.groups)
	for _, a := range r.attrs {
		addAttr(attrs, "", a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		addAttr(attrs, prefix, a)
		return true
	})
	if len(attrs) > 0 {
		entry.Attrs = attrs
	}

	r.buf.mu.Lock()
	r.buf.entries = append(r.buf.entries, entry)
	r.buf.mu.Unlock()

	if r.next.Enabled(ctx, rec.Level) {
		return r.next.Handle(ctx, rec)
	}
	return nil
}

func (r *recorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := groupPrefix(r.groups)
	qualified := make([]slog.Attr, 0, len(r.attrs)+len(attrs))
	qualified = append(qualified, r.attrs...)
	for _, a := range attrs {
		qualified = append(qualified, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &recorder{
		next:   r.next.WithAttrs(attrs),
		buf:    r.buf,
		attrs:  qualified,
		groups: r.groups,
	}
}

func (r *recorder) WithGroup(name string) slog.Handler {
	if name == "" {
		return r
	}
	groups := append(append([]string(nil), r.groups...), name)
	return &recorder{
		next:   r.next.WithGroup(name),
		buf:    r.buf,
		attrs:  r.attrs,
		groups: groups,
	}
}

func groupPrefix(groups []string) string {
	prefix := ""
	for _, g := range groups {
		prefix += g + "."
	}
	return prefix
}

func addAttr(dst map[string]string, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			addAttr(dst, prefix+a.Key+".", ga)
		}
		return
	}
	dst[prefix+a.Key] = fmt.Sprint(v.Any())
}
