// Package tracing times the stages of a query. Spans nest through the
// context, and a root span logs its whole tree at debug level.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type spanKey struct{}

type Span struct {
	name    string
	traceID string
	start   time.Time

	mu       sync.Mutex
	duration time.Duration
	attrs    []any
	children []*Span
}

// StartSpan starts a root span. An empty traceID gets a random one; HTTP
// handlers pass the request id so log lines correlate.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	s := &Span{name: name, traceID: traceID, start: time.Now()}
	return context.WithValue(ctx, spanKey{}, s), s
}

// StartChildSpan starts a span under the one in ctx. Without a parent the
// span is detached: it still times its stage but is never logged.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := FromContext(ctx)
	if parent == nil {
		s := &Span{name: name, start: time.Now()}
		return context.WithValue(ctx, spanKey{}, s), s
	}
	s := &Span{name: name, traceID: parent.traceID, start: time.Now()}
	parent.mu.Lock()
	parent.children = append(parent.children, s)
	parent.mu.Unlock()
	return context.WithValue(ctx, spanKey{}, s), s
}

func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

func (s *Span) TraceID() string { return s.traceID }

func (s *Span) End() {
	s.mu.Lock()
	s.duration = time.Since(s.start)
	s.mu.Unlock()
}

func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

// Log writes one debug record per span of the tree rooted at s. Nested span
// names are joined with "/", as in "search/execute/evaluate".
func (s *Span) Log(ctx context.Context) {
	if s.traceID == "" || !slog.Default().Enabled(ctx, slog.LevelDebug) {
		return
	}
	s.log(ctx, s.name)
}

func (s *Span) log(ctx context.Context, path string) {
	s.mu.Lock()
	args := append([]any{"trace_id", s.traceID, "span", path, "duration", s.duration}, s.attrs...)
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	slog.DebugContext(ctx, "span", args...)
	for _, c := range children {
		c.log(ctx, path+"/"+c.name)
	}
}
