// Package trace gives every orchestrator action a trace/span identity that
// flows into log records and outgoing backend requests.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"
)

// Header names for propagation to the backend.
const (
	TraceIDKey      = "x-trace-id"
	SpanIDKey       = "x-span-id"
	ParentSpanIDKey = "x-parent-span-id"
)

type ctxKey struct{}

// Context holds trace identifiers for a single span.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// New creates a new trace context with fresh IDs.
func New() Context {
	return Context{TraceID: generateTraceID(), SpanID: generateSpanID()}
}

// NewChild creates a child context from parent.
func NewChild(parent Context) Context {
	return Context{
		TraceID:      parent.TraceID,
		SpanID:       generateSpanID(),
		ParentSpanID: parent.SpanID,
	}
}

// FromContext extracts trace context from context.Context.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// WithContext injects trace context into context.Context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// EnsureContext returns existing trace context or creates a new one.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

func generateTraceID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func generateSpanID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Span represents a timed orchestrator action.
type Span struct {
	Name      string
	Ctx       Context
	StartTime time.Time

	mu      sync.Mutex
	endTime time.Time
	attrs   map[string]any
}

// StartSpan begins a new span, child of the one in ctx if present.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	tc := New()
	if parent, ok := FromContext(ctx); ok && parent.TraceID != "" {
		tc = NewChild(parent)
	}
	s := &Span{Name: name, Ctx: tc, StartTime: time.Now(), attrs: make(map[string]any)}
	return WithContext(ctx, tc), s
}

// SetAttr sets a span attribute.
func (s *Span) SetAttr(key string, val any) {
	s.mu.Lock()
	s.attrs[key] = val
	s.mu.Unlock()
}

// Attr returns a previously set attribute.
func (s *Span) Attr(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

// End marks the span complete and emits it at debug level.
func (s *Span) End() {
	s.mu.Lock()
	if !s.endTime.IsZero() {
		s.mu.Unlock()
		return
	}
	s.endTime = time.Now()
	s.mu.Unlock()
	slog.Debug("span finished", "span", s)
}

// Duration returns span duration, zero while running.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime.IsZero() {
		return 0
	}
	return s.endTime.Sub(s.StartTime)
}

// LogValue implements slog.LogValuer for structured logging.
func (s *Span) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("name", s.Name),
		slog.String("trace_id", s.Ctx.TraceID),
		slog.String("span_id", s.Ctx.SpanID),
		slog.Duration("duration", s.Duration()),
	}
	if s.Ctx.ParentSpanID != "" {
		attrs = append(attrs, slog.String("parent_span_id", s.Ctx.ParentSpanID))
	}
	s.mu.Lock()
	for k, v := range s.attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.mu.Unlock()
	return slog.GroupValue(attrs...)
}

// Logger returns a slog.Logger with trace context.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	args := make([]any, 0, 6)
	args = append(args, "trace_id", tc.TraceID, "span_id", tc.SpanID)
	if tc.ParentSpanID != "" {
		args = append(args, "parent_span_id", tc.ParentSpanID)
	}
	return slog.Default().With(args...)
}
