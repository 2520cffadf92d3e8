// Package context carries the actor and the trace of a unit of ledger work.
package context

import (
	"context"

	"github.com/google/uuid"
)

// Origins of ledger work.
const (
	OriginHTTP   = "http"
	OriginWorker = "worker"
	OriginCLI    = "cli"
)

// TraceContext correlates log lines of one unit of work: an HTTP request, a
// worker tick or a CLI run.
type TraceContext struct {
	TraceID   string
	RequestID string
	// Origin is one of the Origin constants, optionally suffixed with the job
	// name, e.g. "worker:sweep".
	Origin string
}

type traceContextKey struct{}

// WithTrace stores the trace in ctx.
func WithTrace(ctx context.Context, trace *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}

// GetTrace returns the trace or nil.
func GetTrace(ctx context.Context) *TraceContext {
	t, _ := ctx.Value(traceContextKey{}).(*TraceContext)
	return t
}

// NewTraceContext creates a TraceContext for work that does not start from a
// request. The trace and request ids are the same fresh id.
func NewTraceContext(origin string) *TraceContext {
	v := uuid.New().String()
	return &TraceContext{TraceID: v, RequestID: v, Origin: origin}
}
