package ctxutil

import "context"

type traceDataKey struct{}

// TraceData identifies one retrieval request as it flows through the engine:
// the upstream trace id when a caller supplied one, the engine-assigned
// request id, and the strategy serving the request.
type TraceData struct {
	TraceID   string
	RequestID string
	Strategy  string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if td, ok := ctx.Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}

// WithStrategy returns a context whose trace data records strategy, creating
// the trace data if the context carries none. The incoming TraceData is
// copied, never mutated.
func WithStrategy(ctx context.Context, strategy string) context.Context {
	td := GetTraceData(ctx)
	if td == nil {
		td = &TraceData{}
	}
	next := *td
	next.Strategy = strategy
	return WithTraceData(ctx, &next)
}
