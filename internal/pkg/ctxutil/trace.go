package ctxutil

import "context"

type traceDataKey struct{}

// TraceData carries the per-request trace/request identifiers set by
// AttachTraceContext, threaded through context.Context rather than a
// package-level global so concurrent requests never share state.
type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	val := ctx.Value(traceDataKey{})
	if td, ok := val.(*TraceData); ok {
		return td
	}
	return nil
}
