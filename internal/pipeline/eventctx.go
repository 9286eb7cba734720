package pipeline

import (
	"context"

	"github.com/upnorthmedia/content-pipeline/internal/eventbus"
)

// sinkKey is unexported so only this package can install or retrieve a
// sink, keeping the pattern task-local rather than a package-level global
// (§4.H "Event-context pattern").
type sinkKey struct{}

// eventSink is the small struct threaded through context.Context for the
// duration of a single stage invocation.
type eventSink struct {
	bus    eventbus.Bus
	postID string
	stage  string
}

// withEventSink installs a sink scoped to one stage invocation. Two
// goroutines running two different Posts' stages concurrently each get
// their own context value and never observe each other's sink.
func withEventSink(ctx context.Context, bus eventbus.Bus, postID, stage string) context.Context {
	return context.WithValue(ctx, sinkKey{}, &eventSink{bus: bus, postID: postID, stage: stage})
}

// PublishLog emits a `log` event off the task-local sink installed by the
// runner. Safe no-op outside a runner context, so stage functions can call
// it unconditionally (see SPEC_FULL.md §6 stage-function contract).
func PublishLog(ctx context.Context, message, level string) {
	sink, ok := ctx.Value(sinkKey{}).(*eventSink)
	if !ok || sink == nil || sink.bus == nil {
		return
	}
	_ = sink.bus.Publish(ctx, sink.postID, eventbus.EventLog, map[string]any{
		"stage":   sink.stage,
		"level":   level,
		"message": message,
	})
}
