package eventbus

import "context"

// Bus is the Event Bus (§4.A): a fire-and-forget publish/subscribe
// transport with two channel families, `post:<id>` and `global`. Publish
// writes an identical record to both. There is no replay — a subscriber
// that connects late or falls behind simply misses prior events.
type Bus interface {
	Publish(ctx context.Context, postID, event string, payload map[string]any) error
	// StartForwarder subscribes to every channel this bus carries and
	// invokes onMsg for each message, in per-channel publish order, until
	// ctx is cancelled.
	StartForwarder(ctx context.Context, onMsg func(channel string, msg Message)) error
	Close() error
}
