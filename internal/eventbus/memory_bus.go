package eventbus

import (
	"context"
	"sync"
)

// memoryBus is an in-process Bus used by unit tests and by local-dev
// runs with no Redis available. It preserves per-channel publish order
// for a single publisher, same as redisBus, without a network hop.
type memoryBus struct {
	mu        sync.Mutex
	listeners []func(channel string, msg Message)
	closed    bool
}

func NewMemoryBus() Bus {
	return &memoryBus{}
}

func (b *memoryBus) Publish(ctx context.Context, postID, event string, payload map[string]any) error {
	msg := newMessage(postID, event, payload)
	b.mu.Lock()
	listeners := append([]func(string, Message){}, b.listeners...)
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil
	}
	for _, l := range listeners {
		l(GlobalChannel, msg)
		if postID != "" {
			l(PostChannel(postID), msg)
		}
	}
	return nil
}

func (b *memoryBus) StartForwarder(ctx context.Context, onMsg func(channel string, msg Message)) error {
	if onMsg == nil {
		return nil
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, onMsg)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
	}()
	return nil
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.listeners = nil
	return nil
}
