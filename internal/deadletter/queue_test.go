package deadletter

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/upnorthmedia/content-pipeline/internal/eventbus"
	"github.com/upnorthmedia/content-pipeline/internal/pkg/logger"
)

func mustTestQueue(t *testing.T) *Queue {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(srv.Close)

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)

	bus, err := eventbus.NewRedisBus(log, srv.Addr())
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })

	q, err := New(bus)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q
}

func TestPushAndListNewestFirst(t *testing.T) {
	q := mustTestQueue(t)
	ctx := t.Context()

	first := NewEntry("post-1", "write", "boom", 3, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	second := NewEntry("post-2", "edit", "kaboom", 3, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))

	if err := q.Push(ctx, first); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := q.Push(ctx, second); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := q.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].PostID != "post-2" {
		t.Fatalf("expected newest entry first, got %+v", entries[0])
	}
}

func TestRetryRemovesOneMatchingEntry(t *testing.T) {
	q := mustTestQueue(t)
	ctx := t.Context()

	entry := NewEntry("post-1", "write", "boom", 3, time.Now())
	if err := q.Push(ctx, entry); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := q.Push(ctx, entry); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if err := q.Retry(ctx, entry); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	entries, err := q.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 remaining entry after retry, got %d", len(entries))
	}
}

func TestClearEmptiesList(t *testing.T) {
	q := mustTestQueue(t)
	ctx := t.Context()

	if err := q.Push(ctx, NewEntry("post-1", "write", "boom", 3, time.Now())); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := q.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	entries, err := q.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty list after clear, got %d entries", len(entries))
	}
}

func TestListOnEmptyQueueReturnsNoEntries(t *testing.T) {
	q := mustTestQueue(t)
	entries, err := q.List(t.Context(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}
