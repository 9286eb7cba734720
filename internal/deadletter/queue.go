package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/upnorthmedia/content-pipeline/internal/eventbus"
)

// ListKey is the Redis list the dead-letter queue lives on — a list rather
// than a table, for cheap atomic push/pop without a migration (§5).
const ListKey = "deadletter"

// Entry is the DLQ wire format (§4.H, §6): `{post_id, stage, error,
// attempts, failed_at}`, newest at the list head.
type Entry struct {
	PostID   string `json:"post_id"`
	Stage    string `json:"stage"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
	FailedAt string `json:"failed_at"`
}

// Queue pushes and lists dead-lettered stage failures on a shared Redis
// list.
type Queue struct {
	rdb *goredis.Client
}

// New builds a Queue reusing the Event Bus's Redis client (§5 "single
// shared Redis-like list + pub/sub"). Returns an error if bus is not a
// Redis-backed bus — the in-memory bus has no DLQ-equivalent and is
// intended for unit tests only.
func New(bus eventbus.Bus) (*Queue, error) {
	rdb := eventbus.RedisClient(bus)
	if rdb == nil {
		return nil, fmt.Errorf("deadletter: event bus has no redis client")
	}
	return &Queue{rdb: rdb}, nil
}

// Push records a terminal stage failure (§4.H "move the job to the
// dead-letter queue").
func (q *Queue) Push(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, ListKey, raw).Err()
}

// List returns up to limit entries, newest first.
func (q *Queue) List(ctx context.Context, limit int64) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := q.rdb.LRange(ctx, ListKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if json.Unmarshal([]byte(r), &e) == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// Retry removes one matching entry from the list (§4.K "dead-letter
// listing/retry/clear") — the caller is responsible for re-enqueuing the
// corresponding job via the Job Queue Client after a successful Retry.
func (q *Queue) Retry(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return q.rdb.LRem(ctx, ListKey, 1, raw).Err()
}

// Clear empties the entire dead-letter list.
func (q *Queue) Clear(ctx context.Context) error {
	return q.rdb.Del(ctx, ListKey).Err()
}

// Count reports how many entries are currently dead-lettered.
func (q *Queue) Count(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, ListKey).Result()
}

// NewEntry builds an Entry stamped with at, formatted as UTC RFC3339
// (§6 "failed_at (ISO-8601 UTC)").
func NewEntry(postID, stage, errMsg string, attempts int, at time.Time) Entry {
	return Entry{
		PostID:   postID,
		Stage:    stage,
		Error:    errMsg,
		Attempts: attempts,
		FailedAt: at.UTC().Format(time.RFC3339),
	}
}
