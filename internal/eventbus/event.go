package eventbus

import (
	"encoding/json"
	"time"
)

func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return raw
}

// Event taxonomy (§4.A) — emitted at minimum by the Pipeline Runner and
// Crawl Worker.
const (
	EventStageStart       = "stage_start"
	EventStageReview      = "stage_review"
	EventStageComplete    = "stage_complete"
	EventStageError       = "stage_error"
	EventPipelineComplete = "pipeline_complete"
	EventLog              = "log"
	EventImageGenerated   = "image_generated"
	EventImageFailed      = "image_failed"
)

// Message is the wire format published to both the per-post and global
// channels: `{event, post_id, timestamp}`, with the event-specific fields
// nested under a `data` object (omitted when empty) rather than placed
// beside them at the top level (§6 Event-bus wire format).
type Message struct {
	Event     string         `json:"event"`
	PostID    string         `json:"post_id"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

func newMessage(postID, event string, payload map[string]any) Message {
	return Message{
		Event:     event,
		PostID:    postID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      payload,
	}
}

// GlobalChannel is the channel family every Message is also published on,
// regardless of which post it concerns.
const GlobalChannel = "global"

// PostChannel returns the per-post channel name for postID.
func PostChannel(postID string) string { return "post:" + postID }
