package eventbus

import (
	"testing"
	"time"

	"github.com/upnorthmedia/content-pipeline/internal/pkg/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func recvMessage(t *testing.T, ch <-chan Message, timeout time.Duration) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for event")
	}
	return Message{}
}

func TestHubOrderingWithinChannel(t *testing.T) {
	hub := NewHub(mustTestLogger(t))
	client := hub.NewClient()
	hub.AddChannel(client, PostChannel("post-1"))

	hub.Broadcast(PostChannel("post-1"), newMessage("post-1", EventStageStart, nil))
	hub.Broadcast(PostChannel("post-1"), newMessage("post-1", EventStageComplete, nil))

	first := recvMessage(t, client.Outbound, time.Second)
	second := recvMessage(t, client.Outbound, time.Second)

	if first.Event != EventStageStart {
		t.Fatalf("expected %s first, got %s", EventStageStart, first.Event)
	}
	if second.Event != EventStageComplete {
		t.Fatalf("expected %s second, got %s", EventStageComplete, second.Event)
	}
}

func TestHubFanOutToGlobalAndPostChannel(t *testing.T) {
	hub := NewHub(mustTestLogger(t))
	globalClient := hub.NewClient()
	hub.AddChannel(globalClient, GlobalChannel)
	postClient := hub.NewClient()
	hub.AddChannel(postClient, PostChannel("post-1"))
	otherPostClient := hub.NewClient()
	hub.AddChannel(otherPostClient, PostChannel("post-2"))

	bus := NewMemoryBus()
	if err := bus.StartForwarder(t.Context(), hub.ForwarderFunc()); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}
	if err := bus.Publish(t.Context(), "post-1", EventStageComplete, map[string]any{"stage": "research"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	recvMessage(t, globalClient.Outbound, time.Second)
	recvMessage(t, postClient.Outbound, time.Second)

	select {
	case msg := <-otherPostClient.Outbound:
		t.Fatalf("unexpected message delivered to unrelated post channel: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRemoveClientStopsDelivery(t *testing.T) {
	hub := NewHub(mustTestLogger(t))
	client := hub.NewClient()
	hub.AddChannel(client, GlobalChannel)
	hub.RemoveClient(client)

	hub.Broadcast(GlobalChannel, newMessage("", EventLog, nil))

	select {
	case msg := <-client.Outbound:
		t.Fatalf("unexpected message after removal: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
