package eventbus

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/upnorthmedia/content-pipeline/internal/pkg/logger"
)

// Client is a single live subscriber connection, adapted from
// internal/sse/hub.go's SSEClient / internal/realtime/client.go's
// SSEClient: still one outbound buffered channel per connection, still
// a best-effort drop-on-full-buffer policy, but keyed by the two channel
// families (`post:<id>`, `global`) instead of a single shared channel.
type Client struct {
	ID       uuid.UUID
	Channels map[string]bool
	Outbound chan Message
	done     chan struct{}
	logger   *logger.Logger
}

// Hub fans out Messages it forwards from a Bus to every live Client
// subscribed to the message's channel.
type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[string]map[*Client]bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:           log.With("component", "EventHub"),
		subscriptions: map[string]map[*Client]bool{},
	}
}

func (h *Hub) NewClient() *Client {
	return &Client{
		ID:       uuid.New(),
		Channels: map[string]bool{},
		Outbound: make(chan Message, 32),
		done:     make(chan struct{}),
		logger:   h.log,
	}
}

func (h *Hub) AddChannel(c *Client, channel string) {
	if h == nil || c == nil || channel == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscriptions[channel]; !ok {
		h.subscriptions[channel] = map[*Client]bool{}
	}
	h.subscriptions[channel][c] = true
	c.Channels[channel] = true
}

func (h *Hub) RemoveClient(c *Client) {
	if h == nil || c == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel := range c.Channels {
		if set, ok := h.subscriptions[channel]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.subscriptions, channel)
			}
		}
	}
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Broadcast delivers msg to every client subscribed to channel,
// non-blocking: a client whose outbound buffer is full has the message
// dropped for it rather than stalling every other subscriber.
func (h *Hub) Broadcast(channel string, msg Message) {
	if h == nil {
		return
	}
	h.mu.RLock()
	clients := h.subscriptions[channel]
	snapshot := make([]*Client, 0, len(clients))
	for c := range clients {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	for _, c := range snapshot {
		select {
		case c.Outbound <- msg:
		default:
			h.log.Warn("dropping event: client outbound buffer full", "client_id", c.ID.String(), "channel", channel)
		}
	}
}

// ForwarderFunc adapts Hub.Broadcast into the callback shape
// Bus.StartForwarder expects.
func (h *Hub) ForwarderFunc() func(channel string, msg Message) {
	return func(channel string, msg Message) { h.Broadcast(channel, msg) }
}

// ServeHTTP streams a client's subscribed channels as Server-Sent
// Events, with a periodic heartbeat comment to keep idle connections
// alive — the same shape as internal/sse/hub.go's ServeHTTP.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, c *Client) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	defer h.RemoveClient(c)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-c.Outbound:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, mustJSON(msg))
			flusher.Flush()
		}
	}
}
