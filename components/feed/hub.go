package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Message is the envelope pushed to subscribers.
type Message struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub fans topic messages out to WebSocket subscribers. Slow subscribers drop
// frames instead of blocking publishers. The latest frame per topic is replayed
// to new subscribers.
type Hub struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	subs   map[int]chan []byte
	next   int
	latest map[string][]byte
	closed bool
}

// NewHub creates a hub. A nil logger disables logging.
func NewHub(logger *zerolog.Logger) *Hub {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Hub{
		logger: l,
		subs:   make(map[int]chan []byte),
		latest: make(map[string][]byte),
	}
}

// Publish encodes data and sends it on topic.
func (h *Hub) Publish(topic string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("feed: encode %s: %w", topic, err)
	}
	return h.PublishRaw(topic, raw)
}

// PublishRaw sends raw as the data of topic without validating it.
func (h *Hub) PublishRaw(topic string, raw json.RawMessage) error {
	frame, err := json.Marshal(Message{Type: "update", Topic: topic, Data: raw})
	if err != nil {
		return fmt.Errorf("feed: encode frame: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.latest[topic] = frame
	for _, ch := range h.subs {
		select {
		case ch <- frame:
		default:
		}
	}
	return nil
}

// Subscribe returns a frame channel primed with the latest frame of every
// topic, and a cancel func.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan []byte, 8+len(h.latest))
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	topics := make([]string, 0, len(h.latest))
	for topic := range h.latest {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		ch <- h.latest[topic]
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription; later publishes fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// Socket is the part of a WebSocket connection the hub streams to. Gorilla
// connections and go-router WebSocket contexts both satisfy it.
type Socket interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// Serve streams topic frames to socket and answers client ping frames with a
// pong. It returns nil when the client leaves or ctx ends and ErrHubClosed
// when the hub closes. Writes happen on the calling goroutine only; the caller
// closes socket afterwards, which also ends the read loop.
func (h *Hub) Serve(ctx context.Context, socket Socket) error {
	frames, cancel := h.Subscribe()
	defer cancel()

	pings := make(chan struct{}, 1)
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			_, payload, err := socket.ReadMessage()
			if err != nil {
				return
			}
			var msg Message
			if json.Unmarshal(payload, &msg) == nil && msg.Type == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-gone:
			return nil
		case <-pings:
			if err := socket.WriteJSON(Message{Type: "pong"}); err != nil {
				return err
			}
		case frame, ok := <-frames:
			if !ok {
				return ErrHubClosed
			}
			if err := socket.WriteJSON(json.RawMessage(frame)); err != nil {
				return err
			}
		}
	}
}

// gorillaSocket bounds every write with writeWait.
type gorillaSocket struct {
	*websocket.Conn
}

func (s gorillaSocket) WriteJSON(v any) error {
	_ = s.SetWriteDeadline(time.Now().Add(writeWait))
	return s.Conn.WriteJSON(v)
}

// ServeWebSocket upgrades the request and runs Serve on the connection. When
// the hub closes the client receives a going-away close frame.
func (h *Hub) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer conn.Close()

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("feed subscriber connected")
	defer h.logger.Debug().Str("remote", r.RemoteAddr).Msg("feed subscriber gone")

	if err := h.Serve(r.Context(), gorillaSocket{conn}); errors.Is(err, ErrHubClosed) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"),
			time.Now().Add(writeWait))
	}
}
