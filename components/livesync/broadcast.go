package livesync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// SnapshotHook fans snapshots out to in-process subscribers. Slow subscribers
// miss intermediate snapshots rather than blocking the synchronizer.
type SnapshotHook struct {
	mu     sync.RWMutex
	subs   map[int]chan Snapshot
	next   int
	closed bool
}

// NewSnapshotHook creates a snapshot hook.
func NewSnapshotHook() *SnapshotHook {
	return &SnapshotHook{subs: make(map[int]chan Snapshot)}
}

// Publish delivers snapshot to every subscriber with room in its buffer.
func (h *SnapshotHook) Publish(snapshot Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// Subscribe returns a channel of snapshots and a cancel func.
func (h *SnapshotHook) Subscribe() (<-chan Snapshot, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Snapshot, 8)
	if h.closed {
		close(ch)
		return ch, func() {}
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

// Subscribers returns the number of active subscriptions.
func (h *SnapshotHook) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *SnapshotHook) Close() {
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

// Stream calls send for every snapshot until ctx ends, the hook closes or send
// fails. Only send's error is returned.
func (h *SnapshotHook) Stream(ctx context.Context, send func(Snapshot) error) error {
	snapshots, cancel := h.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snapshot, ok := <-snapshots:
			if !ok {
				return nil
			}
			if err := send(snapshot); err != nil {
				return err
			}
		}
	}
}

// WatchClose returns a context that is cancelled once read fails, i.e. when a
// WebSocket client goes away. Inbound frames are discarded.
func WatchClose(ctx context.Context, read func() (int, []byte, error)) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		for {
			if _, _, err := read(); err != nil {
				return
			}
		}
	}()
	return ctx, cancel
}

// ServeWebSocket upgrades the request and streams snapshots as JSON.
func (h *SnapshotHook) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer conn.Close()

	ctx, cancel := WatchClose(r.Context(), conn.ReadMessage)
	defer cancel()
	_ = h.Stream(ctx, func(snapshot Snapshot) error {
		return conn.WriteJSON(snapshot)
	})
}

// ServeSSE streams snapshots as Server-Sent Events.
func (h *SnapshotHook) ServeSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	encoder := json.NewEncoder(w)
	_ = h.Stream(r.Context(), func(snapshot Snapshot) error {
		if _, err := io.WriteString(w, "data: "); err != nil {
			return err
		}
		if err := encoder.Encode(snapshot); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
}
