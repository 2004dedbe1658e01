// Package progress pushes best-effort scan progress updates to WebSocket
// subscribers.
package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// subscriberWriteTimeout bounds how long a single frame write may block a
// slow client before the connection is dropped.
const subscriberWriteTimeout = 5 * time.Second

// Phase is one stage of an orchestrator pipeline.
type Phase string

const (
	PhaseWarmup    Phase = "warmup"
	PhaseGoverning Phase = "governing"
	PhaseProbing   Phase = "probing"
	PhaseAnalyzing Phase = "analyzing"
	PhaseDone      Phase = "done"
)

// Event is one progress update.
type Event struct {
	RunID     string `json:"run_id"`
	Phase     Phase  `json:"phase"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// subscriberBuffer is the send queue size per connected client; Broadcast
// drops the event for a subscriber whose queue is full rather than block.
const subscriberBuffer = 32

// Broadcaster is a tiny pub/sub of Event values over WebSocket connections.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[chan Event]struct{})}
}

// Broadcast fans Event out to every connected subscriber, never blocking.
func (b *Broadcaster) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			slog.Debug("progress subscriber queue full, dropping event", "run_id", event.RunID)
		}
	}
}

func (b *Broadcaster) subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broadcaster) unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// ServeHTTP upgrades the connection and streams Events as JSON text frames
// until the client disconnects or the request context is cancelled.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("progress websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ch := b.subscribe()
	defer b.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "done")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, subscriberWriteTimeout)
			werr := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if werr != nil {
				return
			}
		}
	}
}
