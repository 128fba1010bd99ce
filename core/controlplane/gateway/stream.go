package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zavora-ai/imagegen/core/infra/artifacts"
	"github.com/zavora-ai/imagegen/core/infra/logging"
)

const (
	hubBuffer    = 256
	clientBuffer = 100
	writeTimeout = 10 * time.Second
)

// Hub fans artifact events out to websocket clients. Clients that cannot keep
// up are disconnected rather than slowing the store.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan artifacts.Event
	events  chan artifacts.Event
}

var _ artifacts.Notifier = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]chan artifacts.Event),
		events:  make(chan artifacts.Event, hubBuffer),
	}
}

// Notify queues ev for broadcast; it drops the event when the queue is full.
func (h *Hub) Notify(_ context.Context, ev artifacts.Event) {
	select {
	case h.events <- ev:
	default:
		logging.Error(logComponent, "stream queue full; dropping event", "kind", ev.Kind, "id", ev.Artifact.ID)
	}
}

// Run broadcasts queued events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.events:
			h.broadcast(ev)
		}
	}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev artifacts.Event) {
	var slowClients []*websocket.Conn
	h.mu.RLock()
	for conn, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			slowClients = append(slowClients, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range slowClients {
		if h.remove(conn) {
			if err := conn.Close(); err != nil {
				logging.Error(logComponent, "ws client close failed", "error", err)
			}
		}
	}
}

func (h *Hub) add(conn *websocket.Conn) chan artifacts.Event {
	ch := make(chan artifacts.Event, clientBuffer)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

// remove unregisters conn and closes its channel; it reports whether conn was registered.
func (h *Hub) remove(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.clients[conn]
	if !ok {
		return false
	}
	delete(h.clients, conn)
	close(ch)
	return true
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "event stream disabled", nil)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error(logComponent, "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	logging.Info(logComponent, "ws connected", "remote", r.RemoteAddr)

	clientCh := s.hub.add(ws)
	defer s.hub.remove(ws)

	// The read side only detects the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-clientCh:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logging.Error(logComponent, "marshal event failed", "error", err)
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
