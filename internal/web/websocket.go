package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mtzanidakis/orca/internal/events"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frame is one run event as sent to websocket clients. It has the same shape
// as the events published on NATS.
type Frame struct {
	RunID    string      `json:"runId"`
	Workflow string      `json:"workflow,omitempty"`
	Type     events.Type `json:"type"`
	Data     any         `json:"data,omitempty"`
}

// Filter narrows the frames a client receives. Empty fields match anything.
type Filter struct {
	RunID    string
	Workflow string
}

func (f Filter) Match(fr Frame) bool {
	if f.RunID != "" && f.RunID != fr.RunID {
		return false
	}
	if f.Workflow != "" && f.Workflow != fr.Workflow {
		return false
	}
	return true
}

// Hub fans run frames out to websocket clients, each with its own filter.
type Hub struct {
	frames chan Frame

	mu      sync.RWMutex
	clients map[*websocket.Conn]Filter
}

func NewHub() *Hub {
	return &Hub{
		frames:  make(chan Frame, 256),
		clients: make(map[*websocket.Conn]Filter),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fr := <-h.frames:
			h.deliver(fr)
		}
	}
}

func (h *Hub) deliver(fr Frame) {
	data, err := json.Marshal(fr)
	if err != nil {
		slog.Warn("encode websocket frame", "run", fr.RunID, "type", fr.Type, "error", err)
		return
	}

	var dead []*websocket.Conn
	h.mu.RLock()
	for conn, f := range h.clients {
		if !f.Match(fr) {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			dead = append(dead, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range dead {
		conn.Close()
		h.Unregister(conn)
	}
}

// Publish queues fr for delivery. Frames are dropped when the queue is full
// so a slow client never holds up a run.
func (h *Hub) Publish(fr Frame) {
	select {
	case h.frames <- fr:
	default:
		slog.Warn("websocket frame queue full, dropping frame", "run", fr.RunID, "type", fr.Type)
	}
}

// Observe forwards every event of run to matching clients.
func (h *Hub) Observe(run events.Run) events.Emitter {
	return func(ev events.Event) {
		h.Publish(Frame{RunID: run.ID, Workflow: run.Workflow, Type: ev.Type, Data: ev.Data})
	}
}

func (h *Hub) Register(conn *websocket.Conn, f Filter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = f
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket streams run frames. The run and workflow query parameters
// restrict the stream to one run or one workflow.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := Filter{RunID: q.Get("run"), Workflow: q.Get("workflow")}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	s.hub.Register(conn, f)
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	// Clients only listen; reading detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
