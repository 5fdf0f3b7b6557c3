package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"kepler-multicam-go/internal/models"
)

const writeWait = 10 * time.Second

// DetectionMessage is pushed to viewers for every published frame
type DetectionMessage struct {
	Type        string             `json:"type"`
	SourceIndex int                `json:"source_index"`
	Seq         int64              `json:"seq"`
	Count       int                `json:"count"`
	Positions   []models.Rectangle `json:"positions"`
	Timestamp   time.Time          `json:"timestamp"`
}

// EventMessage is pushed to viewers when the pipeline reports an event
type EventMessage struct {
	Type        string    `json:"type"`
	Event       string    `json:"event"`
	SourceIndex int       `json:"source_index"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// client serialises writes; gorilla connections allow one writer at a time
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// DetectionHub manages WebSocket connections for real-time detection streaming
type DetectionHub struct {
	// clients maps source index -> set of connections
	clients map[int]map[*websocket.Conn]*client
	mu      sync.RWMutex
}

func NewDetectionHub() *DetectionHub {
	return &DetectionHub{
		clients: make(map[int]map[*websocket.Conn]*client),
	}
}

// register adds a connection for a specific source
func (h *DetectionHub) register(sourceIndex int, conn *websocket.Conn) *client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[sourceIndex] == nil {
		h.clients[sourceIndex] = make(map[*websocket.Conn]*client)
	}
	c := &client{conn: conn}
	h.clients[sourceIndex][conn] = c
	log.Debug().Int("source_index", sourceIndex).Int("total", len(h.clients[sourceIndex])).Msg("WebSocket client registered")
	return c
}

// Unregister removes a connection for a specific source
func (h *DetectionHub) Unregister(sourceIndex int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[sourceIndex]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, sourceIndex)
		}
		log.Debug().Int("source_index", sourceIndex).Msg("WebSocket client unregistered")
	}
}

// HasClients returns true if there are any clients connected for a source
func (h *DetectionHub) HasClients(sourceIndex int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns, ok := h.clients[sourceIndex]
	return ok && len(conns) > 0
}

// BroadcastToSource sends a message to all clients subscribed to a source
func (h *DetectionHub) BroadcastToSource(sourceIndex int, message []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[sourceIndex]))
	for _, c := range h.clients[sourceIndex] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(websocket.TextMessage, message); err != nil {
			log.Debug().Err(err).Int("source_index", sourceIndex).Msg("Error sending to WebSocket client")
			h.Unregister(sourceIndex, c.conn)
			c.conn.Close()
		}
	}
}

// BroadcastSummary is a pipeline result hook
func (h *DetectionHub) BroadcastSummary(s models.FrameSummary) {
	if !h.HasClients(s.SourceIndex) {
		return
	}

	data, err := json.Marshal(&DetectionMessage{
		Type:        "detections",
		SourceIndex: s.SourceIndex,
		Seq:         s.Seq,
		Count:       s.Count,
		Positions:   s.Positions,
		Timestamp:   s.Timestamp,
	})
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling detection message")
		return
	}
	h.BroadcastToSource(s.SourceIndex, data)
}

// BroadcastEvent is a pipeline event hook. Global events reach every client.
func (h *DetectionHub) BroadcastEvent(ev models.Event) {
	data, err := json.Marshal(&EventMessage{
		Type:        "event",
		Event:       ev.Type.String(),
		SourceIndex: ev.SourceIndex,
		Message:     ev.Message,
		Timestamp:   ev.Timestamp,
	})
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling event message")
		return
	}

	if ev.SourceIndex >= 0 {
		h.BroadcastToSource(ev.SourceIndex, data)
		return
	}
	for _, idx := range h.sources() {
		h.BroadcastToSource(idx, data)
	}
}

func (h *DetectionHub) sources() []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]int, 0, len(h.clients))
	for idx := range h.clients {
		out = append(out, idx)
	}
	return out
}

// ClientCount returns the total number of connected clients
func (h *DetectionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}
