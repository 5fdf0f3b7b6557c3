package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Serve upgrades the request and streams detections of one source until the
// client goes away
func (h *DetectionHub) Serve(w http.ResponseWriter, r *http.Request, sourceIndex int) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	log.Info().Int("source_index", sourceIndex).Str("remote", r.RemoteAddr).Msg("New WebSocket viewer")

	c := h.register(sourceIndex, conn)
	go h.readPump(sourceIndex, c)
}

// readPump keeps the connection alive and notices client disconnection
func (h *DetectionHub) readPump(sourceIndex int, c *client) {
	conn := c.conn
	defer func() {
		h.Unregister(sourceIndex, conn)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(30 * time.Second)
	done := make(chan struct{})
	defer func() {
		ticker.Stop()
		close(done)
	}()

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Int("source_index", sourceIndex).Msg("WebSocket read error")
			}
			return
		}
	}
}
