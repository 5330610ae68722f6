package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	eventWriteTimeout = 5 * time.Second
	eventPongTimeout  = 60 * time.Second
	eventPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleEvents streams controller notifications as JSON text frames until
// the client goes away or the service shuts down.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "remote", c.ClientIP(), "error", err)
		return
	}
	defer conn.Close()

	id, events := s.service.Subscribe()
	defer s.service.Unsubscribe(id)
	slog.Debug("Event subscriber connected", "id", id, "remote", c.ClientIP())

	done := make(chan struct{})
	go readPump(conn, done)

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			slog.Debug("Event subscriber disconnected", "id", id)
			return
		case event, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "service closed"))
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				slog.Debug("Failed to write event", "id", id, "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so control messages are processed, and
// closes done once the connection fails.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(eventPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
