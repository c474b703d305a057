package transport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"go-dimension-detective/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	// clients only send control frames
	maxClientMessage = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamEvents pushes the session's notifications over a WebSocket until the
// client disconnects or the session closes
func (a *api) streamEvents(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}

	// subscribe before the handshake so nothing published after it is missed
	events := a.Hub.Subscribe(s.ID)
	defer a.Hub.Unsubscribe(s.ID, events)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WithError(err).WithField("session_id", s.ID).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	log := logger.WithFields(logrus.Fields{"session_id": s.ID, "ip": c.ClientIP()})
	log.Info("Event stream opened")
	defer log.Info("Event stream closed")

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(maxClientMessage)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case event, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := conn.WriteJSON(event.Notification); err != nil {
				log.WithError(err).Debug("Event write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
