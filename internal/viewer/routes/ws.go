// internal/viewer/routes/ws.go

package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/livepad/internal/log"
	"github.com/petervdpas/livepad/internal/session"
	"github.com/petervdpas/livepad/internal/util"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 65536,
	// Editors are served from other local origins during development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const maxMessageBytes = 4 << 20

func registerParticipantRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/projects/{id}/ws?name=alice, participant channel
	handleGet(mux, "/api/projects/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(w, r, d)
		if !ok {
			return
		}

		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("VIEWER [%s]: websocket upgrade: %v", s.ID(), err)
			return
		}
		defer conn.Close()

		name := r.URL.Query().Get("name")
		if name == "" {
			name = "anonymous"
		}
		p, err := s.Join(r.Context(), name)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
				time.Now().Add(util.WriteTimeout))
			return
		}
		defer leave(p)
		log.Debug("VIEWER [%s]: websocket connected for %s", s.ID(), p.ID())

		readDone := make(chan struct{})
		go readLoop(conn, p, readDone)
		writeLoop(conn, p, readDone)
	})
}

// readLoop hands every inbound message to the session. Protocol errors are
// answered through the outbox, so only a closed session ends the loop.
func readLoop(conn *websocket.Conn, p *session.Participant, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(2 * util.PingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * util.PingInterval))
	})

	for {
		var msg session.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("VIEWER: participant %s read: %v", p.ID(), err)
			}
			return
		}
		ctx, cancel := contextWithWriteTimeout()
		err := p.Send(ctx, msg)
		cancel()
		if errors.Is(err, session.ErrClosed) {
			return
		}
	}
}

func writeLoop(conn *websocket.Conn, p *session.Participant, readDone <-chan struct{}) {
	ping := time.NewTicker(util.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-readDone:
			return
		case msg, ok := <-p.Out():
			_ = conn.SetWriteDeadline(time.Now().Add(util.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, p.Reason()))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(util.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
