package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = time.Minute
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 4 << 10
)

// Same-origin only: the default CheckOrigin rejects cross-site upgrades.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Stream upgrades to a websocket that pushes room snapshots, events and
// chat for the caller's session. Commands still go over HTTP.
func (h *GameHandler) Stream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	log := zerolog.Ctx(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	frames, stop := s.listen()
	defer stop()

	// The first frame is the current state so a reconnecting page can render
	c := s.Client
	room := c.CurrentRoom()
	initial := wsMessage{Type: "room", Room: room, Phase: room.Phase().String(), ServerNow: c.ServerNow()}

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		writePump(conn, initial, frames, quit, log)
	}()
	readPump(conn)
	close(quit)
	<-done
}

// readPump discards client frames but keeps control frames and deadlines
// flowing; it returns when the peer goes away
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, initial wsMessage, frames <-chan wsMessage, quit <-chan struct{}, log *zerolog.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	write := func(msg wsMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			log.Debug().Err(err).Msg("Websocket write failed")
			return false
		}
		return true
	}

	if !write(initial) {
		return
	}
	for {
		select {
		case <-quit:
			return
		case msg, ok := <-frames:
			if !ok {
				return
			}
			if !write(msg) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
