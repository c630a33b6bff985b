package server

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 256 * 1024, // room for one JPEG frame per message
	CheckOrigin: func(r *http.Request) bool {
		// Frames are served on the rover's private network.
		return true
	},
}

// handleWS upgrades /ws/{stream_id} and pushes binary JPEG frames at the
// configured rate until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/ws/")
	path = strings.TrimSuffix(path, "/")
	id, err := strconv.Atoi(path)
	if err != nil {
		http.Error(w, "stream id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}

	log.Printf("[WS] New connection for stream %d from %s", id, r.RemoteAddr)

	done := make(chan struct{})
	go s.readPump(id, conn, done)
	s.writePump(id, conn, done)
}

// readPump keeps the connection alive and detects client disconnection.
func (s *Server) readPump(id int, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(512) // clients only send pongs and close frames
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Read error for stream %d: %v", id, err)
			}
			return
		}
	}
}

// writePump delivers frames and pings until the reader reports the
// client gone.
func (s *Server) writePump(id int, conn *websocket.Conn, done <-chan struct{}) {
	defer func() {
		conn.Close()
		log.Printf("[WS] Connection closed for stream %d", id)
	}()

	frameTicker := time.NewTicker(time.Second / time.Duration(s.opts.FPS))
	defer frameTicker.Stop()
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-done:
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-frameTicker.C:
			f := s.engine.GetFrame(id)
			if f == nil || f.Seq == lastSeq {
				continue
			}
			lastSeq = f.Seq

			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.BinaryMessage, f.Data); err != nil {
				return
			}
		}
	}
}
