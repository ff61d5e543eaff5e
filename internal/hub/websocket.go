package hub

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sentinelops/backend/internal/core"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Operator UIs connect cross-origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusUpdate is the payload of KindStatus messages.
type StatusUpdate struct {
	RunID  string         `json:"run_id"`
	Status core.RunStatus `json:"status"`
}

// RunLookup resolves a run ID to its current status. The second return is
// false when the run does not exist.
type RunLookup func(runID string) (core.RunStatus, bool)

// WSServer upgrades operator connections and bridges them to the hub.
type WSServer struct {
	hub      *Hub
	lookup   RunLookup
	keepOpen bool
	logger   *log.Logger
}

// NewWSServer wires the websocket endpoint. keepOpen controls whether the
// socket stays up after the run reaches a terminal status.
func NewWSServer(h *Hub, lookup RunLookup, keepOpen bool) *WSServer {
	return &WSServer{
		hub:      h,
		lookup:   lookup,
		keepOpen: keepOpen,
		logger:   log.New(log.Writer(), "[WS] ", log.LstdFlags),
	}
}

// Handle serves GET /ws/runs/{run_id}.
func (s *WSServer) Handle(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	status, ok := s.lookup(runID)
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("upgrade failed for run %s: %v", runID, err)
		return
	}

	sub := s.hub.Subscribe(runID)
	s.logger.Printf("subscriber attached to run %s", runID)

	// Late joiners immediately learn the current status.
	first := Message{Kind: KindStatus, Data: StatusUpdate{RunID: runID, Status: status}}

	go s.writePump(conn, sub, first)
	go s.readPump(conn, sub)
}

// writePump owns all writes on the connection, including pings.
func (s *WSServer) writePump(conn *websocket.Conn, sub *Subscriber, first Message) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		s.hub.Unsubscribe(sub)
	}()

	if !s.write(conn, first) {
		return
	}
	if s.terminalStatus(first) {
		return
	}

	for {
		select {
		case msg, open := <-sub.C():
			if !open {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !s.write(conn, msg) {
				return
			}
			if s.terminalStatus(msg) {
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

func (s *WSServer) write(conn *websocket.Conn, msg Message) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		return false
	}
	return true
}

// terminalStatus reports whether msg carries a terminal run status and the
// server is configured to hang up on it.
func (s *WSServer) terminalStatus(msg Message) bool {
	if s.keepOpen || msg.Kind != KindStatus {
		return false
	}
	upd, ok := msg.Data.(StatusUpdate)
	return ok && upd.Status.Terminal()
}

// readPump drains client frames so pongs and close frames are processed.
// Operator clients never send data messages.
func (s *WSServer) readPump(conn *websocket.Conn, sub *Subscriber) {
	defer func() {
		s.hub.Unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
