package realtime

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 * 1024
	sendBufferSize = 256
)

// Session is the per-connection ephemeral state: a connection id, the user
// identity bound by authenticate (empty until then) and the outbound frame
// buffer drained by writePump. Room membership lives in the hub's Rooms index.
type Session struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// userID is guarded by the hub mutex: written on authenticate and
	// disconnect, read during presence fan-out
	userID string
}

// NewSession wraps an accepted websocket connection. The session is inert
// until Start is called.
func NewSession(hub *Hub, conn *websocket.Conn) *Session {
	return &Session{
		id:   xid.New().String(),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// ID returns the connection id recorded in the presence registry
func (s *Session) ID() string {
	return s.id
}

// UserID returns the bound user identity, empty while unauthenticated
func (s *Session) UserID() string {
	return s.userID
}

// enqueue buffers a frame for writePump, reporting false when the buffer is
// full instead of blocking the broadcasting goroutine
func (s *Session) enqueue(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Start begins reading and writing for the session
func (s *Session) Start() {
	go s.writePump()
	go s.readPump()
}

// readPump decodes incoming frames and hands them to the hub. The transport
// disconnect transition runs exactly once, from this goroutine's defer.
func (s *Session) readPump() {
	defer func() {
		s.hub.Disconnect(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxFrameSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.hub.logger.Errorf("setting read deadline: %v", err)
		return
	}

	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.logger.Errorf("unexpected websocket close: %v", err)
			}
			break
		}

		event, err := s.hub.dec.Decode(raw)
		if err != nil {
			// tolerated: a bad frame never terminates the connection
			s.hub.logger.Debugw("dropping undecodable frame", "conn_id", s.id, "error", err)
			continue
		}

		s.hub.Handle(s, event)
	}
}

// writePump drains the outbound buffer to the websocket connection and keeps
// the connection alive with periodic pings
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.hub.logger.Errorf("setting write deadline: %v", err)
				return
			}

			if !ok {
				// the hub closed the buffer
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
