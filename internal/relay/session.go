package relay

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second
	// Ping interval; must be less than pongWait.
	pingPeriod = 54 * time.Second
	// Outbound frames buffered per session before delivery fails.
	sendBufferSize = 256
)

// Session is a live bidirectional connection. The relay core addresses it
// only through its opaque ref; the underlying WebSocket is owned here, by
// the transport layer.
type Session struct {
	ref  string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewSession wraps an accepted WebSocket connection. Each session gets a
// fresh opaque ref.
func NewSession(conn *websocket.Conn) *Session {
	return &Session{
		ref:  uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// Ref returns the session's opaque connection ref.
func (s *Session) Ref() string {
	return s.ref
}

// Send queues a frame for the write loop. It never blocks: a closed session
// reports ErrOffline and a full buffer reports ErrSlowConsumer.
func (s *Session) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrOffline
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close tears the session down. It is idempotent and safe to call from both
// the disconnect path and shutdown.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.send)
	s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// ReadLoop delivers inbound frames to handle in strict arrival order until
// the peer disconnects or the read limit is exceeded. It blocks; run it on
// the connection's own goroutine.
func (s *Session) ReadLoop(maxFrameSize int64, handle func(frame []byte)) {
	if maxFrameSize > 0 {
		s.conn.SetReadLimit(maxFrameSize)
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				log.Printf("session %s: read error: %v", s.ref, err)
			}
			return
		}
		handle(frame)
	}
}

// WriteLoop drains the send queue onto the wire and keeps the connection
// alive with pings. It exits when the session closes or a write fails.
func (s *Session) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("session %s: write error: %v", s.ref, err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
