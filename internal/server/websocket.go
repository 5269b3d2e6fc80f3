package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxInboundMessageSize = 4096
	sessionSendBuffer     = 64
)

// wsSession owns one websocket connection. All writes go through send and are performed by
// writePump; readPump is the only reader.
type wsSession struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func newWSSession(conn *websocket.Conn, logger *zap.Logger) *wsSession {
	return &wsSession{
		conn:   conn,
		send:   make(chan []byte, sessionSendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// enqueue queues payload for the peer. A peer that stops draining its buffer is disconnected.
func (s *wsSession) enqueue(payload any) bool {
	encoded, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("websocket payload encode failed", zap.Error(err))
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- encoded:
		return true
	case <-s.done:
		return false
	default:
		s.logger.Warn("websocket peer too slow, closing")
		s.close()
		return false
	}
}

func (s *wsSession) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// readPump blocks until the peer goes away, passing every inbound text frame to onMessage.
func (s *wsSession) readPump(onMessage func([]byte)) {
	defer s.close()
	s.conn.SetReadLimit(maxInboundMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Info("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		if onMessage != nil {
			onMessage(message)
		}
	}
}

func (s *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}
