package dispatch

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/observability"
)

const (
	writeWait = 5 * time.Second
	// PongWait is how long a session may stay silent before it is dropped.
	PongWait = 60 * time.Second
	// PingPeriod must be shorter than PongWait.
	PingPeriod = PongWait * 9 / 10
)

var ErrNoSession = errors.New("no ws session")

// Notifier delivers booking events to a user.
type Notifier interface {
	Send(userID string, ev models.BookingEvent) error
}

// WSSession represents one connected client.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ev models.BookingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(ev)
}

// Ping writes a ping control frame. It may run concurrently with Send.
func (s *WSSession) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// WSRegistry holds one session per user; a reconnect replaces the old one.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

// Add registers conn for userID and returns the session so the caller can
// remove exactly this session when the connection ends.
func (r *WSRegistry) Add(userID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	old, replaced := r.sessions[userID]
	r.sessions[userID] = s
	r.mu.Unlock()
	if replaced {
		_ = old.conn.Close()
	} else {
		observability.WSSessions.Inc()
	}
	return s
}

// Remove drops userID's session if it is still s.
func (r *WSRegistry) Remove(userID string, s *WSSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[userID]; ok && cur == s {
		delete(r.sessions, userID)
		observability.WSSessions.Dec()
	}
}

func (r *WSRegistry) Send(userID string, ev models.BookingEvent) error {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(ev); err != nil {
		r.Remove(userID, s)
		_ = s.conn.Close()
		return err
	}
	return nil
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
