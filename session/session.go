// session/session.go
package session

import (
	"sync"
	"time"

	"github.com/partyround/backbone/network"
)

// Session binds a logical participant id (player or administrator) to the
// live connection this process accepted for it.
type Session struct {
	ID        string
	RoomCode  string
	Conn      network.Connection
	CreatedAt time.Time

	mutex      sync.Mutex
	lastActive time.Time
}

func NewSession(id, roomCode string, conn network.Connection) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		RoomCode:   roomCode,
		Conn:       conn,
		CreatedAt:  now,
		lastActive: now,
	}
}

func (s *Session) Send(v any) error {
	s.Touch()
	return s.Conn.SendJSON(v)
}

func (s *Session) Touch() {
	s.mutex.Lock()
	s.lastActive = time.Now()
	s.mutex.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastActive
}

func (s *Session) IsOpen() bool {
	return s.Conn.IsOpen()
}

func (s *Session) Close() error {
	return s.Conn.Close()
}
