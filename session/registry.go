package session

import (
	"sync"

	"github.com/partyround/backbone/logger"
)

// Registry maps participant ids to the sessions this instance holds. It only
// ever sees connections accepted by this process: a room's traffic is pinned
// to one instance, and a missing recipient is a soft condition for callers,
// not an error. Constructed and injected explicitly so tests can run
// isolated instances.
type Registry struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

func (r *Registry) Register(id string, s *Session) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.sessions[id] = s
}

func (r *Registry) Unregister(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) UnregisterAll(ids []string) {
	if len(ids) == 0 {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, id := range ids {
		delete(r.sessions, id)
	}
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	s, exists := r.sessions[id]
	return s, exists
}

// GetOpenSessions resolves ids to currently-open sessions, logging and
// skipping the ones this instance does not hold or that have gone away.
func (r *Registry) GetOpenSessions(ids []string) []*Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		s, exists := r.sessions[id]
		if !exists {
			logger.Log.Warnf("session for id %s is not on this instance", id)
			continue
		}
		if !s.IsOpen() {
			logger.Log.Warnf("session for id %s is not open", id)
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions
}

func (r *Registry) GetAllOpenSessions() []*Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.IsOpen() {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

func (r *Registry) CloseSession(id string) {
	s, exists := r.Get(id)
	if !exists || !s.IsOpen() {
		return
	}
	if err := s.Close(); err != nil {
		logger.Log.Warnf("failed to close session for id %s: %v", id, err)
	}
}

func (r *Registry) CloseSessionAll(ids []string) {
	for _, id := range ids {
		r.CloseSession(id)
	}
}

func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sessions)
}
