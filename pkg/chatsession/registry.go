package chatsession

import "sync"

// liveRegistry tracks in-memory Session objects by thread_id, mirroring
// the live-process half of a session that the database row alone can't
// represent (the Runtime a session actually executes commands on).
// Grounded on pkg/queue/pool.go's activeSessions map: one mutex-guarded
// map keyed by the identity callers look sessions up by.
type liveRegistry struct {
	mu   sync.RWMutex
	byID map[string]*Session // thread_id -> live session
}

func newLiveRegistry() *liveRegistry {
	return &liveRegistry{byID: make(map[string]*Session)}
}

func (r *liveRegistry) get(threadID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[threadID]
}

func (r *liveRegistry) put(threadID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[threadID] = s
}

func (r *liveRegistry) delete(threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, threadID)
}

// popBySessionID removes and returns the live session with the given
// session_id regardless of which thread it's keyed under, or nil.
func (r *liveRegistry) popBySessionID(sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	for threadID, s := range r.byID {
		if s.SessionID == sessionID {
			delete(r.byID, threadID)
			return s
		}
	}
	return nil
}

func (r *liveRegistry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}
