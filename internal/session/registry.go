package session

import (
	"log"
	"sync"
	"time"
)

// Registry maps board id -> live session. Sessions are created lazily on
// first join and live until the idle sweeper evicts them; the registry is
// injected wherever live board state is needed so tests can run isolated
// instances.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*BoardSession
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*BoardSession),
	}
}

// GetOrCreate returns the live session for a board, creating it on first
// join. Idempotent.
func (r *Registry) GetOrCreate(boardID string) *BoardSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[boardID]; ok {
		return sess
	}

	sess := newBoardSession(boardID)
	r.sessions[boardID] = sess
	log.Printf("[Registry] Created session for board %s", boardID)

	return sess
}

// Get returns the live session for a board if one exists.
func (r *Registry) Get(boardID string) (*BoardSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[boardID]
	return sess, ok
}

// Remove drops a session from the registry.
func (r *Registry) Remove(boardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[boardID]; ok {
		delete(r.sessions, boardID)
		log.Printf("[Registry] Removed session for board %s", boardID)
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// CleanupIdle evicts sessions with zero connected users whose last activity
// is older than maxIdle. Returns the number of evicted sessions.
func (r *Registry) CleanupIdle(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	cutoff := time.Now().Add(-maxIdle)
	for boardID, sess := range r.sessions {
		if sess.ConnectionCount() == 0 && sess.LastActive().Before(cutoff) {
			delete(r.sessions, boardID)
			evicted++
			log.Printf("[Registry] Evicted idle session for board %s", boardID)
		}
	}

	return evicted
}

// StartSweeper runs CleanupIdle on an interval until stop is closed.
func (r *Registry) StartSweeper(interval, maxIdle time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.CleanupIdle(maxIdle)
		}
	}
}
