package mcp

import "sync"

// SessionRegistry maps playback session IDs to the MCP client sessions that
// asked to be notified about them. Populated when authflow.open is called with
// notify=true.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // playbackID → MCP session ID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a playback session with an MCP client session.
// A later registration for the same playback session wins.
func (r *SessionRegistry) Register(playbackID, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[playbackID] = clientID
}

// ClientFor returns the MCP client watching a playback session.
func (r *SessionRegistry) ClientFor(playbackID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cid, ok := r.sessions[playbackID]
	return cid, ok
}

// Forget drops the watcher of one playback session.
func (r *SessionRegistry) Forget(playbackID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, playbackID)
}

// Remove deletes every mapping to the given MCP client session.
// Called when a client disconnects.
func (r *SessionRegistry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pid, cid := range r.sessions {
		if cid == clientID {
			delete(r.sessions, pid)
		}
	}
}

// Len returns the number of watched playback sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
