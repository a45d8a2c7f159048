package mcp

import "sync"

// SessionRegistry maps tenant IDs to the MCP session that last acted for
// them. Populated when a tool call names a tenant.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // tenantID → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a tenant with a session, replacing any earlier one.
func (r *SessionRegistry) Register(tenantID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[tenantID] = sessionID
}

// SessionFor returns the session for the given tenant, if connected.
func (r *SessionRegistry) SessionFor(tenantID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[tenantID]
	return sid, ok
}

// Remove deletes every tenant mapping for the given session.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for tid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, tid)
		}
	}
}
