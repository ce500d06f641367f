package mcp

import "sync"

// SessionBindings maps transport session ids (assigned by the MCP transport)
// to tenant session ids (assigned by the session registry).
type SessionBindings struct {
	mu       sync.RWMutex
	sessions map[string]string // transport id → tenant id
}

// NewSessionBindings creates an empty binding table.
func NewSessionBindings() *SessionBindings {
	return &SessionBindings{sessions: make(map[string]string)}
}

// Bind associates a transport session with a tenant session.
// A reconnect under the same transport id overwrites the old binding.
func (b *SessionBindings) Bind(transportID, tenantID string) {
	if transportID == "" || tenantID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[transportID] = tenantID
}

// TenantFor returns the tenant session bound to a transport session.
func (b *SessionBindings) TenantFor(transportID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sid, ok := b.sessions[transportID]
	return sid, ok
}

// Unbind drops the binding of a transport session.
func (b *SessionBindings) Unbind(transportID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, transportID)
}

// RemoveTenant drops every transport binding of a tenant session.
// Called when the tenant session is destroyed.
func (b *SessionBindings) RemoveTenant(tenantID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for tid, sid := range b.sessions {
		if sid == tenantID {
			delete(b.sessions, tid)
		}
	}
}

// Len returns the number of bound transport sessions.
func (b *SessionBindings) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}
