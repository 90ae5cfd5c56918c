package realtime

import (
	"sort"
	"sync"
	"time"
)

type presenceEntry struct {
	connID      string
	connectedAt time.Time
}

// Registry is an in-memory mapping of authenticated user ids to their current
// connection. It holds at most one entry per user: a newer connection for the
// same user overwrites the previous one (last-connection-wins).
//
// A Registry is constructed explicitly and handed to the hub, never shared as
// package state, so tests get a fresh instance each time.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]presenceEntry
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]presenceEntry),
	}
}

// Register records or overwrites the entry for userID
func (r *Registry) Register(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[userID] = presenceEntry{
		connID:      connID,
		connectedAt: time.Now(),
	}
}

// Unregister removes the entry for userID if present, no-op otherwise
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, userID)
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[userID]
	return ok
}

// Lookup returns the connection id currently bound to userID
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[userID]
	return e.connID, ok
}

// ListOnline returns a sorted snapshot of online user ids. The snapshot is
// detached from the registry: later registrations do not show up in it.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.entries))
	for userID := range r.entries {
		users = append(users, userID)
	}
	sort.Strings(users)

	return users
}

// Size reports the number of online users, used for diagnostics only
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
