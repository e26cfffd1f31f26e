package server

import (
	"sort"
	"sync"
)

// Registry tracks which usernames hold an authenticated session, and on
// which connections. A username is present iff at least one live connection
// has logged in as it and has neither logged out nor been evicted.
//
// The dispatcher mutates the registry only while holding its global lock;
// the registry's own mutex keeps metrics and health readers safe.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[string]struct{} // username -> connection IDs
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]map[string]struct{}),
	}
}

// Add records that connID is logged in as username.
func (r *Registry) Add(username, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[username]
	if !ok {
		set = make(map[string]struct{})
		r.conns[username] = set
	}
	set[connID] = struct{}{}
}

// Remove drops a single connection's claim on username.
func (r *Registry) Remove(username, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[username]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.conns, username)
	}
}

// Evict removes username for every connection and returns how many
// connections were holding it.
func (r *Registry) Evict(username string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.conns[username])
	delete(r.conns, username)
	return n
}

// Contains reports whether any connection is logged in as username.
func (r *Registry) Contains(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[username]
	return ok
}

// Holds reports whether connID in particular is still logged in as username.
// A connection evicted before the username was registered again by someone
// else does not hold it.
func (r *Registry) Holds(username, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[username][connID]
	return ok
}

// Count returns the number of distinct logged-in usernames.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Usernames returns a sorted snapshot of the logged-in usernames.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]string, 0, len(r.conns))
	for u := range r.conns {
		result = append(result, u)
	}
	sort.Strings(result)
	return result
}
