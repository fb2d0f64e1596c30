package registry

import (
	"sync"

	"github.com/orchestra-mcp/realtime/src/types"
)

type entry struct {
	conn      types.Connection
	transport types.Transport
}

// Registry is the authoritative store of live connections. All methods
// are safe for concurrent use and each call is atomic.
type Registry struct {
	entries map[string]entry
	byUser  map[string]map[string]struct{} // userID -> set of connection IDs
	byRole  map[string]map[string]struct{} // role -> set of connection IDs
	mu      sync.RWMutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]entry),
		byUser:  make(map[string]map[string]struct{}),
		byRole:  make(map[string]map[string]struct{}),
	}
}

// Register stores the connection and its transport under conn.ID.
// An existing entry with the same ID is replaced.
func (r *Registry) Register(conn types.Connection, t types.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[conn.ID]; ok {
		r.unindex(old.conn)
	}
	r.entries[conn.ID] = entry{conn: conn, transport: t}
	addTo(r.byUser, conn.UserID, conn.ID)
	for _, role := range conn.Roles {
		addTo(r.byRole, role, conn.ID)
	}
}

// Unregister removes the entry for id and returns the removed connection.
// Unknown ids are ignored.
func (r *Registry) Unregister(id string) (types.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return types.Connection{}, false
	}
	delete(r.entries, id)
	r.unindex(e.conn)
	return e.conn, true
}

// FindConnection returns the connection registered under id.
func (r *Registry) FindConnection(id string) (types.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.conn, ok
}

// Find returns both the connection and its transport.
func (r *Registry) Find(id string) (types.Connection, types.Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.conn, e.transport, ok
}

// FindByUser returns the transports of every connection owned by userID.
func (r *Registry) FindByUser(userID string) []types.Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byUser[userID])
}

// FindByRole returns the transports of every connection holding role.
func (r *Registry) FindByRole(role string) []types.Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byRole[role])
}

// AllConnections returns every registered transport.
func (r *Registry) AllConnections() []types.Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Transport, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.transport)
	}
	return out
}

// Connections returns a snapshot of every registered connection.
func (r *Registry) Connections() []types.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Connection, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.conn)
	}
	return out
}

// ConnectionCount returns the number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// UserCount returns the number of distinct users with at least one connection.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// collect must be called with r.mu held.
func (r *Registry) collect(ids map[string]struct{}) []types.Transport {
	out := make([]types.Transport, 0, len(ids))
	for id := range ids {
		if e, ok := r.entries[id]; ok {
			out = append(out, e.transport)
		}
	}
	return out
}

// unindex must be called with r.mu held for writing.
func (r *Registry) unindex(conn types.Connection) {
	removeFrom(r.byUser, conn.UserID, conn.ID)
	for _, role := range conn.Roles {
		removeFrom(r.byRole, role, conn.ID)
	}
}

func addTo(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

func removeFrom(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}
