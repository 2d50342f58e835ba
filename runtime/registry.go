package runtime

import (
	"cmp"
	"live-queue/contract"
	"live-queue/domain"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"
)

type Set map[domain.ConnectionID]struct{}

// Recipient is one entry of an audience snapshot.
type Recipient struct {
	ConnectionID domain.ConnectionID
	Sink         contract.EventSink
}

type session struct {
	conn domain.Connection
	sink contract.EventSink
}

// Registration is what Register observed, taken under the same lock as the
// insertion so the audience and the roster can't race with another join.
type Registration struct {
	// First is true when the user had no other live connection.
	First bool
	// Others is every live connection except the registered one.
	Others []Recipient
	// Roster lists distinct online users, including the new one.
	Roster []domain.OnlineUser
}

// Removal is what Unregister observed.
type Removal struct {
	Connection domain.Connection
	// Last is true when the user has no live connection left.
	Last   bool
	Others []Recipient
}

// Registry is the single source of truth for who is online.
// It indexes connections by id and by user, and keeps one presence entry per
// user pointing at the most recent connection.
type Registry struct {
	mu              sync.RWMutex
	log             *slog.Logger
	sessions        map[domain.ConnectionID]session // connection -> Sink
	userConnections map[string]Set                  // user -> connections
	presence        map[string]domain.PresenceEntry // user -> roster entry
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:             log,
		sessions:        make(map[domain.ConnectionID]session),
		userConnections: make(map[string]Set),
		presence:        make(map[string]domain.PresenceEntry),
	}
}

// Register inserts conn under its user. Registering an id twice is a logged no-op
// and reports ok=false.
func (r *Registry) Register(conn domain.Connection, sink contract.EventSink) (Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[conn.ID]; exists {
		r.log.Debug("Connection already registered", "connection_id", conn.ID, "user_id", conn.User.ID)
		return Registration{}, false
	}

	r.sessions[conn.ID] = session{conn: conn, sink: sink}

	connections, ok := r.userConnections[conn.User.ID]
	if !ok {
		connections = make(Set)
		r.userConnections[conn.User.ID] = connections
	}
	connections[conn.ID] = struct{}{}

	r.presence[conn.User.ID] = domain.PresenceEntry{ConnectionID: conn.ID, User: conn.User.Online()}

	return Registration{
		First:  len(connections) == 1,
		Others: r.audience(conn.ID),
		Roster: r.roster(),
	}, true
}

// Unregister removes a connection. Unknown ids, including connections whose
// handshake never completed, are a logged no-op reporting ok=false.
func (r *Registry) Unregister(connID domain.ConnectionID) (Removal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[connID]
	if !exists {
		r.log.Debug("Connection not registered, nothing to remove", "connection_id", connID)
		return Removal{}, false
	}
	delete(r.sessions, connID)

	userID := s.conn.User.ID
	connections := r.userConnections[userID]
	delete(connections, connID)

	last := len(connections) == 0
	if last {
		// No empty sets are left behind to prevent leaks over time
		delete(r.userConnections, userID)
		delete(r.presence, userID)
	} else if r.presence[userID].ConnectionID == connID {
		r.presence[userID] = domain.PresenceEntry{
			ConnectionID: r.latest(connections),
			User:         s.conn.User.Online(),
		}
	}

	return Removal{Connection: s.conn, Last: last, Others: r.audience(connID)}, true
}

// Snapshot returns distinct online users sorted by name.
func (r *Registry) Snapshot() []domain.OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roster()
}

// Resolve returns every live connection of a user.
func (r *Registry) Resolve(userID string) []domain.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]domain.ConnectionID, 0, len(r.userConnections[userID]))
	for id := range r.userConnections[userID] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Audience returns every live connection except exclude, oldest first.
// An empty exclude targets everyone.
func (r *Registry) Audience(exclude domain.ConnectionID) []Recipient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.audience(exclude)
}

// Recipient returns the sink of a single connection. Removed ids fail closed.
func (r *Registry) Recipient(connID domain.ConnectionID) (Recipient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	if !ok {
		return Recipient{}, false
	}
	return Recipient{ConnectionID: connID, Sink: s.sink}, true
}

// Connection returns the identity bound to a live connection.
func (r *Registry) Connection(connID domain.ConnectionID) (domain.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	return s.conn, ok
}

// Presence returns the roster entry of a user.
func (r *Registry) Presence(userID string) (domain.PresenceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.presence[userID]
	return entry, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.presence)
}

// audience must be called with the lock held.
func (r *Registry) audience(exclude domain.ConnectionID) []Recipient {
	sessions := lo.Filter(lo.Values(r.sessions), func(s session, _ int) bool {
		return s.conn.ID != exclude
	})
	slices.SortFunc(sessions, func(a, b session) int {
		if c := a.conn.ConnectedAt.Compare(b.conn.ConnectedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.conn.ID, b.conn.ID)
	})
	return lo.Map(sessions, func(s session, _ int) Recipient {
		return Recipient{ConnectionID: s.conn.ID, Sink: s.sink}
	})
}

// roster must be called with the lock held.
func (r *Registry) roster() []domain.OnlineUser {
	users := lo.Map(lo.Values(r.presence), func(p domain.PresenceEntry, _ int) domain.OnlineUser {
		return p.User
	})
	slices.SortFunc(users, func(a, b domain.OnlineUser) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return users
}

// latest must be called with the lock held.
func (r *Registry) latest(connections Set) domain.ConnectionID {
	var latest domain.Connection
	for id := range connections {
		c := r.sessions[id].conn
		if latest.ID == "" || c.ConnectedAt.After(latest.ConnectedAt) ||
			(c.ConnectedAt.Equal(latest.ConnectedAt) && c.ID > latest.ID) {
			latest = c
		}
	}
	return latest.ID
}
