package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadpulse/realtime/config"
	"github.com/leadpulse/realtime/src/store"
	"github.com/leadpulse/realtime/src/types"
)

// ErrEmptyUserID is returned by Connect when no user identity is supplied.
var ErrEmptyUserID = errors.New("registry: empty user id")

// userState holds everything the registry knows about one user. All
// mutation of a user's connections and unread set goes through mu, so
// unrelated users never contend with each other.
type userState struct {
	mu     sync.Mutex
	conns  map[string]*Conn
	unread map[string]struct{}
	loaded bool // unread set has been seeded from the loader
	gone   bool // retired by the reaper or a reset, never resurrected
}

func newUserState() *userState {
	return &userState{
		conns:  make(map[string]*Conn),
		unread: make(map[string]struct{}),
	}
}

// snapshotUnreadLocked copies the unread set, sorted for stable output.
// Callers must hold st.mu.
func (st *userState) snapshotUnreadLocked() []string {
	out := make([]string, 0, len(st.unread))
	for id := range st.unread {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Registry owns all per-user connection and unread state. It is constructed
// once at process start and passed by reference to producers; there is no
// package-level singleton, so tests can run independent registries side by
// side.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*userState

	queueSize int
	loader    store.SyncLoader
	dispatch  *Dispatcher
	logger    zerolog.Logger
}

// New creates a registry. loader may be nil, in which case every user
// starts with an empty unread set.
func New(cfg *config.Config, loader store.SyncLoader, logger zerolog.Logger) *Registry {
	queueSize := cfg.QueueSize
	if queueSize < 2 {
		// Room for the two greeting messages a fresh handle receives.
		queueSize = 2
	}
	return &Registry{
		users:     make(map[string]*userState),
		queueSize: queueSize,
		loader:    loader,
		logger:    logger.With().Str("component", "registry").Logger(),
	}
}

// SetDispatcher attaches the dispatcher used for MarkRead/AddUnread fan-out.
// Without one, mutations still apply but nothing is pushed.
func (r *Registry) SetDispatcher(d *Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatch = d
}

// lockState returns the user's state with its lock held, creating the entry
// if needed. A state retired by the reaper or a reset is replaced with a
// fresh one rather than resurrected.
func (r *Registry) lockState(userID string) *userState {
	for {
		r.mu.RLock()
		st, ok := r.users[userID]
		r.mu.RUnlock()

		if !ok {
			r.mu.Lock()
			if st, ok = r.users[userID]; !ok {
				st = newUserState()
				r.users[userID] = st
			}
			r.mu.Unlock()
		}

		st.mu.Lock()
		if !st.gone {
			return st
		}
		st.mu.Unlock()
	}
}

// lookup returns the user's state, or nil if the user is unknown.
func (r *Registry) lookup(userID string) *userState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.users[userID]
}

// Connect registers a new connection for userID and returns its handle. The
// first two messages on the handle's outbox are always UNREAD_SYNC followed
// by CONNECTION_ESTABLISHED. If the user's unread set has never been seeded,
// the loader is consulted first; a failed load degrades to an empty set
// rather than refusing the connection.
func (r *Registry) Connect(ctx context.Context, userID string, meta types.ClientMeta) (*Conn, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	st := r.lockState(userID)
	defer st.mu.Unlock()

	if !st.loaded {
		if r.loader != nil {
			ids, err := r.loader.LoadUnread(ctx, userID)
			if err != nil {
				r.logger.Error().Err(err).
					Str("user_id", userID).
					Msg("unread load failed, starting with empty set")
			}
			for _, id := range ids {
				st.unread[id] = struct{}{}
			}
		}
		st.loaded = true
	}

	c := newConn(userID, meta, r.queueSize)
	st.conns[c.ID] = c

	// The queue is fresh and at least two slots deep, so these never block.
	now := time.Now()
	snapshot := st.snapshotUnreadLocked()
	c.outbox <- types.Notification{
		Type:           types.TypeUnreadSync,
		UnreadSnapshot: snapshot,
		Timestamp:      now,
	}
	c.outbox <- types.Notification{
		Type:           types.TypeConnected,
		ConnectionID:   c.ID,
		UnreadSnapshot: snapshot,
		Timestamp:      now,
	}

	r.logger.Info().
		Str("user_id", userID).
		Str("connection_id", c.ID).
		Int("connections", len(st.conns)).
		Msg("connection registered")
	return c, nil
}

// Disconnect removes a connection from its owner's set and closes it.
// Unknown users and already-removed connections are a no-op; duplicate
// disconnect signals are expected under network races. Unread state is
// retained even when the last connection goes away.
func (r *Registry) Disconnect(userID, connectionID string) {
	st := r.lookup(userID)
	if st == nil {
		return
	}

	st.mu.Lock()
	c, ok := st.conns[connectionID]
	if ok {
		delete(st.conns, connectionID)
	}
	remaining := len(st.conns)
	st.mu.Unlock()

	if !ok {
		return
	}
	c.close()

	r.logger.Info().
		Str("user_id", userID).
		Str("connection_id", connectionID).
		Int("remaining", remaining).
		Msg("connection removed")
}

// MarkRead removes entityID from the user's unread set and pushes an
// ENTITY_MARKED_READ notification to every live connection, whether or not
// the entity was present, so a second device watching the same entity
// updates even though it didn't perform the read.
func (r *Registry) MarkRead(userID, entityID string) {
	st := r.lookup(userID)
	if st == nil {
		return
	}

	st.mu.Lock()
	if st.gone {
		st.mu.Unlock()
		return
	}
	delete(st.unread, entityID)
	st.mu.Unlock()

	r.fanout(userID, types.Notification{
		Type:     types.TypeEntityRead,
		EntityID: entityID,
		MarkedBy: userID,
	})
}

// AddUnread inserts entityID into each authorized user's unread set,
// creating state lazily, and pushes a NEW_EVENT to each. Insertion is
// idempotent.
func (r *Registry) AddUnread(entityID string, payload *types.EventPayload, userIDs []string) {
	for _, userID := range userIDs {
		if userID == "" {
			continue
		}
		st := r.lockState(userID)
		st.unread[entityID] = struct{}{}
		st.mu.Unlock()

		r.fanout(userID, types.Notification{
			Type:     types.TypeNewEvent,
			EntityID: entityID,
			Payload:  payload,
		})
	}
}

// Reset destroys a user's state entirely, unread entities included. This is
// the administrative path; normal disconnects and reaper evictions never
// drop unread state.
func (r *Registry) Reset(userID string) {
	r.mu.Lock()
	st, ok := r.users[userID]
	if ok {
		delete(r.users, userID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	st.gone = true
	conns := make([]*Conn, 0, len(st.conns))
	for _, c := range st.conns {
		conns = append(conns, c)
	}
	st.conns = make(map[string]*Conn)
	st.unread = make(map[string]struct{})
	st.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	r.logger.Info().Str("user_id", userID).Int("closed", len(conns)).Msg("user state reset")
}

// CloseAll closes every live connection and clears the registry. Used on
// shutdown only.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	states := r.users
	r.users = make(map[string]*userState)
	r.mu.Unlock()

	closed := 0
	for _, st := range states {
		st.mu.Lock()
		st.gone = true
		for _, c := range st.conns {
			c.close()
			closed++
		}
		st.conns = make(map[string]*Conn)
		st.mu.Unlock()
	}
	r.logger.Info().Int("closed", closed).Msg("all connections closed")
}

// connections returns the user's live connections together with the unread
// snapshot, both taken under the user's lock so a handle is never
// enumerated concurrently with its own removal.
func (r *Registry) connections(userID string) ([]*Conn, []string) {
	st := r.lookup(userID)
	if st == nil {
		return nil, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gone {
		return nil, nil
	}
	conns := make([]*Conn, 0, len(st.conns))
	for _, c := range st.conns {
		conns = append(conns, c)
	}
	return conns, st.snapshotUnreadLocked()
}

// gcIfEmpty removes a user entry that has no connections and no unread
// state. Users holding unread state are always retained so a later
// reconnect sees it.
func (r *Registry) gcIfEmpty(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.users[userID]
	if !ok {
		return false
	}

	st.mu.Lock()
	empty := len(st.conns) == 0 && len(st.unread) == 0
	if empty {
		st.gone = true
	}
	st.mu.Unlock()

	if empty {
		delete(r.users, userID)
	}
	return empty
}

func (r *Registry) fanout(userID string, n types.Notification) {
	r.mu.RLock()
	d := r.dispatch
	r.mu.RUnlock()
	if d == nil {
		return
	}
	d.Fanout(userID, n)
}
