package registry

import (
	"sort"

	"github.com/leadpulse/realtime/src/types"
)

// Stats returns an engine-wide snapshot for observability.
func (r *Registry) Stats() types.Stats {
	r.mu.RLock()
	states := make([]*userState, 0, len(r.users))
	for _, st := range r.users {
		states = append(states, st)
	}
	r.mu.RUnlock()

	var s types.Stats
	for _, st := range states {
		st.mu.Lock()
		if !st.gone {
			s.TotalUsers++
			s.TotalConnections += len(st.conns)
			s.TotalUnread += len(st.unread)
		}
		st.mu.Unlock()
	}
	return s
}

// UserInfo returns the user's live connections and unread snapshot. Unknown
// users get a zero-value, not-connected answer.
func (r *Registry) UserInfo(userID string) types.UserInfo {
	info := types.UserInfo{
		UserID:      userID,
		Connections: []types.ConnInfo{},
		Unread:      []string{},
	}

	st := r.lookup(userID)
	if st == nil {
		return info
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gone {
		return info
	}
	for _, c := range st.conns {
		info.Connections = append(info.Connections, c.Info())
	}
	sort.Slice(info.Connections, func(i, j int) bool {
		return info.Connections[i].ConnectedAt.Before(info.Connections[j].ConnectedAt)
	})
	info.Unread = st.snapshotUnreadLocked()
	info.Connected = len(info.Connections) > 0
	return info
}

// Unread returns the user's current unread snapshot.
func (r *Registry) Unread(userID string) []string {
	st := r.lookup(userID)
	if st == nil {
		return []string{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshotUnreadLocked()
}

// ConnectedUsers returns IDs of users with at least one live connection.
func (r *Registry) ConnectedUsers() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.users))
	states := make([]*userState, 0, len(r.users))
	for id, st := range r.users {
		ids = append(ids, id)
		states = append(states, st)
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(ids))
	for i, st := range states {
		st.mu.Lock()
		if !st.gone && len(st.conns) > 0 {
			out = append(out, ids[i])
		}
		st.mu.Unlock()
	}
	sort.Strings(out)
	return out
}
