package types

import "time"

// Type identifies the kind of notification pushed to clients.
type Type string

const (
	// TypeNewEvent announces new inbound activity on an entity.
	TypeNewEvent Type = "new_event"
	// TypeEntityRead announces that the user marked an entity as read,
	// possibly from another device.
	TypeEntityRead Type = "entity_marked_read"
	// TypeUnreadSync carries the full unread set, sent first on every
	// new connection.
	TypeUnreadSync Type = "unread_sync"
	// TypeConnected confirms a connection is registered.
	TypeConnected Type = "connection_established"
	// TypeSystem carries operator broadcasts (maintenance, shutdown).
	TypeSystem Type = "system"
)

// EventPayload carries the message-specific fields of a TypeNewEvent
// notification. Passthrough only, never interpreted by the engine.
type EventPayload struct {
	EntityName string `json:"entity_name,omitempty"`
	Preview    string `json:"preview,omitempty"`
	Direction  string `json:"direction,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
}

// Notification is the wire-level message delivered on a connection's outbox.
// UnreadSnapshot always holds the owner's full unread set as of dispatch
// time, so clients reconcile with last-write-wins regardless of the order
// notifications arrive across a user's multiple connections.
type Notification struct {
	Type           Type          `json:"type"`
	EntityID       string        `json:"entity_id,omitempty"`
	Payload        *EventPayload `json:"payload,omitempty"`
	MarkedBy       string        `json:"marked_by,omitempty"`
	Message        string        `json:"message,omitempty"`
	ConnectionID   string        `json:"connection_id,omitempty"`
	UnreadSnapshot []string      `json:"unread_snapshot"`
	Timestamp      time.Time     `json:"timestamp"`
}

// ClientMeta is an opaque client descriptor recorded at connect time.
// The engine stores and reports it but never interprets it.
type ClientMeta struct {
	UserAgent string `json:"user_agent,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	RemoteIP  string `json:"remote_ip,omitempty"`
}

// ConnInfo is a read-only snapshot of one live connection.
type ConnInfo struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	ConnectedAt    time.Time  `json:"connected_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	Meta           ClientMeta `json:"meta"`
	Queued         int        `json:"queued"`
}

// Stats is an engine-wide observability snapshot.
type Stats struct {
	TotalConnections int `json:"total_connections"`
	TotalUsers       int `json:"total_users"`
	TotalUnread      int `json:"total_unread"`
}

// UserInfo describes one user's live connections and unread state.
type UserInfo struct {
	UserID      string     `json:"user_id"`
	Connected   bool       `json:"connected"`
	Connections []ConnInfo `json:"connections"`
	Unread      []string   `json:"unread"`
}
