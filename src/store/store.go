package store

import (
	"context"

	"github.com/leadpulse/realtime/src/types"
)

// SyncLoader supplies the initial unread snapshot for a user. The registry
// queries it once per user per process lifetime, at first connect; a failed
// load degrades to an empty set and the registry is the system of record
// from then on.
type SyncLoader interface {
	LoadUnread(ctx context.Context, userID string) ([]string, error)
}

// HistoryRecorder durably appends delivered notifications. Appends are
// fire-and-forget from the engine's point of view; failures are logged and
// never affect delivery.
type HistoryRecorder interface {
	Append(ctx context.Context, userID string, n types.Notification) error
}
