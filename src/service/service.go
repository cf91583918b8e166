package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadpulse/realtime/config"
	"github.com/leadpulse/realtime/src/registry"
	"github.com/leadpulse/realtime/src/store"
	"github.com/leadpulse/realtime/src/types"
)

// Service is the engine's public API for producers and transports. It wires
// the registry and dispatcher together; persistence collaborators are
// injected and may be nil.
type Service struct {
	reg      *registry.Registry
	dispatch *registry.Dispatcher
	logger   zerolog.Logger
}

// New builds a fully wired notification service.
func New(cfg *config.Config, loader store.SyncLoader, recorder store.HistoryRecorder, logger zerolog.Logger) *Service {
	reg := registry.New(cfg, loader, logger)
	d := registry.NewDispatcher(reg, recorder, cfg, logger)
	reg.SetDispatcher(d)
	return &Service{
		reg:      reg,
		dispatch: d,
		logger:   logger.With().Str("component", "realtime").Logger(),
	}
}

// Registry exposes the underlying registry for reaper wiring and tests.
func (s *Service) Registry() *registry.Registry { return s.reg }

// Connect registers a new connection for userID and returns its handle.
// The handle's outbox starts with an UNREAD_SYNC and a
// CONNECTION_ESTABLISHED message.
func (s *Service) Connect(ctx context.Context, userID string, meta types.ClientMeta) (*registry.Conn, error) {
	return s.reg.Connect(ctx, userID, meta)
}

// Disconnect removes one of the user's connections. Idempotent.
func (s *Service) Disconnect(userID, connectionID string) {
	s.reg.Disconnect(userID, connectionID)
}

// Notify records entityID as unread for every authorized user and pushes a
// NEW_EVENT to each of their live connections.
func (s *Service) Notify(entityID string, payload *types.EventPayload, authorizedUserIDs []string) {
	if entityID == "" || len(authorizedUserIDs) == 0 {
		return
	}
	s.reg.AddUnread(entityID, payload, authorizedUserIDs)
	s.logger.Info().
		Str("entity_id", entityID).
		Int("users", len(authorizedUserIDs)).
		Msg("new event notified")
}

// MarkRead removes entityID from the user's unread set and pushes an
// ENTITY_MARKED_READ to all of the user's connections. Idempotent.
func (s *Service) MarkRead(userID, entityID string) {
	s.reg.MarkRead(userID, entityID)
}

// Broadcast pushes a SYSTEM notification to the target users, or to every
// connected user when targets is empty.
func (s *Service) Broadcast(message string, targets []string) {
	if len(targets) == 0 {
		targets = s.reg.ConnectedUsers()
	}
	n := types.Notification{
		Type:      types.TypeSystem,
		Message:   message,
		Timestamp: time.Now(),
	}
	for _, userID := range targets {
		s.dispatch.Fanout(userID, n)
	}
	s.logger.Info().Int("users", len(targets)).Msg("system notification broadcast")
}

// Stats returns an engine-wide snapshot.
func (s *Service) Stats() types.Stats { return s.reg.Stats() }

// UserInfo returns one user's connection and unread detail.
func (s *Service) UserInfo(userID string) types.UserInfo { return s.reg.UserInfo(userID) }

// Reset destroys a user's state entirely, unread entities included.
// Administrative use only.
func (s *Service) Reset(userID string) { s.reg.Reset(userID) }

// Shutdown sends a best-effort SYSTEM notice to every connected user, then
// closes all handles.
func (s *Service) Shutdown(ctx context.Context) {
	s.Broadcast("server is shutting down, you will be reconnected automatically", nil)
	s.reg.CloseAll()
	s.logger.Info().Msg("realtime service shut down")
}
