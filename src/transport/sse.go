package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/leadpulse/realtime/config"
	"github.com/leadpulse/realtime/src/registry"
	"github.com/leadpulse/realtime/src/service"
	"github.com/leadpulse/realtime/src/types"
)

// userIDHeader carries the caller identity set by the upstream auth proxy.
// Authentication itself happens before requests reach this service.
const userIDHeader = "X-User-ID"

// Handler serves the SSE stream and the management endpoints around it.
type Handler struct {
	svc       *service.Service
	reaper    *registry.Reaper
	heartbeat time.Duration
	logger    zerolog.Logger
}

// NewHandler creates the HTTP surface for the notification engine. reaper
// may be nil, which disables the manual cleanup endpoint.
func NewHandler(svc *service.Service, reaper *registry.Reaper, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:       svc,
		reaper:    reaper,
		heartbeat: cfg.HeartbeatInterval,
		logger:    logger.With().Str("component", "sse").Logger(),
	}
}

// Routes returns the router for mounting under /realtime.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/stream", h.handleStream)
	r.Get("/connection/status", h.handleStatus)
	r.Get("/stats", h.handleStats)
	r.Get("/health", h.handleHealth)
	r.Post("/notifications/mark-read/{entityID}", h.handleMarkRead)
	r.Post("/test/notification", h.handleTestNotification)
	r.Post("/admin/cleanup", h.handleCleanup)
	return r
}

// handleStream registers a connection and drains its outbox as SSE events
// until the client goes away. Silence longer than the heartbeat interval
// produces a keep-alive event.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing user identity"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "streaming unsupported"})
		return
	}

	meta := types.ClientMeta{
		UserAgent: r.UserAgent(),
		Timezone:  r.URL.Query().Get("tz"),
		RemoteIP:  r.RemoteAddr,
	}
	conn, err := h.svc.Connect(r.Context(), userID, meta)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	defer h.svc.Disconnect(userID, conn.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case n := <-conn.Outbox():
			if err := writeEvent(w, flusher, n); err != nil {
				h.logger.Debug().Err(err).Str("user_id", userID).Msg("stream write failed")
				return
			}
		case <-ticker.C:
			hb := map[string]any{
				"type":      "heartbeat",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			}
			if err := writeEvent(w, flusher, hb); err != nil {
				return
			}
		case <-conn.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing user identity"})
		return
	}
	writeJSON(w, http.StatusOK, h.svc.UserInfo(userID))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.svc.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"total_connections": stats.TotalConnections,
		"total_users":       stats.TotalUsers,
	})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing user identity"})
		return
	}
	entityID := chi.URLParam(r, "entityID")
	if entityID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing entity id"})
		return
	}

	h.svc.MarkRead(userID, entityID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"entity_id": entityID,
	})
}

// handleTestNotification simulates an inbound event for the calling user.
func (h *Handler) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing user identity"})
		return
	}

	var body struct {
		EntityID string `json:"entity_id"`
		Message  string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.EntityID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "entity_id is required"})
		return
	}
	if body.Message == "" {
		body.Message = "Test notification message"
	}

	h.svc.Notify(body.EntityID, &types.EventPayload{
		Preview:   body.Message,
		Direction: "incoming",
		MessageID: fmt.Sprintf("test_%d", time.Now().UnixNano()),
	}, []string{userID})

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"entity_id": body.EntityID,
	})
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if h.reaper == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "reaper not running"})
		return
	}
	evicted := h.reaper.RunOnce()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"evicted": evicted,
	})
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
