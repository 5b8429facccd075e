package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/messaging"
	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/presence"
	"github.com/whisper/roomchat/internal/room"
	"github.com/whisper/roomchat/internal/store"
	"github.com/whisper/roomchat/internal/ws"
)

var validate = validator.New()

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	rooms    store.RoomStore
	broker   messaging.Broker
	presence presence.Tracker
	channels *ws.Server
	logger   zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(rooms store.RoomStore, broker messaging.Broker, tracker presence.Tracker, channels *ws.Server, logger zerolog.Logger) *Handler {
	return &Handler{
		rooms:    rooms,
		broker:   broker,
		presence: tracker,
		channels: channels,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// CreateRoomRequest is the body of POST /rooms.
type CreateRoomRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// PresenceResponse is the body of GET /rooms/{roomId}/presence.
type PresenceResponse struct {
	RoomID   string `json:"room_id"`
	Channels int64  `json:"channels"`
}

// CreateRoom handles room creation. The caller becomes the owner.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	p, _ := ParticipantFromContext(r.Context())

	var req CreateRoomRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "name is required and must be at most 100 characters")
		return
	}

	created, err := h.rooms.Create(r.Context(), req.Name, p.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("create room")
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	h.logger.Info().Str("room", created.ID).Int64("owner", p.ID).Msg("room created")
	writeJSON(w, http.StatusCreated, created)
}

// GetRoom returns a room's metadata.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	found, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// DeleteRoom deletes a room and closes every channel bound to it. Only the
// owner may delete; the room-deleted event is published after the row is
// gone.
func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	p, _ := ParticipantFromContext(r.Context())
	found, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if found.OwnerID != p.ID {
		writeError(w, http.StatusForbidden, "only the room owner can delete the room")
		return
	}

	if err := h.rooms.Delete(r.Context(), found.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		h.logger.Error().Err(err).Str("room", found.ID).Msg("delete room")
		writeError(w, http.StatusInternalServerError, "failed to delete room")
		return
	}
	metrics.RoomsDeleted.Inc()

	if err := h.broker.PublishRoomDeleted(found.ID); err != nil {
		// The room is gone either way; channels notice on their next frame.
		h.logger.Error().Err(err).Str("room", found.ID).Msg("publish room deleted")
	}

	h.logger.Info().Str("room", found.ID).Int64("owner", p.ID).Msg("room deleted")
	w.WriteHeader(http.StatusNoContent)
}

// Presence reports how many channels are open in a room across instances.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	found, ok := h.lookup(w, r)
	if !ok {
		return
	}
	n, err := h.presence.Count(r.Context(), found.ID)
	if err != nil {
		h.logger.Warn().Err(err).Str("room", found.ID).Msg("presence count")
		writeError(w, http.StatusServiceUnavailable, "presence unavailable")
		return
	}
	writeJSON(w, http.StatusOK, PresenceResponse{RoomID: found.ID, Channels: n})
}

// Channel upgrades the request to a room channel for the caller.
func (h *Handler) Channel(w http.ResponseWriter, r *http.Request) {
	p, _ := ParticipantFromContext(r.Context())
	found, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.channels.HandleUpgrade(w, r, found.ID, p)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
}

// Health reports liveness and the number of local channels.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Connections: h.channels.Connections().Count(),
		Uptime:      h.channels.Uptime().Round(time.Second).String(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (room.Room, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	found, err := h.rooms.Get(ctx, chi.URLParam(r, "roomId"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "room not found")
		return room.Room{}, false
	case err != nil:
		h.logger.Error().Err(err).Msg("get room")
		writeError(w, http.StatusInternalServerError, "database error")
		return room.Room{}, false
	}
	return found, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
