// Package api is the room server's HTTP surface: the room resource API, the
// channel upgrade endpoint, health and metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/room"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(h *Handler, allowedOrigins []string, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.StripSlashes)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", room.HeaderUserID, room.HeaderUsername},
		MaxAge:         300,
	}))

	r.Handle("/metrics", metrics.Handler())
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(RequireIdentity)

		r.Post("/rooms", h.CreateRoom)
		r.Get("/rooms/{roomId}", h.GetRoom)
		r.Delete("/rooms/{roomId}", h.DeleteRoom)
		r.Get("/rooms/{roomId}/presence", h.Presence)
		r.Get("/ws/chat/{roomId}", h.Channel)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	return r
}
