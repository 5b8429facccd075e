package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/room"
)

type contextKey string

const participantKey contextKey = "participant"

// Logger returns a request logging middleware using zerolog. The wrapped
// writer keeps http.Hijacker, so channel upgrades pass through it.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// RequireIdentity reads the caller's participant from the identity headers
// and rejects requests without one. Authentication itself happens upstream.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(room.HeaderUserID), 10, 64)
		name := strings.TrimSpace(r.Header.Get(room.HeaderUsername))
		if err != nil || name == "" {
			writeError(w, http.StatusUnauthorized, "identity required")
			return
		}

		ctx := context.WithValue(r.Context(), participantKey, protocol.Participant{ID: id, Name: name})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ParticipantFromContext returns the caller set by RequireIdentity.
func ParticipantFromContext(ctx context.Context) (protocol.Participant, bool) {
	p, ok := ctx.Value(participantKey).(protocol.Participant)
	return p, ok
}
