package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zentrohq/zentro/internal/checkpoint"
	"github.com/zentrohq/zentro/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps the domain error taxonomy onto HTTP statuses: NotFound →
// 404, Conflict → 409, ServiceError → 400, checkpoint not ready → 503,
// everything else → 500 with a generic body.
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var se *store.ServiceError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &se):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": se.Msg})
	case errors.Is(err, checkpoint.ErrNotReady):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "agent is starting up, try again shortly"})
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		s.logger.Error(ctx, "request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}
