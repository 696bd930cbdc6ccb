package gateway

import (
	"net/http"

	"github.com/zentrohq/zentro/internal/identity"
	"github.com/zentrohq/zentro/internal/store"
	"github.com/zentrohq/zentro/pkg/models"
)

func (s *Server) handleListFollowUps(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFrom(r.Context())

	status := models.FollowUpStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.FollowUpPending, models.FollowUpSent, models.FollowUpAcknowledged:
	default:
		badRequest(w, "status must be pending, sent or acknowledged")
		return
	}

	var followUps []models.TaskFollowUp
	err := s.store.WithTx(r.Context(), func(tx *store.Tx) error {
		var err error
		followUps, err = tx.ListFollowUps(r.Context(), userID, status)
		return err
	})
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	if followUps == nil {
		followUps = []models.TaskFollowUp{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"follow_ups": followUps})
}

func (s *Server) handleFollowUpStats(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFrom(r.Context())

	var stats *models.FollowUpStats
	err := s.store.WithTx(r.Context(), func(tx *store.Tx) error {
		var err error
		stats, err = tx.FollowUpStats(r.Context(), userID)
		return err
	})
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleAcknowledgeFollowUp marks a follow-up acknowledged. The recipient
// scoping doubles as the ownership check: acknowledging someone else's
// follow-up yields 404.
func (s *Server) handleAcknowledgeFollowUp(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFrom(r.Context())
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid follow-up id")
		return
	}

	var followUp *models.TaskFollowUp
	err := s.store.WithTx(r.Context(), func(tx *store.Tx) error {
		var err error
		followUp, err = tx.UpdateFollowUpStatus(r.Context(), id, userID, models.FollowUpAcknowledged)
		return err
	})
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, followUp)
}
