package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mmynk/closeout/internal/hub"
	"github.com/mmynk/closeout/internal/models"
	"github.com/mmynk/closeout/internal/quorum"
	"github.com/mmynk/closeout/internal/reconcile"
	"github.com/mmynk/closeout/internal/service"
)

type confirmationResponse struct {
	Status         string        `json:"status"`
	Message        string        `json:"message"`
	CycleID        string        `json:"cycleId"`
	ParticipantID  string        `json:"participantId"`
	Quorum         quorum.Status `json:"quorum"`
	Closed         bool          `json:"closed"`
	ClosurePending bool          `json:"closurePending,omitempty"`
	UpstreamStale  bool          `json:"upstreamStale,omitempty"`
}

type statusDetail struct {
	ParticipantID string    `json:"participantId"`
	Reference     string    `json:"reference"`
	SettledAt     time.Time `json:"settledAt"`
}

type statusResponse struct {
	CycleID           string                `json:"cycleId"`
	NotificationCount int                   `json:"notificationCount"`
	HubReachable      bool                  `json:"hubReachable"`
	CycleState        models.CycleState     `json:"cycleState,omitempty"`
	Quorum            *quorum.Status        `json:"quorum,omitempty"`
	Closure           *models.ClosureMarker `json:"closure,omitempty"`
	Details           []statusDetail        `json:"details"`
}

// handleSubmitConfirmation receives one participant confirmation for a
// cycle and drives it through reconciliation, recording, quorum, and
// possibly closure.
func (s *Server) handleSubmitConfirmation(c *gin.Context) {
	cycleID := c.Param("cycleID")

	var claim models.ConfirmationClaim
	if err := c.ShouldBindJSON(&claim); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := s.service.SubmitConfirmation(c.Request.Context(), cycleID, claim)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := confirmationResponse{
		CycleID:        cycleID,
		ParticipantID:  result.Record.ParticipantID,
		Quorum:         result.Quorum,
		Closed:         result.Closed,
		ClosurePending: result.ClosurePending,
		UpstreamStale:  result.UpstreamStale,
	}

	switch {
	case result.Status == service.StatusDuplicate:
		resp.Status = "duplicate"
		resp.Message = "confirmation already recorded for this participant"
		c.JSON(http.StatusOK, resp)
	case result.Closed:
		resp.Status = "finalized"
		resp.Message = "settlement finalized, all participants and operators notified"
		c.JSON(http.StatusOK, resp)
	default:
		resp.Status = "pending"
		resp.Message = "confirmation recorded"
		c.JSON(http.StatusAccepted, resp)
	}
}

// handleStatus reports a cycle's confirmation progress. Hub outages
// degrade the response to the local ledger.
func (s *Server) handleStatus(c *gin.Context) {
	cycleID := c.Param("cycleID")

	st, err := s.service.Status(c.Request.Context(), cycleID)
	if err != nil {
		writeError(c, err)
		return
	}

	details := make([]statusDetail, 0, len(st.Records))
	for _, rec := range st.Records {
		details = append(details, statusDetail{
			ParticipantID: rec.ParticipantID,
			Reference:     rec.Reference,
			SettledAt:     rec.SettledAt,
		})
	}

	c.JSON(http.StatusOK, statusResponse{
		CycleID:           st.CycleID,
		NotificationCount: len(st.Records),
		HubReachable:      st.HubReachable,
		CycleState:        st.CycleState,
		Quorum:            st.Quorum,
		Closure:           st.Closure,
		Details:           details,
	})
}

// writeError maps domain errors to HTTP status codes. The error is
// attached to the gin context so the request log carries it.
func writeError(c *gin.Context, err error) {
	c.Error(err)

	var claimErr *reconcile.ClaimError
	var stateErr *reconcile.InvalidStateError
	var currencyErr *reconcile.CurrencyMismatchError
	var amountErr *reconcile.AmountMismatchError

	switch {
	case errors.As(err, &claimErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": claimErr.Error(), "fields": claimErr.Fields})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": stateErr.Error(), "state": stateErr.State})
	case errors.Is(err, reconcile.ErrCycleAlreadyClosed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, reconcile.ErrParticipantNotInCycle):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, reconcile.ErrCycleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &currencyErr), errors.As(err, &amountErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, hub.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrQuorumNotReached), errors.Is(err, service.ErrClosureInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
