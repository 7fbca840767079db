package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mmynk/closeout/internal/auth"
	"github.com/mmynk/closeout/internal/middleware"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type operatorPayload struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type loginResponse struct {
	Token    string          `json:"token"`
	Operator operatorPayload `json:"operator"`
}

// handleLogin exchanges operator credentials for a JWT.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	op, err := s.authn.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidCredentials.Error()})
		return
	}

	token, err := s.jwt.Generate(op)
	if err != nil {
		slog.Error("failed to generate token", "email", req.Email, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		Token: token,
		Operator: operatorPayload{
			ID:          op.ID,
			Email:       op.Email,
			DisplayName: op.DisplayName,
		},
	})
}

// handleRetryClosure re-drives the hub close for a quorum-complete
// cycle whose closure has not succeeded.
func (s *Server) handleRetryClosure(c *gin.Context) {
	cycleID := c.Param("cycleID")

	status, err := s.service.RetryClosure(c.Request.Context(), cycleID)
	if err != nil {
		writeError(c, err)
		return
	}

	slog.Info("closure retried by operator",
		"cycle_id", cycleID,
		"operator", middleware.GetEmail(c))
	c.JSON(http.StatusOK, gin.H{
		"cycleId": cycleID,
		"quorum":  status,
		"closed":  true,
	})
}

// handleListNotifications returns a cycle's full confirmation ledger.
func (s *Server) handleListNotifications(c *gin.Context) {
	cycleID := c.Param("cycleID")

	records, err := s.service.Notifications(c.Request.Context(), cycleID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cycleId": cycleID,
		"count":   len(records),
		"records": records,
	})
}
