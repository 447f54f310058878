package handler

import (
	"net/http"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/models"

	"github.com/gin-gonic/gin"
)

// Sessions lists the caller's open sessions, or every open session with ?all=true.
func (h *Handler) Sessions(c *gin.Context) {
	claims, _ := claimsFrom(c)

	var sessions []models.CommunicationSession
	if c.Query("all") == "true" {
		sessions = h.Hub.Registry.Active()
	} else {
		sessions = h.Hub.Registry.ActiveForAgent(claims.Subject)
	}
	if sessions == nil {
		sessions = []models.CommunicationSession{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) CloseSession(c *gin.Context) {
	claims, _ := claimsFrom(c)

	if err := h.Hub.EndSession(c.Request.Context(), claims.Subject, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type reassignRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

// ReassignSession hands a session the caller holds to another agent.
func (h *Handler) ReassignSession(c *gin.Context) {
	claims, _ := claimsFrom(c)

	var req reassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": chathub.CodeBadFrame})
		return
	}

	s, ok := h.Hub.Registry.Get(c.Param("id"))
	if !ok {
		h.writeError(c, models.ErrSessionClosed)
		return
	}
	if s.AgentID != claims.Subject {
		h.writeError(c, models.ErrForeignSession)
		return
	}

	next, err := h.Hub.Registry.Reassign(c.Request.Context(), s.SessionID, req.AgentID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": next})
}
