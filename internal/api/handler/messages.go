package handler

import (
	"net/http"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/models"

	"github.com/gin-gonic/gin"
)

type postMessageRequest struct {
	Content   string `json:"content" binding:"required"`
	SessionID string `json:"session_id"`
	// Agents name the visitor they answer. Anonymous visitors name their
	// own live connection.
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
	Language     string `json:"lang"`
}

// PostMessage submits a chat message over plain HTTP. It goes through the
// same Router as WebSocket frames.
func (h *Handler) PostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": chathub.CodeBadFrame})
		return
	}

	in := chathub.Inbound{
		Role:      models.RoleVisitor,
		SessionID: req.SessionID,
		Content:   req.Content,
		Language:  req.Language,
	}

	claims, authed := claimsFrom(c)
	switch {
	case authed && claims.Role == models.RoleAgent:
		visitor, err := visitorFromParams(req.UserID, req.ConnectionID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		in.Role = models.RoleAgent
		in.AgentID = claims.Subject
		in.Visitor = visitor

	case authed:
		in.Visitor = models.Authenticated(claims.Subject)

	default:
		// An anonymous identity only exists while its connection is open.
		client, ok := h.Hub.Client(req.ConnectionID)
		if req.ConnectionID == "" || !ok || client.Participant().Visitor != models.Anonymous(req.ConnectionID) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": chathub.CodeInvalidIdentity})
			return
		}
		in.Visitor = models.Anonymous(req.ConnectionID)
	}

	msg, err := h.Hub.Router.HandleInbound(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// History returns the transcript between an agent and a visitor. It works
// for closed sessions too.
func (h *Handler) History(c *gin.Context) {
	claims, _ := claimsFrom(c)

	agentID := c.DefaultQuery("agent_id", claims.Subject)
	visitor, err := visitorFromParams(c.Query("user_id"), c.Query("connection_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	msgs, err := h.Messages.ListBySession(c.Request.Context(), agentID, visitor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": agentID, "visitor": visitor, "messages": msgs})
}
