package handler

import (
	"net/http"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/models"

	"github.com/gin-gonic/gin"
)

type devTokenRequest struct {
	Subject string      `json:"subject" binding:"required"`
	Role    models.Role `json:"role" binding:"required,oneof=agent visitor"`
}

// IssueDevToken signs a token for local testing. Production tokens come
// from the identity service; this route is only mounted with SUPPORT_DEV_TOKENS.
func (h *Handler) IssueDevToken(c *gin.Context) {
	var req devTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": chathub.CodeBadFrame})
		return
	}

	token, err := h.Verifier.Issue(req.Subject, req.Role, config.DevTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "subject": req.Subject, "role": req.Role})
}
