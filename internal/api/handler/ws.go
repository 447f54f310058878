package handler

import (
	"log"
	"net/http"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Any origin may embed the chat widget.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades the request and registers the connection with the hub.
// Agents and logged-in visitors present a token; anyone else becomes an
// anonymous visitor identified by a fresh connection ID.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	connectionID := uuid.New().String()

	participant := models.VisitorParticipant(models.Anonymous(connectionID))
	if claims, ok := claimsFrom(c); ok {
		participant = claims.Participant()
	}

	lang := c.Query("lang")
	if lang == "" {
		lang = h.DefaultLanguage
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Printf("WARN: WebSocket upgrade failed: %v", err)
		return
	}

	if participant.Role == models.RoleAgent {
		h.Hub.RefreshAgent(c.Request.Context(), participant.AgentID)
	}

	client := chathub.NewWebSocketClient(h.Hub, conn, connectionID, participant, lang)
	h.Hub.RegisterCh <- client
	client.Run()
}
