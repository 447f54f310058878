package handler

import (
	"log"
	"net/http"
	"strings"
	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// Handler serves the HTTP and WebSocket API of the support chat.
type Handler struct {
	Hub      *chathub.ManagerService
	Messages storage.MessageStore
	Verifier *auth.Verifier

	// DevTokens enables POST /auth/dev-token.
	DevTokens bool
	// DefaultLanguage is used when a WebSocket client does not ask for one.
	DefaultLanguage string
}

func NewHandler(hub *chathub.ManagerService, messages storage.MessageStore, verifier *auth.Verifier) *Handler {
	return &Handler{Hub: hub, Messages: messages, Verifier: verifier, DefaultLanguage: "en"}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Health)
	r.GET("/ws", h.optionalAuth, h.ServeWebSocket)
	r.POST("/messages", h.optionalAuth, h.PostMessage)

	agents := r.Group("/", h.requireAgent)
	agents.GET("/history", h.History)
	agents.GET("/sessions", h.Sessions)
	agents.POST("/sessions/:id/close", h.CloseSession)
	agents.POST("/sessions/:id/reassign", h.ReassignSession)

	if h.DevTokens {
		r.POST("/auth/dev-token", h.IssueDevToken)
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// bearerToken reads the token from the Authorization header or the
// "token" query parameter, which browsers need for WebSocket upgrades.
func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

// optionalAuth verifies a token when one is sent. Requests without one
// continue as anonymous.
func (h *Handler) optionalAuth(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.Next()
		return
	}
	claims, err := h.Verifier.Parse(token)
	if err != nil {
		h.writeError(c, err)
		c.Abort()
		return
	}
	c.Set(claimsKey, claims)
	c.Next()
}

func (h *Handler) requireAgent(c *gin.Context) {
	claims, err := h.Verifier.Parse(bearerToken(c))
	if err != nil {
		h.writeError(c, err)
		c.Abort()
		return
	}
	if claims.Role != models.RoleAgent {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": chathub.CodeForbidden})
		return
	}
	c.Set(claimsKey, claims)
	c.Next()
}

func claimsFrom(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

// statusFor maps error codes onto HTTP statuses.
func statusFor(code string) int {
	switch code {
	case chathub.CodeNoAgent, chathub.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case chathub.CodeInvalidIdentity, chathub.CodeEmptyMessage, chathub.CodeMessageTooLong, chathub.CodeBadFrame:
		return http.StatusBadRequest
	case chathub.CodeSessionClosed:
		return http.StatusConflict
	case chathub.CodeForeignSession, chathub.CodeForbidden:
		return http.StatusForbidden
	case chathub.CodeInvalidToken:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(c *gin.Context, err error) {
	code := chathub.ErrorCode(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		log.Printf("ERROR: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	body := gin.H{"error": code}
	if chathub.Retryable(err) {
		body["retryable"] = true
	}
	c.JSON(status, body)
}

// visitorFromParams reads exactly one of user_id / connection_id.
func visitorFromParams(userID, connectionID string) (models.VisitorIdentity, error) {
	switch {
	case userID != "" && connectionID != "":
		return models.VisitorIdentity{}, models.ErrInvalidVisitorIdentity
	case userID != "":
		return models.Authenticated(userID), nil
	case connectionID != "":
		return models.Anonymous(connectionID), nil
	}
	return models.VisitorIdentity{}, models.ErrInvalidVisitorIdentity
}
