package chathub

import (
	"errors"
	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/models"
)

// Error codes sent to clients in error frames and HTTP bodies.
const (
	CodeNoAgent          = "no_agent"
	CodeStoreUnavailable = "store_unavailable"
	CodeInvalidIdentity  = "invalid_identity"
	CodeSessionClosed    = "session_closed"
	CodeForeignSession   = "foreign_session"
	CodeEmptyMessage     = "empty_message"
	CodeMessageTooLong   = "message_too_long"
	CodeBadFrame         = "bad_frame"
	CodeInvalidToken     = "invalid_token"
	CodeForbidden        = "forbidden"
	CodeInternal         = "internal"
)

// ErrorCode classifies err for clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, models.ErrNoAgentAvailable):
		return CodeNoAgent
	case errors.Is(err, models.ErrStoreUnavailable):
		return CodeStoreUnavailable
	case errors.Is(err, models.ErrInvalidVisitorIdentity):
		return CodeInvalidIdentity
	case errors.Is(err, models.ErrSessionClosed):
		return CodeSessionClosed
	case errors.Is(err, models.ErrForeignSession):
		return CodeForeignSession
	case errors.Is(err, models.ErrEmptyMessage):
		return CodeEmptyMessage
	case errors.Is(err, models.ErrMessageTooLong):
		return CodeMessageTooLong
	case errors.Is(err, auth.ErrInvalidToken):
		return CodeInvalidToken
	case errors.Is(err, models.ErrUnknownAgent):
		return CodeForbidden
	}
	return CodeInternal
}

// Retryable reports whether the caller may simply try again later.
func Retryable(err error) bool {
	return errors.Is(err, models.ErrNoAgentAvailable) || errors.Is(err, models.ErrStoreUnavailable)
}
