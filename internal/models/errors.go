package models

import "errors"

var (
	// ErrNoAgentAvailable means no agent could be assigned to the visitor. Retryable.
	ErrNoAgentAvailable = errors.New("no agent available")
	// ErrSessionClosed means the operation targets a session that was already torn down.
	ErrSessionClosed = errors.New("session closed")
	// ErrStoreUnavailable wraps persistence I/O failures. Retryable.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidVisitorIdentity is returned for a malformed or missing visitor identity.
	ErrInvalidVisitorIdentity = errors.New("invalid visitor identity")

	ErrEmptyMessage     = errors.New("empty message")
	ErrForeignSession   = errors.New("visitor is paired with another agent")
	ErrMessageImmutable = errors.New("messages are immutable")
	ErrUnknownAgent     = errors.New("unknown agent")
	ErrMessageTooLong   = errors.New("message too long")
)
