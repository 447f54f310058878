package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Close reasons recorded on sessions.
const (
	CloseDisconnect      = "disconnect"
	CloseAgentEnded      = "agent_ended"
	CloseReassigned      = "reassigned"
	CloseIdentityUpgrade = "identity_upgrade"
	CloseTimeout         = "timeout"
	CloseRestart         = "restart"
)

// CommunicationSession is the live pairing of one agent with one visitor.
// The registry keeps at most one open session per visitor; the row in
// PostgreSQL mirrors it so that sessions can be restored after a restart.
type CommunicationSession struct {
	// SessionID is the unique identifier for the session (UUID).
	SessionID string `gorm:"primaryKey;type:text" json:"session_id"`
	// AgentID is fixed for the session's lifetime.
	AgentID string `gorm:"type:text;not null;index" json:"agent_id"`
	// VisitorUserID is set for authenticated visitors.
	VisitorUserID *string `gorm:"type:text;index" json:"visitor_user_id,omitempty"`
	// VisitorConnectionID is set for anonymous visitors.
	VisitorConnectionID *string `gorm:"type:text;index" json:"visitor_connection_id,omitempty"`
	// IsActive is false once the session is closed.
	IsActive bool `gorm:"index" json:"is_active"`
	// CreatedAt is the timestamp when the session was opened.
	CreatedAt time.Time `json:"created_at"`
	// LastActivityAt is bumped on every routed message.
	LastActivityAt time.Time `json:"last_activity_at"`
	// ClosedAt is the timestamp when the session was closed.
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	// CloseReason is one of the Close* constants.
	CloseReason string `gorm:"type:text" json:"close_reason,omitempty"`
}

func (CommunicationSession) TableName() string {
	return "communication_sessions"
}

// NewSession opens a session for visitor with agentID.
func NewSession(agentID string, visitor VisitorIdentity, now time.Time) *CommunicationSession {
	s := &CommunicationSession{
		SessionID:      uuid.New().String(),
		AgentID:        agentID,
		IsActive:       true,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.VisitorUserID, s.VisitorConnectionID = visitor.Columns()
	return s
}

// Visitor returns the visitor side of the pairing. A session is only ever
// built through NewSession or loaded from a validated row, so the error is
// reserved for corrupt rows.
func (s *CommunicationSession) Visitor() VisitorIdentity {
	v, _ := VisitorFromColumns(s.VisitorUserID, s.VisitorConnectionID)
	return v
}

// Closed reports whether the session was torn down.
func (s *CommunicationSession) Closed() bool {
	return !s.IsActive
}

// BeforeCreate generates a SessionID if none is set.
func (s *CommunicationSession) BeforeCreate(tx *gorm.DB) (err error) {
	if s.SessionID == "" {
		s.SessionID = uuid.New().String()
	}
	return
}
