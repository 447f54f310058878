package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Direction says which side of the conversation a message is addressed to.
type Direction string

const (
	ToVisitor Direction = "to_visitor"
	ToAgent   Direction = "to_agent"
)

// Message is one immutable transcript entry in PostgreSQL.
//
// Addressing is denormalized onto the row: AgentID plus exactly one of
// UserID / ConnectionID identify both participants without consulting the
// live session registry, so a transcript stays readable after its session
// is gone. ToUser carries the direction (true means agent -> visitor).
type Message struct {
	// ID is assigned by the database on insert.
	ID uint `gorm:"primaryKey" json:"id"`
	// Content is the message text.
	Content string `gorm:"type:text;not null" json:"content"`
	// SentAt orders the transcript. Ties are broken by ID.
	SentAt time.Time `gorm:"not null;index:idx_msg_agent_user,priority:3;index:idx_msg_agent_conn,priority:3" json:"sent_at"`
	// AgentID is nil only for system messages.
	AgentID *string `gorm:"type:text;index:idx_msg_agent_user,priority:1;index:idx_msg_agent_conn,priority:1" json:"agent_id,omitempty"`
	// ToUser is true when the message travels from the agent to the visitor.
	ToUser bool `gorm:"not null" json:"to_user"`
	// UserID is set when the visitor was authenticated at send time.
	UserID *string `gorm:"type:text;index:idx_msg_agent_user,priority:2" json:"user_id,omitempty"`
	// ConnectionID is set when the visitor was anonymous at send time.
	ConnectionID *string `gorm:"type:text;index:idx_msg_agent_conn,priority:2" json:"connection_id,omitempty"`
}

func (Message) TableName() string {
	return "support_messages"
}

// NewMessage snapshots the participants of a conversation into a message row.
func NewMessage(content, agentID string, visitor VisitorIdentity, dir Direction, sentAt time.Time) *Message {
	m := &Message{
		Content: content,
		SentAt:  sentAt,
		ToUser:  dir == ToVisitor,
	}
	if agentID != "" {
		a := agentID
		m.AgentID = &a
	}
	m.UserID, m.ConnectionID = visitor.Columns()
	return m
}

// Direction decodes the ToUser flag.
func (m *Message) Direction() Direction {
	if m.ToUser {
		return ToVisitor
	}
	return ToAgent
}

// Visitor rebuilds the visitor identity recorded on the row.
func (m *Message) Visitor() (VisitorIdentity, error) {
	return VisitorFromColumns(m.UserID, m.ConnectionID)
}

// Agent returns the agent ID or "" for system messages.
func (m *Message) Agent() string {
	if m.AgentID == nil {
		return ""
	}
	return *m.AgentID
}

// BeforeCreate rejects rows without exactly one visitor address and stamps SentAt when missing.
func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if _, err := m.Visitor(); err != nil {
		return fmt.Errorf("message addressing: %w", err)
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	return nil
}

// BeforeUpdate rejects any update: transcripts are append-only.
func (m *Message) BeforeUpdate(tx *gorm.DB) (err error) {
	return ErrMessageImmutable
}

// BeforeDelete rejects any delete.
func (m *Message) BeforeDelete(tx *gorm.DB) (err error) {
	return ErrMessageImmutable
}
