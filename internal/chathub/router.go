package chathub

import (
	"context"
	"errors"
	"log"
	"strings"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"
	"time"
	"unicode/utf8"
)

// Inbound is one chat message entering the system from any transport.
type Inbound struct {
	Role models.Role
	// Visitor is the sender for visitor messages and the addressee for agent messages.
	Visitor models.VisitorIdentity
	// AgentID is set when Role is RoleAgent.
	AgentID string
	// SessionID is an optional hint naming the session the sender believes is open.
	SessionID string
	Content   string
	// Language is used for agent assignment when a session has to be opened.
	Language string
}

// Router turns inbound chat events into stored messages and deliveries.
// A message is stored before anyone sees it; a failed append delivers nothing.
type Router struct {
	Registry *Registry
	Store    storage.MessageStore
	Presence Presence
	// MaxLen caps content length in runes. Zero means no limit.
	MaxLen int

	now func() time.Time
}

func NewRouter(registry *Registry, store storage.MessageStore, presence Presence, maxLen int) *Router {
	if presence == nil {
		presence = nopPresence{}
	}
	return &Router{
		Registry: registry,
		Store:    store,
		Presence: presence,
		MaxLen:   maxLen,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleInbound resolves the session for in, stores the message and
// delivers it to the other side.
//
// The visitor stays locked from resolution to delivery, so a concurrent
// close lands strictly before or after the message. A visitor whose
// session hint went stale gets a fresh session once; an agent gets
// ErrSessionClosed.
func (r *Router) HandleInbound(ctx context.Context, in Inbound) (*models.Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, models.ErrEmptyMessage
	}
	if r.MaxLen > 0 && utf8.RuneCountInString(content) > r.MaxLen {
		return nil, models.ErrMessageTooLong
	}
	if err := in.Visitor.Validate(); err != nil {
		return nil, err
	}
	if in.Role == models.RoleAgent && in.AgentID == "" {
		return nil, models.ErrUnknownAgent
	}

	msg, err := r.route(ctx, in, content)
	if errors.Is(err, models.ErrSessionClosed) && in.Role == models.RoleVisitor && in.SessionID != "" {
		in.SessionID = ""
		msg, err = r.route(ctx, in, content)
	}
	return msg, err
}

func (r *Router) route(ctx context.Context, in Inbound, content string) (*models.Message, error) {
	a := Assignment{Language: in.Language}
	if in.Role == models.RoleAgent {
		a.PreferredAgentID = in.AgentID
		a.Strict = true
	}

	var stored *models.Message
	err := r.Registry.Resolve(ctx, in.Visitor, a, in.SessionID, func(s models.CommunicationSession) error {
		dir, to := models.ToAgent, models.AgentParticipant(s.AgentID)
		if in.Role == models.RoleAgent {
			if s.AgentID != in.AgentID {
				return models.ErrForeignSession
			}
			dir, to = models.ToVisitor, models.VisitorParticipant(in.Visitor)
		}

		msg := models.NewMessage(content, s.AgentID, in.Visitor, dir, r.now())
		if _, err := r.Store.Append(ctx, msg); err != nil {
			log.Printf("ERROR: Message for session %s not stored: %v", s.SessionID, err)
			return err
		}
		r.Registry.Touch(ctx, s.SessionID, msg.SentAt)

		if err := r.Presence.Deliver(ctx, to, msg); err != nil {
			log.Printf("WARN: Delivery to %s failed: %v", to.Key(), err)
		}
		stored = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}
