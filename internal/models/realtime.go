package models

// Role is the side a chat participant is on.
type Role string

const (
	RoleVisitor Role = "visitor"
	RoleAgent   Role = "agent"
)

// Participant addresses one side of a conversation for delivery.
type Participant struct {
	Role    Role            `json:"role"`
	AgentID string          `json:"agent_id,omitempty"`
	Visitor VisitorIdentity `json:"visitor,omitempty"`
}

// AgentParticipant addresses an agent.
func AgentParticipant(agentID string) Participant {
	return Participant{Role: RoleAgent, AgentID: agentID}
}

// VisitorParticipant addresses a visitor.
func VisitorParticipant(v VisitorIdentity) Participant {
	return Participant{Role: RoleVisitor, Visitor: v}
}

// Key identifies the participant across connections and nodes.
func (p Participant) Key() string {
	if p.Role == RoleAgent {
		return "agent:" + p.AgentID
	}
	return p.Visitor.Key()
}

// Frame types exchanged over realtime transports.
const (
	FrameMessage       = "message"
	FrameIdentify      = "identify"
	FrameEnd           = "end"
	FrameSystem        = "system"
	FrameError         = "error"
	FrameSessionOpened = "session_opened"
	FrameSessionClosed = "session_closed"
)

// Frame is the JSON envelope sent over WebSocket and Redis Pub/Sub.
type Frame struct {
	Type string `json:"type"`

	// Client -> server fields.
	Content   string           `json:"content,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Visitor   *VisitorIdentity `json:"visitor,omitempty"` // agent frames name the visitor they answer
	Token     string           `json:"token,omitempty"`   // identify frames carry a bearer token

	// Server -> client fields.
	Message *Message              `json:"message,omitempty"`
	Session *CommunicationSession `json:"session,omitempty"`
	Code    string                `json:"code,omitempty"`
	Reason  string                `json:"reason,omitempty"`
}

// Delivery is a frame addressed to one participant. It is what travels
// over Redis between nodes.
type Delivery struct {
	To    Participant `json:"to"`
	Frame Frame       `json:"frame"`
}
