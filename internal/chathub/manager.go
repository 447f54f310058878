package chathub

import (
	"context"
	"errors"
	"log"
	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/localization"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"
	"sync"
)

// ManagerService is the hub: it tracks every live connection on this node,
// feeds connection events into the Registry and implements Presence for
// the Router and Registry.
type ManagerService struct {
	// Clients by connection ID.
	Clients map[string]Client
	// byParticipant indexes Clients by participant key; one agent or
	// authenticated visitor may hold several connections.
	byParticipant map[string]map[string]Client
	mu            sync.RWMutex

	RegisterCh   chan Client
	UnregisterCh chan Client

	Registry  *Registry
	Router    *Router
	Roster    *Roster
	Verifier  *auth.Verifier
	Localizer *localization.Localizer

	// Bus is nil on a single node; deliveries then stay in process.
	Bus Broker
	// Agents, when set, refreshes an agent's routing data as it connects.
	Agents storage.AgentStore

	done chan struct{}
}

// NewManagerService builds the hub and attaches it as the Presence of the
// router and registry.
func NewManagerService(registry *Registry, router *Router, roster *Roster, verifier *auth.Verifier, loc *localization.Localizer) *ManagerService {
	if loc == nil {
		loc = localization.NewBuiltinLocalizer()
	}
	m := &ManagerService{
		Clients:       make(map[string]Client),
		byParticipant: make(map[string]map[string]Client),
		RegisterCh:    make(chan Client),
		UnregisterCh:  make(chan Client),
		Registry:      registry,
		Router:        router,
		Roster:        roster,
		Verifier:      verifier,
		Localizer:     loc,
		done:          make(chan struct{}),
	}
	registry.SetPresence(m)
	router.Presence = m
	return m
}

// Run processes connection events until ctx is cancelled.
func (m *ManagerService) Run(ctx context.Context) {
	if m.Bus != nil {
		m.StartPubSubListener(ctx)
	}
	defer close(m.done)

	log.Println("INFO: Chat hub started.")
	for {
		select {
		case client := <-m.RegisterCh:
			m.OnConnect(ctx, client)

		case client := <-m.UnregisterCh:
			// Closing the session waits on the visitor lock and the store;
			// the loop only detaches the connection.
			id := client.ConnectionID()
			if p, ok := m.detach(id, client); ok {
				go m.settleDisconnect(ctx, p, id)
			}

		case <-ctx.Done():
			m.closeAll()
			log.Println("INFO: Chat hub stopped.")
			return
		}
	}
}

// Unregister hands the client back to the hub loop. It does not block
// once the hub has stopped.
func (m *ManagerService) Unregister(c Client) {
	select {
	case m.UnregisterCh <- c:
	case <-m.done:
	}
}

// OnConnect indexes a new connection and tells it about its open sessions.
func (m *ManagerService) OnConnect(ctx context.Context, c Client) {
	p := c.Participant()

	m.mu.Lock()
	m.Clients[c.ConnectionID()] = c
	m.index(p.Key(), c)
	m.mu.Unlock()

	if p.Role == models.RoleAgent {
		m.Roster.Connect(p.AgentID)
	}
	if m.Bus != nil {
		// Marked here, in loop order, so it always precedes this connection's MarkOffline.
		if err := m.Bus.MarkOnline(ctx, p); err != nil {
			log.Printf("WARN: Failed to mark %s online: %v", p.Key(), err)
		}
	}

	var open []models.CommunicationSession
	if p.Role == models.RoleAgent {
		open = m.Registry.ActiveForAgent(p.AgentID)
	} else if s, ok := m.Registry.Lookup(p.Visitor); ok {
		open = append(open, s)
	}
	for i := range open {
		m.push(c, models.Frame{Type: models.FrameSessionOpened, SessionID: open[i].SessionID, Session: &open[i]})
	}

	log.Printf("INFO: Client %s connected as %s", c.ConnectionID(), p.Key())
}

// OnDisconnect forgets the connection. Anonymous visitors lose their
// session with it; agents and authenticated visitors keep theirs.
func (m *ManagerService) OnDisconnect(ctx context.Context, connectionID string) {
	if p, ok := m.detach(connectionID, nil); ok {
		m.settleDisconnect(ctx, p, connectionID)
	}
}

// detach unindexes and closes the connection without any I/O. When want
// is set, a different client registered under the same ID is left alone.
func (m *ManagerService) detach(connectionID string, want Client) (models.Participant, bool) {
	m.mu.Lock()
	c, ok := m.Clients[connectionID]
	if !ok || (want != nil && c != want) {
		m.mu.Unlock()
		return models.Participant{}, false
	}
	p := c.Participant()
	delete(m.Clients, connectionID)
	m.unindex(p.Key(), connectionID)
	m.mu.Unlock()

	c.Close()

	if p.Role == models.RoleAgent {
		m.Roster.Disconnect(p.AgentID)
	}
	return p, true
}

// settleDisconnect updates shared presence and closes an anonymous visitor's session.
func (m *ManagerService) settleDisconnect(ctx context.Context, p models.Participant, connectionID string) {
	if m.Bus != nil {
		if err := m.Bus.MarkOffline(ctx, p); err != nil {
			log.Printf("WARN: Failed to mark %s offline: %v", p.Key(), err)
		}
	}
	if p.Role == models.RoleVisitor && p.Visitor.IsAnonymous() {
		if err := m.Registry.CloseByConnection(ctx, p.Visitor.ID); err != nil {
			log.Printf("ERROR: Failed to close session of connection %s: %v", connectionID, err)
		}
	}

	log.Printf("INFO: Client %s disconnected", connectionID)
}

// OnIdentityUpgrade rebinds an anonymous connection to userID after login.
func (m *ManagerService) OnIdentityUpgrade(ctx context.Context, connectionID, userID string) (*models.CommunicationSession, error) {
	authed := models.Authenticated(userID)
	if err := authed.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	c, ok := m.Clients[connectionID]
	if !ok {
		m.mu.Unlock()
		return nil, models.ErrInvalidVisitorIdentity
	}
	p := c.Participant()
	if p.Role != models.RoleVisitor || !p.Visitor.IsAnonymous() {
		m.mu.Unlock()
		return nil, models.ErrInvalidVisitorIdentity
	}
	m.unindex(p.Key(), connectionID)
	c.SetVisitor(authed)
	m.index(authed.Key(), c)
	m.mu.Unlock()

	if m.Bus != nil {
		_ = m.Bus.MarkOffline(ctx, p)
		if err := m.Bus.MarkOnline(ctx, c.Participant()); err != nil {
			log.Printf("WARN: Failed to mark %s online: %v", authed.Key(), err)
		}
	}

	log.Printf("INFO: Connection %s upgraded to %s", connectionID, authed)
	return m.Registry.OnIdentityUpgrade(ctx, p.Visitor, authed)
}

// HandleFrame executes one frame read from a client connection.
func (m *ManagerService) HandleFrame(ctx context.Context, c Client, f models.Frame) {
	p := c.Participant()

	switch f.Type {
	case models.FrameMessage:
		in := Inbound{
			Role:      p.Role,
			SessionID: f.SessionID,
			Content:   f.Content,
			Language:  c.Language(),
		}
		if p.Role == models.RoleAgent {
			if f.Visitor == nil {
				m.replyCode(c, CodeBadFrame)
				return
			}
			in.AgentID = p.AgentID
			in.Visitor = *f.Visitor
		} else {
			in.Visitor = p.Visitor
		}

		msg, err := m.Router.HandleInbound(ctx, in)
		if err != nil {
			m.replyError(c, err)
			return
		}
		m.push(c, models.Frame{Type: models.FrameMessage, Message: msg})

	case models.FrameIdentify:
		if p.Role != models.RoleVisitor || !p.Visitor.IsAnonymous() {
			m.replyCode(c, CodeForbidden)
			return
		}
		claims, err := m.Verifier.Parse(f.Token)
		if err != nil {
			m.replyError(c, err)
			return
		}
		if claims.Role != models.RoleVisitor {
			m.replyCode(c, CodeForbidden)
			return
		}
		if _, err := m.OnIdentityUpgrade(ctx, c.ConnectionID(), claims.Subject); err != nil {
			m.replyError(c, err)
		}

	case models.FrameEnd:
		if p.Role != models.RoleAgent {
			m.replyCode(c, CodeForbidden)
			return
		}
		if err := m.EndSession(ctx, p.AgentID, f.SessionID); err != nil {
			m.replyError(c, err)
		}

	default:
		m.replyCode(c, CodeBadFrame)
	}
}

// EndSession closes sessionID on behalf of the agent holding it.
func (m *ManagerService) EndSession(ctx context.Context, agentID, sessionID string) error {
	s, ok := m.Registry.Get(sessionID)
	if !ok {
		return models.ErrSessionClosed
	}
	if s.AgentID != agentID {
		return models.ErrForeignSession
	}
	return m.Registry.Close(ctx, sessionID, models.CloseAgentEnded)
}

// IsOnline implements Presence.
func (m *ManagerService) IsOnline(ctx context.Context, p models.Participant) bool {
	m.mu.RLock()
	n := len(m.byParticipant[p.Key()])
	m.mu.RUnlock()
	if n > 0 {
		return true
	}
	if m.Bus != nil {
		online, err := m.Bus.IsOnline(ctx, p)
		if err != nil {
			log.Printf("WARN: Presence lookup for %s failed: %v", p.Key(), err)
			return false
		}
		return online
	}
	return false
}

// Deliver implements Presence.
func (m *ManagerService) Deliver(ctx context.Context, to models.Participant, msg *models.Message) error {
	return m.Notify(ctx, to, models.Frame{Type: models.FrameMessage, Message: msg})
}

// Notify implements Presence. With a Bus every node, this one included,
// receives the frame through Redis; without one it is delivered directly.
func (m *ManagerService) Notify(ctx context.Context, to models.Participant, frame models.Frame) error {
	d := models.Delivery{To: to, Frame: frame}
	if m.Bus != nil {
		return m.Bus.PublishDelivery(ctx, d)
	}
	m.deliverLocal(d)
	return nil
}

func (m *ManagerService) deliverLocal(d models.Delivery) {
	m.mu.RLock()
	targets := make([]Client, 0, len(m.byParticipant[d.To.Key()]))
	for _, c := range m.byParticipant[d.To.Key()] {
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	for _, c := range targets {
		m.push(c, d.Frame)
	}
}

// push sends one frame to c. A client that cannot keep up is dropped.
func (m *ManagerService) push(c Client, frame models.Frame) {
	if !c.Send(m.localize(c, frame)) {
		log.Printf("WARN: Client %s is not keeping up, dropping it", c.ConnectionID())
		go m.Unregister(c)
	}
}

// localize fills the human-readable text of system frames.
func (m *ManagerService) localize(c Client, frame models.Frame) models.Frame {
	if frame.Content != "" {
		return frame
	}
	lang := c.Language()
	switch frame.Type {
	case models.FrameSessionOpened:
		if c.Participant().Role == models.RoleVisitor && frame.Session != nil {
			name := frame.Session.AgentID
			if a, ok := m.Roster.Agent(name); ok && a.DisplayName != "" {
				name = a.DisplayName
			}
			frame.Content = m.Localizer.Format(lang, "agent_assigned", name)
		}
	case models.FrameSessionClosed:
		frame.Content = m.Localizer.GetString(lang, "session_closed")
	case models.FrameError:
		key := "error_" + frame.Code
		if frame.Code == CodeNoAgent && m.Registry.QueueEnabled() && c.Participant().Role == models.RoleVisitor {
			key = "queued"
		}
		frame.Content = m.Localizer.GetString(lang, key)
	}
	return frame
}

func (m *ManagerService) replyError(c Client, err error) {
	code := ErrorCode(err)
	if code == CodeInternal {
		log.Printf("ERROR: Frame from %s failed: %v", c.ConnectionID(), err)
	}
	m.replyCode(c, code)
}

func (m *ManagerService) replyCode(c Client, code string) {
	m.push(c, models.Frame{Type: models.FrameError, Code: code})
}

// RefreshAgent reloads agentID's routing data from Agents, so that
// agents added, edited or disabled while the service runs are routed
// accordingly. Unknown agents keep their current roster entry.
func (m *ManagerService) RefreshAgent(ctx context.Context, agentID string) {
	if m.Agents == nil {
		return
	}
	a, err := m.Agents.GetAgent(ctx, agentID)
	if errors.Is(err, models.ErrUnknownAgent) {
		return
	}
	if err != nil {
		log.Printf("WARN: Failed to refresh agent %s: %v", agentID, err)
		return
	}
	m.Roster.Upsert(*a)
}

// Client returns the live connection with id, if this node holds it.
func (m *ManagerService) Client(id string) (Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.Clients[id]
	return c, ok
}

func (m *ManagerService) index(key string, c Client) {
	conns, ok := m.byParticipant[key]
	if !ok {
		conns = make(map[string]Client)
		m.byParticipant[key] = conns
	}
	conns[c.ConnectionID()] = c
}

func (m *ManagerService) unindex(key, connectionID string) {
	if conns, ok := m.byParticipant[key]; ok {
		delete(conns, connectionID)
		if len(conns) == 0 {
			delete(m.byParticipant, key)
		}
	}
}

func (m *ManagerService) closeAll() {
	m.mu.Lock()
	clients := make([]Client, 0, len(m.Clients))
	for _, c := range m.Clients {
		clients = append(clients, c)
	}
	m.Clients = make(map[string]Client)
	m.byParticipant = make(map[string]map[string]Client)
	m.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
