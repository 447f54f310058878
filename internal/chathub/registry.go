package chathub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"
	"sync"
	"time"
)

// Assignment describes how a new session should pick its agent.
type Assignment struct {
	// PreferredAgentID is tried first when it is online and under capacity.
	PreferredAgentID string
	// Strict pins the session to PreferredAgentID regardless of capacity.
	// Used when the agent is the one writing first.
	Strict bool
	// Language narrows the candidates to agents who speak it, when any do.
	Language string
}

// Registry owns the set of open sessions. Every mutation for one visitor
// runs under that visitor's lock; the map mutex is only held for lookups
// and bookkeeping, never across I/O.
type Registry struct {
	Store  storage.SessionStore
	Roster *Roster
	Policy AssignmentPolicy
	// Queue is optional. When set, visitors refused for lack of agents wait in it.
	Queue storage.WaitQueue
	// IdleTimeout closes sessions without activity for that long. Zero disables.
	IdleTimeout time.Duration

	presence Presence
	locks    keyedMutex
	now      func() time.Time

	mu        sync.RWMutex
	byVisitor map[string]*models.CommunicationSession
	byID      map[string]*models.CommunicationSession
	load      map[string]int
}

func NewRegistry(store storage.SessionStore, roster *Roster, policy AssignmentPolicy) *Registry {
	if policy == nil {
		policy = LeastLoaded{}
	}
	return &Registry{
		Store:     store,
		Roster:    roster,
		Policy:    policy,
		presence:  nopPresence{},
		now:       func() time.Time { return time.Now().UTC() },
		byVisitor: make(map[string]*models.CommunicationSession),
		byID:      make(map[string]*models.CommunicationSession),
		load:      make(map[string]int),
	}
}

// SetPresence attaches the transport that receives session_opened and
// session_closed notifications.
func (r *Registry) SetPresence(p Presence) {
	if p == nil {
		p = nopPresence{}
	}
	r.presence = p
}

func (r *Registry) QueueEnabled() bool {
	return r.Queue != nil
}

// FindOrCreate returns the visitor's open session or opens a new one.
func (r *Registry) FindOrCreate(ctx context.Context, visitor models.VisitorIdentity, a Assignment) (models.CommunicationSession, error) {
	if err := visitor.Validate(); err != nil {
		return models.CommunicationSession{}, err
	}
	unlock := r.locks.Lock(visitor.Key())
	defer unlock()

	s, err := r.findOrCreateLocked(ctx, visitor, a)
	if err != nil {
		return models.CommunicationSession{}, err
	}
	return *s, nil
}

// Resolve finds or opens the visitor's session and runs fn while the
// visitor stays locked, so nothing can close the session underneath fn.
// A non-empty sessionID must name the visitor's open session, otherwise
// ErrSessionClosed is returned.
func (r *Registry) Resolve(ctx context.Context, visitor models.VisitorIdentity, a Assignment, sessionID string, fn func(models.CommunicationSession) error) error {
	if err := visitor.Validate(); err != nil {
		return err
	}
	unlock := r.locks.Lock(visitor.Key())
	defer unlock()

	var s *models.CommunicationSession
	if sessionID != "" {
		r.mu.RLock()
		cur, ok := r.byID[sessionID]
		r.mu.RUnlock()
		if !ok || cur.Visitor().Key() != visitor.Key() {
			return fmt.Errorf("session %s: %w", sessionID, models.ErrSessionClosed)
		}
		s = cur
	} else {
		var err error
		if s, err = r.findOrCreateLocked(ctx, visitor, a); err != nil {
			return err
		}
	}
	return fn(*s)
}

func (r *Registry) findOrCreateLocked(ctx context.Context, visitor models.VisitorIdentity, a Assignment) (*models.CommunicationSession, error) {
	r.mu.RLock()
	s, ok := r.byVisitor[visitor.Key()]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	agentID, err := r.reserveAgent(a)
	if err != nil {
		if errors.Is(err, models.ErrNoAgentAvailable) && r.Queue != nil && !a.Strict {
			if qerr := r.Queue.Enqueue(ctx, visitor, r.now()); qerr != nil {
				log.Printf("WARN: Failed to enqueue %s: %v", visitor, qerr)
			}
		}
		return nil, err
	}
	return r.openLocked(ctx, visitor, agentID)
}

// openLocked persists a session for a slot already reserved on agentID.
// The slot is released when the session cannot be saved.
func (r *Registry) openLocked(ctx context.Context, visitor models.VisitorIdentity, agentID string) (*models.CommunicationSession, error) {
	s := models.NewSession(agentID, visitor, r.now())
	if err := r.Store.SaveSession(ctx, s); err != nil {
		r.release(agentID)
		return nil, err
	}

	r.mu.Lock()
	r.byVisitor[visitor.Key()] = s
	r.byID[s.SessionID] = s
	r.mu.Unlock()

	if r.Queue != nil {
		if err := r.Queue.Remove(ctx, visitor); err != nil {
			log.Printf("WARN: Failed to remove %s from wait queue: %v", visitor, err)
		}
	}

	log.Printf("INFO: Session %s opened: agent %s <-> %s", s.SessionID, agentID, visitor)
	r.notify(ctx, *s, models.Frame{Type: models.FrameSessionOpened, SessionID: s.SessionID})
	return s, nil
}

// reserveAgent chooses the agent for a new session and counts the session
// against it in the same critical section, so concurrent visitors cannot
// push an agent past MaxSessions. It never blocks on I/O.
func (r *Registry) reserveAgent(a Assignment) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agentID, err := r.pickAgentLocked(a)
	if err != nil {
		return "", err
	}
	r.load[agentID]++
	return agentID, nil
}

// release gives back a slot taken by reserveAgent.
func (r *Registry) release(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.load[agentID]--; r.load[agentID] <= 0 {
		delete(r.load, agentID)
	}
}

// pickAgentLocked expects r.mu to be held.
func (r *Registry) pickAgentLocked(a Assignment) (string, error) {
	if a.PreferredAgentID != "" {
		agent, known := r.Roster.Agent(a.PreferredAgentID)
		if a.Strict {
			if known && !agent.Active {
				return "", fmt.Errorf("agent %s is disabled: %w", a.PreferredAgentID, models.ErrNoAgentAvailable)
			}
			return a.PreferredAgentID, nil
		}
		if known && r.Roster.Available(agent.ID) && agent.HasCapacity(r.load[agent.ID]) {
			return agent.ID, nil
		}
	}

	var all, speakers []Candidate
	for _, agent := range r.Roster.Online() {
		load := r.load[agent.ID]
		if !agent.HasCapacity(load) {
			continue
		}
		c := Candidate{AgentID: agent.ID, Load: load}
		all = append(all, c)
		if agent.Speaks(a.Language) {
			speakers = append(speakers, c)
		}
	}
	if len(speakers) > 0 {
		return r.Policy.Pick(speakers), nil
	}
	if len(all) == 0 {
		return "", models.ErrNoAgentAvailable
	}
	return r.Policy.Pick(all), nil
}

// Close tears a session down. Unknown or already closed sessions are a no-op.
func (r *Registry) Close(ctx context.Context, sessionID, reason string) error {
	r.mu.RLock()
	s, ok := r.byID[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	unlock := r.locks.Lock(s.Visitor().Key())
	defer unlock()
	return r.closeLocked(ctx, sessionID, reason)
}

func (r *Registry) closeLocked(ctx context.Context, sessionID, reason string) error {
	r.mu.RLock()
	s, ok := r.byID[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	now := r.now()
	if err := r.Store.CloseSession(ctx, sessionID, reason, now); err != nil {
		return err
	}

	visitorKey := s.Visitor().Key()
	r.mu.Lock()
	delete(r.byID, sessionID)
	if r.byVisitor[visitorKey] == s {
		delete(r.byVisitor, visitorKey)
	}
	if r.load[s.AgentID]--; r.load[s.AgentID] <= 0 {
		delete(r.load, s.AgentID)
	}
	closed := *s
	r.mu.Unlock()

	closed.IsActive = false
	closed.ClosedAt = &now
	closed.CloseReason = reason

	log.Printf("INFO: Session %s closed (%s)", sessionID, reason)
	r.notify(ctx, closed, models.Frame{Type: models.FrameSessionClosed, SessionID: sessionID, Reason: reason})
	return nil
}

// CloseByConnection ends whatever the anonymous connection was doing: its
// open session is closed and it leaves the wait queue. The connection ID
// is never reused, so nothing of it survives.
func (r *Registry) CloseByConnection(ctx context.Context, connectionID string) error {
	visitor := models.Anonymous(connectionID)
	if err := visitor.Validate(); err != nil {
		return err
	}
	unlock := r.locks.Lock(visitor.Key())
	defer unlock()

	if r.Queue != nil {
		if err := r.Queue.Remove(ctx, visitor); err != nil {
			log.Printf("WARN: Failed to remove %s from wait queue: %v", visitor, err)
		}
	}

	r.mu.RLock()
	s, ok := r.byVisitor[visitor.Key()]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.closeLocked(ctx, s.SessionID, models.CloseDisconnect)
}

// Reassign moves the visitor to newAgentID by closing the session and
// opening a fresh one. The agent of an open session never changes.
func (r *Registry) Reassign(ctx context.Context, sessionID, newAgentID string) (models.CommunicationSession, error) {
	r.mu.RLock()
	s, ok := r.byID[sessionID]
	r.mu.RUnlock()
	if !ok {
		return models.CommunicationSession{}, fmt.Errorf("reassign %s: %w", sessionID, models.ErrSessionClosed)
	}

	visitor := s.Visitor()
	unlock := r.locks.Lock(visitor.Key())
	defer unlock()

	r.mu.Lock()
	s, ok = r.byID[sessionID]
	var current models.CommunicationSession
	if ok {
		current = *s
	}
	if !ok {
		r.mu.Unlock()
		return models.CommunicationSession{}, fmt.Errorf("reassign %s: %w", sessionID, models.ErrSessionClosed)
	}
	if current.AgentID == newAgentID {
		r.mu.Unlock()
		return current, nil
	}
	target, known := r.Roster.Agent(newAgentID)
	if !known || !r.Roster.Available(newAgentID) || !target.HasCapacity(r.load[newAgentID]) {
		r.mu.Unlock()
		return models.CommunicationSession{}, fmt.Errorf("reassign to %s: %w", newAgentID, models.ErrNoAgentAvailable)
	}
	r.load[newAgentID]++
	r.mu.Unlock()

	if err := r.closeLocked(ctx, sessionID, models.CloseReassigned); err != nil {
		r.release(newAgentID)
		return models.CommunicationSession{}, err
	}
	next, err := r.openLocked(ctx, visitor, newAgentID)
	if err != nil {
		return models.CommunicationSession{}, err
	}
	return *next, nil
}

// OnIdentityUpgrade handles an anonymous visitor logging in. The anonymous
// session is closed and the conversation continues in a separate session
// under the authenticated identity, with the same agent when possible.
// An open session the authenticated visitor already had wins. Stored
// messages keep the identity they were written under.
//
// The returned session is nil when neither identity had a conversation.
func (r *Registry) OnIdentityUpgrade(ctx context.Context, anon, authed models.VisitorIdentity) (*models.CommunicationSession, error) {
	if err := anon.Validate(); err != nil {
		return nil, err
	}
	if err := authed.Validate(); err != nil {
		return nil, err
	}
	if !anon.IsAnonymous() || !authed.IsAuthenticated() {
		return nil, fmt.Errorf("upgrade %s to %s: %w", anon, authed, models.ErrInvalidVisitorIdentity)
	}

	unlock := r.locks.LockAll(anon.Key(), authed.Key())
	defer unlock()

	r.mu.RLock()
	old, hadOld := r.byVisitor[anon.Key()]
	existing, hasExisting := r.byVisitor[authed.Key()]
	r.mu.RUnlock()

	if r.Queue != nil {
		if err := r.Queue.Remove(ctx, anon); err != nil {
			log.Printf("WARN: Failed to remove %s from wait queue: %v", anon, err)
		}
	}

	var preferred string
	if hadOld {
		preferred = old.AgentID
		if err := r.closeLocked(ctx, old.SessionID, models.CloseIdentityUpgrade); err != nil {
			return nil, err
		}
	}
	if hasExisting {
		s := *existing
		return &s, nil
	}
	if !hadOld {
		return nil, nil
	}

	next, err := r.findOrCreateLocked(ctx, authed, Assignment{PreferredAgentID: preferred})
	if err != nil {
		return nil, err
	}
	s := *next
	return &s, nil
}

// Touch records activity on an open session.
func (r *Registry) Touch(ctx context.Context, sessionID string, at time.Time) {
	r.mu.Lock()
	s, ok := r.byID[sessionID]
	if ok && at.After(s.LastActivityAt) {
		s.LastActivityAt = at
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := r.Store.TouchSession(ctx, sessionID, at); err != nil {
		log.Printf("WARN: Failed to record activity on session %s: %v", sessionID, err)
	}
}

// Sweep closes sessions idle for longer than IdleTimeout and reports how many it closed.
func (r *Registry) Sweep(ctx context.Context, now time.Time) int {
	if r.IdleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-r.IdleTimeout)

	var stale []models.CommunicationSession
	for _, s := range r.Active() {
		if s.LastActivityAt.Before(cutoff) {
			stale = append(stale, s)
		}
	}

	closed := 0
	for _, s := range stale {
		unlock := r.locks.Lock(s.Visitor().Key())
		r.mu.RLock()
		cur, ok := r.byID[s.SessionID]
		idle := ok && cur.LastActivityAt.Before(cutoff)
		r.mu.RUnlock()
		if idle {
			if err := r.closeLocked(ctx, s.SessionID, models.CloseTimeout); err != nil {
				log.Printf("ERROR: Failed to close idle session %s: %v", s.SessionID, err)
			} else {
				closed++
			}
		}
		unlock()
	}
	return closed
}

// Restore reloads sessions that were open when the process last stopped.
// Authenticated visitors get their session back; anonymous connections
// died with the process, so their sessions are closed.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	sessions, err := r.Store.GetActiveSessions(ctx)
	if err != nil {
		return 0, err
	}

	now := r.now()
	restored := 0
	for i := range sessions {
		s := sessions[i]
		visitor, err := models.VisitorFromColumns(s.VisitorUserID, s.VisitorConnectionID)
		if err != nil || visitor.IsAnonymous() {
			if err != nil {
				log.Printf("WARN: Session %s has a malformed visitor: %v", s.SessionID, err)
			}
			if cerr := r.Store.CloseSession(ctx, s.SessionID, models.CloseRestart, now); cerr != nil {
				return restored, cerr
			}
			continue
		}

		r.mu.Lock()
		prev, dup := r.byVisitor[visitor.Key()]
		r.mu.Unlock()
		if dup {
			// Rows come oldest first; the newest session for a visitor wins.
			if cerr := r.Store.CloseSession(ctx, prev.SessionID, models.CloseRestart, now); cerr != nil {
				return restored, cerr
			}
			r.mu.Lock()
			delete(r.byID, prev.SessionID)
			r.load[prev.AgentID]--
			r.mu.Unlock()
			restored--
		}

		r.mu.Lock()
		r.byVisitor[visitor.Key()] = &s
		r.byID[s.SessionID] = &s
		r.load[s.AgentID]++
		r.mu.Unlock()
		restored++
	}

	log.Printf("INFO: Restored %d sessions", restored)
	return restored, nil
}

// Active lists open sessions, oldest first.
func (r *Registry) Active() []models.CommunicationSession {
	r.mu.RLock()
	out := make([]models.CommunicationSession, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, *s)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.CommunicationSession) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SessionID, b.SessionID)
	})
	return out
}

// ActiveForAgent lists the open sessions held by agentID.
func (r *Registry) ActiveForAgent(agentID string) []models.CommunicationSession {
	return slices.DeleteFunc(r.Active(), func(s models.CommunicationSession) bool {
		return s.AgentID != agentID
	})
}

func (r *Registry) Get(sessionID string) (models.CommunicationSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[sessionID]
	if !ok {
		return models.CommunicationSession{}, false
	}
	return *s, true
}

// Lookup returns the visitor's open session, if any.
func (r *Registry) Lookup(visitor models.VisitorIdentity) (models.CommunicationSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byVisitor[visitor.Key()]
	if !ok {
		return models.CommunicationSession{}, false
	}
	return *s, true
}

// Load is the number of open sessions held by agentID.
func (r *Registry) Load(agentID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.load[agentID]
}

func (r *Registry) notify(ctx context.Context, s models.CommunicationSession, frame models.Frame) {
	frame.Session = &s
	for _, to := range []models.Participant{
		models.AgentParticipant(s.AgentID),
		models.VisitorParticipant(s.Visitor()),
	} {
		if err := r.presence.Notify(ctx, to, frame); err != nil {
			log.Printf("WARN: Failed to notify %s about session %s: %v", to.Key(), s.SessionID, err)
		}
	}
}
