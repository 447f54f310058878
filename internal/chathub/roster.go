package chathub

import (
	"slices"
	"strings"
	"supportchat/backend/internal/models"
	"sync"
)

// Roster knows every agent and how many live connections each one holds.
// An agent can take new sessions only while active and connected.
type Roster struct {
	mu     sync.RWMutex
	agents map[string]*rosterEntry
}

type rosterEntry struct {
	agent       models.Agent
	connections int
}

func NewRoster(agents ...models.Agent) *Roster {
	r := &Roster{agents: make(map[string]*rosterEntry)}
	for _, a := range agents {
		r.Upsert(a)
	}
	return r
}

// Upsert adds or refreshes an agent's routing data, keeping its connection count.
func (r *Roster) Upsert(a models.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.agents[a.ID]; ok {
		e.agent = a
		return
	}
	r.agents[a.ID] = &rosterEntry{agent: a}
}

// Connect records one more connection for agentID. Agents unknown to the
// agents table are admitted with default routing data; their identity was
// already verified by the token.
func (r *Roster) Connect(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[agentID]
	if !ok {
		e = &rosterEntry{agent: models.Agent{ID: agentID, Active: true}}
		r.agents[agentID] = e
	}
	e.connections++
}

// Disconnect drops one connection for agentID.
func (r *Roster) Disconnect(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.agents[agentID]; ok && e.connections > 0 {
		e.connections--
	}
}

func (r *Roster) Agent(agentID string) (models.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.agents[agentID]
	if !ok {
		return models.Agent{}, false
	}
	return e.agent, true
}

// Available reports whether agentID is active and connected.
func (r *Roster) Available(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.agents[agentID]
	return ok && e.agent.Active && e.connections > 0
}

// Online lists available agents ordered by ID.
func (r *Roster) Online() []models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Agent
	for _, e := range r.agents {
		if e.agent.Active && e.connections > 0 {
			out = append(out, e.agent)
		}
	}
	slices.SortFunc(out, func(a, b models.Agent) int { return strings.Compare(a.ID, b.ID) })
	return out
}
