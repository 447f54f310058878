package chathub

import (
	"fmt"
	"supportchat/backend/internal/config"
	"sync"
)

// Candidate is an agent that can take one more session, with its current load.
type Candidate struct {
	AgentID string
	Load    int
}

// AssignmentPolicy picks the agent for a new session. Candidates arrive
// sorted by AgentID and are never empty.
type AssignmentPolicy interface {
	Pick(candidates []Candidate) string
}

// NewPolicy builds the policy named in configuration.
func NewPolicy(name string) (AssignmentPolicy, error) {
	switch name {
	case config.PolicyRoundRobin:
		return &RoundRobin{}, nil
	case config.PolicyLeastLoaded, "":
		return LeastLoaded{}, nil
	}
	return nil, fmt.Errorf("unknown assignment policy %q", name)
}

// LeastLoaded picks the agent with the fewest open sessions; ties go to the lowest ID.
type LeastLoaded struct{}

func (LeastLoaded) Pick(candidates []Candidate) string {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Load < best.Load {
			best = c
		}
	}
	return best.AgentID
}

// RoundRobin cycles through agents by ID. It remembers the last agent it
// picked rather than an index, so agents joining or leaving do not skew the turn.
type RoundRobin struct {
	mu   sync.Mutex
	last string
}

func (p *RoundRobin) Pick(candidates []Candidate) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := candidates[0].AgentID
	for _, c := range candidates {
		if c.AgentID > p.last {
			next = c.AgentID
			break
		}
	}
	p.last = next
	return next
}
