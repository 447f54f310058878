package chathub

import (
	"context"
	"errors"
	"log"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/models"
	"time"
)

// MatcherService runs the background work of the registry: it drains the
// wait queue as agents free up and closes idle sessions.
type MatcherService struct {
	Registry *Registry
	// Presence tells whether a queued visitor is still around.
	Presence Presence

	Tick          time.Duration
	SweepInterval time.Duration
}

// NewMatcherService creates a new Matcher.
func NewMatcherService(registry *Registry, presence Presence) *MatcherService {
	if presence == nil {
		presence = nopPresence{}
	}
	return &MatcherService{
		Registry:      registry,
		Presence:      presence,
		Tick:          config.MatcherTick,
		SweepInterval: config.DefaultSweepInterval,
	}
}

// Run loops until ctx is cancelled.
func (m *MatcherService) Run(ctx context.Context) {
	log.Println("INFO: Matcher Service started.")

	tick := time.NewTicker(m.Tick)
	defer tick.Stop()
	sweep := time.NewTicker(m.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-tick.C:
			m.AssignWaiting(ctx)
		case now := <-sweep.C:
			if n := m.Registry.Sweep(ctx, now.UTC()); n > 0 {
				log.Printf("INFO: Closed %d idle sessions", n)
			}
		case <-ctx.Done():
			log.Println("INFO: Matcher Service stopped.")
			return
		}
	}
}

// AssignWaiting opens sessions for queued visitors, oldest first. It stops
// at the first visitor nobody can take, so nobody jumps the queue.
func (m *MatcherService) AssignWaiting(ctx context.Context) int {
	queue := m.Registry.Queue
	if queue == nil {
		return 0
	}
	waiting, err := queue.Waiting(ctx)
	if err != nil {
		log.Printf("ERROR: Failed to read wait queue: %v", err)
		return 0
	}

	assigned := 0
	for _, v := range waiting {
		if v.IsAnonymous() && !m.Presence.IsOnline(ctx, models.VisitorParticipant(v)) {
			// The connection is gone and its ID will never come back.
			if err := queue.Remove(ctx, v); err != nil {
				log.Printf("WARN: Failed to drop %s from wait queue: %v", v, err)
			}
			continue
		}

		s, err := m.Registry.FindOrCreate(ctx, v, Assignment{})
		if errors.Is(err, models.ErrNoAgentAvailable) {
			break
		}
		if err != nil {
			log.Printf("ERROR: Failed to assign queued %s: %v", v, err)
			continue
		}
		if err := queue.Remove(ctx, v); err != nil {
			log.Printf("WARN: Failed to drop %s from wait queue: %v", v, err)
		}
		log.Printf("INFO: Queued %s assigned to agent %s", v, s.AgentID)
		assigned++
	}
	return assigned
}
