package chathub

import "supportchat/backend/internal/models"

// Client is the interface for any type of connection (e.g., WebSocket, Telegram).
// It abstracts the underlying communication mechanism, allowing the hub to manage
// different client types uniformly.
type Client interface {
	// ConnectionID is unique per physical connection and never reused.
	// For anonymous visitors it doubles as their identity.
	ConnectionID() string
	// Participant is who the connection speaks for.
	Participant() models.Participant
	// SetVisitor rebinds a visitor connection after an identity upgrade.
	SetVisitor(models.VisitorIdentity)
	// Language selects the localized system texts for this connection.
	Language() string

	// Send queues a frame for the connection without blocking. It reports
	// false when the queue is full or the connection is closed.
	Send(models.Frame) bool

	// Run starts the client's read and write pumps, which handle incoming and
	// outgoing messages.
	Run()
	// Close gracefully shuts down the client's connection and associated channels.
	Close()
}
