package chathub

import (
	"context"
	"supportchat/backend/internal/models"
)

// Presence is what the core needs from the transports: who is connected,
// and a way to push messages and lifecycle notifications to them.
type Presence interface {
	IsOnline(ctx context.Context, p models.Participant) bool
	Deliver(ctx context.Context, to models.Participant, msg *models.Message) error
	Notify(ctx context.Context, to models.Participant, frame models.Frame) error
}

// Broker fans deliveries out across nodes. storage.Bus implements it on Redis.
type Broker interface {
	PublishDelivery(ctx context.Context, d models.Delivery) error
	SubscribeDeliveries(ctx context.Context) <-chan models.Delivery
	MarkOnline(ctx context.Context, p models.Participant) error
	MarkOffline(ctx context.Context, p models.Participant) error
	IsOnline(ctx context.Context, p models.Participant) (bool, error)
}

// nopPresence drops everything. It stands in until a hub is attached.
type nopPresence struct{}

func (nopPresence) IsOnline(context.Context, models.Participant) bool { return false }
func (nopPresence) Deliver(context.Context, models.Participant, *models.Message) error {
	return nil
}
func (nopPresence) Notify(context.Context, models.Participant, models.Frame) error { return nil }
