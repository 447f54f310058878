package chathub

import (
	"context"
	"log"
)

// StartPubSubListener subscribes to the Redis delivery channel and hands
// every delivery to the local connections it addresses, outside the hub loop.
func (m *ManagerService) StartPubSubListener(ctx context.Context) {
	deliveries := m.Bus.SubscribeDeliveries(ctx)
	go func() {
		for d := range deliveries {
			m.deliverLocal(d)
		}
		log.Println("INFO: Redis delivery listener stopped.")
	}()
}
