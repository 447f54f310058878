package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/models"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bus keeps the state shared between service nodes in Redis:
// delivery fan-out over Pub/Sub, connection presence counters and the wait queue.
type Bus struct {
	Redis *redis.Client
}

func NewBus(rdb *redis.Client) *Bus {
	return &Bus{Redis: rdb}
}

// PublishDelivery publishes a delivery to every node.
func (b *Bus) PublishDelivery(ctx context.Context, d models.Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := b.Redis.Publish(ctx, config.DeliveryChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish delivery: %w", err)
	}
	return nil
}

// SubscribeDeliveries streams deliveries published by any node until ctx is done.
func (b *Bus) SubscribeDeliveries(ctx context.Context) <-chan models.Delivery {
	out := make(chan models.Delivery, 64)
	pubsub := b.Redis.Subscribe(ctx, config.DeliveryChannel)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var d models.Delivery
				if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
					log.Printf("ERROR: Error unmarshalling Redis delivery: %v", err)
					continue
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// MarkOnline counts one more live connection for p.
func (b *Bus) MarkOnline(ctx context.Context, p models.Participant) error {
	return b.Redis.HIncrBy(ctx, config.PresenceKey, p.Key(), 1).Err()
}

// MarkOffline drops one live connection for p and forgets p at zero.
func (b *Bus) MarkOffline(ctx context.Context, p models.Participant) error {
	member := p.Key()
	n, err := b.Redis.HIncrBy(ctx, config.PresenceKey, member, -1).Result()
	if err != nil {
		return err
	}
	if n <= 0 {
		return b.Redis.HDel(ctx, config.PresenceKey, member).Err()
	}
	return nil
}

// IsOnline reports whether any node holds a connection for p.
func (b *Bus) IsOnline(ctx context.Context, p models.Participant) (bool, error) {
	v, err := b.Redis.HGet(ctx, config.PresenceKey, p.Key()).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	n, _ := strconv.Atoi(v)
	return n > 0, nil
}

// Enqueue adds visitor to the wait queue, keeping its original position if already queued.
func (b *Bus) Enqueue(ctx context.Context, visitor models.VisitorIdentity, at time.Time) error {
	return b.Redis.ZAddNX(ctx, config.WaitQueueKey, redis.Z{
		Score:  float64(at.UnixNano()),
		Member: visitor.Key(),
	}).Err()
}

// Remove takes visitor out of the wait queue.
func (b *Bus) Remove(ctx context.Context, visitor models.VisitorIdentity) error {
	return b.Redis.ZRem(ctx, config.WaitQueueKey, visitor.Key()).Err()
}

// Waiting returns queued visitors, oldest first.
func (b *Bus) Waiting(ctx context.Context) ([]models.VisitorIdentity, error) {
	keys, err := b.Redis.ZRange(ctx, config.WaitQueueKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	visitors := make([]models.VisitorIdentity, 0, len(keys))
	for _, k := range keys {
		v, err := models.ParseVisitorKey(k)
		if err != nil {
			log.Printf("WARN: Dropping malformed wait queue entry %q: %v", k, err)
			b.Redis.ZRem(ctx, config.WaitQueueKey, k)
			continue
		}
		visitors = append(visitors, v)
	}
	return visitors, nil
}
