package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBus broadcasts session events over a Redis pub/sub channel so that
// separate portal processes sharing one storage also share login state.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	log     zerolog.Logger
}

// NewRedisBus creates a bus publishing on the given channel. The client is
// shared with the Redis store; Close is a no-op so the store owns it.
func NewRedisBus(rdb *redis.Client, channel string, log zerolog.Logger) *RedisBus {
	return &RedisBus{
		rdb:     rdb,
		channel: channel,
		log:     log.With().Str("component", "broadcast").Logger(),
	}
}

// Publish announces a session change to every subscribed tab.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe delivers events to handler on a background goroutine until ctx
// is cancelled. Undecodable payloads are logged and dropped.
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)

	// Confirm the subscription before returning so callers don't miss
	// events published immediately after Subscribe.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	go func() {
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
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Warn().Err(err).Msg("Dropping undecodable broadcast event")
					continue
				}
				handler(ev)
			}
		}
	}()

	return nil
}

// Close is a no-op; the underlying client belongs to the storage layer.
func (b *RedisBus) Close() error {
	return nil
}
