// Package redisbus relays accepted room updates between relay instances over
// a Redis pub/sub channel. Nothing is persisted in Redis.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/codesync/internal/core"
)

// DefaultChannel is used when New receives an empty channel name.
const DefaultChannel = "codesync:updates"

// Bus implements core.Bus on top of Redis PUBLISH/SUBSCRIBE.
type Bus struct {
	client  *redis.Client
	channel string
	log     *zerolog.Logger
}

var _ core.Bus = (*Bus)(nil)

// New wraps an existing client. The caller owns the client and closes it.
func New(client *redis.Client, channel string, logger *zerolog.Logger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Bus{client: client, channel: channel, log: logger}
}

// Channel returns the pub/sub channel name.
func (b *Bus) Channel() string {
	return b.channel
}

// Publish broadcasts u to every subscribed instance.
func (b *Bus) Publish(ctx context.Context, u core.Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe blocks until ctx is done, passing every decoded update to fn.
// Payloads that fail to decode are logged and skipped.
func (b *Bus) Subscribe(ctx context.Context, fn func(core.Update)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed so no publish is missed
	// after Subscribe starts running.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}
	b.log.Info().Str("channel", b.channel).Msg("bus subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			var u core.Update
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				b.log.Warn().Err(err).Str("channel", b.channel).Msg("discarding malformed bus payload")
				continue
			}
			fn(u)
		}
	}
}
