package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/config"
)

// RedisChannel is a Channel over Redis pub/sub.
type RedisChannel struct {
	rdb     *redis.Client
	channel string
}

// NewRedisChannel connects to the configured Redis server.
func NewRedisChannel(cfg config.RedisConfig) *RedisChannel {
	return &RedisChannel{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		channel: cfg.Channel,
	}
}

// Ping checks the connection.
func (c *RedisChannel) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Publish sends msg to the channel.
func (c *RedisChannel) Publish(ctx context.Context, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	n, err := c.rdb.Publish(ctx, c.channel, data).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", c.channel, err)
	}
	log.Debug().Str("room", msg.Room).Str("channel", c.channel).Int64("receivers", n).Msg("Published notification")
	return nil
}

// Subscribe delivers messages to h until ctx ends or the subscription drops.
// Malformed payloads are logged and skipped.
func (c *RedisChannel) Subscribe(ctx context.Context, h Handler) error {
	ps := c.rdb.Subscribe(ctx, c.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.channel, err)
	}
	log.Info().Str("channel", c.channel).Msg("Subscribed to notifications")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s: %w", c.channel, ErrClosed)
			}
			msg, err := Decode([]byte(m.Payload))
			if err != nil {
				log.Warn().Err(err).Str("channel", c.channel).Msg("Ignoring malformed notification")
				continue
			}
			h(ctx, msg)
		}
	}
}

// Close closes the Redis client.
func (c *RedisChannel) Close() error {
	return c.rdb.Close()
}
