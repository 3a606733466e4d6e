package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vedran77/pulsecore/internal/config"
	"github.com/vedran77/pulsecore/internal/log"
	"github.com/vedran77/pulsecore/internal/metrics"
	"github.com/vedran77/pulsecore/pkg/wire"
)

// RedisBus shares events between server instances. Each channel publishes
// to its own topic; subscribers listen on the prefix pattern.
type RedisBus struct {
	client *redis.Client
	prefix string
}

func NewRedisBus(ctx context.Context, cfg config.RedisConfig) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "pulse"
	}
	return &RedisBus{client: client, prefix: prefix}, nil
}

func (b *RedisBus) Publish(ctx context.Context, ev *wire.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return b.client.Publish(ctx, channelTopic(b.prefix, ev.ChannelID), data).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan *wire.Event, error) {
	ps := b.client.PSubscribe(ctx, b.prefix+":channel:*")
	// Wait for the subscription to be confirmed so no publish is missed
	// after Subscribe returns.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan *wire.Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev wire.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					metrics.EventsDropped.WithLabelValues(metrics.DropUndecodable).Inc()
					log.L().Warn().Err(err).Str("topic", msg.Channel).Msg("dropping undecodable event")
					continue
				}
				select {
				case out <- &ev:
				case <-ctx.Done():
					return
				default:
					metrics.EventsDropped.WithLabelValues(metrics.DropBusOverflow).Inc()
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
