// Package pubsub carries realtime events from the services to the hub of
// every server instance.
package pubsub

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/config"
	"github.com/vedran77/pulsecore/pkg/wire"
)

const subscriberBuffer = 1024

// Bus publishes events and hands every published event to each subscriber.
type Bus interface {
	Publish(ctx context.Context, ev *wire.Event) error
	// Subscribe delivers events until ctx is done; the channel is then closed.
	Subscribe(ctx context.Context) (<-chan *wire.Event, error)
	Close() error
}

// New builds the bus selected by cfg.Driver.
func New(ctx context.Context, cfg config.RealtimeConfig) (Bus, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedisBus(ctx, cfg.Redis)
	case "local", "":
		return NewLocalBus(), nil
	default:
		return nil, fmt.Errorf("pubsub: unknown driver %q", cfg.Driver)
	}
}

func channelTopic(prefix string, channelID uuid.UUID) string {
	return prefix + ":channel:" + channelID.String()
}
