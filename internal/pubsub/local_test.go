package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsecore/internal/config"
	"github.com/vedran77/pulsecore/pkg/wire"
)

func receive(t *testing.T, ch <-chan *wire.Event) *wire.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestLocalBusFansOut(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	ev, err := wire.NewEvent(wire.TypeMessageCreated, uuid.New(), nil, 1, map[string]string{"id": "x"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, ev))

	assert.Same(t, ev, receive(t, a))
	assert.Same(t, ev, receive(t, b))
}

func TestLocalBusUnsubscribeOnCancel(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}

	ev, err := wire.NewEvent(wire.TypeMessageCreated, uuid.New(), nil, 1, nil)
	require.NoError(t, err)
	assert.NoError(t, bus.Publish(context.Background(), ev))
}

func TestLocalBusClose(t *testing.T) {
	bus := NewLocalBus()
	ch, err := bus.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	_, ok := <-ch
	assert.False(t, ok)

	late, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	_, ok = <-late
	assert.False(t, ok)
}

func TestNewSelectsDriver(t *testing.T) {
	bus, err := New(context.Background(), config.RealtimeConfig{Driver: "local"})
	require.NoError(t, err)
	assert.IsType(t, &LocalBus{}, bus)

	_, err = New(context.Background(), config.RealtimeConfig{Driver: "kafka"})
	assert.Error(t, err)
}

func TestChannelTopic(t *testing.T) {
	id := uuid.MustParse("5f1c7a2e-0000-4000-8000-000000000001")
	assert.Equal(t, "pulse:channel:5f1c7a2e-0000-4000-8000-000000000001", channelTopic("pulse", id))
}
