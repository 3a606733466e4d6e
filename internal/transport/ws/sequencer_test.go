package ws

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsecore/pkg/wire"
)

func seqEvent(seq uint64) *wire.Event {
	return &wire.Event{Type: wire.TypeMessageCreated, ChannelID: uuid.Nil, Seq: seq}
}

func seqs(events []*wire.Event) []uint64 {
	out := make([]uint64, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Seq)
	}
	return out
}

func TestSequencerReordersEarlyEvents(t *testing.T) {
	q := newSequencer()
	q.seed(0)
	now := time.Now()

	released, stale := q.push(seqEvent(2), now)
	assert.False(t, stale)
	assert.Empty(t, released)
	assert.False(t, q.idle())

	released, stale = q.push(seqEvent(3), now)
	assert.False(t, stale)
	assert.Empty(t, released)

	released, _ = q.push(seqEvent(1), now)
	assert.Equal(t, []uint64{1, 2, 3}, seqs(released))
	assert.True(t, q.idle())
}

func TestSequencerDropsStale(t *testing.T) {
	q := newSequencer()
	q.seed(5)
	now := time.Now()

	released, stale := q.push(seqEvent(5), now)
	assert.True(t, stale)
	assert.Empty(t, released)

	released, stale = q.push(seqEvent(6), now)
	assert.False(t, stale)
	assert.Equal(t, []uint64{6}, seqs(released))

	// Duplicate of a buffered event.
	q.push(seqEvent(8), now)
	_, stale = q.push(seqEvent(8), now)
	assert.True(t, stale)
}

func TestSequencerSeedOnlyOnce(t *testing.T) {
	q := newSequencer()
	q.seed(3)
	q.seed(10)

	released, _ := q.push(seqEvent(4), time.Now())
	assert.Equal(t, []uint64{4}, seqs(released))
}

func TestSequencerExpireSkipsGap(t *testing.T) {
	q := newSequencer()
	q.seed(0)
	start := time.Now()

	q.push(seqEvent(3), start)
	q.push(seqEvent(4), start)

	released, skipped := q.expire(start.Add(100*time.Millisecond), time.Second)
	assert.False(t, skipped)
	assert.Empty(t, released)

	released, skipped = q.expire(start.Add(time.Second), time.Second)
	require.True(t, skipped)
	assert.Equal(t, []uint64{3, 4}, seqs(released))
	assert.True(t, q.idle())

	// Late arrival of the skipped event is stale.
	_, stale := q.push(seqEvent(1), start.Add(2*time.Second))
	assert.True(t, stale)
}

func TestSequencerSkipsWhenBufferFull(t *testing.T) {
	q := newSequencer()
	q.seed(0)
	now := time.Now()

	var released []*wire.Event
	for seq := uint64(2); seq <= maxPending+2; seq++ {
		r, _ := q.push(seqEvent(seq), now)
		released = append(released, r...)
	}
	require.Len(t, released, maxPending+1)
	assert.Equal(t, uint64(2), released[0].Seq)
	assert.True(t, q.idle())
}
