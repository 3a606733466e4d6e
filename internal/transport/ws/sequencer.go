package ws

import (
	"time"

	"github.com/vedran77/pulsecore/pkg/wire"
)

// maxPending bounds how many out-of-order events a channel buffers before
// the gap is skipped without waiting for the timeout.
const maxPending = 512

// sequencer releases one channel's events in commit sequence order.
// Events that arrive early wait for the missing ones; a gap that stays
// open longer than the shard's gap timeout is skipped.
type sequencer struct {
	next         uint64
	pending      map[uint64]*wire.Event
	waitingSince time.Time
}

func newSequencer() *sequencer {
	return &sequencer{pending: make(map[uint64]*wire.Event)}
}

// seed starts an idle sequencer after seq, the channel's sequence read
// from storage when a subscriber joined.
func (q *sequencer) seed(seq uint64) {
	if q.next == 0 {
		q.next = seq + 1
	}
}

// push accepts ev and returns the events that are now in order. stale is
// true when ev was older than what was already released.
func (q *sequencer) push(ev *wire.Event, now time.Time) (released []*wire.Event, stale bool) {
	if q.next == 0 {
		q.next = ev.Seq
	}
	switch {
	case ev.Seq < q.next:
		return nil, true
	case ev.Seq > q.next:
		if _, dup := q.pending[ev.Seq]; dup {
			return nil, true
		}
		q.pending[ev.Seq] = ev
		if q.waitingSince.IsZero() {
			q.waitingSince = now
		}
		if len(q.pending) > maxPending {
			released, _ = q.skip(now)
		}
		return released, false
	}

	released = append(released, ev)
	q.next++
	released = q.drain(released, now)
	return released, false
}

// expire skips the open gap when it has waited at least timeout. skipped
// reports whether a gap was given up on.
func (q *sequencer) expire(now time.Time, timeout time.Duration) (released []*wire.Event, skipped bool) {
	if len(q.pending) == 0 || now.Sub(q.waitingSince) < timeout {
		return nil, false
	}
	return q.skip(now)
}

func (q *sequencer) skip(now time.Time) ([]*wire.Event, bool) {
	if len(q.pending) == 0 {
		return nil, false
	}
	var lowest uint64
	for seq := range q.pending {
		if lowest == 0 || seq < lowest {
			lowest = seq
		}
	}
	q.next = lowest
	return q.drain(nil, now), true
}

func (q *sequencer) drain(released []*wire.Event, now time.Time) []*wire.Event {
	for {
		ev, ok := q.pending[q.next]
		if !ok {
			break
		}
		delete(q.pending, q.next)
		released = append(released, ev)
		q.next++
	}
	if len(q.pending) == 0 {
		q.waitingSince = time.Time{}
	} else if len(released) > 0 {
		// A new gap starts now.
		q.waitingSince = now
	}
	return released
}

func (q *sequencer) idle() bool {
	return len(q.pending) == 0
}
