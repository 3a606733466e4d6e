package ws

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/log"
	"github.com/vedran77/pulsecore/internal/metrics"
	"github.com/vedran77/pulsecore/internal/pubsub"
	"github.com/vedran77/pulsecore/pkg/wire"
	"golang.org/x/sync/errgroup"
)

const shardQueueSize = 4096

// Hub routes events to the clients subscribed to their scope. Channels are
// spread over shards; each shard is a single goroutine that owns its
// channels' subscriptions and sequencers.
type Hub struct {
	shards     []*shard
	gapTimeout time.Duration
	stopped    chan struct{}
}

type shard struct {
	hub      *Hub
	ops      chan func()
	events   chan *wire.Event
	channels map[uuid.UUID]*channelState
}

type channelState struct {
	seq      *sequencer
	channel  map[*Client]struct{}
	presence map[*Client]struct{}
	threads  map[uuid.UUID]map[*Client]struct{}
}

func newChannelState() *channelState {
	return &channelState{
		seq:      newSequencer(),
		channel:  make(map[*Client]struct{}),
		presence: make(map[*Client]struct{}),
		threads:  make(map[uuid.UUID]map[*Client]struct{}),
	}
}

func (cs *channelState) empty() bool {
	return len(cs.channel) == 0 && len(cs.presence) == 0 && len(cs.threads) == 0
}

func NewHub(shards int, gapTimeout time.Duration) *Hub {
	if shards <= 0 {
		shards = 1
	}
	if gapTimeout <= 0 {
		gapTimeout = 500 * time.Millisecond
	}
	h := &Hub{
		gapTimeout: gapTimeout,
		stopped:    make(chan struct{}),
	}
	for range shards {
		h.shards = append(h.shards, &shard{
			hub:      h,
			ops:      make(chan func()),
			events:   make(chan *wire.Event, shardQueueSize),
			channels: make(map[uuid.UUID]*channelState),
		})
	}
	return h
}

// Run starts the shards and feeds them every event from the bus until ctx
// is done.
func (h *Hub) Run(ctx context.Context, bus pubsub.Bus) error {
	events, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range h.shards {
		g.Go(func() error {
			s.run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		for ev := range events {
			h.Dispatch(ev)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		close(h.stopped)
		return nil
	})

	return g.Wait()
}

// Dispatch hands an event to the shard owning its channel.
func (h *Hub) Dispatch(ev *wire.Event) {
	select {
	case h.shardFor(ev.ChannelID).events <- ev:
	case <-h.stopped:
	}
}

// subscribe registers c for a scope and queues the subscribed frame before
// any event of that scope.
func (h *Hub) subscribe(c *Client, scope wire.Scope, id, channelID uuid.UUID, seq uint64) {
	h.exec(channelID, func(s *shard) {
		cs, ok := s.channels[channelID]
		if !ok {
			cs = newChannelState()
			s.channels[channelID] = cs
		}
		cs.seq.seed(seq)

		switch scope {
		case wire.ScopeChannel:
			cs.channel[c] = struct{}{}
		case wire.ScopePresence:
			cs.presence[c] = struct{}{}
		case wire.ScopeThread:
			subs, ok := cs.threads[id]
			if !ok {
				subs = make(map[*Client]struct{})
				cs.threads[id] = subs
			}
			subs[c] = struct{}{}
		}

		c.enqueue(encode(wire.Subscribed{Type: wire.TypeSubscribed, Scope: scope, ID: id, Seq: seq}))
	})
}

func (h *Hub) unsubscribe(c *Client, scope wire.Scope, id, channelID uuid.UUID) {
	h.exec(channelID, func(s *shard) {
		cs, ok := s.channels[channelID]
		if !ok {
			return
		}
		switch scope {
		case wire.ScopeChannel:
			delete(cs.channel, c)
		case wire.ScopePresence:
			delete(cs.presence, c)
		case wire.ScopeThread:
			delete(cs.threads[id], c)
			if len(cs.threads[id]) == 0 {
				delete(cs.threads, id)
			}
		}
		s.gc(channelID, cs)
	})
}

// unregister drops c from every scope on every shard.
func (h *Hub) unregister(c *Client) {
	for _, s := range h.shards {
		s.exec(func() { s.removeClient(c) })
	}
}

func (h *Hub) exec(channelID uuid.UUID, fn func(*shard)) {
	s := h.shardFor(channelID)
	s.exec(func() { fn(s) })
}

func (h *Hub) shardFor(channelID uuid.UUID) *shard {
	f := fnv.New32a()
	f.Write(channelID[:])
	return h.shards[f.Sum32()%uint32(len(h.shards))]
}

// exec runs fn on the shard goroutine and waits for it.
func (s *shard) exec(fn func()) {
	done := make(chan struct{})
	op := func() {
		fn()
		close(done)
	}
	select {
	case s.ops <- op:
		<-done
	case <-s.hub.stopped:
	}
}

func (s *shard) run(ctx context.Context) {
	tick := s.hub.gapTimeout / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case op := <-s.ops:
			op()
		case ev := <-s.events:
			s.handle(ev, time.Now())
		case now := <-ticker.C:
			s.expireGaps(now)
		}
	}
}

func (s *shard) handle(ev *wire.Event, now time.Time) {
	cs, ok := s.channels[ev.ChannelID]
	if !ok {
		// Nobody here listens to this channel.
		return
	}

	switch ev.Type {
	case wire.TypeChannelDeleted:
		s.deliver(cs, ev)
		delete(s.channels, ev.ChannelID)
		return
	case wire.TypeAccessChanged:
		s.applyAccess(ev, cs)
		return
	}
	if !ev.Sequenced() {
		s.deliver(cs, ev)
		return
	}

	expected := cs.seq.next
	released, stale := cs.seq.push(ev, now)
	if len(released) > 0 && expected != 0 && released[0].Seq != expected {
		// Too many events buffered behind the gap.
		s.skipped(ev.ChannelID, cs, released, now)
		return
	}
	if stale {
		metrics.EventsDropped.WithLabelValues(metrics.DropStaleSeq).Inc()
		log.L().Debug().
			Str(log.FieldChannelID, ev.ChannelID.String()).
			Uint64(log.FieldSeq, ev.Seq).
			Msg("dropping stale event")
	}
	for _, r := range released {
		s.deliver(cs, r)
	}
}

func (s *shard) expireGaps(now time.Time) {
	for channelID, cs := range s.channels {
		released, skipped := cs.seq.expire(now, s.hub.gapTimeout)
		if !skipped {
			continue
		}
		s.skipped(channelID, cs, released, now)
		s.gc(channelID, cs)
	}
}

// skipped tells every subscriber of the channel to refetch, then delivers
// what was released after the gap.
func (s *shard) skipped(channelID uuid.UUID, cs *channelState, released []*wire.Event, now time.Time) {
	metrics.GapsSkipped.Inc()
	log.L().Warn().
		Str(log.FieldChannelID, channelID.String()).
		Uint64(log.FieldSeq, released[0].Seq).
		Msg("sequence gap skipped")

	resync := encode(wire.Event{Type: wire.TypeResync, ChannelID: channelID, Seq: released[0].Seq, TS: now.UTC()})
	s.fanout(cs.all(), resync, nil)
	for _, r := range released {
		s.deliver(cs, r)
	}
}

// deliver sends ev to the scopes it belongs to.
func (s *shard) deliver(cs *channelState, ev *wire.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.L().Error().Err(err).Str(log.FieldEventType, ev.Type).Msg("marshal event")
		return
	}
	redacted := redact(ev)

	switch {
	case ev.Type == wire.TypeChannelDeleted:
		s.fanout(cs.all(), data, nil)
	case ev.Type == wire.TypeTypingSync:
		s.fanout(cs.presence, data, nil)
	case ev.Type == wire.TypeReplyCountChanged:
		s.fanout(cs.channel, data, nil)
		if ev.ThreadID != nil {
			s.fanout(cs.threads[*ev.ThreadID], data, nil)
		}
	case ev.ThreadID != nil:
		s.fanout(cs.threads[*ev.ThreadID], data, redacted)
	default:
		s.fanout(cs.channel, data, redacted)
	}
}

// redact returns the frame non-admins get for an update that hid a
// message, or nil when ev is the same for everyone.
func redact(ev *wire.Event) []byte {
	if ev.Type != wire.TypeMessageUpdated {
		return nil
	}
	var msg wire.HiddenMessage
	if err := json.Unmarshal(ev.Payload, &msg); err != nil || !msg.IsHidden {
		return nil
	}
	out := *ev
	out.Payload = encode(msg)
	return encode(&out)
}

// applyAccess drops a user's sessions from a channel they can no longer
// read. Sessions of admins stay.
func (s *shard) applyAccess(ev *wire.Event, cs *channelState) {
	var change wire.AccessChanged
	if err := json.Unmarshal(ev.Payload, &change); err != nil {
		metrics.EventsDropped.WithLabelValues(metrics.DropUndecodable).Inc()
		return
	}

	for c := range cs.all() {
		if c.userID != change.UserID {
			continue
		}
		if change.Admin != nil {
			c.admin.Store(*change.Admin)
		}
		if change.Member || c.admin.Load() {
			continue
		}
		s.revoke(ev.ChannelID, cs, c)
	}
	s.gc(ev.ChannelID, cs)
}

// revoke removes c from every scope of the channel and tells it so.
func (s *shard) revoke(channelID uuid.UUID, cs *channelState, c *Client) {
	var frames [][]byte
	unsubscribed := func(scope wire.Scope, id uuid.UUID) {
		frames = append(frames, encode(wire.Unsubscribed{
			Type:   wire.TypeUnsubscribed,
			Scope:  scope,
			ID:     id,
			Reason: wire.ReasonAccessRevoked,
		}))
	}

	if _, ok := cs.channel[c]; ok {
		delete(cs.channel, c)
		unsubscribed(wire.ScopeChannel, channelID)
	}
	if _, ok := cs.presence[c]; ok {
		delete(cs.presence, c)
		unsubscribed(wire.ScopePresence, channelID)
	}
	for id, subs := range cs.threads {
		if _, ok := subs[c]; !ok {
			continue
		}
		delete(subs, c)
		if len(subs) == 0 {
			delete(cs.threads, id)
		}
		unsubscribed(wire.ScopeThread, id)
	}

	log.L().Debug().
		Str(log.FieldUserID, c.userID.String()).
		Str(log.FieldChannelID, channelID.String()).
		Msg("access revoked")

	for _, f := range frames {
		if !c.enqueue(f) {
			c.kick("slow consumer")
			s.removeClient(c)
			return
		}
	}
}

// fanout queues data on every client without blocking; non-admins get
// redacted instead when it is set. A client whose buffer is full is
// disconnected and must resync.
func (s *shard) fanout(clients map[*Client]struct{}, data, redacted []byte) {
	for c := range clients {
		out := data
		if redacted != nil && !c.admin.Load() {
			out = redacted
		}
		if c.enqueue(out) {
			metrics.EventsDelivered.Inc()
			continue
		}
		metrics.EventsDropped.WithLabelValues(metrics.DropSlowConsumer).Inc()
		c.kick("slow consumer")
		s.removeClient(c)
	}
}

func (s *shard) removeClient(c *Client) {
	for channelID, cs := range s.channels {
		delete(cs.channel, c)
		delete(cs.presence, c)
		for id, subs := range cs.threads {
			delete(subs, c)
			if len(subs) == 0 {
				delete(cs.threads, id)
			}
		}
		s.gc(channelID, cs)
	}
}

// gc forgets a channel once nobody listens and no events are buffered; a
// later subscriber seeds a fresh sequencer from storage.
func (s *shard) gc(channelID uuid.UUID, cs *channelState) {
	if cs.empty() && cs.seq.idle() {
		delete(s.channels, channelID)
	}
}

func (cs *channelState) all() map[*Client]struct{} {
	all := make(map[*Client]struct{}, len(cs.channel)+len(cs.presence))
	for c := range cs.channel {
		all[c] = struct{}{}
	}
	for c := range cs.presence {
		all[c] = struct{}{}
	}
	for _, subs := range cs.threads {
		for c := range subs {
			all[c] = struct{}{}
		}
	}
	return all
}

// Subscribers counts the clients in a channel's scopes. Intended for tests
// and diagnostics.
func (h *Hub) Subscribers(channelID uuid.UUID) int {
	var n int
	h.exec(channelID, func(s *shard) {
		if cs, ok := s.channels[channelID]; ok {
			n = len(cs.all())
		}
	})
	return n
}
