package service

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/metrics"
)

type typingEntry struct {
	user      domain.TypingUser
	since     time.Time
	expiresAt time.Time
}

// TypingService tracks who is typing in each channel. State is process
// local and never persisted; an entry expires ttl after its last signal.
type TypingService struct {
	guard    *Guard
	notifier Notifier
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	channels map[uuid.UUID]map[uuid.UUID]typingEntry
	versions map[uuid.UUID]uint64
	version  uint64
	total    int
}

func NewTypingService(guard *Guard, ttl time.Duration) *TypingService {
	return &TypingService{
		guard:    guard,
		ttl:      ttl,
		now:      time.Now,
		channels: make(map[uuid.UUID]map[uuid.UUID]typingEntry),
		versions: make(map[uuid.UUID]uint64),
	}
}

func (s *TypingService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *TypingService) SetClock(now func() time.Time) {
	s.now = now
}

// Signal marks the actor as typing in the channel, or clears the mark. A
// repeated start only extends the expiry and broadcasts nothing.
func (s *TypingService) Signal(ctx context.Context, actor domain.Actor, channelID uuid.UUID, typing bool) error {
	if err := s.guard.Check(ctx, actor, ActionPostMessage, Target{ChannelID: channelID}); err != nil {
		return err
	}

	now := s.now()

	s.mu.Lock()
	users := s.channels[channelID]
	entry, present := users[actor.ID]

	var changed bool
	switch {
	case typing && present && now.Before(entry.expiresAt):
		entry.expiresAt = now.Add(s.ttl)
		users[actor.ID] = entry
	case typing:
		if present {
			s.total--
		}
		if users == nil {
			users = make(map[uuid.UUID]typingEntry)
			s.channels[channelID] = users
		}
		users[actor.ID] = typingEntry{
			user: domain.TypingUser{
				UserID:      actor.ID,
				Username:    actor.Username,
				DisplayName: actor.DisplayName,
			},
			since:     now,
			expiresAt: now.Add(s.ttl),
		}
		s.total++
		changed = true
	case present:
		s.remove(channelID, actor.ID)
		changed = true
	}

	var snap domain.TypingSnapshot
	if changed {
		s.bump(channelID)
		snap = s.snapshot(channelID, now)
	}
	total := s.total
	s.mu.Unlock()

	if changed {
		metrics.TypingUsers.Set(float64(total))
		s.notify(snap)
	}
	return nil
}

// List returns the channel's current typing set.
func (s *TypingService) List(ctx context.Context, actor domain.Actor, channelID uuid.UUID) (domain.TypingSnapshot, error) {
	if err := s.guard.Check(ctx, actor, ActionReadChannel, Target{ChannelID: channelID}); err != nil {
		return domain.TypingSnapshot{}, err
	}
	return s.Snapshot(channelID), nil
}

// Snapshot returns the typing set without an authorization check. Callers
// must have authorized the reader already.
func (s *TypingService) Snapshot(channelID uuid.UUID) domain.TypingSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(channelID, s.now())
}

// Sweep drops every expired entry and broadcasts the affected channels.
func (s *TypingService) Sweep() {
	now := s.now()

	s.mu.Lock()
	var snaps []domain.TypingSnapshot
	for channelID := range s.channels {
		if s.expire(channelID, now) {
			s.bump(channelID)
			snaps = append(snaps, s.snapshot(channelID, now))
		}
	}
	total := s.total
	s.mu.Unlock()

	if len(snaps) > 0 {
		metrics.TypingUsers.Set(float64(total))
	}
	for _, snap := range snaps {
		s.notify(snap)
	}
}

// Run sweeps every interval until ctx is done.
func (s *TypingService) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Forget drops a deleted channel's state.
func (s *TypingService) Forget(channelID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total -= len(s.channels[channelID])
	delete(s.channels, channelID)
	delete(s.versions, channelID)
}

// Drop clears a user who lost access to the channel.
func (s *TypingService) Drop(channelID, userID uuid.UUID) {
	s.mu.Lock()
	if _, ok := s.channels[channelID][userID]; !ok {
		s.mu.Unlock()
		return
	}
	s.remove(channelID, userID)
	s.bump(channelID)
	snap := s.snapshot(channelID, s.now())
	total := s.total
	s.mu.Unlock()

	metrics.TypingUsers.Set(float64(total))
	s.notify(snap)
}

func (s *TypingService) notify(snap domain.TypingSnapshot) {
	if s.notifier != nil {
		s.notifier.NotifyTyping(snap)
	}
}

// expire removes the channel's expired entries; s.mu must be held. It
// returns true when something was removed.
func (s *TypingService) expire(channelID uuid.UUID, now time.Time) bool {
	var removed bool
	for userID, e := range s.channels[channelID] {
		if !now.Before(e.expiresAt) {
			s.remove(channelID, userID)
			removed = true
		}
	}
	return removed
}

func (s *TypingService) remove(channelID, userID uuid.UUID) {
	users := s.channels[channelID]
	delete(users, userID)
	s.total--
	if len(users) == 0 {
		delete(s.channels, channelID)
	}
}

func (s *TypingService) bump(channelID uuid.UUID) {
	s.version++
	s.versions[channelID] = s.version
}

// snapshot leaves out entries that expired since the last sweep.
func (s *TypingService) snapshot(channelID uuid.UUID, now time.Time) domain.TypingSnapshot {
	entries := make([]typingEntry, 0, len(s.channels[channelID]))
	for _, e := range s.channels[channelID] {
		if now.Before(e.expiresAt) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].since.Equal(entries[j].since) {
			return entries[i].since.Before(entries[j].since)
		}
		return bytes.Compare(entries[i].user.UserID[:], entries[j].user.UserID[:]) < 0
	})

	users := make([]domain.TypingUser, len(entries))
	for i, e := range entries {
		users[i] = e.user
	}
	return domain.TypingSnapshot{
		ChannelID: channelID,
		Version:   s.versions[channelID],
		Users:     users,
	}
}
