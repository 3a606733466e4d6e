// Package memory is an in-process implementation of the repository
// interfaces. A single mutex stands in for the database transaction, so
// every operation is atomic with respect to the others.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/repository"
)

type reactionKey struct {
	messageID uuid.UUID
	userID    uuid.UUID
	emoji     string
}

type storedReaction struct {
	domain.Reaction
	n uint64
}

type deletionKey struct {
	messageID uuid.UUID
	userID    uuid.UUID
}

type state struct {
	mu        sync.Mutex
	profiles  map[uuid.UUID]domain.Profile
	channels  map[uuid.UUID]*domain.Channel
	members   map[uuid.UUID]map[uuid.UUID]time.Time
	messages  map[uuid.UUID]*domain.Message
	reactions map[reactionKey]storedReaction
	deletions map[deletionKey]time.Time
	counter   uint64
}

type Store struct {
	Profiles  *ProfileRepo
	Channels  *ChannelRepo
	Messages  *MessageRepo
	Reactions *ReactionRepo
}

func New() *Store {
	s := &state{
		profiles:  make(map[uuid.UUID]domain.Profile),
		channels:  make(map[uuid.UUID]*domain.Channel),
		members:   make(map[uuid.UUID]map[uuid.UUID]time.Time),
		messages:  make(map[uuid.UUID]*domain.Message),
		reactions: make(map[reactionKey]storedReaction),
		deletions: make(map[deletionKey]time.Time),
	}
	return &Store{
		Profiles:  &ProfileRepo{s: s},
		Channels:  &ChannelRepo{s: s},
		Messages:  &MessageRepo{s: s},
		Reactions: &ReactionRepo{s: s},
	}
}

func (s *state) reserveSeq(channelID uuid.UUID, n int) (uint64, error) {
	ch, ok := s.channels[channelID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	first := ch.EventSeq + 1
	ch.EventSeq += uint64(n)
	return first, nil
}

// removeMessage drops a message with its reactions and deletions-for-me.
func (s *state) removeMessage(id uuid.UUID) {
	delete(s.messages, id)
	for k := range s.reactions {
		if k.messageID == id {
			delete(s.reactions, k)
		}
	}
	for k := range s.deletions {
		if k.messageID == id {
			delete(s.deletions, k)
		}
	}
}

// --- profiles ---

type ProfileRepo struct{ s *state }

func (r *ProfileRepo) Upsert(ctx context.Context, p *domain.Profile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, existing := range r.s.profiles {
		if id != p.ID && existing.Username == p.Username {
			return repository.ErrDuplicate
		}
	}
	r.s.profiles[p.ID] = *p
	return nil
}

func (r *ProfileRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *ProfileRepo) List(ctx context.Context) ([]domain.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	profiles := make([]domain.Profile, 0, len(r.s.profiles))
	for _, p := range r.s.profiles {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Username < profiles[j].Username })
	return profiles, nil
}

func (r *ProfileRepo) UpdateRole(ctx context.Context, id uuid.UUID, role domain.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.profiles[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Role = role
	r.s.profiles[id] = p
	return nil
}

// --- channels ---

type ChannelRepo struct{ s *state }

func (r *ChannelRepo) Create(ctx context.Context, ch *domain.Channel, members ...domain.ChannelMember) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.channels {
		if existing.Name == ch.Name {
			return repository.ErrDuplicate
		}
	}
	joined := make(map[uuid.UUID]time.Time, len(members))
	for _, m := range members {
		if _, ok := r.s.profiles[m.UserID]; !ok {
			return repository.ErrNotFound
		}
		joined[m.UserID] = m.JoinedAt
	}
	stored := *ch
	stored.IsMember = false
	r.s.channels[ch.ID] = &stored
	r.s.members[ch.ID] = joined
	return nil
}

func (r *ChannelRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ch, ok := r.s.channels[id]
	if !ok {
		return nil, nil
	}
	c := *ch
	return &c, nil
}

func (r *ChannelRepo) List(ctx context.Context, viewerID uuid.UUID) ([]domain.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	channels := make([]domain.Channel, 0, len(r.s.channels))
	for id, ch := range r.s.channels {
		c := *ch
		_, c.IsMember = r.s.members[id][viewerID]
		channels = append(channels, c)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].Name < channels[j].Name })
	return channels, nil
}

func (r *ChannelRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.channels, id)
	delete(r.s.members, id)
	for msgID, msg := range r.s.messages {
		if msg.ChannelID == id {
			r.s.removeMessage(msgID)
		}
	}
	return nil
}

func (r *ChannelRepo) AddMember(ctx context.Context, m *domain.ChannelMember) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	members, ok := r.s.members[m.ChannelID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if _, ok := r.s.profiles[m.UserID]; !ok {
		return false, repository.ErrNotFound
	}
	if _, exists := members[m.UserID]; exists {
		return false, nil
	}
	members[m.UserID] = m.JoinedAt
	return true, nil
}

func (r *ChannelRepo) RemoveMember(ctx context.Context, channelID, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.members[channelID], userID)
	return nil
}

func (r *ChannelRepo) IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	_, ok := r.s.members[channelID][userID]
	return ok, nil
}

func (r *ChannelRepo) ListMembers(ctx context.Context, channelID uuid.UUID) ([]domain.ChannelMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var members []domain.ChannelMember
	for userID, joinedAt := range r.s.members[channelID] {
		p := r.s.profiles[userID]
		members = append(members, domain.ChannelMember{
			ChannelID:   channelID,
			UserID:      userID,
			JoinedAt:    joinedAt,
			Username:    p.Username,
			DisplayName: p.DisplayName,
			Role:        p.Role,
		})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].JoinedAt.Before(members[j].JoinedAt) })
	return members, nil
}

// --- messages ---

type MessageRepo struct{ s *state }

func (s *state) copyMessage(m *domain.Message) domain.Message {
	c := *m
	c.Attachments = append([]domain.Attachment{}, m.Attachments...)
	if m.ParentID != nil {
		parent := *m.ParentID
		c.ParentID = &parent
	}
	p := s.profiles[m.AuthorID]
	c.AuthorUsername = p.Username
	c.AuthorDisplayName = p.DisplayName
	c.ClientNonce = ""
	return c
}

func olderThan(m *domain.Message, c repository.Cursor) bool {
	if m.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	if c.ID == uuid.Nil || !m.CreatedAt.Equal(c.CreatedAt) {
		return false
	}
	return bytes.Compare(m.ID[:], c.ID[:]) < 0
}

func chronological(messages []domain.Message) {
	sort.Slice(messages, func(i, j int) bool {
		a, b := messages[i], messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
}

func (s *state) visible(m *domain.Message, viewerID uuid.UUID, includeHidden bool) bool {
	if m.IsHidden && !includeHidden {
		return false
	}
	_, deleted := s.deletions[deletionKey{messageID: m.ID, userID: viewerID}]
	return !deleted
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) (repository.MessageCommit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var commit repository.MessageCommit
	if _, ok := r.s.profiles[msg.AuthorID]; !ok {
		return commit, repository.ErrNotFound
	}

	var parent *domain.Message
	if msg.IsReply() {
		p, ok := r.s.messages[*msg.ParentID]
		if !ok || p.ChannelID != msg.ChannelID || p.IsReply() {
			return commit, repository.ErrNotFound
		}
		parent = p
	}
	if _, exists := r.s.messages[msg.ID]; exists {
		return commit, repository.ErrDuplicate
	}

	reserve := 1
	if parent != nil {
		reserve = 2
	}
	seq, err := r.s.reserveSeq(msg.ChannelID, reserve)
	if err != nil {
		return commit, err
	}
	commit.Seq = seq

	stored := *msg
	stored.Attachments = append([]domain.Attachment{}, msg.Attachments...)
	stored.ReplyCount = 0
	r.s.messages[msg.ID] = &stored

	if parent != nil {
		parent.ReplyCount++
		commit.ReplyCount = parent.ReplyCount
	}
	return commit, nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.messages[id]
	if !ok {
		return nil, nil
	}
	c := r.s.copyMessage(m)
	return &c, nil
}

func (r *MessageRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var messages []domain.Message
	for _, id := range ids {
		if m, ok := r.s.messages[id]; ok {
			messages = append(messages, r.s.copyMessage(m))
		}
	}
	return messages, nil
}

func (r *MessageRepo) List(ctx context.Context, q repository.MessageQuery) ([]domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var page []domain.Message
	for _, m := range r.s.messages {
		if m.ChannelID != q.ChannelID || m.IsReply() || !r.s.visible(m, q.ViewerID, q.IncludeHidden) {
			continue
		}
		if q.Before != nil && !olderThan(m, *q.Before) {
			continue
		}
		page = append(page, r.s.copyMessage(m))
	}

	chronological(page)
	if len(page) > q.Limit {
		page = page[len(page)-q.Limit:]
	}
	return page, nil
}

func (r *MessageRepo) ListReplies(ctx context.Context, parentID, viewerID uuid.UUID, includeHidden bool) ([]domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var replies []domain.Message
	for _, m := range r.s.messages {
		if m.ParentID == nil || *m.ParentID != parentID || !r.s.visible(m, viewerID, includeHidden) {
			continue
		}
		replies = append(replies, r.s.copyMessage(m))
	}
	chronological(replies)
	return replies, nil
}

func (r *MessageRepo) SetHidden(ctx context.Context, id uuid.UUID, hidden bool, at time.Time) (*domain.Message, uint64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.messages[id]
	if !ok {
		return nil, 0, nil
	}
	seq, err := r.s.reserveSeq(m.ChannelID, 1)
	if err != nil {
		return nil, 0, err
	}
	m.IsHidden = hidden
	m.UpdatedAt = at

	c := r.s.copyMessage(m)
	return &c, seq, nil
}

func (r *MessageRepo) Delete(ctx context.Context, id uuid.UUID, policy repository.ReplyPolicy) (*repository.DeleteResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.messages[id]
	if !ok {
		return &repository.DeleteResult{}, nil
	}

	var replies []uuid.UUID
	if !m.IsReply() {
		for rid, other := range r.s.messages {
			if other.ParentID != nil && *other.ParentID == id {
				replies = append(replies, rid)
			}
		}
		if policy == repository.ReplyPolicyBlock && len(replies) > 0 {
			return nil, repository.ErrHasReplies
		}
	}

	seq, err := r.s.reserveSeq(m.ChannelID, 1)
	if err != nil {
		return nil, err
	}

	c := r.s.copyMessage(m)
	result := &repository.DeleteResult{Message: &c, Seq: seq}

	if !m.IsReply() && policy == repository.ReplyPolicyCascade {
		sort.Slice(replies, func(i, j int) bool { return bytes.Compare(replies[i][:], replies[j][:]) < 0 })
		for _, rid := range replies {
			r.s.removeMessage(rid)
		}
		result.DeletedReplies = replies
	}
	r.s.removeMessage(id)
	return result, nil
}

func (r *MessageRepo) HideForUser(ctx context.Context, messageID, userID uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.messages[messageID]; !ok {
		return repository.ErrNotFound
	}
	key := deletionKey{messageID: messageID, userID: userID}
	if _, exists := r.s.deletions[key]; !exists {
		r.s.deletions[key] = at
	}
	return nil
}

// --- reactions ---

type ReactionRepo struct{ s *state }

func (r *ReactionRepo) Toggle(ctx context.Context, channelID uuid.UUID, reaction domain.Reaction) (repository.ToggleResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var result repository.ToggleResult
	if _, ok := r.s.messages[reaction.MessageID]; !ok {
		return result, repository.ErrNotFound
	}
	seq, err := r.s.reserveSeq(channelID, 1)
	if err != nil {
		return result, err
	}
	result.Seq = seq

	key := reactionKey{messageID: reaction.MessageID, userID: reaction.UserID, emoji: reaction.Emoji}
	if existing, ok := r.s.reactions[key]; ok {
		delete(r.s.reactions, key)
		result.Reaction = existing.Reaction
		return result, nil
	}

	r.s.counter++
	r.s.reactions[key] = storedReaction{Reaction: reaction, n: r.s.counter}
	result.Applied = true
	result.Reaction = reaction
	return result, nil
}

func (r *ReactionRepo) ListByMessages(ctx context.Context, messageIDs []uuid.UUID) ([]domain.Reaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	wanted := make(map[uuid.UUID]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = struct{}{}
	}

	var stored []storedReaction
	for k, rc := range r.s.reactions {
		if _, ok := wanted[k.messageID]; ok {
			stored = append(stored, rc)
		}
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].n < stored[j].n })

	reactions := make([]domain.Reaction, 0, len(stored))
	for _, rc := range stored {
		reactions = append(reactions, rc.Reaction)
	}
	return reactions, nil
}

var (
	_ repository.ProfileRepository  = (*ProfileRepo)(nil)
	_ repository.ChannelRepository  = (*ChannelRepo)(nil)
	_ repository.MessageRepository  = (*MessageRepo)(nil)
	_ repository.ReactionRepository = (*ReactionRepo)(nil)
)
