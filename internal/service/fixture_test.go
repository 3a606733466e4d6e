package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/repository"
	"github.com/vedran77/pulsecore/internal/repository/memory"
	"github.com/vedran77/pulsecore/internal/service"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type note struct {
	Kind       string
	Seq        uint64
	MessageID  uuid.UUID
	ChannelID  uuid.UUID
	ReplyCount int
	Replies    []uuid.UUID
	Added      bool
	Typing     domain.TypingSnapshot
	UserID     uuid.UUID
	Member     bool
	Admin      *bool
}

// recorder is a Notifier that remembers every call.
type recorder struct {
	mu    sync.Mutex
	notes []note
}

func (r *recorder) add(n note) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) of(kind string) []note {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []note
	for _, n := range r.notes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = nil
}

func (r *recorder) NotifyMessageCreated(msg *domain.Message, seq uint64) {
	r.add(note{Kind: "created", Seq: seq, MessageID: msg.ID, ChannelID: msg.ChannelID})
}

func (r *recorder) NotifyMessageUpdated(msg *domain.Message, seq uint64) {
	r.add(note{Kind: "updated", Seq: seq, MessageID: msg.ID, ChannelID: msg.ChannelID})
}

func (r *recorder) NotifyMessageDeleted(msg *domain.Message, deletedReplies []uuid.UUID, seq uint64) {
	r.add(note{Kind: "deleted", Seq: seq, MessageID: msg.ID, ChannelID: msg.ChannelID, Replies: deletedReplies})
}

func (r *recorder) NotifyReplyCountChanged(channelID, parentID uuid.UUID, replyCount int, seq uint64) {
	r.add(note{Kind: "reply_count", Seq: seq, MessageID: parentID, ChannelID: channelID, ReplyCount: replyCount})
}

func (r *recorder) NotifyReaction(channelID uuid.UUID, threadID *uuid.UUID, rc domain.Reaction, added bool, seq uint64) {
	r.add(note{Kind: "reaction", Seq: seq, MessageID: rc.MessageID, ChannelID: channelID, Added: added})
}

func (r *recorder) NotifyTyping(snapshot domain.TypingSnapshot) {
	r.add(note{Kind: "typing", ChannelID: snapshot.ChannelID, Typing: snapshot})
}

func (r *recorder) NotifyChannelDeleted(channelID uuid.UUID) {
	r.add(note{Kind: "channel_deleted", ChannelID: channelID})
}

func (r *recorder) NotifyAccessChanged(change service.AccessChange) {
	r.add(note{Kind: "access", ChannelID: change.ChannelID, UserID: change.UserID, Member: change.Member, Admin: change.Admin})
}

type fixture struct {
	ctx   context.Context
	store *memory.Store
	clock *clock
	notes *recorder

	guard     *service.Guard
	messages  *service.MessageService
	reactions *service.ReactionService
	typing    *service.TypingService
	channels  *service.ChannelService
	profiles  *service.ProfileService

	channelID uuid.UUID
	member    domain.Actor
	other     domain.Actor
	outsider  domain.Actor
	admin     domain.Actor
	super     domain.Actor
}

type fixtureOption func(*service.MessageOptions)

func withPolicy(p repository.ReplyPolicy) fixtureOption {
	return func(o *service.MessageOptions) { o.ThreadDeletePolicy = p }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	clk := &clock{now: t0}
	notes := &recorder{}

	msgOpts := service.MessageOptions{PageSize: 50, MaxPageSize: 100}
	for _, o := range opts {
		o(&msgOpts)
	}

	f := &fixture{
		ctx:   ctx,
		store: store,
		clock: clk,
		notes: notes,
	}

	f.guard = service.NewGuard(store.Channels, 3*time.Minute)
	f.guard.SetClock(clk.Now)
	f.messages = service.NewMessageService(store.Messages, store.Channels, f.guard, msgOpts)
	f.messages.SetClock(clk.Now)
	f.messages.SetNotifier(notes)
	f.reactions = service.NewReactionService(store.Reactions, store.Messages, f.guard)
	f.reactions.SetNotifier(notes)
	f.typing = service.NewTypingService(f.guard, 2*time.Second)
	f.typing.SetClock(clk.Now)
	f.typing.SetNotifier(notes)
	f.channels = service.NewChannelService(store.Channels, f.guard)
	f.channels.SetNotifier(notes)
	f.channels.SetTyping(f.typing)
	f.profiles = service.NewProfileService(store.Profiles, f.guard)
	f.profiles.SetNotifier(notes, store.Channels)

	f.member = f.addProfile(t, "ana", domain.RoleMember)
	f.other = f.addProfile(t, "bojan", domain.RoleMember)
	f.outsider = f.addProfile(t, "eve", domain.RoleMember)
	f.admin = f.addProfile(t, "mod", domain.RoleAdmin)
	f.super = f.addProfile(t, "root", domain.RoleSuperAdmin)

	ch, err := f.channels.Create(ctx, f.admin, service.CreateChannelInput{Name: "general"})
	require.NoError(t, err)
	f.channelID = ch.ID
	f.join(t, f.member, ch.ID)
	f.join(t, f.other, ch.ID)

	return f
}

func (f *fixture) addProfile(t *testing.T, username string, role domain.Role) domain.Actor {
	t.Helper()
	p, err := f.profiles.Upsert(f.ctx, service.UpsertProfileInput{
		Username:    username,
		DisplayName: username,
		Role:        role,
	})
	require.NoError(t, err)
	return domain.ActorFromProfile(p)
}

func (f *fixture) join(t *testing.T, actor domain.Actor, channelID uuid.UUID) {
	t.Helper()
	_, err := f.channels.Join(f.ctx, actor, channelID)
	require.NoError(t, err)
}

func (f *fixture) post(t *testing.T, actor domain.Actor, content string) *domain.Message {
	t.Helper()
	msg, err := f.messages.Post(f.ctx, actor, f.channelID, service.PostMessageInput{Content: content})
	require.NoError(t, err)
	return msg
}

func (f *fixture) reply(t *testing.T, actor domain.Actor, parentID uuid.UUID, content string) *domain.Message {
	t.Helper()
	msg, err := f.messages.Post(f.ctx, actor, f.channelID, service.PostMessageInput{Content: content, ParentID: &parentID})
	require.NoError(t, err)
	return msg
}
