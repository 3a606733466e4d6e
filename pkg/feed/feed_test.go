package feed

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/pkg/wire"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func message(channelID uuid.UUID, offset time.Duration, content string) domain.Message {
	return domain.Message{
		ID:          uuid.New(),
		ChannelID:   channelID,
		AuthorID:    uuid.New(),
		Content:     content,
		Attachments: []domain.Attachment{},
		CreatedAt:   t0.Add(offset),
		UpdatedAt:   t0.Add(offset),
	}
}

func mkEvent(t *testing.T, eventType string, channelID uuid.UUID, threadID *uuid.UUID, seq uint64, payload any) *wire.Event {
	t.Helper()
	ev, err := wire.NewEvent(eventType, channelID, threadID, seq, payload)
	require.NoError(t, err)
	return ev
}

func contents(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out
}

func TestTentativeReplacedByEvent(t *testing.T) {
	channelID, viewer := uuid.New(), uuid.New()
	f := New(channelID, viewer, Options{})
	f.Load(&Page{}, 0)

	f.AddTentative("nonce-1", "hello", nil, t0)
	entries := f.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Tentative)

	stored := message(channelID, time.Second, "hello")
	stored.AuthorID = viewer
	stored.ClientNonce = "nonce-1"
	outcome, err := f.Apply(mkEvent(t, wire.TypeMessageCreated, channelID, nil, 1, stored))
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)

	entries = f.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Tentative)
	assert.Equal(t, stored.ID, entries[0].ID)
	assert.Empty(t, entries[0].ClientNonce)
}

func TestConfirmThenEventDoesNotDuplicate(t *testing.T) {
	channelID, viewer := uuid.New(), uuid.New()
	f := New(channelID, viewer, Options{})

	f.AddTentative("n", "hi", nil, t0)
	stored := message(channelID, 0, "hi")
	f.Confirm("n", stored)

	stored.ClientNonce = "n"
	_, err := f.Apply(mkEvent(t, wire.TypeMessageCreated, channelID, nil, 1, stored))
	require.NoError(t, err)

	entries := f.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, stored.ID, entries[0].ID)
}

func TestFailDropsTentative(t *testing.T) {
	f := New(uuid.New(), uuid.New(), Options{})
	f.AddTentative("n", "hi", nil, t0)
	f.Fail("n")
	assert.Empty(t, f.Entries())
}

func TestStaleEventsDropped(t *testing.T) {
	channelID := uuid.New()
	existing := message(channelID, 0, "first")
	f := New(channelID, uuid.New(), Options{})
	f.Load(&Page{Messages: []domain.Message{existing}}, 5)

	late := message(channelID, time.Second, "late")
	outcome, err := f.Apply(mkEvent(t, wire.TypeMessageCreated, channelID, nil, 5, late))
	require.NoError(t, err)
	assert.Equal(t, Stale, outcome)
	assert.Equal(t, []string{"first"}, contents(f.Entries()))

	next := message(channelID, 2*time.Second, "next")
	outcome, err = f.Apply(mkEvent(t, wire.TypeMessageCreated, channelID, nil, 6, next))
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, uint64(6), f.Seq())
	assert.Equal(t, []string{"first", "next"}, contents(f.Entries()))
}

func TestResyncRequestsReload(t *testing.T) {
	channelID := uuid.New()
	f := New(channelID, uuid.New(), Options{})
	f.Load(&Page{}, 3)

	outcome, err := f.Apply(&wire.Event{Type: wire.TypeResync, ChannelID: channelID, Seq: 10})
	require.NoError(t, err)
	assert.Equal(t, Resync, outcome)
	assert.True(t, f.NeedsReload())

	m := message(channelID, 0, "after gap")
	outcome, err = f.Apply(mkEvent(t, wire.TypeMessageCreated, channelID, nil, 10, m))
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)

	f.Reload(&Page{Messages: []domain.Message{message(channelID, -time.Second, "missed"), m}})
	assert.False(t, f.NeedsReload())
	assert.Equal(t, uint64(10), f.Seq())
	assert.Equal(t, []string{"missed", "after gap"}, contents(f.Entries()))
}

func TestThreadEventsStayInThreadFeed(t *testing.T) {
	channelID := uuid.New()
	parent := message(channelID, 0, "parent")

	channelFeed := New(channelID, uuid.New(), Options{})
	channelFeed.Load(&Page{Messages: []domain.Message{parent}}, 0)
	threadFeed := New(channelID, uuid.New(), Options{ThreadID: &parent.ID})
	threadFeed.Load(&Page{}, 0)

	reply := message(channelID, time.Second, "reply")
	reply.ParentID = &parent.ID
	created := mkEvent(t, wire.TypeMessageCreated, channelID, &parent.ID, 1, reply)
	counted := mkEvent(t, wire.TypeReplyCountChanged, channelID, &parent.ID, 2,
		wire.ReplyCountChanged{ParentID: parent.ID, ReplyCount: 1})

	outcome, err := channelFeed.Apply(created)
	require.NoError(t, err)
	assert.Equal(t, Ignored, outcome)
	_, err = channelFeed.Apply(counted)
	require.NoError(t, err)

	entries := channelFeed.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].ReplyCount)

	outcome, err = threadFeed.Apply(created)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, []string{"reply"}, contents(threadFeed.Entries()))
}

func TestReactionsAreIdempotent(t *testing.T) {
	channelID, viewer, other := uuid.New(), uuid.New(), uuid.New()
	m := message(channelID, 0, "react to me")
	f := New(channelID, viewer, Options{})
	f.Load(&Page{Messages: []domain.Message{m}}, 0)

	mine := domain.Reaction{ID: uuid.New(), MessageID: m.ID, UserID: viewer, Emoji: "👍"}
	theirs := domain.Reaction{ID: uuid.New(), MessageID: m.ID, UserID: other, Emoji: "👍"}

	f.Apply(mkEvent(t, wire.TypeReactionCreated, channelID, nil, 1, mine))
	f.Apply(mkEvent(t, wire.TypeReactionCreated, channelID, nil, 2, theirs))
	// The same reaction again, as after a page that already contained it.
	f.Apply(mkEvent(t, wire.TypeReactionCreated, channelID, nil, 3, theirs))

	groups := f.Entries()[0].Reactions
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].Count)
	assert.True(t, groups[0].HasReacted)

	f.Apply(mkEvent(t, wire.TypeReactionDeleted, channelID, nil, 4, mine))
	groups = f.Entries()[0].Reactions
	require.Len(t, groups, 1)
	assert.Equal(t, 1, groups[0].Count)
	assert.False(t, groups[0].HasReacted)

	f.Apply(mkEvent(t, wire.TypeReactionDeleted, channelID, nil, 5, theirs))
	assert.Empty(t, f.Entries()[0].Reactions)
}

func TestHiddenMessagesLeaveMemberFeed(t *testing.T) {
	channelID := uuid.New()
	m := message(channelID, 0, "spam")

	member := New(channelID, uuid.New(), Options{})
	member.Load(&Page{Messages: []domain.Message{m}}, 0)
	admin := New(channelID, uuid.New(), Options{IncludeHidden: true})
	admin.Load(&Page{Messages: []domain.Message{m}}, 0)

	hidden := m
	hidden.IsHidden = true
	ev := mkEvent(t, wire.TypeMessageUpdated, channelID, nil, 1, hidden)

	_, err := member.Apply(ev)
	require.NoError(t, err)
	assert.Empty(t, member.Entries())

	_, err = admin.Apply(ev)
	require.NoError(t, err)
	require.Len(t, admin.Entries(), 1)
	assert.True(t, admin.Entries()[0].IsHidden)

	// Un-hiding brings it back.
	_, err = member.Apply(mkEvent(t, wire.TypeMessageUpdated, channelID, nil, 2, m))
	require.NoError(t, err)
	assert.Equal(t, []string{"spam"}, contents(member.Entries()))
}

func TestDeleteRemovesMessageAndReplies(t *testing.T) {
	channelID := uuid.New()
	a := message(channelID, 0, "a")
	b := message(channelID, time.Second, "b")
	f := New(channelID, uuid.New(), Options{})
	f.Load(&Page{Messages: []domain.Message{a, b}}, 0)

	_, err := f.Apply(mkEvent(t, wire.TypeMessageDeleted, channelID, nil, 1,
		wire.MessageDeleted{ID: a.ID, ChannelID: channelID, DeletedReplies: []uuid.UUID{uuid.New()}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, contents(f.Entries()))
}

func TestPrependOlderPage(t *testing.T) {
	channelID := uuid.New()
	older := message(channelID, -time.Minute, "older")
	newer := message(channelID, 0, "newer")

	f := New(channelID, uuid.New(), Options{})
	f.Load(&Page{Messages: []domain.Message{newer}, HasMore: true, NextCursor: "c1"}, 0)
	more, cursor := f.HasMore()
	assert.True(t, more)
	assert.Equal(t, "c1", cursor)

	f.Prepend(&Page{Messages: []domain.Message{older, newer}})
	assert.Equal(t, []string{"older", "newer"}, contents(f.Entries()))
	more, _ = f.HasMore()
	assert.False(t, more)
}

func TestTypingSnapshots(t *testing.T) {
	channelID, viewer, other := uuid.New(), uuid.New(), uuid.New()
	f := New(channelID, viewer, Options{})

	snap := domain.TypingSnapshot{ChannelID: channelID, Version: 2, Users: []domain.TypingUser{
		{UserID: viewer, Username: "me"},
		{UserID: other, Username: "bojan"},
	}}
	outcome, err := f.Apply(mkEvent(t, wire.TypeTypingSync, channelID, nil, 0, snap))
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)

	users := f.Typing()
	require.Len(t, users, 1)
	assert.Equal(t, "bojan", users[0].Username)

	old := domain.TypingSnapshot{ChannelID: channelID, Version: 1, Users: []domain.TypingUser{}}
	outcome, err = f.Apply(mkEvent(t, wire.TypeTypingSync, channelID, nil, 0, old))
	require.NoError(t, err)
	assert.Equal(t, Stale, outcome)
	assert.Len(t, f.Typing(), 1)
}

func TestChannelDeleted(t *testing.T) {
	channelID := uuid.New()
	f := New(channelID, uuid.New(), Options{})
	f.Load(&Page{Messages: []domain.Message{message(channelID, 0, "x")}}, 0)

	outcome, err := f.Apply(mkEvent(t, wire.TypeChannelDeleted, channelID, nil, 0, wire.ChannelDeleted{ID: channelID}))
	require.NoError(t, err)
	assert.Equal(t, Deleted, outcome)
	assert.True(t, f.Deleted())
	assert.Empty(t, f.Entries())
}

func TestOtherChannelIgnored(t *testing.T) {
	f := New(uuid.New(), uuid.New(), Options{})
	other := uuid.New()
	outcome, err := f.Apply(mkEvent(t, wire.TypeMessageCreated, other, nil, 1, message(other, 0, "x")))
	require.NoError(t, err)
	assert.Equal(t, Ignored, outcome)
	assert.Equal(t, uint64(0), f.Seq())
}
