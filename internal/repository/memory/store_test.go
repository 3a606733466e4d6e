package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/repository"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type seeded struct {
	store   *Store
	channel uuid.UUID
	user    uuid.UUID
}

func seed(t *testing.T) *seeded {
	t.Helper()
	ctx := context.Background()
	s := New()

	user := uuid.New()
	require.NoError(t, s.Profiles.Upsert(ctx, &domain.Profile{ID: user, Username: "ana", DisplayName: "Ana", Role: domain.RoleMember}))

	ch := &domain.Channel{ID: uuid.New(), Name: "general", CreatedBy: user, CreatedAt: base}
	require.NoError(t, s.Channels.Create(ctx, ch))
	added, err := s.Channels.AddMember(ctx, &domain.ChannelMember{ChannelID: ch.ID, UserID: user, JoinedAt: base})
	require.NoError(t, err)
	require.True(t, added)

	return &seeded{store: s, channel: ch.ID, user: user}
}

func (s *seeded) message(t *testing.T, at time.Time, parent *uuid.UUID) (*domain.Message, repository.MessageCommit) {
	t.Helper()
	msg := &domain.Message{
		ID:        uuid.New(),
		ChannelID: s.channel,
		AuthorID:  s.user,
		ParentID:  parent,
		Content:   "x",
		CreatedAt: at,
		UpdatedAt: at,
	}
	commit, err := s.store.Messages.Create(context.Background(), msg)
	require.NoError(t, err)
	return msg, commit
}

func TestSequenceNumbersAreContiguous(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	parent, c1 := s.message(t, base, nil)
	assert.Equal(t, uint64(1), c1.Seq)

	_, c2 := s.message(t, base.Add(time.Second), &parent.ID)
	assert.Equal(t, uint64(2), c2.Seq)
	assert.Equal(t, 1, c2.ReplyCount)

	res, err := s.store.Reactions.Toggle(ctx, s.channel, domain.Reaction{ID: uuid.New(), MessageID: parent.ID, UserID: s.user, Emoji: "👍"})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), res.Seq)

	_, seq, err := s.store.Messages.SetHidden(ctx, parent.ID, true, base)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), seq)

	ch, err := s.store.Channels.GetByID(ctx, s.channel)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), ch.EventSeq)
}

func TestCreateRejectsBadParent(t *testing.T) {
	s := seed(t)

	parent, _ := s.message(t, base, nil)
	reply, _ := s.message(t, base, &parent.ID)

	nested := &domain.Message{ID: uuid.New(), ChannelID: s.channel, AuthorID: s.user, ParentID: &reply.ID, CreatedAt: base}
	_, err := s.store.Messages.Create(context.Background(), nested)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	orphan := &domain.Message{ID: uuid.New(), ChannelID: uuid.New(), AuthorID: s.user, CreatedAt: base}
	_, err = s.store.Messages.Create(context.Background(), orphan)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestListOrdersAndPaginates(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := range 5 {
		m, _ := s.message(t, base.Add(time.Duration(i)*time.Second), nil)
		ids = append(ids, m.ID)
	}
	s.message(t, base, &ids[0])

	page, err := s.store.Messages.List(ctx, repository.MessageQuery{ChannelID: s.channel, ViewerID: s.user, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[2:], []uuid.UUID{page[0].ID, page[1].ID, page[2].ID})
	assert.Equal(t, 1, func() int {
		m, _ := s.store.Messages.GetByID(ctx, ids[0])
		return m.ReplyCount
	}())

	older, err := s.store.Messages.List(ctx, repository.MessageQuery{
		ChannelID: s.channel,
		ViewerID:  s.user,
		Before:    &repository.Cursor{CreatedAt: page[0].CreatedAt, ID: page[0].ID},
		Limit:     3,
	})
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, ids[0], older[0].ID)
	assert.Equal(t, ids[1], older[1].ID)
}

func TestHideForUserIsPerViewer(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	m, _ := s.message(t, base, nil)

	require.NoError(t, s.store.Messages.HideForUser(ctx, m.ID, s.user, base))
	require.NoError(t, s.store.Messages.HideForUser(ctx, m.ID, s.user, base))

	mine, err := s.store.Messages.List(ctx, repository.MessageQuery{ChannelID: s.channel, ViewerID: s.user, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, mine)

	theirs, err := s.store.Messages.List(ctx, repository.MessageQuery{ChannelID: s.channel, ViewerID: uuid.New(), Limit: 10})
	require.NoError(t, err)
	assert.Len(t, theirs, 1)

	assert.ErrorIs(t, s.store.Messages.HideForUser(ctx, uuid.New(), s.user, base), repository.ErrNotFound)
}

func TestDeletePolicies(t *testing.T) {
	ctx := context.Background()

	s := seed(t)
	parent, _ := s.message(t, base, nil)
	s.message(t, base, &parent.ID)

	_, err := s.store.Messages.Delete(ctx, parent.ID, repository.ReplyPolicyBlock)
	assert.ErrorIs(t, err, repository.ErrHasReplies)

	res, err := s.store.Messages.Delete(ctx, parent.ID, repository.ReplyPolicyCascade)
	require.NoError(t, err)
	assert.Len(t, res.DeletedReplies, 1)
	assert.Equal(t, uint64(4), res.Seq)

	res, err = s.store.Messages.Delete(ctx, parent.ID, repository.ReplyPolicyOrphan)
	require.NoError(t, err)
	assert.Nil(t, res.Message)
}

func TestToggleAndListReactions(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	m, _ := s.message(t, base, nil)

	rc := domain.Reaction{ID: uuid.New(), MessageID: m.ID, UserID: s.user, Emoji: "🔥"}
	first, err := s.store.Reactions.Toggle(ctx, s.channel, rc)
	require.NoError(t, err)
	assert.True(t, first.Applied)

	rc.ID = uuid.New()
	second, err := s.store.Reactions.Toggle(ctx, s.channel, rc)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, first.Reaction.ID, second.Reaction.ID)

	list, err := s.store.Reactions.ListByMessages(ctx, []uuid.UUID{m.ID})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.store.Reactions.Toggle(ctx, s.channel, domain.Reaction{MessageID: uuid.New(), UserID: s.user, Emoji: "🔥"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestChannelDeleteRemovesMessages(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	m, _ := s.message(t, base, nil)

	require.NoError(t, s.store.Channels.Delete(ctx, s.channel))

	got, err := s.store.Messages.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	ok, err := s.store.Channels.IsMember(ctx, s.channel, s.user)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProfileUsernameIsUnique(t *testing.T) {
	s := seed(t)
	err := s.store.Profiles.Upsert(context.Background(), &domain.Profile{ID: uuid.New(), Username: "ana", DisplayName: "Other", Role: domain.RoleMember})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}
