package service_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/repository"
	"github.com/vedran77/pulsecore/internal/service"
	"golang.org/x/sync/errgroup"
)

func TestPostAndList(t *testing.T) {
	f := newFixture(t)

	msg, err := f.messages.Post(f.ctx, f.member, f.channelID, service.PostMessageInput{
		Content:     "  hello  ",
		ClientNonce: "n-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "n-1", msg.ClientNonce)
	assert.Equal(t, "ana", msg.AuthorUsername)
	assert.NotNil(t, msg.Attachments)

	page, err := f.messages.List(f.ctx, f.other, f.channelID, service.ListMessagesInput{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, msg.ID, page.Messages[0].ID)
	assert.Empty(t, page.Messages[0].ClientNonce)
	assert.False(t, page.HasMore)

	created := f.notes.of("created")
	require.Len(t, created, 1)
	assert.Equal(t, msg.ID, created[0].MessageID)
	assert.Equal(t, uint64(1), created[0].Seq)
}

func TestNonMemberIsRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.messages.List(f.ctx, f.outsider, f.channelID, service.ListMessagesInput{})
	assert.ErrorIs(t, err, service.ErrUnauthorized)

	_, err = f.messages.Post(f.ctx, f.outsider, f.channelID, service.PostMessageInput{Content: "hi"})
	assert.ErrorIs(t, err, service.ErrUnauthorized)
	assert.Empty(t, f.notes.of("created"))
}

func TestPostUnknownChannel(t *testing.T) {
	f := newFixture(t)

	_, err := f.messages.Post(f.ctx, f.member, uuid.New(), service.PostMessageInput{Content: "hi"})
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestPostValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		input service.PostMessageInput
		field string
	}{
		{"blank", service.PostMessageInput{Content: "   "}, "content"},
		{"too long", service.PostMessageInput{Content: string(make([]rune, 4001))}, "content"},
		{"bad attachment url", service.PostMessageInput{
			Attachments: []domain.Attachment{{Name: "a.png", URL: "ftp://x/a.png", Size: 10}},
		}, "attachments[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.messages.Post(f.ctx, f.member, f.channelID, tt.input)
			var verr *service.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
			assert.ErrorIs(t, err, service.ErrInvalidInput)
		})
	}
}

func TestAttachmentOnlyMessage(t *testing.T) {
	f := newFixture(t)

	msg, err := f.messages.Post(f.ctx, f.member, f.channelID, service.PostMessageInput{
		Attachments: []domain.Attachment{{Name: "plan.pdf", URL: "https://files.example.com/plan.pdf", MimeType: "application/pdf", Size: 2048}},
	})
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "plan.pdf", msg.Attachments[0].Name)
}

func TestPaginationCoversEveryMessageOnce(t *testing.T) {
	f := newFixture(t)

	for i := range 120 {
		f.clock.Advance(time.Second)
		f.post(t, f.member, fmt.Sprintf("message %d", i))
	}

	var sizes []int
	seen := make(map[uuid.UUID]bool)
	var order []string
	cursor := ""
	for {
		page, err := f.messages.List(f.ctx, f.member, f.channelID, service.ListMessagesInput{Before: cursor})
		require.NoError(t, err)
		sizes = append(sizes, len(page.Messages))

		batch := make([]string, 0, len(page.Messages))
		for _, m := range page.Messages {
			assert.False(t, seen[m.ID], "duplicate %s", m.Content)
			seen[m.ID] = true
			batch = append(batch, m.Content)
		}
		order = append(batch, order...)

		if !page.HasMore {
			assert.Empty(t, page.NextCursor)
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, []int{50, 50, 20}, sizes)
	require.Len(t, order, 120)
	for i, content := range order {
		assert.Equal(t, fmt.Sprintf("message %d", i), content)
	}
}

func TestPaginationSameTimestamp(t *testing.T) {
	f := newFixture(t)

	for i := range 7 {
		f.post(t, f.member, fmt.Sprintf("m%d", i))
	}

	seen := make(map[uuid.UUID]bool)
	cursor := ""
	for {
		page, err := f.messages.List(f.ctx, f.member, f.channelID, service.ListMessagesInput{Before: cursor, Limit: 3})
		require.NoError(t, err)
		for _, m := range page.Messages {
			assert.False(t, seen[m.ID])
			seen[m.ID] = true
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	assert.Len(t, seen, 7)
}

func TestListLimitIsClamped(t *testing.T) {
	f := newFixture(t)
	for i := range 5 {
		f.clock.Advance(time.Second)
		f.post(t, f.member, fmt.Sprintf("m%d", i))
	}

	page, err := f.messages.List(f.ctx, f.member, f.channelID, service.ListMessagesInput{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Messages, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "m3", page.Messages[0].Content)
	assert.Equal(t, "m4", page.Messages[1].Content)

	page, err = f.messages.List(f.ctx, f.member, f.channelID, service.ListMessagesInput{Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, page.Messages, 5)
}

func TestInvalidCursor(t *testing.T) {
	f := newFixture(t)

	_, err := f.messages.List(f.ctx, f.member, f.channelID, service.ListMessagesInput{Before: "yesterday"})
	assert.ErrorIs(t, err, service.ErrInvalidCursor)
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestParseCursorAcceptsBareTimestamp(t *testing.T) {
	c, err := service.ParseCursor("2026-03-01T09:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, t0, c.CreatedAt)
	assert.Equal(t, uuid.Nil, c.ID)

	id := uuid.New()
	c, err = service.ParseCursor(service.EncodeCursor(t0, id))
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
}

func TestDeleteForMe(t *testing.T) {
	f := newFixture(t)
	msg := f.post(t, f.member, "private regret")
	f.notes.reset()

	require.NoError(t, f.messages.DeleteForMe(f.ctx, f.member, msg.ID))
	assert.Empty(t, f.notes.notes)

	mine, err := f.messages.List(f.ctx, f.member, f.channelID, service.ListMessagesInput{})
	require.NoError(t, err)
	assert.Empty(t, mine.Messages)

	theirs, err := f.messages.List(f.ctx, f.other, f.channelID, service.ListMessagesInput{})
	require.NoError(t, err)
	assert.Len(t, theirs.Messages, 1)

	// Repeating is harmless.
	require.NoError(t, f.messages.DeleteForMe(f.ctx, f.member, msg.ID))
	assert.ErrorIs(t, f.messages.DeleteForMe(f.ctx, f.outsider, msg.ID), service.ErrUnauthorized)
}

func TestConcurrentReplies(t *testing.T) {
	f := newFixture(t)
	parent := f.post(t, f.member, "thread")
	f.notes.reset()

	var g errgroup.Group
	for i := range 5 {
		g.Go(func() error {
			_, err := f.messages.Post(f.ctx, f.other, f.channelID, service.PostMessageInput{
				Content:  fmt.Sprintf("reply %d", i),
				ParentID: &parent.ID,
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	stored, err := f.store.Messages.GetByID(f.ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.ReplyCount)

	counts := f.notes.of("reply_count")
	require.Len(t, counts, 5)
	seen := make(map[int]bool)
	for _, n := range counts {
		seen[n.ReplyCount] = true
	}
	assert.Len(t, seen, 5)

	replies, err := f.messages.ListReplies(f.ctx, f.member, parent.ID, false)
	require.NoError(t, err)
	assert.Len(t, replies, 5)
}

func TestReplyTakesTwoSequenceNumbers(t *testing.T) {
	f := newFixture(t)
	parent := f.post(t, f.member, "thread")
	f.reply(t, f.other, parent.ID, "first")

	created := f.notes.of("created")
	require.Len(t, created, 2)
	counts := f.notes.of("reply_count")
	require.Len(t, counts, 1)

	assert.Equal(t, uint64(2), created[1].Seq)
	assert.Equal(t, uint64(3), counts[0].Seq)
	assert.Equal(t, 1, counts[0].ReplyCount)
}

func TestReplyErrors(t *testing.T) {
	f := newFixture(t)
	parent := f.post(t, f.member, "thread")
	reply := f.reply(t, f.other, parent.ID, "reply")

	_, err := f.messages.Post(f.ctx, f.member, f.channelID, service.PostMessageInput{Content: "deeper", ParentID: &reply.ID})
	assert.ErrorIs(t, err, service.ErrNestedReply)

	missing := uuid.New()
	_, err = f.messages.Post(f.ctx, f.member, f.channelID, service.PostMessageInput{Content: "lost", ParentID: &missing})
	assert.ErrorIs(t, err, service.ErrParentNotFound)

	other, err := f.channels.Create(f.ctx, f.admin, service.CreateChannelInput{Name: "random"})
	require.NoError(t, err)
	f.join(t, f.member, other.ID)
	_, err = f.messages.Post(f.ctx, f.member, other.ID, service.PostMessageInput{Content: "cross", ParentID: &parent.ID})
	assert.ErrorIs(t, err, service.ErrParentNotFound)
}

func TestSetHidden(t *testing.T) {
	f := newFixture(t)
	msg := f.post(t, f.member, "spam")

	_, err := f.messages.SetHidden(f.ctx, f.member, msg.ID, true)
	assert.ErrorIs(t, err, service.ErrUnauthorized)

	hidden, err := f.messages.SetHidden(f.ctx, f.admin, msg.ID, true)
	require.NoError(t, err)
	assert.True(t, hidden.IsHidden)
	require.Len(t, f.notes.of("updated"), 1)

	page, err := f.messages.List(f.ctx, f.member, f.channelID, service.ListMessagesInput{IncludeHidden: true})
	require.NoError(t, err)
	assert.Empty(t, page.Messages, "members never see hidden messages")

	page, err = f.messages.List(f.ctx, f.admin, f.channelID, service.ListMessagesInput{IncludeHidden: true})
	require.NoError(t, err)
	assert.Len(t, page.Messages, 1)

	_, err = f.messages.SetHidden(f.ctx, f.admin, msg.ID, false)
	require.NoError(t, err)
	page, err = f.messages.List(f.ctx, f.member, f.channelID, service.ListMessagesInput{})
	require.NoError(t, err)
	assert.Len(t, page.Messages, 1)

	_, err = f.messages.SetHidden(f.ctx, f.admin, uuid.New(), true)
	assert.ErrorIs(t, err, service.ErrMessageNotFound)
}

func TestHiddenMessageIsClosedToMembers(t *testing.T) {
	f := newFixture(t)
	parent := f.post(t, f.member, "offensive text")
	f.reply(t, f.other, parent.ID, "agreed")

	_, err := f.messages.SetHidden(f.ctx, f.admin, parent.ID, true)
	require.NoError(t, err)

	_, err = f.messages.ListReplies(f.ctx, f.member, parent.ID, false)
	assert.ErrorIs(t, err, service.ErrMessageNotFound)

	_, err = f.messages.Post(f.ctx, f.other, f.channelID, service.PostMessageInput{Content: "more", ParentID: &parent.ID})
	assert.ErrorIs(t, err, service.ErrParentNotFound)

	replies, err := f.messages.ListReplies(f.ctx, f.admin, parent.ID, false)
	require.NoError(t, err)
	assert.Len(t, replies, 1)
	f.reply(t, f.admin, parent.ID, "locked")

	_, err = f.messages.SetHidden(f.ctx, f.admin, parent.ID, false)
	require.NoError(t, err)
	replies, err = f.messages.ListReplies(f.ctx, f.member, parent.ID, false)
	require.NoError(t, err)
	assert.Len(t, replies, 2)
}

func TestDeleteForAll(t *testing.T) {
	f := newFixture(t)
	msg := f.post(t, f.member, "bye")

	assert.ErrorIs(t, f.messages.DeleteForAll(f.ctx, f.other, msg.ID), service.ErrUnauthorized)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.messages.DeleteForAll(f.ctx, f.member, msg.ID))

	deleted := f.notes.of("deleted")
	require.Len(t, deleted, 1)
	assert.Equal(t, msg.ID, deleted[0].MessageID)

	assert.ErrorIs(t, f.messages.DeleteForAll(f.ctx, f.member, msg.ID), service.ErrMessageNotFound)
}

func TestDeleteForAllAfterWindow(t *testing.T) {
	f := newFixture(t)
	msg := f.post(t, f.member, "late")
	f.clock.Advance(3*time.Minute + time.Second)

	err := f.messages.DeleteForAll(f.ctx, f.member, msg.ID)
	var windowErr *service.DeleteWindowError
	require.ErrorAs(t, err, &windowErr)

	require.NoError(t, f.messages.DeleteForAll(f.ctx, f.admin, msg.ID))
}

func TestThreadDeletePolicies(t *testing.T) {
	t.Run("orphan", func(t *testing.T) {
		f := newFixture(t)
		parent := f.post(t, f.member, "thread")
		reply := f.reply(t, f.other, parent.ID, "reply")

		require.NoError(t, f.messages.DeleteForAll(f.ctx, f.member, parent.ID))
		deleted := f.notes.of("deleted")
		require.Len(t, deleted, 1)
		assert.Empty(t, deleted[0].Replies)

		stored, err := f.store.Messages.GetByID(f.ctx, reply.ID)
		require.NoError(t, err)
		assert.NotNil(t, stored)
	})

	t.Run("cascade", func(t *testing.T) {
		f := newFixture(t, withPolicy(repository.ReplyPolicyCascade))
		parent := f.post(t, f.member, "thread")
		reply := f.reply(t, f.other, parent.ID, "reply")

		require.NoError(t, f.messages.DeleteForAll(f.ctx, f.member, parent.ID))
		deleted := f.notes.of("deleted")
		require.Len(t, deleted, 1)
		assert.Equal(t, []uuid.UUID{reply.ID}, deleted[0].Replies)

		stored, err := f.store.Messages.GetByID(f.ctx, reply.ID)
		require.NoError(t, err)
		assert.Nil(t, stored)
	})

	t.Run("block", func(t *testing.T) {
		f := newFixture(t, withPolicy(repository.ReplyPolicyBlock))
		parent := f.post(t, f.member, "thread")
		reply := f.reply(t, f.other, parent.ID, "reply")

		err := f.messages.DeleteForAll(f.ctx, f.member, parent.ID)
		assert.ErrorIs(t, err, service.ErrThreadHasReplies)
		assert.ErrorIs(t, err, service.ErrConflict)
		assert.Empty(t, f.notes.of("deleted"))

		// Replies themselves can always go.
		require.NoError(t, f.messages.DeleteForAll(f.ctx, f.other, reply.ID))
	})
}

func TestReplyCountIsNotDecremented(t *testing.T) {
	f := newFixture(t)
	parent := f.post(t, f.member, "thread")
	reply := f.reply(t, f.other, parent.ID, "reply")

	require.NoError(t, f.messages.DeleteForAll(f.ctx, f.other, reply.ID))

	stored, err := f.store.Messages.GetByID(f.ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ReplyCount)
}
