package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/repository"
	"github.com/vedran77/pulsecore/pkg/validator"
)

// Notifier broadcasts real-time events to connected clients. seq is the
// channel commit sequence the event was committed under.
type Notifier interface {
	NotifyMessageCreated(msg *domain.Message, seq uint64)
	NotifyMessageUpdated(msg *domain.Message, seq uint64)
	NotifyMessageDeleted(msg *domain.Message, deletedReplies []uuid.UUID, seq uint64)
	NotifyReplyCountChanged(channelID, parentID uuid.UUID, replyCount int, seq uint64)
	NotifyReaction(channelID uuid.UUID, threadID *uuid.UUID, r domain.Reaction, added bool, seq uint64)
	NotifyTyping(snapshot domain.TypingSnapshot)
	NotifyChannelDeleted(channelID uuid.UUID)
	NotifyAccessChanged(change AccessChange)
}

// AccessChange tells the live sessions of UserID that their access to a
// channel may have shrunk. Admin is set when the user's role changed.
type AccessChange struct {
	ChannelID uuid.UUID
	UserID    uuid.UUID
	Member    bool
	Admin     *bool
}

type MessageOptions struct {
	ThreadDeletePolicy repository.ReplyPolicy
	PageSize           int
	MaxPageSize        int
}

type MessageService struct {
	messageRepo repository.MessageRepository
	channelRepo repository.ChannelRepository
	guard       *Guard
	notifier    Notifier
	opts        MessageOptions
	now         func() time.Time
}

func NewMessageService(
	messageRepo repository.MessageRepository,
	channelRepo repository.ChannelRepository,
	guard *Guard,
	opts MessageOptions,
) *MessageService {
	if !opts.ThreadDeletePolicy.Valid() {
		opts.ThreadDeletePolicy = repository.ReplyPolicyOrphan
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 100
	}
	if opts.PageSize <= 0 || opts.PageSize > opts.MaxPageSize {
		opts.PageSize = min(50, opts.MaxPageSize)
	}
	return &MessageService{
		messageRepo: messageRepo,
		channelRepo: channelRepo,
		guard:       guard,
		opts:        opts,
		now:         time.Now,
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *MessageService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *MessageService) SetClock(now func() time.Time) {
	s.now = now
}

type PostMessageInput struct {
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments"`
	ParentID    *uuid.UUID          `json:"parent_message_id,omitempty"`
	ClientNonce string              `json:"client_nonce,omitempty"`
}

type ListMessagesInput struct {
	Before        string
	Limit         int
	IncludeHidden bool
}

type MessagePage struct {
	Messages   []domain.Message `json:"messages"`
	HasMore    bool             `json:"has_more"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

func (s *MessageService) Post(ctx context.Context, actor domain.Actor, channelID uuid.UUID, input PostMessageInput) (*domain.Message, error) {
	attachments := make([]validator.Attachment, len(input.Attachments))
	for i, a := range input.Attachments {
		attachments[i] = validator.Attachment{Name: a.Name, URL: a.URL, Size: a.Size}
	}
	if err := invalid(validator.ValidateMessage(input.Content, attachments)); err != nil {
		return nil, err
	}

	if err := s.requireChannel(ctx, channelID); err != nil {
		return nil, err
	}
	if err := s.guard.Check(ctx, actor, ActionPostMessage, Target{ChannelID: channelID}); err != nil {
		return nil, err
	}

	if input.ParentID != nil {
		parent, err := s.messageRepo.GetByID(ctx, *input.ParentID)
		if err != nil {
			return nil, unavailable("loading parent message", err)
		}
		if parent == nil || parent.ChannelID != channelID || (parent.IsHidden && !actor.IsAdmin()) {
			return nil, ErrParentNotFound
		}
		if parent.IsReply() {
			return nil, ErrNestedReply
		}
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	msg := &domain.Message{
		ID:          uuid.New(),
		ChannelID:   channelID,
		AuthorID:    actor.ID,
		ParentID:    input.ParentID,
		Content:     strings.TrimSpace(input.Content),
		Attachments: input.Attachments,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if msg.Attachments == nil {
		msg.Attachments = []domain.Attachment{}
	}

	commit, err := s.messageRepo.Create(ctx, msg)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if msg.IsReply() {
				return nil, ErrParentNotFound
			}
			return nil, ErrChannelNotFound
		}
		return nil, unavailable("creating message", err)
	}

	msg.AuthorUsername = actor.Username
	msg.AuthorDisplayName = actor.DisplayName
	msg.ClientNonce = input.ClientNonce

	if s.notifier != nil {
		s.notifier.NotifyMessageCreated(msg, commit.Seq)
		if msg.IsReply() {
			s.notifier.NotifyReplyCountChanged(channelID, *msg.ParentID, commit.ReplyCount, commit.Seq+1)
		}
	}

	return msg, nil
}

func (s *MessageService) List(ctx context.Context, actor domain.Actor, channelID uuid.UUID, input ListMessagesInput) (*MessagePage, error) {
	if err := s.requireChannel(ctx, channelID); err != nil {
		return nil, err
	}
	if err := s.guard.Check(ctx, actor, ActionReadChannel, Target{ChannelID: channelID}); err != nil {
		return nil, err
	}

	var before *repository.Cursor
	if input.Before != "" {
		c, err := ParseCursor(input.Before)
		if err != nil {
			return nil, err
		}
		before = &c
	}

	limit := input.Limit
	switch {
	case limit <= 0:
		limit = s.opts.PageSize
	case limit > s.opts.MaxPageSize:
		limit = s.opts.MaxPageSize
	}

	// One extra row tells us whether an older page exists.
	messages, err := s.messageRepo.List(ctx, repository.MessageQuery{
		ChannelID:     channelID,
		ViewerID:      actor.ID,
		Before:        before,
		Limit:         limit + 1,
		IncludeHidden: input.IncludeHidden && actor.IsAdmin(),
	})
	if err != nil {
		return nil, unavailable("listing messages", err)
	}

	page := &MessagePage{HasMore: len(messages) > limit}
	if page.HasMore {
		messages = messages[len(messages)-limit:]
		page.NextCursor = EncodeCursor(messages[0].CreatedAt, messages[0].ID)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	page.Messages = messages

	return page, nil
}

func (s *MessageService) ListReplies(ctx context.Context, actor domain.Actor, parentID uuid.UUID, includeHidden bool) ([]domain.Message, error) {
	parent, err := s.getMessage(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Check(ctx, actor, ActionReadChannel, Target{Message: parent}); err != nil {
		return nil, err
	}
	if parent.IsHidden && !actor.IsAdmin() {
		return nil, ErrMessageNotFound
	}

	replies, err := s.messageRepo.ListReplies(ctx, parentID, actor.ID, includeHidden && actor.IsAdmin())
	if err != nil {
		return nil, unavailable("listing replies", err)
	}
	if replies == nil {
		replies = []domain.Message{}
	}
	return replies, nil
}

func (s *MessageService) SetHidden(ctx context.Context, actor domain.Actor, messageID uuid.UUID, hidden bool) (*domain.Message, error) {
	if err := s.guard.Check(ctx, actor, ActionHideMessage, Target{}); err != nil {
		return nil, err
	}

	msg, seq, err := s.messageRepo.SetHidden(ctx, messageID, hidden, s.now().UTC().Truncate(time.Microsecond))
	if err != nil {
		return nil, unavailable("updating message visibility", err)
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}

	if s.notifier != nil {
		s.notifier.NotifyMessageUpdated(msg, seq)
	}
	return msg, nil
}

// DeleteForAll removes the message for everyone. Replies of a top-level
// message follow the configured thread delete policy.
func (s *MessageService) DeleteForAll(ctx context.Context, actor domain.Actor, messageID uuid.UUID) error {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.guard.Check(ctx, actor, ActionDeleteForAll, Target{Message: msg}); err != nil {
		return err
	}

	result, err := s.messageRepo.Delete(ctx, messageID, s.opts.ThreadDeletePolicy)
	if err != nil {
		if errors.Is(err, repository.ErrHasReplies) {
			return ErrThreadHasReplies
		}
		return unavailable("deleting message", err)
	}
	if result.Message == nil {
		return ErrMessageNotFound
	}

	if s.notifier != nil {
		s.notifier.NotifyMessageDeleted(result.Message, result.DeletedReplies, result.Seq)
	}
	return nil
}

// DeleteForMe hides the message from the actor only. Nothing is broadcast.
func (s *MessageService) DeleteForMe(ctx context.Context, actor domain.Actor, messageID uuid.UUID) error {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.guard.Check(ctx, actor, ActionDeleteForMe, Target{Message: msg}); err != nil {
		return err
	}

	if err := s.messageRepo.HideForUser(ctx, messageID, actor.ID, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMessageNotFound
		}
		return unavailable("hiding message for user", err)
	}
	return nil
}

func (s *MessageService) getMessage(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	msg, err := s.messageRepo.GetByID(ctx, id)
	if err != nil {
		return nil, unavailable("loading message", err)
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	return msg, nil
}

func (s *MessageService) requireChannel(ctx context.Context, channelID uuid.UUID) error {
	ch, err := s.channelRepo.GetByID(ctx, channelID)
	if err != nil {
		return unavailable("loading channel", err)
	}
	if ch == nil {
		return ErrChannelNotFound
	}
	return nil
}

// EncodeCursor returns the opaque pagination cursor for a message position.
func EncodeCursor(createdAt time.Time, id uuid.UUID) string {
	return createdAt.UTC().Format(time.RFC3339Nano) + "_" + id.String()
}

// ParseCursor accepts an EncodeCursor value or a bare RFC 3339 timestamp.
func ParseCursor(raw string) (repository.Cursor, error) {
	var c repository.Cursor

	ts, id, hasID := strings.Cut(raw, "_")
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return c, fmt.Errorf("%w: %q", ErrInvalidCursor, raw)
	}
	c.CreatedAt = t

	if hasID {
		if c.ID, err = uuid.Parse(id); err != nil {
			return c, fmt.Errorf("%w: %q", ErrInvalidCursor, raw)
		}
	}
	return c, nil
}
