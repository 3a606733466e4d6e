package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/repository"
	"github.com/vedran77/pulsecore/pkg/validator"
)

// MaxReactionQueryIDs bounds GetGroups.
const MaxReactionQueryIDs = 200

type ReactionService struct {
	reactionRepo repository.ReactionRepository
	messageRepo  repository.MessageRepository
	guard        *Guard
	notifier     Notifier
	now          func() time.Time
}

func NewReactionService(reactionRepo repository.ReactionRepository, messageRepo repository.MessageRepository, guard *Guard) *ReactionService {
	return &ReactionService{
		reactionRepo: reactionRepo,
		messageRepo:  messageRepo,
		guard:        guard,
		now:          time.Now,
	}
}

func (s *ReactionService) SetNotifier(n Notifier) {
	s.notifier = n
}

type ToggleReactionInput struct {
	Emoji string `json:"emoji"`
}

type ToggleResult struct {
	Applied  bool            `json:"applied"`
	Reaction domain.Reaction `json:"reaction"`
}

// Toggle adds the actor's emoji reaction to a message, or removes it when
// already present.
func (s *ReactionService) Toggle(ctx context.Context, actor domain.Actor, messageID uuid.UUID, emoji string) (*ToggleResult, error) {
	if err := invalid(validator.ValidateEmoji(emoji)); err != nil {
		return nil, err
	}

	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, unavailable("loading message", err)
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	if err := s.guard.Check(ctx, actor, ActionPostMessage, Target{Message: msg}); err != nil {
		return nil, err
	}
	if msg.IsHidden && !actor.IsAdmin() {
		return nil, ErrMessageNotFound
	}

	res, err := s.reactionRepo.Toggle(ctx, msg.ChannelID, domain.Reaction{
		ID:        uuid.New(),
		MessageID: messageID,
		UserID:    actor.ID,
		Emoji:     emoji,
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, unavailable("toggling reaction", err)
	}

	// A zero Seq means a concurrent toggle already produced this state.
	if s.notifier != nil && res.Seq > 0 {
		s.notifier.NotifyReaction(msg.ChannelID, msg.ParentID, res.Reaction, res.Applied, res.Seq)
	}

	return &ToggleResult{Applied: res.Applied, Reaction: res.Reaction}, nil
}

// GetGroups aggregates the reactions of each message by emoji, in the
// order each emoji was first used. Every existing message in messageIDs
// gets an entry; unknown ids are skipped.
func (s *ReactionService) GetGroups(ctx context.Context, actor domain.Actor, messageIDs []uuid.UUID) (map[uuid.UUID][]domain.ReactionGroup, error) {
	if len(messageIDs) > MaxReactionQueryIDs {
		return nil, ErrTooManyMessageIDs
	}
	groups := make(map[uuid.UUID][]domain.ReactionGroup, len(messageIDs))
	if len(messageIDs) == 0 {
		return groups, nil
	}

	messages, err := s.messageRepo.GetByIDs(ctx, messageIDs)
	if err != nil {
		return nil, unavailable("loading messages", err)
	}

	checked := make(map[uuid.UUID]struct{})
	ids := make([]uuid.UUID, 0, len(messages))
	for i := range messages {
		m := &messages[i]
		if _, ok := checked[m.ChannelID]; !ok {
			if err := s.guard.Check(ctx, actor, ActionReadChannel, Target{ChannelID: m.ChannelID}); err != nil {
				return nil, err
			}
			checked[m.ChannelID] = struct{}{}
		}
		groups[m.ID] = []domain.ReactionGroup{}
		ids = append(ids, m.ID)
	}

	reactions, err := s.reactionRepo.ListByMessages(ctx, ids)
	if err != nil {
		return nil, unavailable("listing reactions", err)
	}

	for _, r := range reactions {
		list := groups[r.MessageID]
		idx := -1
		for i := range list {
			if list[i].Emoji == r.Emoji {
				idx = i
				break
			}
		}
		if idx < 0 {
			list = append(list, domain.ReactionGroup{Emoji: r.Emoji, UserIDs: []uuid.UUID{}})
			idx = len(list) - 1
		}
		g := &list[idx]
		g.Count++
		g.UserIDs = append(g.UserIDs, r.UserID)
		if r.UserID == actor.ID {
			g.HasReacted = true
		}
		groups[r.MessageID] = list
	}

	return groups, nil
}
