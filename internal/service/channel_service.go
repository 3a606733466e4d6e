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

type ChannelService struct {
	channelRepo repository.ChannelRepository
	guard       *Guard
	notifier    Notifier
	typing      *TypingService
}

func NewChannelService(channelRepo repository.ChannelRepository, guard *Guard) *ChannelService {
	return &ChannelService{
		channelRepo: channelRepo,
		guard:       guard,
	}
}

func (s *ChannelService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetTyping lets Delete and member removal drop typing state.
func (s *ChannelService) SetTyping(t *TypingService) {
	s.typing = t
}

type CreateChannelInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type AddMemberInput struct {
	UserID uuid.UUID `json:"user_id"`
}

func (s *ChannelService) Create(ctx context.Context, actor domain.Actor, input CreateChannelInput) (*domain.Channel, error) {
	if err := s.guard.Check(ctx, actor, ActionManageChannel, Target{}); err != nil {
		return nil, err
	}

	name := validator.NormalizeChannelName(input.Name)
	if err := invalid(validator.ValidateChannel(name, input.Description)); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	ch := &domain.Channel{
		ID:          uuid.New(),
		Name:        name,
		Description: input.Description,
		CreatedBy:   actor.ID,
		CreatedAt:   now,
	}

	// Creator joins the channel they made.
	creator := domain.ChannelMember{ChannelID: ch.ID, UserID: actor.ID, JoinedAt: now}
	if err := s.channelRepo.Create(ctx, ch, creator); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, ErrChannelNameTaken
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrProfileNotFound
		}
		return nil, unavailable("creating channel", err)
	}
	ch.IsMember = true

	return ch, nil
}

func (s *ChannelService) List(ctx context.Context, actor domain.Actor) ([]domain.Channel, error) {
	channels, err := s.channelRepo.List(ctx, actor.ID)
	if err != nil {
		return nil, unavailable("listing channels", err)
	}
	if channels == nil {
		channels = []domain.Channel{}
	}
	return channels, nil
}

func (s *ChannelService) Get(ctx context.Context, actor domain.Actor, channelID uuid.UUID) (*domain.Channel, error) {
	ch, err := s.get(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Check(ctx, actor, ActionReadChannel, Target{ChannelID: channelID}); err != nil {
		return nil, err
	}

	ch.IsMember, err = s.channelRepo.IsMember(ctx, channelID, actor.ID)
	if err != nil {
		return nil, unavailable("checking membership", err)
	}
	return ch, nil
}

// Delete removes the channel with its memberships, messages and reactions.
func (s *ChannelService) Delete(ctx context.Context, actor domain.Actor, channelID uuid.UUID) error {
	if err := s.guard.Check(ctx, actor, ActionManageChannel, Target{}); err != nil {
		return err
	}
	if _, err := s.get(ctx, channelID); err != nil {
		return err
	}

	if err := s.channelRepo.Delete(ctx, channelID); err != nil {
		return unavailable("deleting channel", err)
	}

	if s.typing != nil {
		s.typing.Forget(channelID)
	}
	if s.notifier != nil {
		s.notifier.NotifyChannelDeleted(channelID)
	}
	return nil
}

// Join adds the actor to the channel. Joining twice is not an error; the
// result reports whether a membership was created.
func (s *ChannelService) Join(ctx context.Context, actor domain.Actor, channelID uuid.UUID) (bool, error) {
	if _, err := s.get(ctx, channelID); err != nil {
		return false, err
	}
	return s.addMember(ctx, channelID, actor.ID)
}

func (s *ChannelService) Leave(ctx context.Context, actor domain.Actor, channelID uuid.UUID) error {
	if _, err := s.get(ctx, channelID); err != nil {
		return err
	}
	if err := s.channelRepo.RemoveMember(ctx, channelID, actor.ID); err != nil {
		return unavailable("removing member", err)
	}
	s.revoke(channelID, actor.ID)
	return nil
}

func (s *ChannelService) AddMember(ctx context.Context, actor domain.Actor, channelID, userID uuid.UUID) (bool, error) {
	if err := s.guard.Check(ctx, actor, ActionManageMembers, Target{ChannelID: channelID}); err != nil {
		return false, err
	}
	if _, err := s.get(ctx, channelID); err != nil {
		return false, err
	}
	return s.addMember(ctx, channelID, userID)
}

// RemoveMember needs manage-members unless actors remove themselves.
func (s *ChannelService) RemoveMember(ctx context.Context, actor domain.Actor, channelID, userID uuid.UUID) error {
	if userID != actor.ID {
		if err := s.guard.Check(ctx, actor, ActionManageMembers, Target{ChannelID: channelID}); err != nil {
			return err
		}
	}
	if _, err := s.get(ctx, channelID); err != nil {
		return err
	}
	if err := s.channelRepo.RemoveMember(ctx, channelID, userID); err != nil {
		return unavailable("removing member", err)
	}
	s.revoke(channelID, userID)
	return nil
}

func (s *ChannelService) ListMembers(ctx context.Context, actor domain.Actor, channelID uuid.UUID) ([]domain.ChannelMember, error) {
	if _, err := s.get(ctx, channelID); err != nil {
		return nil, err
	}
	if err := s.guard.Check(ctx, actor, ActionReadChannel, Target{ChannelID: channelID}); err != nil {
		return nil, err
	}

	members, err := s.channelRepo.ListMembers(ctx, channelID)
	if err != nil {
		return nil, unavailable("listing members", err)
	}
	if members == nil {
		members = []domain.ChannelMember{}
	}
	return members, nil
}

func (s *ChannelService) addMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	added, err := s.channelRepo.AddMember(ctx, &domain.ChannelMember{
		ChannelID: channelID,
		UserID:    userID,
		JoinedAt:  time.Now().UTC().Truncate(time.Microsecond),
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrProfileNotFound
		}
		return false, unavailable("adding member", err)
	}
	return added, nil
}

// revoke ends the live presence of a user whose membership is gone. Admins
// keep their subscriptions; the hub decides per session.
func (s *ChannelService) revoke(channelID, userID uuid.UUID) {
	if s.typing != nil {
		s.typing.Drop(channelID, userID)
	}
	if s.notifier != nil {
		s.notifier.NotifyAccessChanged(AccessChange{ChannelID: channelID, UserID: userID})
	}
}

func (s *ChannelService) get(ctx context.Context, channelID uuid.UUID) (*domain.Channel, error) {
	ch, err := s.channelRepo.GetByID(ctx, channelID)
	if err != nil {
		return nil, unavailable("loading channel", err)
	}
	if ch == nil {
		return nil, ErrChannelNotFound
	}
	return ch, nil
}
