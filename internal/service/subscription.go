package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/repository"
	"github.com/vedran77/pulsecore/pkg/wire"
)

var ErrUnknownScope = newError(ErrInvalidInput, "unknown subscription scope")

// Subscription is an authorized realtime scope.
type Subscription struct {
	Scope     wire.Scope
	ID        uuid.UUID
	ChannelID uuid.UUID
	// Seq is the channel's commit sequence when the subscription was
	// authorized.
	Seq uint64
}

// SubscriptionService authorizes realtime subscriptions. A thread scope is
// keyed by its top-level message; channel and presence scopes by channel.
type SubscriptionService struct {
	channelRepo repository.ChannelRepository
	messageRepo repository.MessageRepository
	guard       *Guard
}

func NewSubscriptionService(channelRepo repository.ChannelRepository, messageRepo repository.MessageRepository, guard *Guard) *SubscriptionService {
	return &SubscriptionService{
		channelRepo: channelRepo,
		messageRepo: messageRepo,
		guard:       guard,
	}
}

func (s *SubscriptionService) Authorize(ctx context.Context, actor domain.Actor, scope wire.Scope, id uuid.UUID) (*Subscription, error) {
	sub := &Subscription{Scope: scope, ID: id}
	var parent *domain.Message

	switch scope {
	case wire.ScopeChannel, wire.ScopePresence:
		sub.ChannelID = id
	case wire.ScopeThread:
		var err error
		parent, err = s.messageRepo.GetByID(ctx, id)
		if err != nil {
			return nil, unavailable("loading thread", err)
		}
		if parent == nil {
			return nil, ErrMessageNotFound
		}
		if parent.IsReply() {
			return nil, ErrNestedReply
		}
		sub.ChannelID = parent.ChannelID
	default:
		return nil, ErrUnknownScope
	}

	if err := s.guard.Check(ctx, actor, ActionReadChannel, Target{ChannelID: sub.ChannelID}); err != nil {
		return nil, err
	}
	if parent != nil && parent.IsHidden && !actor.IsAdmin() {
		return nil, ErrMessageNotFound
	}

	ch, err := s.channelRepo.GetByID(ctx, sub.ChannelID)
	if err != nil {
		return nil, unavailable("loading channel", err)
	}
	if ch == nil {
		return nil, ErrChannelNotFound
	}
	sub.Seq = ch.EventSeq

	return sub, nil
}
