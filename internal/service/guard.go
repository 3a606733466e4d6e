package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/repository"
)

type Action string

const (
	ActionReadChannel   Action = "read-channel-feed"
	ActionPostMessage   Action = "post-message"
	ActionHideMessage   Action = "hide-message"
	ActionDeleteForAll  Action = "delete-message-for-all"
	ActionDeleteForMe   Action = "delete-message-for-me"
	ActionManageMembers Action = "manage-members"
	ActionManageChannel Action = "manage-channel"
	ActionManageRoles   Action = "manage-roles"
)

// Target is what an action applies to. Message-scoped actions set Message;
// its channel is used when ChannelID is zero.
type Target struct {
	ChannelID uuid.UUID
	Message   *domain.Message
}

func (t Target) channel() uuid.UUID {
	if t.ChannelID == uuid.Nil && t.Message != nil {
		return t.Message.ChannelID
	}
	return t.ChannelID
}

// Guard decides whether an actor may perform an action.
type Guard struct {
	channels     repository.ChannelRepository
	deleteWindow time.Duration
	now          func() time.Time
}

func NewGuard(channels repository.ChannelRepository, deleteWindow time.Duration) *Guard {
	return &Guard{
		channels:     channels,
		deleteWindow: deleteWindow,
		now:          time.Now,
	}
}

// SetClock replaces the time source used for the delete window.
func (g *Guard) SetClock(now func() time.Time) {
	g.now = now
}

func (g *Guard) DeleteWindow() time.Duration {
	return g.deleteWindow
}

// Can reports whether the actor may perform the action. Storage failures
// count as a denial; use Check to tell them apart.
func (g *Guard) Can(ctx context.Context, actor domain.Actor, action Action, target Target) bool {
	return g.Check(ctx, actor, action, target) == nil
}

// Check returns nil when the action is allowed, an ErrUnauthorized (or a
// *DeleteWindowError) when it is not, and ErrUnavailable when membership
// could not be resolved.
func (g *Guard) Check(ctx context.Context, actor domain.Actor, action Action, target Target) error {
	if !actor.Role.Valid() {
		return denied(action)
	}

	switch action {
	case ActionReadChannel, ActionPostMessage, ActionDeleteForMe:
		return g.checkMember(ctx, actor, action, target.channel())

	case ActionHideMessage, ActionManageMembers, ActionManageChannel:
		if actor.IsAdmin() {
			return nil
		}
		return denied(action)

	case ActionManageRoles:
		if actor.Role.AtLeast(domain.RoleSuperAdmin) {
			return nil
		}
		return denied(action)

	case ActionDeleteForAll:
		if actor.IsAdmin() {
			return nil
		}
		msg := target.Message
		if msg == nil || msg.AuthorID != actor.ID {
			return denied(action)
		}
		expiresAt := msg.CreatedAt.Add(g.deleteWindow)
		now := g.now()
		if !now.Before(expiresAt) {
			return &DeleteWindowError{ExpiredAt: expiresAt, Now: now}
		}
		return nil
	}

	return denied(action)
}

func (g *Guard) checkMember(ctx context.Context, actor domain.Actor, action Action, channelID uuid.UUID) error {
	if actor.IsAdmin() {
		return nil
	}
	ok, err := g.channels.IsMember(ctx, channelID, actor.ID)
	if err != nil {
		return unavailable("checking membership", err)
	}
	if !ok {
		return denied(action)
	}
	return nil
}

// IsDenied reports whether err is an authorization failure.
func IsDenied(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
