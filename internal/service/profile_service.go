package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/repository"
	"github.com/vedran77/pulsecore/pkg/validator"
)

var ErrOwnRole = newError(ErrInvalidInput, "you cannot change your own role")

type ProfileService struct {
	profileRepo repository.ProfileRepository
	channelRepo repository.ChannelRepository
	guard       *Guard
	notifier    Notifier
}

func NewProfileService(profileRepo repository.ProfileRepository, guard *Guard) *ProfileService {
	return &ProfileService{
		profileRepo: profileRepo,
		guard:       guard,
	}
}

// SetNotifier makes UpdateRole tell live sessions about a changed admin
// status. channels lists the channels those sessions may be watching.
func (s *ProfileService) SetNotifier(n Notifier, channels repository.ChannelRepository) {
	s.notifier = n
	s.channelRepo = channels
}

type UpsertProfileInput struct {
	ID          uuid.UUID   `json:"id"`
	Username    string      `json:"username"`
	DisplayName string      `json:"display_name"`
	AvatarURL   *string     `json:"avatar_url,omitempty"`
	Role        domain.Role `json:"role"`
}

type UpdateRoleInput struct {
	Role domain.Role `json:"role"`
}

func (s *ProfileService) Me(ctx context.Context, actor domain.Actor) (*domain.Profile, error) {
	return s.get(ctx, actor.ID)
}

func (s *ProfileService) List(ctx context.Context, actor domain.Actor) ([]domain.Profile, error) {
	profiles, err := s.profileRepo.List(ctx)
	if err != nil {
		return nil, unavailable("listing profiles", err)
	}
	if profiles == nil {
		profiles = []domain.Profile{}
	}
	return profiles, nil
}

func (s *ProfileService) UpdateRole(ctx context.Context, actor domain.Actor, profileID uuid.UUID, role domain.Role) (*domain.Profile, error) {
	if err := s.guard.Check(ctx, actor, ActionManageRoles, Target{}); err != nil {
		return nil, err
	}
	if err := invalid(validator.ValidateRole(string(role))); err != nil {
		return nil, err
	}
	if profileID == actor.ID {
		return nil, ErrOwnRole
	}

	before, err := s.get(ctx, profileID)
	if err != nil {
		return nil, err
	}
	admin := role.AtLeast(domain.RoleAdmin)

	// Listed before the write so a failure leaves the role untouched.
	var channels []domain.Channel
	if s.notifier != nil && admin != before.Role.AtLeast(domain.RoleAdmin) {
		if channels, err = s.channelRepo.List(ctx, profileID); err != nil {
			return nil, unavailable("listing channels", err)
		}
	}

	if err := s.profileRepo.UpdateRole(ctx, profileID, role); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, unavailable("updating role", err)
	}

	for _, ch := range channels {
		s.notifier.NotifyAccessChanged(AccessChange{
			ChannelID: ch.ID,
			UserID:    profileID,
			Member:    ch.IsMember,
			Admin:     &admin,
		})
	}
	return s.get(ctx, profileID)
}

// Upsert provisions a profile on behalf of the identity provider. It is not
// reachable over HTTP.
func (s *ProfileService) Upsert(ctx context.Context, input UpsertProfileInput) (*domain.Profile, error) {
	if input.Role == "" {
		input.Role = domain.RoleMember
	}
	errs := validator.ValidateProfile(input.Username, input.DisplayName)
	for field, msg := range validator.ValidateRole(string(input.Role)) {
		errs.Add(field, msg)
	}
	if err := invalid(errs); err != nil {
		return nil, err
	}
	if input.ID == uuid.Nil {
		input.ID = uuid.New()
	}

	p := &domain.Profile{
		ID:          input.ID,
		Username:    strings.TrimSpace(input.Username),
		DisplayName: strings.TrimSpace(input.DisplayName),
		AvatarURL:   input.AvatarURL,
		Role:        input.Role,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	if existing, err := s.profileRepo.GetByID(ctx, p.ID); err == nil && existing != nil {
		p.CreatedAt = existing.CreatedAt
	}

	if err := s.profileRepo.Upsert(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, newError(ErrConflict, "username already taken")
		}
		return nil, unavailable("upserting profile", err)
	}
	return p, nil
}

func (s *ProfileService) get(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	p, err := s.profileRepo.GetByID(ctx, id)
	if err != nil {
		return nil, unavailable("loading profile", err)
	}
	if p == nil {
		return nil, ErrProfileNotFound
	}
	return p, nil
}
