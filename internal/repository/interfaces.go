package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/domain"
)

var (
	ErrDuplicate  = errors.New("duplicate key")
	ErrNotFound   = errors.New("row not found")
	ErrHasReplies = errors.New("message has replies")
)

// ReplyPolicy decides what happens to the replies of a deleted top-level message.
type ReplyPolicy string

const (
	// ReplyPolicyOrphan keeps the replies; they stay stored but have no parent.
	ReplyPolicyOrphan ReplyPolicy = "orphan"
	// ReplyPolicyCascade deletes the replies in the same transaction.
	ReplyPolicyCascade ReplyPolicy = "cascade"
	// ReplyPolicyBlock refuses the delete with ErrHasReplies while replies exist.
	ReplyPolicyBlock ReplyPolicy = "block"
)

func (p ReplyPolicy) Valid() bool {
	switch p {
	case ReplyPolicyOrphan, ReplyPolicyCascade, ReplyPolicyBlock:
		return true
	}
	return false
}

// Cursor is the (created_at, id) position of the oldest message a client has
// loaded. A zero ID compares on created_at alone.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

type MessageQuery struct {
	ChannelID     uuid.UUID
	ViewerID      uuid.UUID
	Before        *Cursor
	Limit         int
	IncludeHidden bool
}

// MessageCommit describes a committed insert. Seq is the commit sequence of
// the message itself; a reply also reserves Seq+1 for the parent's reply
// count change.
type MessageCommit struct {
	Seq        uint64
	ReplyCount int
}

type DeleteResult struct {
	Message        *domain.Message
	Seq            uint64
	DeletedReplies []uuid.UUID
}

type ToggleResult struct {
	Applied  bool
	Reaction domain.Reaction
	Seq      uint64
}

type ProfileRepository interface {
	Upsert(ctx context.Context, p *domain.Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Profile, error)
	List(ctx context.Context) ([]domain.Profile, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role domain.Role) error
}

type ChannelRepository interface {
	// Create stores the channel together with its initial members.
	Create(ctx context.Context, ch *domain.Channel, members ...domain.ChannelMember) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Channel, error)
	List(ctx context.Context, viewerID uuid.UUID) ([]domain.Channel, error)
	Delete(ctx context.Context, id uuid.UUID) error
	AddMember(ctx context.Context, m *domain.ChannelMember) (bool, error)
	RemoveMember(ctx context.Context, channelID, userID uuid.UUID) error
	IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error)
	ListMembers(ctx context.Context, channelID uuid.UUID) ([]domain.ChannelMember, error)
}

type MessageRepository interface {
	// Create inserts msg and, for replies, increments the parent's
	// reply_count in the same transaction.
	Create(ctx context.Context, msg *domain.Message) (MessageCommit, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	// GetByIDs skips ids that do not exist.
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Message, error)
	// List returns up to q.Limit top-level messages older than q.Before,
	// the newest page first but in chronological order.
	List(ctx context.Context, q MessageQuery) ([]domain.Message, error)
	// ListReplies returns the replies of parentID oldest first.
	ListReplies(ctx context.Context, parentID, viewerID uuid.UUID, includeHidden bool) ([]domain.Message, error)
	SetHidden(ctx context.Context, id uuid.UUID, hidden bool, at time.Time) (*domain.Message, uint64, error)
	Delete(ctx context.Context, id uuid.UUID, policy ReplyPolicy) (*DeleteResult, error)
	HideForUser(ctx context.Context, messageID, userID uuid.UUID, at time.Time) error
}

type ReactionRepository interface {
	// Toggle deletes r's (message, user, emoji) row if present, otherwise
	// inserts r. channelID is the message's channel, used for sequencing.
	Toggle(ctx context.Context, channelID uuid.UUID, r domain.Reaction) (ToggleResult, error)
	ListByMessages(ctx context.Context, messageIDs []uuid.UUID) ([]domain.Reaction, error)
}
