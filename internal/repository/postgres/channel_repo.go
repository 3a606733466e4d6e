package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/pulsecore/internal/domain"
)

type ChannelRepo struct {
	pool *pgxpool.Pool
}

func NewChannelRepo(pool *pgxpool.Pool) *ChannelRepo {
	return &ChannelRepo{pool: pool}
}

func (r *ChannelRepo) Create(ctx context.Context, ch *domain.Channel, members ...domain.ChannelMember) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO channels (id, name, description, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, query,
		ch.ID, ch.Name, ch.Description, ch.CreatedBy, ch.CreatedAt,
	); err != nil {
		return translate(err)
	}

	for _, m := range members {
		if _, err := tx.Exec(ctx,
			`INSERT INTO channel_members (channel_id, user_id, joined_at) VALUES ($1, $2, $3)`,
			ch.ID, m.UserID, m.JoinedAt,
		); err != nil {
			return translate(err)
		}
	}

	return tx.Commit(ctx)
}

func (r *ChannelRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Channel, error) {
	query := `SELECT id, name, description, created_by, created_at, event_seq FROM channels WHERE id = $1`
	var ch domain.Channel
	var seq int64
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&ch.ID, &ch.Name, &ch.Description, &ch.CreatedBy, &ch.CreatedAt, &seq,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	ch.EventSeq = uint64(seq)
	return &ch, err
}

func (r *ChannelRepo) List(ctx context.Context, viewerID uuid.UUID) ([]domain.Channel, error) {
	query := `
		SELECT c.id, c.name, c.description, c.created_by, c.created_at, c.event_seq,
			EXISTS (SELECT 1 FROM channel_members cm WHERE cm.channel_id = c.id AND cm.user_id = $1)
		FROM channels c
		ORDER BY c.name`

	rows, err := r.pool.Query(ctx, query, viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []domain.Channel
	for rows.Next() {
		var ch domain.Channel
		var seq int64
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Description, &ch.CreatedBy,
			&ch.CreatedAt, &seq, &ch.IsMember); err != nil {
			return nil, err
		}
		ch.EventSeq = uint64(seq)
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// Delete removes the channel; memberships, messages, reactions and
// deletions-for-me go with it through ON DELETE CASCADE.
func (r *ChannelRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	return err
}

func (r *ChannelRepo) AddMember(ctx context.Context, m *domain.ChannelMember) (bool, error) {
	query := `
		INSERT INTO channel_members (channel_id, user_id, joined_at) VALUES ($1, $2, $3)
		ON CONFLICT (channel_id, user_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, query, m.ChannelID, m.UserID, m.JoinedAt)
	if err != nil {
		return false, translate(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ChannelRepo) RemoveMember(ctx context.Context, channelID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM channel_members WHERE channel_id = $1 AND user_id = $2`, channelID, userID)
	return err
}

func (r *ChannelRepo) IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM channel_members WHERE channel_id = $1 AND user_id = $2)`,
		channelID, userID,
	).Scan(&ok)
	return ok, err
}

func (r *ChannelRepo) ListMembers(ctx context.Context, channelID uuid.UUID) ([]domain.ChannelMember, error) {
	query := `
		SELECT cm.channel_id, cm.user_id, cm.joined_at, p.username, p.display_name, p.role
		FROM channel_members cm
		JOIN profiles p ON p.id = cm.user_id
		WHERE cm.channel_id = $1
		ORDER BY cm.joined_at`

	rows, err := r.pool.Query(ctx, query, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.ChannelMember
	for rows.Next() {
		var m domain.ChannelMember
		if err := rows.Scan(&m.ChannelID, &m.UserID, &m.JoinedAt, &m.Username, &m.DisplayName, &m.Role); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
