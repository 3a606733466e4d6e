package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/repository"
)

type ReactionRepo struct {
	pool *pgxpool.Pool
}

func NewReactionRepo(pool *pgxpool.Pool) *ReactionRepo {
	return &ReactionRepo{pool: pool}
}

// Toggle relies on the channel row lock and the (message_id, user_id, emoji)
// unique key instead of checking for an existing row first. A lost insert
// race is rolled back and reported as applied with a zero Seq.
func (r *ReactionRepo) Toggle(ctx context.Context, channelID uuid.UUID, reaction domain.Reaction) (repository.ToggleResult, error) {
	var result repository.ToggleResult

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return result, err
	}
	defer tx.Rollback(ctx)

	seq, err := reserveSeq(ctx, tx, channelID, 1)
	if err != nil {
		return result, err
	}

	err = tx.QueryRow(ctx, `
		DELETE FROM message_reactions
		WHERE message_id = $1 AND user_id = $2 AND emoji = $3
		RETURNING id, created_at`,
		reaction.MessageID, reaction.UserID, reaction.Emoji,
	).Scan(&reaction.ID, &reaction.CreatedAt)
	switch {
	case err == nil:
		result.Reaction = reaction
		result.Seq = seq
		return result, tx.Commit(ctx)
	case !errors.Is(err, pgx.ErrNoRows):
		return result, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO message_reactions (id, message_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING
		RETURNING id`,
		reaction.ID, reaction.MessageID, reaction.UserID, reaction.Emoji, reaction.CreatedAt,
	).Scan(&reaction.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		result.Applied = true
		result.Reaction = reaction
		return result, nil
	}
	if err != nil {
		return result, translate(err)
	}

	result.Applied = true
	result.Reaction = reaction
	result.Seq = seq
	return result, tx.Commit(ctx)
}

func (r *ReactionRepo) ListByMessages(ctx context.Context, messageIDs []uuid.UUID) ([]domain.Reaction, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, message_id, user_id, emoji, created_at
		FROM message_reactions
		WHERE message_id = ANY($1)
		ORDER BY created_at, id`, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reactions []domain.Reaction
	for rows.Next() {
		var rc domain.Reaction
		if err := rows.Scan(&rc.ID, &rc.MessageID, &rc.UserID, &rc.Emoji, &rc.CreatedAt); err != nil {
			return nil, err
		}
		reactions = append(reactions, rc)
	}
	return reactions, rows.Err()
}
