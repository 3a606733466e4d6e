package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/repository"
)

const messageColumns = `
	m.id, m.channel_id, m.user_id, m.parent_message_id, m.content, m.attachments,
	m.is_hidden, m.reply_count, m.created_at, m.updated_at, p.username, p.display_name`

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	err := row.Scan(
		&msg.ID, &msg.ChannelID, &msg.AuthorID, &msg.ParentID, &msg.Content, &msg.Attachments,
		&msg.IsHidden, &msg.ReplyCount, &msg.CreatedAt, &msg.UpdatedAt,
		&msg.AuthorUsername, &msg.AuthorDisplayName,
	)
	if err != nil {
		return nil, err
	}
	if msg.Attachments == nil {
		msg.Attachments = []domain.Attachment{}
	}
	return &msg, nil
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) (repository.MessageCommit, error) {
	var commit repository.MessageCommit

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return commit, err
	}
	defer tx.Rollback(ctx)

	reserve := 1
	if msg.IsReply() {
		reserve = 2
	}
	if commit.Seq, err = reserveSeq(ctx, tx, msg.ChannelID, reserve); err != nil {
		return commit, err
	}

	if msg.Attachments == nil {
		msg.Attachments = []domain.Attachment{}
	}
	query := `
		INSERT INTO messages (id, channel_id, user_id, parent_message_id, content, attachments,
			is_hidden, reply_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)`
	if _, err := tx.Exec(ctx, query,
		msg.ID, msg.ChannelID, msg.AuthorID, msg.ParentID, msg.Content, msg.Attachments,
		msg.IsHidden, msg.CreatedAt, msg.UpdatedAt,
	); err != nil {
		return commit, translate(err)
	}

	if msg.IsReply() {
		err := tx.QueryRow(ctx, `
			UPDATE messages SET reply_count = reply_count + 1
			WHERE id = $1 AND channel_id = $2 AND parent_message_id IS NULL
			RETURNING reply_count`,
			*msg.ParentID, msg.ChannelID,
		).Scan(&commit.ReplyCount)
		if errors.Is(err, pgx.ErrNoRows) {
			return commit, repository.ErrNotFound
		}
		if err != nil {
			return commit, fmt.Errorf("incrementing reply count: %w", err)
		}
	}

	return commit, tx.Commit(ctx)
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages m
		JOIN profiles p ON m.user_id = p.id
		WHERE m.id = $1`
	msg, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

func (r *MessageRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + messageColumns + `
		FROM messages m
		JOIN profiles p ON m.user_id = p.id
		WHERE m.id = ANY($1)`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func (r *MessageRepo) List(ctx context.Context, q repository.MessageQuery) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages m
		JOIN profiles p ON m.user_id = p.id
		WHERE m.channel_id = $1 AND m.parent_message_id IS NULL
			AND ($2 OR NOT m.is_hidden)
			AND NOT EXISTS (
				SELECT 1 FROM message_deletions d WHERE d.message_id = m.id AND d.user_id = $3
			)`
	args := []any{q.ChannelID, q.IncludeHidden, q.ViewerID}

	if q.Before != nil {
		if q.Before.ID == uuid.Nil {
			query += ` AND m.created_at < $4`
			args = append(args, q.Before.CreatedAt)
		} else {
			query += ` AND (m.created_at, m.id) < ($4, $5)`
			args = append(args, q.Before.CreatedAt, q.Before.ID)
		}
	}
	query += fmt.Sprintf(` ORDER BY m.created_at DESC, m.id DESC LIMIT %d`, q.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}

	// Reverse into chronological order; the query pages newest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, rows.Err()
}

func (r *MessageRepo) ListReplies(ctx context.Context, parentID, viewerID uuid.UUID, includeHidden bool) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages m
		JOIN profiles p ON m.user_id = p.id
		WHERE m.parent_message_id = $1
			AND ($2 OR NOT m.is_hidden)
			AND NOT EXISTS (
				SELECT 1 FROM message_deletions d WHERE d.message_id = m.id AND d.user_id = $3
			)
		ORDER BY m.created_at, m.id`

	rows, err := r.pool.Query(ctx, query, parentID, includeHidden, viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var replies []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		replies = append(replies, *msg)
	}
	return replies, rows.Err()
}

func (r *MessageRepo) SetHidden(ctx context.Context, id uuid.UUID, hidden bool, at time.Time) (*domain.Message, uint64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback(ctx)

	var channelID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT channel_id FROM messages WHERE id = $1`, id).Scan(&channelID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	seq, err := reserveSeq(ctx, tx, channelID, 1)
	if err != nil {
		return nil, 0, err
	}

	tag, err := tx.Exec(ctx, `UPDATE messages SET is_hidden = $1, updated_at = $2 WHERE id = $3`, hidden, at, id)
	if err != nil {
		return nil, 0, err
	}
	if tag.RowsAffected() == 0 {
		return nil, 0, nil
	}

	msg, err := scanMessage(tx.QueryRow(ctx, `SELECT `+messageColumns+`
		FROM messages m JOIN profiles p ON m.user_id = p.id WHERE m.id = $1`, id))
	if err != nil {
		return nil, 0, err
	}

	return msg, seq, tx.Commit(ctx)
}

func (r *MessageRepo) Delete(ctx context.Context, id uuid.UUID, policy repository.ReplyPolicy) (*repository.DeleteResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	msg, err := scanMessage(tx.QueryRow(ctx, `SELECT `+messageColumns+`
		FROM messages m JOIN profiles p ON m.user_id = p.id WHERE m.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return &repository.DeleteResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	seq, err := reserveSeq(ctx, tx, msg.ChannelID, 1)
	if err != nil {
		return nil, err
	}
	result := &repository.DeleteResult{Message: msg, Seq: seq}

	if !msg.IsReply() {
		switch policy {
		case repository.ReplyPolicyBlock:
			var hasReplies bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM messages WHERE parent_message_id = $1)`, id,
			).Scan(&hasReplies); err != nil {
				return nil, err
			}
			if hasReplies {
				return nil, repository.ErrHasReplies
			}
		case repository.ReplyPolicyCascade:
			rows, err := tx.Query(ctx, `DELETE FROM messages WHERE parent_message_id = $1 RETURNING id`, id)
			if err != nil {
				return nil, err
			}
			replyIDs, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
			if err != nil {
				return nil, err
			}
			result.DeletedReplies = replyIDs
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return &repository.DeleteResult{}, nil
	}

	return result, tx.Commit(ctx)
}

func (r *MessageRepo) HideForUser(ctx context.Context, messageID, userID uuid.UUID, at time.Time) error {
	query := `
		INSERT INTO message_deletions (message_id, user_id, deleted_at) VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, messageID, userID, at)
	return translate(err)
}
