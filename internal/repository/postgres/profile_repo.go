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

type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

func (r *ProfileRepo) Upsert(ctx context.Context, p *domain.Profile) error {
	query := `
		INSERT INTO profiles (id, username, display_name, avatar_url, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			avatar_url = EXCLUDED.avatar_url,
			role = EXCLUDED.role`
	_, err := r.pool.Exec(ctx, query,
		p.ID, p.Username, p.DisplayName, p.AvatarURL, p.Role, p.CreatedAt,
	)
	return translate(err)
}

func (r *ProfileRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	query := `SELECT id, username, display_name, avatar_url, role, created_at FROM profiles WHERE id = $1`
	var p domain.Profile
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Username, &p.DisplayName, &p.AvatarURL, &p.Role, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &p, err
}

func (r *ProfileRepo) List(ctx context.Context) ([]domain.Profile, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, username, display_name, avatar_url, role, created_at FROM profiles ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []domain.Profile
	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.DisplayName, &p.AvatarURL, &p.Role, &p.CreatedAt); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (r *ProfileRepo) UpdateRole(ctx context.Context, id uuid.UUID, role domain.Role) error {
	tag, err := r.pool.Exec(ctx, `UPDATE profiles SET role = $1 WHERE id = $2`, role, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
