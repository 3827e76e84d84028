package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayhook/dispatcher/internal/domain"
)

type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// GetOrCreateUser resolves the (app_name, external_user_id) pair atomically —
// ON CONFLICT DO UPDATE RETURNING means the statement always returns a row,
// whether freshly inserted or already present.
func (s *UserStore) GetOrCreateUser(ctx context.Context, appName, externalUserID string) (*domain.AppUser, error) {
	query := `
		INSERT INTO app_users (app_name, external_user_id)
		VALUES ($1, $2)
		ON CONFLICT (app_name, external_user_id) DO UPDATE SET app_name = EXCLUDED.app_name
		RETURNING id, app_name, external_user_id, created_at`

	row := s.pool.QueryRow(ctx, query, appName, externalUserID)

	var u domain.AppUser
	if err := row.Scan(&u.ID, &u.AppName, &u.ExternalUserID, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("get or create user: %w", err)
	}
	return &u, nil
}
