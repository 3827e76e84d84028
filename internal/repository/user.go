package repository

import (
	"context"

	"github.com/relayhook/dispatcher/internal/domain"
)

// UserStore provides atomic get-or-create semantics over AppUser; callers
// never construct an AppUser directly, since the (app_name, external_user_id)
// pair must be resolved through the same uniqueness guard every time.
type UserStore interface {
	GetOrCreateUser(ctx context.Context, appName, externalUserID string) (*domain.AppUser, error)
}
