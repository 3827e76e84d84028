package usercache_test

import (
	"context"
	"testing"

	"github.com/relayhook/dispatcher/internal/domain"
	"github.com/relayhook/dispatcher/internal/usercache"
)

type fakeStore struct {
	calls int
	user  *domain.AppUser
}

func (f *fakeStore) GetOrCreateUser(_ context.Context, appName, externalUserID string) (*domain.AppUser, error) {
	f.calls++
	return &domain.AppUser{ID: "u-1", AppName: appName, ExternalUserID: externalUserID}, nil
}

func TestGetOrCreateUser_CachesAfterFirstCall(t *testing.T) {
	store := &fakeStore{}
	c, err := usercache.NewWithSize(store, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := c.GetOrCreateUser(context.Background(), "app_a", "user-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if store.calls != 1 {
		t.Errorf("store called %d times, want 1", store.calls)
	}
}

func TestGetOrCreateUser_DistinctKeysMissIndependently(t *testing.T) {
	store := &fakeStore{}
	c, _ := usercache.NewWithSize(store, 16)

	if _, err := c.GetOrCreateUser(context.Background(), "app_a", "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.GetOrCreateUser(context.Background(), "app_b", "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.calls != 2 {
		t.Errorf("store called %d times, want 2", store.calls)
	}
}
