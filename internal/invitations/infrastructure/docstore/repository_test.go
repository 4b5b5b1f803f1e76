package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"condo-water/internal/auth"
	"condo-water/internal/docstore/memory"
	invitations "condo-water/internal/invitations/domain"
)

func sample(id string, createdAt time.Time) *invitations.Invitation {
	return &invitations.Invitation{
		ID:        id,
		Token:     "tok-" + id,
		Email:     id + "@example.com",
		Role:      auth.RoleEditor,
		CondoID:   "c-1",
		CreatedBy: "admin",
		Status:    invitations.StatusPending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		ExpiresAt: createdAt.Add(invitations.DefaultTTL),
	}
}

func TestRepository_RoundTripAndGuard(t *testing.T) {
	ctx := context.Background()
	repo, err := NewRepository(memory.NewStore())
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"i-1", "i-2", "i-3"} {
		if err := repo.Create(ctx, sample(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	got, err := repo.FindByToken(ctx, "tok-i-2")
	if err != nil || got == nil || got.ID != "i-2" || !got.CreatedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("find by token: %+v %v", got, err)
	}
	if missing, err := repo.FindByToken(ctx, "nope"); err != nil || missing != nil {
		t.Fatalf("expected nil for unknown token, got %+v %v", missing, err)
	}

	got.Status = invitations.StatusCancelled
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got.Status = invitations.StatusCompleted
	if err := repo.Update(ctx, got); !errors.Is(err, invitations.ErrConflict) {
		t.Fatalf("expected conflict on non-pending update, got %v", err)
	}

	pending, err := repo.ListPending(ctx, "c-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "i-3" || pending[1].ID != "i-1" {
		t.Fatalf("unexpected pending list: %+v", pending)
	}
}
