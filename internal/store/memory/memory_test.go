package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/store"
)

func TestUpdateGroupVersionConflict(t *testing.T) {
	st := New()
	ctx := context.Background()

	err := st.CreateGroup(ctx, domain.Group{
		ID: "g1", Name: "Family pot", Status: domain.GroupActive,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	// Two readers pick up the same version.
	first, err := st.GetGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := st.GetGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("second read: %v", err)
	}

	first.Name = "Family pot (renamed)"
	if err := st.UpdateGroup(ctx, first); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// The second writer still carries the stale version and must lose.
	second.Name = "Family pot (stale)"
	if err := st.UpdateGroup(ctx, second); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("stale update: want ErrVersionConflict, got %v", err)
	}

	// A re-read picks up the bumped version and succeeds.
	fresh, err := st.GetGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if fresh.Version != first.Version+1 {
		t.Errorf("version after update: want %d, got %d", first.Version+1, fresh.Version)
	}
	if fresh.Name != "Family pot (renamed)" {
		t.Errorf("stale write must not land, got name %q", fresh.Name)
	}
	fresh.Name = "Family pot (retried)"
	if err := st.UpdateGroup(ctx, fresh); err != nil {
		t.Errorf("retried update: %v", err)
	}
}

func TestUpdateGroupUnknownID(t *testing.T) {
	st := New()
	err := st.UpdateGroup(context.Background(), domain.Group{ID: "missing"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMarkEventProcessedDeduplicates(t *testing.T) {
	st := New()
	ctx := context.Background()
	ev := domain.WebhookEvent{
		EventID: "evt_1", Kind: "payment_intent.succeeded",
		ProcessedAt: time.Now().UTC(),
	}

	fresh, err := st.MarkEventProcessed(ctx, ev)
	if err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if !fresh {
		t.Fatal("first delivery must be fresh")
	}

	fresh, err = st.MarkEventProcessed(ctx, ev)
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if fresh {
		t.Fatal("redelivery must not be fresh")
	}
}
