//go:build integration

package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/swipefi/swipefi/internal/events"
	"github.com/swipefi/swipefi/internal/testutil"
)

func TestPostgresStore_CRUD(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	sub := newSub("wh_pg1", "https://hooks.example.com", events.Spend, events.Repay)
	sub.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "wh_pg1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Wants(events.Repay) || got.Secret != "secret123" {
		t.Errorf("unexpected subscription: %+v", got)
	}

	now := time.Now().UTC()
	got.LastSuccess = &now
	got.ConsecutiveFailures = 2
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	subs, err := store.ListByWallet(ctx, testWallet)
	if err != nil || len(subs) != 1 || subs[0].ConsecutiveFailures != 2 {
		t.Fatalf("ListByWallet = %+v, %v", subs, err)
	}

	if err := store.Delete(ctx, testWallet, "wh_pg1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "wh_pg1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Update(ctx, got); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound updating a deleted webhook, got %v", err)
	}
}
