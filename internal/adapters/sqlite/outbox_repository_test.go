package sqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/formsum/internal/core/domain"
)

func seedSubmission(t *testing.T, store *SubmissionStore, id string) {
	t.Helper()
	_, err := store.SaveWithEvent(context.Background(), domain.Submission{
		ID:        id,
		SessionID: "sess-" + id,
		Data:      json.RawMessage(`{"nom":"X"}`),
	})
	if err != nil {
		t.Fatalf("seed submission %s: %v", id, err)
	}
}

func TestOutboxRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	db, _ := openMigrated(t)
	store := NewSubmissionStore(db)
	repo := NewOutboxRepository(db)

	seedSubmission(t, store, "a")
	seedSubmission(t, store, "b")
	seedSubmission(t, store, "c")

	pending, err := repo.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("fetch pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	if !(pending[0].ID < pending[1].ID && pending[1].ID < pending[2].ID) {
		t.Fatalf("expected id order, got %d %d %d", pending[0].ID, pending[1].ID, pending[2].ID)
	}

	if err := repo.MarkDispatched(ctx, pending[0].ID); err != nil {
		t.Fatalf("mark dispatched: %v", err)
	}
	later := time.Now().UTC().Add(time.Hour).Format(time.RFC3339Nano)
	if err := repo.MarkFailed(ctx, pending[1].ID, 1, later, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := repo.MarkDead(ctx, pending[2].ID, 5, "gave up"); err != nil {
		t.Fatalf("mark dead: %v", err)
	}

	pending, err = repo.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("fetch pending after marks: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected nothing due, got %d", len(pending))
	}
}

func TestOutboxRepositoryFetchPendingRespectsLimit(t *testing.T) {
	ctx := context.Background()
	db, _ := openMigrated(t)
	store := NewSubmissionStore(db)
	for _, id := range []string{"a", "b", "c"} {
		seedSubmission(t, store, id)
	}

	pending, err := NewOutboxRepository(db).FetchPending(ctx, 2)
	if err != nil {
		t.Fatalf("fetch pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pending))
	}
}

func TestOutboxRepositoryMarkFailedRejectsBadTimestamp(t *testing.T) {
	db, _ := openMigrated(t)
	if err := NewOutboxRepository(db).MarkFailed(context.Background(), 1, 1, "not-a-time", "x"); err == nil {
		t.Fatal("expected parse error")
	}
}
