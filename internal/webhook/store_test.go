package webhook

import (
	"context"
	"testing"

	"github.com/vertexlabs/vertexpay/internal/testutil"
)

func runEventStoreSuite(t *testing.T, store EventStore) {
	ctx := context.Background()

	seen, err := store.Seen(ctx, "evt_new")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if seen {
		t.Error("unprocessed event reported as seen")
	}

	if err := store.MarkProcessed(ctx, "evt_new", "payment_intent.succeeded"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	seen, err = store.Seen(ctx, "evt_new")
	if err != nil {
		t.Fatalf("Seen after mark: %v", err)
	}
	if !seen {
		t.Error("processed event not reported as seen")
	}

	// Marking twice is a no-op, not an error (redelivery race)
	if err := store.MarkProcessed(ctx, "evt_new", "payment_intent.succeeded"); err != nil {
		t.Errorf("second MarkProcessed: %v", err)
	}
}

func TestMemoryEventStore(t *testing.T) {
	runEventStoreSuite(t, NewMemoryStore())
}

func TestPostgresEventStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	runEventStoreSuite(t, NewPostgresStore(db))
}
