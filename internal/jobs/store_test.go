package jobs

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/vertexlabs/vertexpay/internal/testutil"
)

// runAuthoritySuite exercises the Authority contract. seed installs a job
// through whatever backdoor the implementation offers.
func runAuthoritySuite(t *testing.T, auth Authority, seed func(t *testing.T, job *Job)) {
	ctx := context.Background()

	t.Run("get", func(t *testing.T) {
		seed(t, &Job{
			ID: "job-get", Title: "Logo design", Price: "100.000000",
			ClientID: "client-1", ProviderID: "provider-1", Status: StatusOpen,
		})

		job, err := auth.Get(ctx, "job-get")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.Title != "Logo design" || job.ClientID != "client-1" {
			t.Errorf("unexpected job %+v", job)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := auth.Get(ctx, "job-missing")
		if !errors.Is(err, ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})

	t.Run("payment state round trip", func(t *testing.T) {
		seed(t, &Job{
			ID: "job-pay", Title: "Translation", Price: "40.000000",
			ClientID: "client-1", ProviderID: "provider-1", Status: StatusOpen,
		})

		now := time.Now().UTC().Truncate(time.Second)
		err := auth.SetPaymentState(ctx, "job-pay", PaymentUpdate{
			JobStatus:     StatusInProgress,
			PaymentStatus: PaymentPending,
			PaymentAmount: "40.000000",
			IntentRef:     "pi_roundtrip",
		})
		if err != nil {
			t.Fatalf("SetPaymentState: %v", err)
		}

		err = auth.SetPaymentState(ctx, "job-pay", PaymentUpdate{
			PaymentStatus: PaymentPaid,
			PaidAt:        &now,
		})
		if err != nil {
			t.Fatalf("SetPaymentState paid: %v", err)
		}

		job, err := auth.Get(ctx, "job-pay")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.Status != StatusInProgress {
			t.Errorf("status = %q, want IN_PROGRESS", job.Status)
		}
		if job.Payment.Status != PaymentPaid || job.Payment.IntentRef != "pi_roundtrip" {
			t.Errorf("payment sub-state = %+v", job.Payment)
		}
		if job.Payment.PaidAt == nil {
			t.Error("paidAt not persisted")
		}

		// Fields absent from the update are untouched
		if job.Payment.Amount != "40.000000" {
			t.Errorf("amount clobbered: %q", job.Payment.Amount)
		}
	})

	t.Run("get by intent", func(t *testing.T) {
		seed(t, &Job{
			ID: "job-intent", Title: "Audit", Price: "250.000000",
			ClientID: "client-2", ProviderID: "provider-2", Status: StatusInProgress,
		})
		if err := auth.SetPaymentState(ctx, "job-intent", PaymentUpdate{IntentRef: "pi_lookup"}); err != nil {
			t.Fatalf("SetPaymentState: %v", err)
		}

		job, err := auth.GetByIntent(ctx, "pi_lookup")
		if err != nil {
			t.Fatalf("GetByIntent: %v", err)
		}
		if job.ID != "job-intent" {
			t.Errorf("resolved job %q, want job-intent", job.ID)
		}

		if _, err := auth.GetByIntent(ctx, "pi_unknown"); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound for unknown intent, got %v", err)
		}
	})

	t.Run("update missing job", func(t *testing.T) {
		err := auth.SetPaymentState(ctx, "job-ghost", PaymentUpdate{PaymentStatus: PaymentPaid})
		if !errors.Is(err, ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	runAuthoritySuite(t, store, func(t *testing.T, job *Job) {
		t.Helper()
		store.Put(job)
	})
}

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	// The jobs table is owned by the workflow service; tests seed it
	// directly the way that service would.
	seed := func(t *testing.T, job *Job) {
		t.Helper()
		insertJob(t, db, job)
	}
	runAuthoritySuite(t, NewPostgresStore(db), seed)
}

func insertJob(t *testing.T, db *sql.DB, job *Job) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO jobs (id, title, price, client_id, provider_id, status)
		VALUES ($1, $2, $3::NUMERIC(20,6), $4, $5, $6)
	`, job.ID, job.Title, job.Price, job.ClientID, job.ProviderID, job.Status)
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
}
