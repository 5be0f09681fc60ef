package accounts

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/vertexlabs/vertexpay/internal/testutil"
)

// runDirectorySuite exercises the Directory contract. seed installs an
// account the way the identity service would.
func runDirectorySuite(t *testing.T, dir Directory, seed func(t *testing.T, acct *Account)) {
	ctx := context.Background()

	t.Run("get", func(t *testing.T) {
		seed(t, &Account{UserID: "user-get", Email: "u@example.com", Name: "U", Role: RoleUser})

		acct, err := dir.Get(ctx, "user-get")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if acct.Email != "u@example.com" || acct.IsAdmin() {
			t.Errorf("unexpected account %+v", acct)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := dir.Get(ctx, "user-missing")
		if !errors.Is(err, ErrAccountNotFound) {
			t.Errorf("expected ErrAccountNotFound, got %v", err)
		}
	})

	t.Run("admin role", func(t *testing.T) {
		seed(t, &Account{UserID: "user-admin", Role: RoleAdmin})
		acct, err := dir.Get(ctx, "user-admin")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !acct.IsAdmin() {
			t.Error("expected IsAdmin for ADMIN role")
		}
	})

	t.Run("gateway account lifecycle", func(t *testing.T) {
		seed(t, &Account{UserID: "provider-lc", Role: RoleUser})

		if err := dir.SetStripeAccount(ctx, "provider-lc", "acct_123"); err != nil {
			t.Fatalf("SetStripeAccount: %v", err)
		}
		if err := dir.SetPayoutsEnabled(ctx, "provider-lc", true); err != nil {
			t.Fatalf("SetPayoutsEnabled: %v", err)
		}

		acct, err := dir.Get(ctx, "provider-lc")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if acct.StripeAccountID != "acct_123" || !acct.PayoutsEnabled {
			t.Errorf("gateway state not persisted: %+v", acct)
		}
	})

	t.Run("set on missing account", func(t *testing.T) {
		if err := dir.SetStripeAccount(ctx, "user-ghost", "acct_x"); !errors.Is(err, ErrAccountNotFound) {
			t.Errorf("SetStripeAccount: expected ErrAccountNotFound, got %v", err)
		}
		if err := dir.SetPayoutsEnabled(ctx, "user-ghost", true); !errors.Is(err, ErrAccountNotFound) {
			t.Errorf("SetPayoutsEnabled: expected ErrAccountNotFound, got %v", err)
		}
	})

	t.Run("list connected", func(t *testing.T) {
		seed(t, &Account{UserID: "provider-conn", Role: RoleUser})
		seed(t, &Account{UserID: "user-unconn", Role: RoleUser})
		if err := dir.SetStripeAccount(ctx, "provider-conn", "acct_conn"); err != nil {
			t.Fatalf("SetStripeAccount: %v", err)
		}

		connected, err := dir.ListConnected(ctx)
		if err != nil {
			t.Fatalf("ListConnected: %v", err)
		}

		found := map[string]bool{}
		for _, acct := range connected {
			found[acct.UserID] = true
			if acct.StripeAccountID == "" {
				t.Errorf("unconnected account %q in ListConnected", acct.UserID)
			}
		}
		if !found["provider-conn"] {
			t.Error("provider-conn missing from ListConnected")
		}
		if found["user-unconn"] {
			t.Error("user-unconn should not be listed")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	runDirectorySuite(t, store, func(t *testing.T, acct *Account) {
		t.Helper()
		store.Put(acct)
	})
}

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	seed := func(t *testing.T, acct *Account) {
		t.Helper()
		insertUser(t, db, acct)
	}
	runDirectorySuite(t, NewPostgresStore(db), seed)
}

func insertUser(t *testing.T, db *sql.DB, acct *Account) {
	t.Helper()
	role := acct.Role
	if role == "" {
		role = RoleUser
	}
	_, err := db.Exec(`
		INSERT INTO users (user_id, email, name, role)
		VALUES ($1, $2, $3, $4)
	`, acct.UserID, acct.Email, acct.Name, role)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}
