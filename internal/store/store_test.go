package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestDB creates a store over a temp-dir database with the schema
// applied.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return st
}

func newTestAccount(t *testing.T, st *Store, id string) *Account {
	t.Helper()

	expiry := time.Now().Add(time.Hour).UTC()
	a := &Account{
		ID:           id,
		Email:        id + "@example.com",
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		TokenExpiry:  &expiry,
	}
	if err := st.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("CreateAccount() failed: %v", err)
	}
	return a
}

// TestInitSchema_Idempotent verifies applying the schema twice leaves
// existing data intact.
func TestInitSchema_Idempotent(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	newTestAccount(t, st, "acct1")

	if err := st.InitSchema(ctx); err != nil {
		t.Fatalf("second InitSchema() failed: %v", err)
	}
	if _, err := st.GetAccount(ctx, "acct1"); err != nil {
		t.Errorf("account lost after schema re-apply: %v", err)
	}
}

// TestAccountRoundTrip verifies account create/read and credential
// lifecycle.
func TestAccountRoundTrip(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	created := newTestAccount(t, st, "acct1")

	got, err := st.GetAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("GetAccount() failed: %v", err)
	}
	if got.Email != created.Email || got.AccessToken != created.AccessToken {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if got.TokenExpiry == nil {
		t.Error("token expiry lost")
	}

	newExpiry := time.Now().Add(2 * time.Hour).UTC()
	if err := st.UpdateCredentials(ctx, "acct1", "new-access", "new-refresh", &newExpiry); err != nil {
		t.Fatalf("UpdateCredentials() failed: %v", err)
	}
	got, _ = st.GetAccount(ctx, "acct1")
	if got.AccessToken != "new-access" || got.RefreshToken != "new-refresh" {
		t.Errorf("credentials not updated: %+v", got)
	}

	if err := st.ClearCredentials(ctx, "acct1"); err != nil {
		t.Fatalf("ClearCredentials() failed: %v", err)
	}
	got, _ = st.GetAccount(ctx, "acct1")
	if got.AccessToken != "" || got.TokenExpiry != nil {
		t.Errorf("credentials not cleared: %+v", got)
	}
}

// TestGetAccount_Missing verifies a missing account surfaces
// ErrNotFound.
func TestGetAccount_Missing(t *testing.T) {
	st := setupTestDB(t)

	_, err := st.GetAccount(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// TestSetDedicatedCalendar_Conditional verifies the provisioning
// guard: the update applies only when the stored id is empty or
// already equal, and enables sync as a side effect.
func TestSetDedicatedCalendar_Conditional(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	newTestAccount(t, st, "acct1")

	applied, err := st.SetDedicatedCalendar(ctx, "acct1", "cal-a")
	if err != nil {
		t.Fatalf("SetDedicatedCalendar() failed: %v", err)
	}
	if !applied {
		t.Fatal("first set not applied")
	}

	got, _ := st.GetAccount(ctx, "acct1")
	if got.DedicatedCalendarID != "cal-a" || !got.SyncEnabled {
		t.Errorf("account state = %q/%v, want cal-a/true", got.DedicatedCalendarID, got.SyncEnabled)
	}

	// Same id again: idempotent, still applied.
	applied, err = st.SetDedicatedCalendar(ctx, "acct1", "cal-a")
	if err != nil || !applied {
		t.Errorf("idempotent set = %v/%v, want true/nil", applied, err)
	}

	// Different id: rejected, state untouched.
	applied, err = st.SetDedicatedCalendar(ctx, "acct1", "cal-b")
	if err != nil {
		t.Fatalf("conflicting set failed: %v", err)
	}
	if applied {
		t.Error("conflicting set applied over existing id")
	}
	got, _ = st.GetAccount(ctx, "acct1")
	if got.DedicatedCalendarID != "cal-a" {
		t.Errorf("stored id = %q, want cal-a", got.DedicatedCalendarID)
	}

	// Clearing reopens the slot.
	if err := st.ClearDedicatedCalendar(ctx, "acct1"); err != nil {
		t.Fatalf("ClearDedicatedCalendar() failed: %v", err)
	}
	got, _ = st.GetAccount(ctx, "acct1")
	if got.DedicatedCalendarID != "" || got.SyncEnabled {
		t.Errorf("clear left state %q/%v", got.DedicatedCalendarID, got.SyncEnabled)
	}
	applied, _ = st.SetDedicatedCalendar(ctx, "acct1", "cal-b")
	if !applied {
		t.Error("set after clear not applied")
	}
}

// TestListSyncEnabledAccounts verifies only provisioned accounts are
// returned.
func TestListSyncEnabledAccounts(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	newTestAccount(t, st, "acct1")
	newTestAccount(t, st, "acct2")
	if _, err := st.SetDedicatedCalendar(ctx, "acct1", "cal-a"); err != nil {
		t.Fatalf("SetDedicatedCalendar() failed: %v", err)
	}

	accounts, err := st.ListSyncEnabledAccounts(ctx)
	if err != nil {
		t.Fatalf("ListSyncEnabledAccounts() failed: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ID != "acct1" {
		t.Errorf("got %d accounts, want only acct1", len(accounts))
	}
}
