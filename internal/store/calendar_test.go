package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newConnectedCalendar(t *testing.T, st *Store, accountID, externalID string, primary bool) *ConnectedCalendar {
	t.Helper()

	ctx := context.Background()
	cal := &ConnectedCalendar{
		AccountID:  accountID,
		Provider:   "google",
		ExternalID: externalID,
		Summary:    externalID,
		Primary:    primary,
		Writable:   true,
	}
	if err := st.UpsertConnectedCalendar(ctx, cal); err != nil {
		t.Fatalf("UpsertConnectedCalendar() failed: %v", err)
	}
	stored, err := st.GetConnectedCalendar(ctx, accountID, externalID)
	if err != nil {
		t.Fatalf("GetConnectedCalendar() failed: %v", err)
	}
	return stored
}

// TestUpsertConnectedCalendar_PreservesLocalState verifies a refresh
// updates remote-sourced fields but never clobbers the channel state
// or the user's sync opt-in.
func TestUpsertConnectedCalendar_PreservesLocalState(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	newTestAccount(t, st, "acct1")
	cal := newConnectedCalendar(t, st, "acct1", "cal1", false)

	expiry := time.Now().Add(24 * time.Hour).UTC()
	if err := st.SetChannelState(ctx, cal.ID, "chan1", "res1", expiry); err != nil {
		t.Fatalf("SetChannelState() failed: %v", err)
	}
	if err := st.SetCalendarSynced(ctx, cal.ID, true); err != nil {
		t.Fatalf("SetCalendarSynced() failed: %v", err)
	}

	// Remote refresh with a renamed calendar.
	err := st.UpsertConnectedCalendar(ctx, &ConnectedCalendar{
		AccountID:  "acct1",
		Provider:   "google",
		ExternalID: "cal1",
		Summary:    "Renamed",
		Primary:    true,
		Writable:   true,
	})
	if err != nil {
		t.Fatalf("refresh upsert failed: %v", err)
	}

	got, _ := st.GetConnectedCalendar(ctx, "acct1", "cal1")
	if got.Summary != "Renamed" || !got.Primary {
		t.Errorf("remote fields not refreshed: %+v", got)
	}
	if got.ChannelID != "chan1" || got.ResourceID != "res1" {
		t.Errorf("channel state clobbered: %+v", got)
	}
	if !got.IsSynced {
		t.Error("sync opt-in clobbered by refresh")
	}
}

// TestFindCalendarByChannel verifies the webhook dispatch lookup.
func TestFindCalendarByChannel(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	newTestAccount(t, st, "acct1")
	cal := newConnectedCalendar(t, st, "acct1", "cal1", true)

	expiry := time.Now().Add(24 * time.Hour).UTC()
	if err := st.SetChannelState(ctx, cal.ID, "chan1", "res1", expiry); err != nil {
		t.Fatalf("SetChannelState() failed: %v", err)
	}

	got, err := st.FindCalendarByChannel(ctx, "chan1")
	if err != nil {
		t.Fatalf("FindCalendarByChannel() failed: %v", err)
	}
	if got.ExternalID != "cal1" || got.AccountID != "acct1" {
		t.Errorf("wrong calendar: %+v", got)
	}

	if _, err := st.FindCalendarByChannel(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown channel, got %v", err)
	}
}

// TestListExpiringChannels verifies only channels at or past the
// deadline come back, and cleared channels never do.
func TestListExpiringChannels(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	newTestAccount(t, st, "acct1")
	soon := newConnectedCalendar(t, st, "acct1", "cal-soon", false)
	later := newConnectedCalendar(t, st, "acct1", "cal-later", false)
	cleared := newConnectedCalendar(t, st, "acct1", "cal-cleared", false)

	now := time.Now().UTC()
	if err := st.SetChannelState(ctx, soon.ID, "chan-soon", "res1", now.Add(time.Hour)); err != nil {
		t.Fatalf("SetChannelState() failed: %v", err)
	}
	if err := st.SetChannelState(ctx, later.ID, "chan-later", "res2", now.Add(72*time.Hour)); err != nil {
		t.Fatalf("SetChannelState() failed: %v", err)
	}
	if err := st.SetChannelState(ctx, cleared.ID, "chan-cleared", "res3", now.Add(time.Hour)); err != nil {
		t.Fatalf("SetChannelState() failed: %v", err)
	}
	if err := st.ClearChannelState(ctx, cleared.ID); err != nil {
		t.Fatalf("ClearChannelState() failed: %v", err)
	}

	expiring, err := st.ListExpiringChannels(ctx, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ListExpiringChannels() failed: %v", err)
	}
	if len(expiring) != 1 || expiring[0].ChannelID != "chan-soon" {
		t.Errorf("got %d expiring channels, want only chan-soon", len(expiring))
	}
}

// TestConnectedCalendar_HasActiveChannel covers the channel liveness
// predicate.
func TestConnectedCalendar_HasActiveChannel(t *testing.T) {
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	cases := []struct {
		name string
		cal  ConnectedCalendar
		want bool
	}{
		{"no channel", ConnectedCalendar{}, false},
		{"live", ConnectedCalendar{ChannelID: "c", ChannelExpiration: &future}, true},
		{"expired", ConnectedCalendar{ChannelID: "c", ChannelExpiration: &past}, false},
		{"no expiry", ConnectedCalendar{ChannelID: "c"}, false},
	}
	for _, tc := range cases {
		if got := tc.cal.HasActiveChannel(); got != tc.want {
			t.Errorf("%s: HasActiveChannel() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
