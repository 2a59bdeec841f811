package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/calbridge/calbridge/internal/provider"
	"github.com/calbridge/calbridge/internal/store"
)

// TestSyncTaskToRemote_NoMappingNoTarget verifies the explicit-sync
// policy: a task without a mapping and without a named calendar is left
// local-only, and no remote call is made.
func TestSyncTaskToRemote_NoMappingNoTarget(t *testing.T) {
	eng, st, fake := setupEngine(t)
	ctx := context.Background()

	createTestAccount(t, st, "acct1")
	task := createTestTask(t, st, "acct1", "Local-only task", "2026-01-05", "09:00")

	if err := eng.SyncTaskToRemote(ctx, "acct1", task.ID, ""); err != nil {
		t.Fatalf("SyncTaskToRemote() failed: %v", err)
	}

	if fake.createEventCalls != 0 || fake.updateEventCalls != 0 {
		t.Errorf("expected no remote calls, got create=%d update=%d",
			fake.createEventCalls, fake.updateEventCalls)
	}
	if _, err := st.GetTaskMapping(ctx, task.ID, provider.ProviderGoogle); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected no mapping, got err=%v", err)
	}
}

// TestSyncTaskToRemote_ExplicitTarget verifies the first push of a
// task to a named calendar creates the event and records the mapping.
func TestSyncTaskToRemote_ExplicitTarget(t *testing.T) {
	eng, st, fake := setupEngine(t)
	ctx := context.Background()

	createTestAccount(t, st, "acct1")
	fake.addCalendar("cal1", "Work", false)
	task := createTestTask(t, st, "acct1", "Standup", "2026-01-05", "09:00")

	if err := eng.SyncTaskToRemote(ctx, "acct1", task.ID, "cal1"); err != nil {
		t.Fatalf("SyncTaskToRemote() failed: %v", err)
	}

	if fake.createEventCalls != 1 {
		t.Fatalf("expected 1 create call, got %d", fake.createEventCalls)
	}
	if n := fake.eventCount("cal1"); n != 1 {
		t.Fatalf("expected 1 remote event, got %d", n)
	}

	mapping, err := st.GetTaskMapping(ctx, task.ID, provider.ProviderGoogle)
	if err != nil {
		t.Fatalf("GetTaskMapping() failed: %v", err)
	}
	if mapping.ExternalCalendarID != "cal1" {
		t.Errorf("mapping calendar = %q, want cal1", mapping.ExternalCalendarID)
	}
	if mapping.ExternalEventID == "" {
		t.Error("mapping has empty event id")
	}
	if mapping.ContentHash == "" {
		t.Error("mapping has empty content hash")
	}

	// Verify the remote event's shape.
	events, _ := fake.ListEvents(ctx, "acct1", "cal1", time.Time{}, time.Time{})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Summary != "Standup" {
		t.Errorf("event summary = %q, want Standup", e.Summary)
	}
	wantStart := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	if !e.Start.Equal(wantStart) {
		t.Errorf("event start = %v, want %v", e.Start, wantStart)
	}
	if !e.End.Equal(wantStart.Add(time.Hour)) {
		t.Errorf("event end = %v, want %v", e.End, wantStart.Add(time.Hour))
	}
	if e.TaskRef != task.ID {
		t.Errorf("event task ref = %q, want %q", e.TaskRef, task.ID)
	}
}

// TestSyncTaskToRemote_UnchangedSkipsRemote verifies the stored
// content hash short-circuits a second push when nothing changed.
func TestSyncTaskToRemote_UnchangedSkipsRemote(t *testing.T) {
	eng, st, fake := setupEngine(t)
	ctx := context.Background()

	createTestAccount(t, st, "acct1")
	fake.addCalendar("cal1", "Work", false)
	task := createTestTask(t, st, "acct1", "Standup", "2026-01-05", "09:00")

	if err := eng.SyncTaskToRemote(ctx, "acct1", task.ID, "cal1"); err != nil {
		t.Fatalf("first push failed: %v", err)
	}
	if err := eng.SyncTaskToRemote(ctx, "acct1", task.ID, ""); err != nil {
		t.Fatalf("second push failed: %v", err)
	}

	if fake.createEventCalls != 1 || fake.updateEventCalls != 0 {
		t.Errorf("expected no call on unchanged push, got create=%d update=%d",
			fake.createEventCalls, fake.updateEventCalls)
	}
}

// TestSyncTaskToRemote_UpdateAfterChange verifies a mapped task whose
// content changed is pushed as an update in place, reusing the event.
func TestSyncTaskToRemote_UpdateAfterChange(t *testing.T) {
	eng, st, fake := setupEngine(t)
	ctx := context.Background()

	createTestAccount(t, st, "acct1")
	fake.addCalendar("cal1", "Work", false)
	task := createTestTask(t, st, "acct1", "Standup", "2026-01-05", "09:00")

	if err := eng.SyncTaskToRemote(ctx, "acct1", task.ID, "cal1"); err != nil {
		t.Fatalf("first push failed: %v", err)
	}
	first, _ := st.GetTaskMapping(ctx, task.ID, provider.ProviderGoogle)

	task.Title = "Standup (moved)"
	task.ScheduledTime = "10:00"
	if err := st.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	if err := eng.SyncTaskToRemote(ctx, "acct1", task.ID, ""); err != nil {
		t.Fatalf("second push failed: %v", err)
	}

	if fake.updateEventCalls != 1 {
		t.Errorf("expected 1 update call, got %d", fake.updateEventCalls)
	}
	if n := fake.eventCount("cal1"); n != 1 {
		t.Errorf("expected 1 remote event after update, got %d", n)
	}

	second, _ := st.GetTaskMapping(ctx, task.ID, provider.ProviderGoogle)
	if second.ExternalEventID != first.ExternalEventID {
		t.Errorf("event id changed across update: %q -> %q", first.ExternalEventID, second.ExternalEventID)
	}
	if second.ContentHash == first.ContentHash {
		t.Error("content hash did not change after edit")
	}
}

// TestSyncTaskToRemote_RecreatesMissingEvent verifies that when the
// remote event behind a mapping was deleted out-of-band, the push
// drops the stale mapping and creates a fresh event.
func TestSyncTaskToRemote_RecreatesMissingEvent(t *testing.T) {
	eng, st, fake := setupEngine(t)
	ctx := context.Background()

	createTestAccount(t, st, "acct1")
	fake.addCalendar("cal1", "Work", false)
	task := createTestTask(t, st, "acct1", "Standup", "2026-01-05", "09:00")

	if err := eng.SyncTaskToRemote(ctx, "acct1", task.ID, "cal1"); err != nil {
		t.Fatalf("first push failed: %v", err)
	}
	first, _ := st.GetTaskMapping(ctx, task.ID, provider.ProviderGoogle)
	fake.removeEvent("cal1", first.ExternalEventID)

	task.Title = "Standup v2"
	if err := st.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	if err := eng.SyncTaskToRemote(ctx, "acct1", task.ID, ""); err != nil {
		t.Fatalf("recreate push failed: %v", err)
	}

	if fake.createEventCalls != 2 {
		t.Errorf("expected 2 create calls, got %d", fake.createEventCalls)
	}
	second, err := st.GetTaskMapping(ctx, task.ID, provider.ProviderGoogle)
	if err != nil {
		t.Fatalf("GetTaskMapping() after recreate failed: %v", err)
	}
	if second.ExternalEventID == first.ExternalEventID {
		t.Error("mapping still points at the deleted event")
	}
}

// TestSyncTaskToRemote_UnscheduledRejected verifies a task without a
// scheduled date cannot be pushed.
func TestSyncTaskToRemote_UnscheduledRejected(t *testing.T) {
	eng, st, fake := setupEngine(t)
	ctx := context.Background()

	createTestAccount(t, st, "acct1")
	fake.addCalendar("cal1", "Work", false)
	task := createTestTask(t, st, "acct1", "Someday", "", "")

	err := eng.SyncTaskToRemote(ctx, "acct1", task.ID, "cal1")
	if provider.KindOf(err) != provider.KindInvalidState {
		t.Fatalf("expected KindInvalidState, got %v", err)
	}
	if fake.createEventCalls != 0 {
		t.Errorf("expected no create call, got %d", fake.createEventCalls)
	}
}

// TestSyncTaskToRemote_AllDay verifies a task scheduled without a
// time-of-day becomes an all-day event spanning one day.
func TestSyncTaskToRemote_AllDay(t *testing.T) {
	eng, st, fake := setupEngine(t)
	ctx := context.Background()

	createTestAccount(t, st, "acct1")
	fake.addCalendar("cal1", "Work", false)
	task := createTestTask(t, st, "acct1", "Conference day", "2026-03-10", "")

	if err := eng.SyncTaskToRemote(ctx, "acct1", task.ID, "cal1"); err != nil {
		t.Fatalf("SyncTaskToRemote() failed: %v", err)
	}

	events, _ := fake.ListEvents(ctx, "acct1", "cal1", time.Time{}, time.Time{})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if !e.AllDay {
		t.Error("event not marked all-day")
	}
	if got := e.End.Sub(e.Start); got != 24*time.Hour {
		t.Errorf("all-day span = %v, want 24h", got)
	}
}

// TestSyncAllTasksToRemote_IsolatesFailures verifies one failing task
// does not abort the batch and the counts come out right.
func TestSyncAllTasksToRemote_IsolatesFailures(t *testing.T) {
	eng, st, fake := setupEngine(t)
	ctx := context.Background()

	createTestAccount(t, st, "acct1")
	fake.addCalendar("cal1", "Work", false)

	good := createTestTask(t, st, "acct1", "Good task", "2026-01-05", "09:00")
	bad := createTestTask(t, st, "acct1", "Bad task", "2026-01-06", "09:00")
	for _, task := range []*store.Task{good, bad} {
		if err := eng.SyncTaskToRemote(ctx, "acct1", task.ID, "cal1"); err != nil {
			t.Fatalf("seeding push failed: %v", err)
		}
	}

	// Force both to need a repush, and make one fail remotely.
	good.Description = "updated"
	bad.Description = "updated"
	for _, task := range []*store.Task{good, bad} {
		if err := st.UpdateTask(ctx, task); err != nil {
			t.Fatalf("UpdateTask() failed: %v", err)
		}
	}
	fake.failEventTitles["Bad task"] = true

	result, err := eng.SyncAllTasksToRemote(ctx, "acct1")
	if err != nil {
		t.Fatalf("SyncAllTasksToRemote() failed: %v", err)
	}
	if result.Synced != 1 || result.Failed != 1 {
		t.Errorf("result = synced %d failed %d, want 1/1", result.Synced, result.Failed)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 recorded error, got %d", len(result.Errors))
	}
}

// TestDeleteRemoteEvent verifies a local delete removes the remote
// event and the mapping, and tolerates the event already being gone.
func TestDeleteRemoteEvent(t *testing.T) {
	eng, st, fake := setupEngine(t)
	ctx := context.Background()

	createTestAccount(t, st, "acct1")
	fake.addCalendar("cal1", "Work", false)
	task := createTestTask(t, st, "acct1", "Doomed", "2026-01-05", "09:00")

	if err := eng.SyncTaskToRemote(ctx, "acct1", task.ID, "cal1"); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if err := eng.DeleteRemoteEvent(ctx, "acct1", task.ID); err != nil {
		t.Fatalf("DeleteRemoteEvent() failed: %v", err)
	}

	if n := fake.eventCount("cal1"); n != 0 {
		t.Errorf("expected 0 remote events, got %d", n)
	}
	if _, err := st.GetTaskMapping(ctx, task.ID, provider.ProviderGoogle); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected mapping gone, got err=%v", err)
	}

	// Unmapped task: no-op.
	if err := eng.DeleteRemoteEvent(ctx, "acct1", task.ID); err != nil {
		t.Fatalf("second DeleteRemoteEvent() failed: %v", err)
	}
}

// TestContentHash_SensitiveFields verifies the fingerprint changes for
// each pushed field and is stable otherwise.
func TestContentHash_SensitiveFields(t *testing.T) {
	base := provider.Event{
		Summary:     "Standup",
		Description: "daily",
		Start:       time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
	}
	baseHash := contentHash(&base)

	same := base
	if contentHash(&same) != baseHash {
		t.Error("hash not stable for identical events")
	}

	variants := map[string]provider.Event{
		"summary":     {Summary: "Other", Description: base.Description, Start: base.Start, End: base.End},
		"description": {Summary: base.Summary, Description: "other", Start: base.Start, End: base.End},
		"start":       {Summary: base.Summary, Description: base.Description, Start: base.Start.Add(time.Hour), End: base.End},
		"end":         {Summary: base.Summary, Description: base.Description, Start: base.Start, End: base.End.Add(time.Hour)},
		"allday":      {Summary: base.Summary, Description: base.Description, Start: base.Start, End: base.End, AllDay: true},
		"color":       {Summary: base.Summary, Description: base.Description, Start: base.Start, End: base.End, ColorID: "7"},
	}
	for name, v := range variants {
		if contentHash(&v) == baseHash {
			t.Errorf("hash unchanged when %s differs", name)
		}
	}
}
