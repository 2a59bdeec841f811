package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/calbridge/calbridge/internal/provider"
	"github.com/calbridge/calbridge/internal/store"
)

// readOnlyCalendarPatterns identify provider system calendars that are
// never sync targets: holidays, contacts birthdays, week numbers.
var readOnlyCalendarPatterns = []string{
	"holiday@",
	"#holiday",
	"#contacts",
	"#weeknum",
}

// isReadOnlyCalendar reports whether an external calendar id matches a
// known read-only system pattern.
func isReadOnlyCalendar(externalID string) bool {
	id := strings.ToLower(externalID)
	for _, pattern := range readOnlyCalendarPatterns {
		if strings.Contains(id, pattern) {
			return true
		}
	}
	return false
}

// SyncRemoteEventsToTasks pulls remote events into local tasks for one
// account.
//
// With calendarID set, only that calendar is scanned (unless it is a
// read-only system calendar, which is always skipped). Otherwise every
// connected calendar that is primary or opted in is scanned, falling
// back to the provider's primary calendar when none are configured.
//
// Each scanned calendar refreshes the event cache and reconciles
// deletions: mappings whose events vanished remotely are removed and
// their tasks completed. Failures on one event or one calendar are
// recorded in the result and never abort the remaining work.
func (e *Engine) SyncRemoteEventsToTasks(ctx context.Context, accountID, calendarID string) (*SyncResult, error) {
	calendarIDs, err := e.selectPullCalendars(ctx, accountID, calendarID)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	now := time.Now()
	from := now.Add(-PullWindowPast)
	to := now.Add(PullWindowFuture)

	for _, calID := range calendarIDs {
		calResult, err := e.pullCalendar(ctx, accountID, calID, from, to)
		if err != nil {
			e.logger.Printf("Failed to pull calendar %s: %v", calID, err)
			result.recordFailure(fmt.Errorf("calendar %s: %w", calID, err))
			continue
		}
		result.merge(calResult)
	}

	e.logger.Printf("Pulled %d events for account %s (failed=%d)", result.Synced, accountID, result.Failed)
	return result, nil
}

// selectPullCalendars resolves which calendars a pull scans.
func (e *Engine) selectPullCalendars(ctx context.Context, accountID, calendarID string) ([]string, error) {
	if calendarID != "" {
		if isReadOnlyCalendar(calendarID) {
			e.logger.Printf("Skipping read-only system calendar %s", calendarID)
			return nil, nil
		}
		return []string{calendarID}, nil
	}

	calendars, err := e.store.ListConnectedCalendars(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, cal := range calendars {
		if !cal.Primary && !cal.IsSynced {
			continue
		}
		if isReadOnlyCalendar(cal.ExternalID) {
			continue
		}
		ids = append(ids, cal.ExternalID)
	}

	if len(ids) == 0 {
		// Nothing configured; fall back to the provider's primary.
		ids = append(ids, "primary")
	}
	return ids, nil
}

// pullCalendar scans one calendar's window, imports or updates tasks,
// refreshes the cache, and reconciles deletions.
func (e *Engine) pullCalendar(ctx context.Context, accountID, calendarID string, from, to time.Time) (*SyncResult, error) {
	events, err := e.provider.ListEvents(ctx, accountID, calendarID, from, to)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	seen := make(map[string]bool, len(events))

	for i := range events {
		event := &events[i]
		if event.Status == store.EventStatusCancelled {
			continue
		}
		seen[event.ID] = true

		if err := e.applyRemoteEvent(ctx, accountID, calendarID, event); err != nil {
			e.logger.Printf("Failed to apply event %s: %v", event.ID, err)
			result.recordFailure(fmt.Errorf("event %s: %w", event.ID, err))
			continue
		}
		result.Synced++
	}

	e.refreshEventCache(ctx, accountID, calendarID, events)

	if err := e.reconcileDeletions(ctx, accountID, calendarID, seen); err != nil {
		result.recordFailure(err)
	}

	return result, nil
}

// applyRemoteEvent folds one remote event into local state: an update
// in place when a task resolves, an Inbox import otherwise. Either way
// a mapping exists afterwards.
func (e *Engine) applyRemoteEvent(ctx context.Context, accountID, calendarID string, event *provider.Event) error {
	task, err := e.resolveLocalTask(ctx, accountID, event)
	if err != nil {
		return err
	}

	if task == nil {
		return e.importEvent(ctx, accountID, calendarID, event)
	}

	applyEventToTask(event, task)
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return err
	}

	// Ensure the mapping exists and points at the right calendar;
	// heuristic and legacy resolutions arrive here without one.
	return e.store.UpsertTaskMapping(ctx, &store.TaskMapping{
		TaskID:             task.ID,
		AccountID:          accountID,
		Provider:           e.provider.ID(),
		ExternalEventID:    event.ID,
		ExternalCalendarID: calendarID,
		LastSyncedAt:       time.Now().UTC(),
	})
}

// resolveLocalTask finds the task behind a remote event, trying in
// order: the mapping keyed by event id, the embedded task-id
// back-reference, the deprecated direct event-id link, and finally an
// exact (title, date) match. The heuristic exists so reconnecting an
// account to calendars it synced before does not re-import duplicates.
func (e *Engine) resolveLocalTask(ctx context.Context, accountID string, event *provider.Event) (*store.Task, error) {
	mapping, err := e.store.GetMappingByEvent(ctx, accountID, e.provider.ID(), event.ID)
	if err == nil {
		task, terr := e.store.GetTask(ctx, mapping.TaskID)
		if terr == nil {
			return task, nil
		}
		if !errors.Is(terr, store.ErrNotFound) {
			return nil, terr
		}
		// Mapping points at a deleted task; drop it and keep looking.
		if derr := e.store.DeleteTaskMapping(ctx, mapping.TaskID, e.provider.ID()); derr != nil {
			return nil, derr
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if event.TaskRef != "" {
		task, terr := e.store.GetTask(ctx, event.TaskRef)
		if terr == nil && task.AccountID == accountID {
			return task, nil
		}
		if terr != nil && !errors.Is(terr, store.ErrNotFound) {
			return nil, terr
		}
	}

	task, err := e.store.FindTaskByRemoteEventID(ctx, accountID, event.ID)
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if event.Summary != "" && !event.Start.IsZero() {
		task, err = e.store.FindTaskByTitleAndDate(ctx, accountID, event.Summary, event.Start.Format("2006-01-02"))
		if err == nil {
			return task, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	return nil, nil
}

// importEvent creates a new task in the Inbox project for an event
// with no local counterpart, plus its mapping.
func (e *Engine) importEvent(ctx context.Context, accountID, calendarID string, event *provider.Event) error {
	inbox, err := e.store.EnsureInboxProject(ctx, accountID)
	if err != nil {
		return err
	}

	task := &store.Task{
		AccountID:   accountID,
		ProjectID:   inbox.ID,
		Title:       event.Summary,
		Description: event.Description,
		Status:      store.TaskStatusTodo,
	}
	applyEventToTask(event, task)

	if err := e.store.CreateTask(ctx, task); err != nil {
		return err
	}

	if err := e.store.UpsertTaskMapping(ctx, &store.TaskMapping{
		TaskID:             task.ID,
		AccountID:          accountID,
		Provider:           e.provider.ID(),
		ExternalEventID:    event.ID,
		ExternalCalendarID: calendarID,
		LastSyncedAt:       time.Now().UTC(),
	}); err != nil {
		return err
	}

	e.logger.Printf("Imported event %q (%s) as task %s", event.Summary, event.ID, task.ID)
	return nil
}

// applyEventToTask copies the remote event's synced fields onto the
// task: title, description, date, and time-of-day or end.
func applyEventToTask(event *provider.Event, task *store.Task) {
	if event.Summary != "" {
		task.Title = event.Summary
	}
	task.Description = event.Description

	if !event.Start.IsZero() {
		task.ScheduledDate = event.Start.UTC().Format("2006-01-02")
		if event.AllDay {
			task.ScheduledTime = ""
			task.EndAt = nil
		} else {
			task.ScheduledTime = event.Start.UTC().Format("15:04")
			if !event.End.IsZero() {
				end := event.End.UTC()
				task.EndAt = &end
			}
		}
	}
}

// refreshEventCache upserts the freshly fetched events into the cache.
// Cache failures are logged only; the cache is rebuildable and never
// blocks a pull.
func (e *Engine) refreshEventCache(ctx context.Context, accountID, calendarID string, events []provider.Event) {
	for i := range events {
		event := &events[i]
		status := event.Status
		if status == "" {
			status = store.EventStatusConfirmed
		}
		var startAt, endAt *time.Time
		if !event.Start.IsZero() {
			s := event.Start.UTC()
			startAt = &s
		}
		if !event.End.IsZero() {
			en := event.End.UTC()
			endAt = &en
		}

		err := e.store.UpsertCachedEvent(ctx, &store.CachedEvent{
			AccountID:  accountID,
			Provider:   e.provider.ID(),
			ExternalID: event.ID,
			CalendarID: calendarID,
			Summary:    event.Summary,
			StartAt:    startAt,
			EndAt:      endAt,
			AllDay:     event.AllDay,
			Status:     status,
		})
		if err != nil {
			e.logger.Printf("Failed to cache event %s: %v", event.ID, err)
		}
	}
}

// reconcileDeletions applies remote deletions to local state: any
// mapping on this calendar whose event is absent from the fetched set
// loses its mapping and its task is completed, never erased. Cache
// rows similarly absent become cancelled tombstones.
func (e *Engine) reconcileDeletions(ctx context.Context, accountID, calendarID string, seen map[string]bool) error {
	mappings, err := e.store.ListMappingsForCalendar(ctx, accountID, e.provider.ID(), calendarID)
	if err != nil {
		return err
	}

	for _, mapping := range mappings {
		if seen[mapping.ExternalEventID] {
			continue
		}

		e.logger.Printf("Event %s gone remotely, completing task %s", mapping.ExternalEventID, mapping.TaskID)
		if err := e.store.MarkTaskDone(ctx, mapping.TaskID); err != nil {
			e.logger.Printf("Failed to complete task %s: %v", mapping.TaskID, err)
			continue
		}
		if err := e.store.DeleteTaskMapping(ctx, mapping.TaskID, mapping.Provider); err != nil {
			e.logger.Printf("Failed to delete mapping for task %s: %v", mapping.TaskID, err)
		}
	}

	cached, err := e.store.ListCachedEventsForCalendar(ctx, accountID, calendarID)
	if err != nil {
		return err
	}
	for _, ce := range cached {
		if seen[ce.ExternalID] || ce.Status == store.EventStatusCancelled {
			continue
		}
		if err := e.store.MarkCachedEventCancelled(ctx, accountID, ce.ExternalID); err != nil {
			e.logger.Printf("Failed to tombstone cached event %s: %v", ce.ExternalID, err)
		}
	}

	return nil
}
