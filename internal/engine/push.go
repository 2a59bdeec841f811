package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/calbridge/calbridge/internal/provider"
	"github.com/calbridge/calbridge/internal/store"
)

// SyncTaskToRemote pushes one task's state to its remote event.
//
// Sync is explicit: when the task has no mapping and no
// explicitCalendarID is supplied, the task is intentionally left
// local-only and the call returns nil without touching the remote. A
// mapping is only ever created the first time a caller names a target
// calendar.
//
// When a mapping exists, the engine attempts an update; a remote
// report of the event being gone drops the stale mapping and falls
// through to create. Unchanged content (by stored hash) skips the
// remote call entirely.
func (e *Engine) SyncTaskToRemote(ctx context.Context, accountID, taskID, explicitCalendarID string) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.AccountID != accountID {
		return fmt.Errorf("task %s: %w", taskID, store.ErrNotFound)
	}

	mapping, err := e.store.GetTaskMapping(ctx, taskID, e.provider.ID())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	// Explicit-sync policy: no mapping and no target means local-only.
	if mapping == nil && explicitCalendarID == "" {
		return nil
	}

	calendarID := explicitCalendarID
	if calendarID == "" {
		calendarID = mapping.ExternalCalendarID
	}

	if task.ScheduledDate == "" {
		return provider.NewError(provider.KindInvalidState, "engine.SyncTaskToRemote",
			fmt.Errorf("task %s has no scheduled date", taskID))
	}

	event, err := e.buildEvent(ctx, task)
	if err != nil {
		return err
	}
	hash := contentHash(event)

	if mapping != nil && mapping.ContentHash == hash && mapping.ExternalCalendarID == calendarID {
		// Nothing changed since the last push.
		return nil
	}

	var remote *provider.Event
	if mapping != nil {
		event.ID = mapping.ExternalEventID
		remote, err = e.provider.UpdateEvent(ctx, accountID, calendarID, event)
		if provider.IsNotFound(err) {
			// The remote event is gone; drop the stale mapping and
			// fall through to create.
			e.logger.Printf("Remote event %s missing, recreating for task %s", mapping.ExternalEventID, taskID)
			if derr := e.store.DeleteTaskMapping(ctx, taskID, e.provider.ID()); derr != nil {
				return derr
			}
			mapping = nil
			err = nil
		}
		if err != nil {
			return err
		}
	}

	if remote == nil {
		event.ID = ""
		remote, err = e.provider.CreateEvent(ctx, accountID, calendarID, event)
		if err != nil {
			return err
		}
	}

	return e.store.UpsertTaskMapping(ctx, &store.TaskMapping{
		TaskID:             taskID,
		AccountID:          accountID,
		Provider:           e.provider.ID(),
		ExternalEventID:    remote.ID,
		ExternalCalendarID: calendarID,
		ContentHash:        hash,
		LastSyncedAt:       time.Now().UTC(),
	})
}

// SyncAllTasksToRemote pushes every mapped task of the account. One
// bad task never aborts the rest; failures are counted in the result.
func (e *Engine) SyncAllTasksToRemote(ctx context.Context, accountID string) (*SyncResult, error) {
	tasks, err := e.store.ListMappedTasks(ctx, accountID, e.provider.ID())
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	for _, task := range tasks {
		if err := e.SyncTaskToRemote(ctx, accountID, task.ID, ""); err != nil {
			e.logger.Printf("Failed to push task %s: %v", task.ID, err)
			result.recordFailure(fmt.Errorf("task %s: %w", task.ID, err))
			continue
		}
		result.Synced++
	}

	e.logger.Printf("Pushed %d tasks for account %s (failed=%d)", result.Synced, accountID, result.Failed)
	return result, nil
}

// DeleteRemoteEvent removes the remote event mirroring a task and
// drops the mapping. Called when a task is deleted locally. A remote
// not-found is treated as already done.
func (e *Engine) DeleteRemoteEvent(ctx context.Context, accountID, taskID string) error {
	mapping, err := e.store.GetTaskMapping(ctx, taskID, e.provider.ID())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	err = e.provider.DeleteEvent(ctx, accountID, mapping.ExternalCalendarID, mapping.ExternalEventID)
	if err != nil && !provider.IsNotFound(err) {
		return err
	}

	return e.store.DeleteTaskMapping(ctx, taskID, e.provider.ID())
}

// TriggerPush submits a fire-and-forget push for a task after a local
// create or update. Without a runner the push executes inline; either
// way failures are logged and never surfaced to the original caller.
func (e *Engine) TriggerPush(accountID, taskID string) {
	name := fmt.Sprintf("push:%s", taskID)
	fn := func(ctx context.Context) error {
		return e.SyncTaskToRemote(ctx, accountID, taskID, "")
	}
	if e.runner != nil {
		e.runner.Submit(name, fn)
		return
	}
	if err := fn(context.Background()); err != nil {
		e.logger.Printf("Background job %s failed: %v", name, err)
	}
}

// TriggerRemoteDelete submits a fire-and-forget remote removal after a
// local task delete.
func (e *Engine) TriggerRemoteDelete(accountID, taskID string) {
	name := fmt.Sprintf("delete:%s", taskID)
	fn := func(ctx context.Context) error {
		return e.DeleteRemoteEvent(ctx, accountID, taskID)
	}
	if e.runner != nil {
		e.runner.Submit(name, fn)
		return
	}
	if err := fn(context.Background()); err != nil {
		e.logger.Printf("Background job %s failed: %v", name, err)
	}
}

// buildEvent assembles the remote payload for a task: title,
// description, start from the scheduled date plus optional
// time-of-day, end from the explicit end or start plus the default
// duration, project-derived color, and the opaque back-reference ids.
func (e *Engine) buildEvent(ctx context.Context, task *store.Task) (*provider.Event, error) {
	start := task.StartAt()
	if start.IsZero() {
		return nil, provider.NewError(provider.KindInvalidState, "engine.buildEvent",
			fmt.Errorf("task %s has no schedulable date", task.ID))
	}

	var end time.Time
	allDay := task.AllDay()
	switch {
	case task.EndAt != nil:
		end = *task.EndAt
		allDay = false
	case allDay:
		end = start.Add(24 * time.Hour)
	default:
		end = start.Add(e.config.EventDuration)
	}

	event := &provider.Event{
		Summary:     task.Title,
		Description: task.Description,
		Start:       start,
		End:         end,
		AllDay:      allDay,
		TaskRef:     task.ID,
		ProjectRef:  task.ProjectID,
	}

	if task.ProjectID != "" {
		project, err := e.store.GetProject(ctx, task.ProjectID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if project != nil {
			event.ColorID = colorForProject(project)
		}
	}

	return event, nil
}

// colorForProject resolves the event color: the project's stored
// external color code, else a stable hash of the project name into the
// provider's 1..11 palette.
func colorForProject(p *store.Project) string {
	if p.ExternalColorID != "" {
		return p.ExternalColorID
	}
	h := fnv.New32a()
	h.Write([]byte(p.Name))
	return fmt.Sprintf("%d", h.Sum32()%11+1)
}

// contentHash fingerprints the pushed fields so unchanged tasks skip
// the remote update.
func contentHash(e *provider.Event) string {
	var b strings.Builder
	b.WriteString(e.Summary)
	b.WriteByte('\x00')
	b.WriteString(e.Description)
	b.WriteByte('\x00')
	b.WriteString(e.Start.UTC().Format(time.RFC3339))
	b.WriteByte('\x00')
	b.WriteString(e.End.UTC().Format(time.RFC3339))
	b.WriteByte('\x00')
	if e.AllDay {
		b.WriteByte('1')
	} else {
		b.WriteByte('0')
	}
	b.WriteByte('\x00')
	b.WriteString(e.ColorID)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
