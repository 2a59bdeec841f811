package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/calbridge/calbridge/internal/provider"
	"github.com/calbridge/calbridge/internal/store"
)

// InitializeDedicatedCalendar ensures exactly one remote calendar is
// designated as the account's sync target, without creating duplicates
// under concurrent invocation.
//
// Two concurrency guards: an idempotent fast path when the account
// already has a calendar with sync enabled, and a conditional update
// when persisting the resolved id. Losing the conditional update means
// another process won the race; the account is re-read and its
// authoritative state returned rather than overwritten.
//
// Any remote failure aborts initialization and propagates; durably
// committed partial state is left as-is.
func (e *Engine) InitializeDedicatedCalendar(ctx context.Context, accountID string) (string, error) {
	if !e.creds.HasValidAuth(ctx, accountID) {
		return "", provider.NewError(provider.KindAuthRequired, "engine.InitializeDedicatedCalendar",
			fmt.Errorf("account %s has no valid credential", accountID))
	}

	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return "", err
	}

	// First guard: already provisioned.
	if account.DedicatedCalendarID != "" && account.SyncEnabled {
		return account.DedicatedCalendarID, nil
	}

	calendarID := account.DedicatedCalendarID
	if calendarID == "" {
		remote, err := e.provider.FindCalendarByName(ctx, accountID, e.config.CalendarName)
		switch {
		case err == nil:
			calendarID = remote.ID
		case provider.IsNotFound(err):
			created, cerr := e.provider.CreateCalendar(ctx, accountID, e.config.CalendarName,
				"Tasks synchronized by calbridge")
			if cerr != nil {
				return "", cerr
			}
			calendarID = created.ID
		default:
			return "", err
		}
	}

	// Second guard: conditional update. A rejection means another
	// process set a different id; adopt its state.
	applied, err := e.store.SetDedicatedCalendar(ctx, accountID, calendarID)
	if err != nil {
		return "", err
	}
	if !applied {
		current, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return "", err
		}
		e.logger.Printf("Lost provisioning race for account %s, adopting calendar %s",
			accountID, current.DedicatedCalendarID)
		return current.DedicatedCalendarID, nil
	}

	if _, err := e.RefreshConnectedCalendars(ctx, accountID); err != nil {
		return "", err
	}

	if err := e.EnableWebhooks(ctx, accountID); err != nil {
		return "", err
	}

	if _, err := e.store.EnsureInboxProject(ctx, accountID); err != nil {
		return "", err
	}

	if _, err := e.SyncAllTasksToRemote(ctx, accountID); err != nil {
		return "", err
	}

	e.logger.Printf("Provisioned dedicated calendar %s for account %s", calendarID, accountID)
	return calendarID, nil
}

// RefreshConnectedCalendars enumerates the provider's calendars and
// upserts a ConnectedCalendar row per calendar, preserving existing
// channel state and opt-in flags. The dedicated calendar is marked
// synced.
func (e *Engine) RefreshConnectedCalendars(ctx context.Context, accountID string) ([]*store.ConnectedCalendar, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	remote, err := e.provider.ListCalendars(ctx, accountID)
	if err != nil {
		return nil, err
	}

	for _, cal := range remote {
		row := &store.ConnectedCalendar{
			AccountID:  accountID,
			Provider:   e.provider.ID(),
			ExternalID: cal.ID,
			Summary:    cal.Summary,
			Primary:    cal.Primary,
			Writable:   !cal.ReadOnly,
			IsSynced:   cal.ID == account.DedicatedCalendarID,
		}
		if err := e.store.UpsertConnectedCalendar(ctx, row); err != nil {
			return nil, err
		}
		// The upsert never overwrites the opt-in on refresh, so the
		// dedicated calendar needs an explicit flip on first sight.
		if row.IsSynced {
			existing, gerr := e.store.GetConnectedCalendar(ctx, accountID, cal.ID)
			if gerr == nil && !existing.IsSynced {
				if serr := e.store.SetCalendarSynced(ctx, existing.ID, true); serr != nil {
					return nil, serr
				}
			}
		}
	}

	return e.store.ListConnectedCalendars(ctx, accountID)
}

// ListRemoteCalendars returns the provider's calendar list unfiltered,
// for surfaces that let the user pick calendars to sync.
func (e *Engine) ListRemoteCalendars(ctx context.Context, accountID string) ([]provider.Calendar, error) {
	return e.provider.ListCalendars(ctx, accountID)
}

// SyncStatus describes an account's sync state.
type SyncStatus struct {
	Connected           bool
	SyncEnabled         bool
	DedicatedCalendarID string
	MappedTasks         int
	Calendars           []CalendarStatus
}

// CalendarStatus is the per-calendar slice of SyncStatus.
type CalendarStatus struct {
	ExternalID    string
	Summary       string
	Primary       bool
	IsSynced      bool
	ChannelActive bool
	ChannelExpiry time.Time
}

// GetSyncStatus reports the account's connection, provisioning,
// mapping, and channel state.
func (e *Engine) GetSyncStatus(ctx context.Context, accountID string) (*SyncStatus, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	status := &SyncStatus{
		Connected:           e.provider.IsConnected(ctx, accountID),
		SyncEnabled:         account.SyncEnabled,
		DedicatedCalendarID: account.DedicatedCalendarID,
	}

	status.MappedTasks, err = e.store.CountMappings(ctx, accountID, e.provider.ID())
	if err != nil {
		return nil, err
	}

	calendars, err := e.store.ListConnectedCalendars(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, cal := range calendars {
		cs := CalendarStatus{
			ExternalID:    cal.ExternalID,
			Summary:       cal.Summary,
			Primary:       cal.Primary,
			IsSynced:      cal.IsSynced,
			ChannelActive: cal.HasActiveChannel(),
		}
		if cal.ChannelExpiration != nil {
			cs.ChannelExpiry = *cal.ChannelExpiration
		}
		status.Calendars = append(status.Calendars, cs)
	}

	return status, nil
}

// DisconnectSync tears provisioning down: stops every active channel
// (best-effort), clears channel state and the dedicated calendar,
// deletes all mappings and cache rows, and strips legacy direct event
// links from tasks. Safe to call even when some of that state was
// never populated. Tasks and projects survive.
func (e *Engine) DisconnectSync(ctx context.Context, accountID string) error {
	calendars, err := e.store.ListConnectedCalendars(ctx, accountID)
	if err != nil {
		return err
	}

	for _, cal := range calendars {
		if cal.ChannelID != "" {
			if err := e.provider.StopWatch(ctx, accountID, cal.ChannelID, cal.ResourceID); err != nil {
				// Stop failures are never fatal: an unstopped channel
				// simply expires server-side.
				e.logger.Printf("Failed to stop channel %s: %v", cal.ChannelID, err)
			}
		}
		if err := e.store.ClearChannelState(ctx, cal.ID); err != nil {
			return err
		}
	}

	if err := e.store.ClearDedicatedCalendar(ctx, accountID); err != nil {
		return err
	}
	if err := e.store.DeleteAccountMappings(ctx, accountID, e.provider.ID()); err != nil {
		return err
	}
	if err := e.store.DeleteAccountCachedEvents(ctx, accountID, e.provider.ID()); err != nil {
		return err
	}
	if err := e.store.ClearRemoteEventLinks(ctx, accountID); err != nil {
		return err
	}

	e.logger.Printf("Disconnected sync for account %s", accountID)
	return nil
}
