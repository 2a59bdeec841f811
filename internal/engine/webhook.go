package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/calbridge/calbridge/internal/store"
)

// Webhook notification states as delivered by the remote service.
// "sync" is the initial handshake after opening a channel and is a
// no-op; "exists" and "update" signal real changes.
const (
	WebhookStateSync   = "sync"
	WebhookStateExists = "exists"
	WebhookStateUpdate = "update"
)

// EnableWebhooks opens a push-notification channel on every primary or
// opted-in, non-read-only calendar of the account. Existing channels
// are stopped first so a calendar never holds two. Does nothing when
// no webhook URL is configured.
func (e *Engine) EnableWebhooks(ctx context.Context, accountID string) error {
	if e.config.WebhookURL == "" {
		e.logger.Printf("No webhook URL configured, skipping channel setup for %s", accountID)
		return nil
	}

	calendars, err := e.store.ListConnectedCalendars(ctx, accountID)
	if err != nil {
		return err
	}

	for _, cal := range calendars {
		if !cal.Primary && !cal.IsSynced {
			continue
		}
		if isReadOnlyCalendar(cal.ExternalID) {
			continue
		}

		if cal.ChannelID != "" {
			if err := e.provider.StopWatch(ctx, accountID, cal.ChannelID, cal.ResourceID); err != nil {
				e.logger.Printf("Failed to stop old channel %s: %v", cal.ChannelID, err)
			}
		}

		channel, err := e.provider.WatchCalendar(ctx, accountID, cal.ExternalID, e.config.WebhookURL)
		if err != nil {
			return fmt.Errorf("failed to watch calendar %s: %w", cal.ExternalID, err)
		}

		if err := e.store.SetChannelState(ctx, cal.ID, channel.ID, channel.ResourceID, channel.Expiration); err != nil {
			return err
		}
		e.logger.Printf("Opened channel %s on calendar %s (expires %s)",
			channel.ID, cal.ExternalID, channel.Expiration.Format(time.RFC3339))
	}

	return nil
}

// DisableWebhooks stops and clears channel state for all of the
// account's calendars. Stop failures are logged, never fatal: an
// unstopped channel expires server-side on its own.
func (e *Engine) DisableWebhooks(ctx context.Context, accountID string) error {
	calendars, err := e.store.ListConnectedCalendars(ctx, accountID)
	if err != nil {
		return err
	}

	for _, cal := range calendars {
		if cal.ChannelID == "" {
			continue
		}
		if err := e.provider.StopWatch(ctx, accountID, cal.ChannelID, cal.ResourceID); err != nil {
			e.logger.Printf("Failed to stop channel %s: %v", cal.ChannelID, err)
		}
		if err := e.store.ClearChannelState(ctx, cal.ID); err != nil {
			return err
		}
	}

	return nil
}

// HandleWebhookNotification processes one inbound notification. An
// unknown channel id is logged and dropped without error: the remote
// service retries delivery on its own, and stale channels resolve
// themselves by expiring. Known channels trigger a calendar-scoped
// pull via the background runner when one is attached.
func (e *Engine) HandleWebhookNotification(ctx context.Context, channelID, resourceID, state string) error {
	if state == WebhookStateSync {
		// Initial handshake after channel creation.
		return nil
	}
	if state != WebhookStateExists && state != WebhookStateUpdate {
		e.logger.Printf("Ignoring webhook with unknown state %q on channel %s", state, channelID)
		return nil
	}

	cal, err := e.store.FindCalendarByChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Printf("Dropping webhook for unknown channel %s", channelID)
			return nil
		}
		return err
	}

	accountID := cal.AccountID
	calendarID := cal.ExternalID
	name := fmt.Sprintf("pull:%s:%s", accountID, calendarID)
	fn := func(ctx context.Context) error {
		_, err := e.SyncRemoteEventsToTasks(ctx, accountID, calendarID)
		return err
	}

	if e.runner != nil {
		e.runner.Submit(name, fn)
		return nil
	}
	if err := fn(ctx); err != nil {
		e.logger.Printf("Webhook-triggered pull failed: %v", err)
	}
	return nil
}

// RefreshExpiringWebhooks finds calendars whose channel expires within
// the buffer window, batches them by account, and re-enables webhooks
// for each affected account whose sync is still active.
func (e *Engine) RefreshExpiringWebhooks(ctx context.Context) error {
	expiring, err := e.store.ListExpiringChannels(ctx, time.Now().Add(ChannelRefreshBuffer))
	if err != nil {
		return err
	}
	if len(expiring) == 0 {
		return nil
	}

	accounts := make(map[string]bool)
	for _, cal := range expiring {
		accounts[cal.AccountID] = true
	}

	for accountID := range accounts {
		account, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			e.logger.Printf("Failed to load account %s for channel refresh: %v", accountID, err)
			continue
		}
		if !account.SyncEnabled {
			continue
		}
		if err := e.EnableWebhooks(ctx, accountID); err != nil {
			e.logger.Printf("Failed to refresh channels for account %s: %v", accountID, err)
		}
	}

	e.logger.Printf("Refreshed webhook channels for %d accounts", len(accounts))
	return nil
}

// EnableWebhooksForAllAccounts opens channels for every sync-enabled
// account that lacks an active channel on at least one of its
// calendars. Runs once at startup, deferred.
func (e *Engine) EnableWebhooksForAllAccounts(ctx context.Context) error {
	accounts, err := e.store.ListSyncEnabledAccounts(ctx)
	if err != nil {
		return err
	}

	for _, account := range accounts {
		calendars, err := e.store.ListConnectedCalendars(ctx, account.ID)
		if err != nil {
			e.logger.Printf("Failed to list calendars for account %s: %v", account.ID, err)
			continue
		}

		missing := false
		for _, cal := range calendars {
			if !cal.Primary && !cal.IsSynced {
				continue
			}
			if isReadOnlyCalendar(cal.ExternalID) {
				continue
			}
			if !cal.HasActiveChannel() {
				missing = true
				break
			}
		}
		if !missing {
			continue
		}

		if err := e.EnableWebhooks(ctx, account.ID); err != nil {
			e.logger.Printf("Failed to enable webhooks for account %s: %v", account.ID, err)
		}
	}

	return nil
}

// PullAllAccounts runs a full pull for every sync-enabled account.
// The scheduler's hourly belt-and-suspenders path, independent of
// webhook health.
func (e *Engine) PullAllAccounts(ctx context.Context) {
	accounts, err := e.store.ListSyncEnabledAccounts(ctx)
	if err != nil {
		e.logger.Printf("Failed to list accounts for periodic pull: %v", err)
		return
	}

	for _, account := range accounts {
		if _, err := e.SyncRemoteEventsToTasks(ctx, account.ID, ""); err != nil {
			e.logger.Printf("Periodic pull failed for account %s: %v", account.ID, err)
		}
	}
}
