// Package google implements the calendar provider contract on the
// Google Calendar v3 API.
package google

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/calbridge/calbridge/internal/auth"
	"github.com/calbridge/calbridge/internal/provider"
)

// Extended-property keys carrying the opaque back-references from a
// remote event to its local task and project. Exchanged as plain id
// strings through the wire payload; resolution is always a lookup.
const (
	taskRefProperty    = "calbridge_task_id"
	projectRefProperty = "calbridge_project_id"
)

// Provider is the Google Calendar implementation of
// provider.CalendarProvider. Services are constructed per account from
// the credential provider's authenticated HTTP client.
type Provider struct {
	creds  auth.CredentialProvider
	logger *log.Logger

	// newService is swappable so tests can inject a service bound to a
	// fake transport.
	newService func(ctx context.Context, client *http.Client) (*calendar.Service, error)
}

// New creates the Google provider. If logger is nil, a default stderr
// logger is used.
func New(creds auth.CredentialProvider, logger *log.Logger) *Provider {
	if logger == nil {
		logger = log.New(os.Stderr, "[google] ", log.LstdFlags)
	}
	return &Provider{
		creds:  creds,
		logger: logger,
		newService: func(ctx context.Context, client *http.Client) (*calendar.Service, error) {
			return calendar.NewService(ctx, option.WithHTTPClient(client))
		},
	}
}

// ID implements provider.CalendarProvider.
func (p *Provider) ID() string { return provider.ProviderGoogle }

// IsConnected implements provider.CalendarProvider.
func (p *Provider) IsConnected(ctx context.Context, accountID string) bool {
	return p.creds.HasValidAuth(ctx, accountID)
}

func (p *Provider) service(ctx context.Context, accountID string) (*calendar.Service, error) {
	client, err := p.creds.HTTPClient(ctx, accountID)
	if err != nil {
		return nil, provider.NewError(provider.KindAuthRequired, "google.service", err)
	}
	srv, err := p.newService(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("unable to construct Calendar service: %w", err)
	}
	return srv, nil
}

// ListCalendars implements provider.CalendarProvider.
func (p *Provider) ListCalendars(ctx context.Context, accountID string) ([]provider.Calendar, error) {
	srv, err := p.service(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var calendars []provider.Calendar
	pageToken := ""
	for {
		call := srv.CalendarList.List().Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, classify("google.ListCalendars", err)
		}
		for _, item := range list.Items {
			calendars = append(calendars, provider.Calendar{
				ID:          item.Id,
				Summary:     item.Summary,
				Description: item.Description,
				Primary:     item.Primary,
				ReadOnly:    item.AccessRole == "reader" || item.AccessRole == "freeBusyReader",
				ColorID:     item.ColorId,
			})
		}
		if list.NextPageToken == "" {
			return calendars, nil
		}
		pageToken = list.NextPageToken
	}
}

// FindCalendarByName implements provider.CalendarProvider. Returns a
// NotFound error when no calendar carries the display name.
func (p *Provider) FindCalendarByName(ctx context.Context, accountID, name string) (*provider.Calendar, error) {
	calendars, err := p.ListCalendars(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for i := range calendars {
		if calendars[i].Summary == name {
			return &calendars[i], nil
		}
	}
	return nil, provider.NewError(provider.KindNotFound, "google.FindCalendarByName",
		fmt.Errorf("calendar %q not found", name))
}

// CreateCalendar implements provider.CalendarProvider.
func (p *Provider) CreateCalendar(ctx context.Context, accountID, name, description string) (*provider.Calendar, error) {
	srv, err := p.service(ctx, accountID)
	if err != nil {
		return nil, err
	}

	created, err := srv.Calendars.Insert(&calendar.Calendar{
		Summary:     name,
		Description: description,
	}).Context(ctx).Do()
	if err != nil {
		return nil, classify("google.CreateCalendar", err)
	}

	return &provider.Calendar{
		ID:          created.Id,
		Summary:     created.Summary,
		Description: created.Description,
	}, nil
}

// DeleteCalendar implements provider.CalendarProvider.
func (p *Provider) DeleteCalendar(ctx context.Context, accountID, calendarID string) error {
	srv, err := p.service(ctx, accountID)
	if err != nil {
		return err
	}
	if err := srv.Calendars.Delete(calendarID).Context(ctx).Do(); err != nil {
		return classify("google.DeleteCalendar", err)
	}
	return nil
}

// ListEvents implements provider.CalendarProvider. The window is
// half-open [from, to); zero bounds are omitted from the query.
func (p *Provider) ListEvents(ctx context.Context, accountID, calendarID string, from, to time.Time) ([]provider.Event, error) {
	srv, err := p.service(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var events []provider.Event
	pageToken := ""
	for {
		call := srv.Events.List(calendarID).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(250).
			Context(ctx)
		if !from.IsZero() {
			call = call.TimeMin(from.UTC().Format(time.RFC3339))
		}
		if !to.IsZero() {
			call = call.TimeMax(to.UTC().Format(time.RFC3339))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, classify("google.ListEvents", err)
		}
		for _, item := range list.Items {
			events = append(events, fromAPIEvent(calendarID, item))
		}
		if list.NextPageToken == "" {
			return events, nil
		}
		pageToken = list.NextPageToken
	}
}

// GetEvent implements provider.CalendarProvider. A missing event is
// (nil, nil), not an error.
func (p *Provider) GetEvent(ctx context.Context, accountID, calendarID, eventID string) (*provider.Event, error) {
	srv, err := p.service(ctx, accountID)
	if err != nil {
		return nil, err
	}

	item, err := srv.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		cerr := classify("google.GetEvent", err)
		if provider.IsNotFound(cerr) {
			return nil, nil
		}
		return nil, cerr
	}
	// Cancelled events are tombstones on the wire; treat as missing.
	if item.Status == "cancelled" {
		return nil, nil
	}
	ev := fromAPIEvent(calendarID, item)
	return &ev, nil
}

// CreateEvent implements provider.CalendarProvider.
func (p *Provider) CreateEvent(ctx context.Context, accountID, calendarID string, event *provider.Event) (*provider.Event, error) {
	srv, err := p.service(ctx, accountID)
	if err != nil {
		return nil, err
	}

	created, err := srv.Events.Insert(calendarID, toAPIEvent(event)).Context(ctx).Do()
	if err != nil {
		return nil, classify("google.CreateEvent", err)
	}
	ev := fromAPIEvent(calendarID, created)
	return &ev, nil
}

// UpdateEvent implements provider.CalendarProvider.
func (p *Provider) UpdateEvent(ctx context.Context, accountID, calendarID string, event *provider.Event) (*provider.Event, error) {
	srv, err := p.service(ctx, accountID)
	if err != nil {
		return nil, err
	}

	updated, err := srv.Events.Update(calendarID, event.ID, toAPIEvent(event)).Context(ctx).Do()
	if err != nil {
		return nil, classify("google.UpdateEvent", err)
	}
	ev := fromAPIEvent(calendarID, updated)
	return &ev, nil
}

// DeleteEvent implements provider.CalendarProvider.
func (p *Provider) DeleteEvent(ctx context.Context, accountID, calendarID, eventID string) error {
	srv, err := p.service(ctx, accountID)
	if err != nil {
		return err
	}
	if err := srv.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return classify("google.DeleteEvent", err)
	}
	return nil
}

// WatchCalendar implements provider.CalendarProvider: opens a
// push-notification channel delivering to webhookURL.
func (p *Provider) WatchCalendar(ctx context.Context, accountID, calendarID, webhookURL string) (*provider.Channel, error) {
	srv, err := p.service(ctx, accountID)
	if err != nil {
		return nil, err
	}

	ch, err := srv.Events.Watch(calendarID, &calendar.Channel{
		Id:      uuid.NewString(),
		Type:    "web_hook",
		Address: webhookURL,
	}).Context(ctx).Do()
	if err != nil {
		return nil, classify("google.WatchCalendar", err)
	}

	return &provider.Channel{
		ID:         ch.Id,
		ResourceID: ch.ResourceId,
		Expiration: time.UnixMilli(ch.Expiration),
	}, nil
}

// StopWatch implements provider.CalendarProvider.
func (p *Provider) StopWatch(ctx context.Context, accountID, channelID, resourceID string) error {
	srv, err := p.service(ctx, accountID)
	if err != nil {
		return err
	}
	err = srv.Channels.Stop(&calendar.Channel{
		Id:         channelID,
		ResourceId: resourceID,
	}).Context(ctx).Do()
	if err != nil {
		return classify("google.StopWatch", err)
	}
	return nil
}

// classify maps a Google API failure onto the provider error taxonomy.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return provider.NewError(provider.KindRemote, op, err)
	}

	switch apiErr.Code {
	case http.StatusUnauthorized:
		return provider.NewError(provider.KindAuthExpired, op, err)
	case http.StatusForbidden:
		// 403 doubles as the rate-limit status on this API.
		for _, e := range apiErr.Errors {
			if e.Reason == "rateLimitExceeded" || e.Reason == "userRateLimitExceeded" {
				return provider.NewError(provider.KindRateLimited, op, err)
			}
		}
		return provider.NewError(provider.KindPermissionDenied, op, err)
	case http.StatusNotFound, http.StatusGone:
		return provider.NewError(provider.KindNotFound, op, err)
	case http.StatusTooManyRequests:
		return provider.NewError(provider.KindRateLimited, op, err)
	default:
		return provider.NewError(provider.KindRemote, op, err)
	}
}
