// Package provider defines the calendar provider contract used by the
// synchronization engine.
//
// A provider wraps one remote calendar account and exposes typed
// operations for calendar CRUD, event CRUD, and push-notification
// channel management. The engine is written against this interface so
// additional backends can be registered later without touching the
// sync algorithms.
package provider

import (
	"context"
	"time"
)

// ProviderGoogle is the provider id for Google Calendar, currently the
// only concrete implementation.
const ProviderGoogle = "google"

// Calendar describes one remote calendar as reported by the provider.
type Calendar struct {
	ID          string
	Summary     string
	Description string
	Primary     bool
	ReadOnly    bool
	ColorID     string
}

// Event is the provider-neutral view of one remote event.
//
// TaskRef and ProjectRef carry the opaque back-reference ids embedded
// in the remote payload (extended properties on Google). They are
// plain strings exchanged through the wire format, never live
// references; resolution is always a store lookup.
type Event struct {
	ID          string
	CalendarID  string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Status      string // confirmed, tentative, cancelled
	ColorID     string
	TaskRef     string
	ProjectRef  string
	Updated     time.Time
}

// Channel is an open push-notification subscription on one calendar.
type Channel struct {
	ID         string
	ResourceID string
	Expiration time.Time
}

// CalendarProvider is the engine-consumed contract for one remote
// calendar backend, scoped to a single account.
//
// GetEvent returns (nil, nil) when the event does not exist; all other
// operations report missing targets through a NotFound Error so the
// engine can fall through to create or skip.
type CalendarProvider interface {
	// ID returns the provider id, e.g. "google".
	ID() string

	// IsConnected reports whether the account has usable credentials.
	IsConnected(ctx context.Context, accountID string) bool

	ListCalendars(ctx context.Context, accountID string) ([]Calendar, error)
	CreateCalendar(ctx context.Context, accountID, name, description string) (*Calendar, error)
	FindCalendarByName(ctx context.Context, accountID, name string) (*Calendar, error)
	DeleteCalendar(ctx context.Context, accountID, calendarID string) error

	ListEvents(ctx context.Context, accountID, calendarID string, from, to time.Time) ([]Event, error)
	GetEvent(ctx context.Context, accountID, calendarID, eventID string) (*Event, error)
	CreateEvent(ctx context.Context, accountID, calendarID string, event *Event) (*Event, error)
	UpdateEvent(ctx context.Context, accountID, calendarID string, event *Event) (*Event, error)
	DeleteEvent(ctx context.Context, accountID, calendarID, eventID string) error

	WatchCalendar(ctx context.Context, accountID, calendarID, webhookURL string) (*Channel, error)
	StopWatch(ctx context.Context, accountID, channelID, resourceID string) error
}
