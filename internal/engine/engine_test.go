package engine

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/calbridge/calbridge/internal/provider"
	"github.com/calbridge/calbridge/internal/store"
)

// setupEngine builds an engine over a temporary database and a fake
// in-memory provider, with one connected account.
func setupEngine(t *testing.T) (*Engine, *store.Store, *fakeProvider) {
	t.Helper()

	st := setupStore(t)
	fake := newFakeProvider()
	logger := log.New(os.Stderr, "[engine-test] ", log.LstdFlags)

	eng := New(st, fake, &fakeCreds{valid: true}, &Config{
		CalendarName: "Calbridge Tasks",
		WebhookURL:   "https://calbridge.example/webhook/google",
		Logger:       logger,
	})
	return eng, st, fake
}

func setupStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return st
}

func createTestAccount(t *testing.T, st *store.Store, id string) {
	t.Helper()

	expiry := time.Now().Add(time.Hour)
	err := st.CreateAccount(context.Background(), &store.Account{
		ID:           id,
		Email:        id + "@example.com",
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenExpiry:  &expiry,
	})
	if err != nil {
		t.Fatalf("CreateAccount() failed: %v", err)
	}
}

func createTestTask(t *testing.T, st *store.Store, accountID, title, date, timeOfDay string) *store.Task {
	t.Helper()

	task := &store.Task{
		AccountID:     accountID,
		Title:         title,
		ScheduledDate: date,
		ScheduledTime: timeOfDay,
		Status:        store.TaskStatusTodo,
	}
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	return task
}

// fakeCreds implements auth.CredentialProvider for tests.
type fakeCreds struct {
	valid bool
}

func (f *fakeCreds) HasValidAuth(ctx context.Context, accountID string) bool { return f.valid }

func (f *fakeCreds) GetValidAccessToken(ctx context.Context, accountID string) (string, error) {
	if !f.valid {
		return "", fmt.Errorf("no credentials")
	}
	return "token", nil
}

func (f *fakeCreds) HTTPClient(ctx context.Context, accountID string) (*http.Client, error) {
	if !f.valid {
		return nil, fmt.Errorf("no credentials")
	}
	return http.DefaultClient, nil
}

// fakeProvider is an in-memory provider.CalendarProvider tracking call
// counts so tests can assert which remote operations ran.
type fakeProvider struct {
	mu sync.Mutex

	calendars []provider.Calendar
	events    map[string]map[string]*provider.Event // calendarID -> eventID -> event
	channels  map[string]string                     // channelID -> resourceID

	createCalendarCalls int
	createEventCalls    int
	updateEventCalls    int
	deleteEventCalls    int
	listEventCalls      int
	watchCalls          int
	stopCalls           int

	// failEventTitles makes CreateEvent/UpdateEvent fail for matching
	// summaries, simulating per-task remote failures.
	failEventTitles map[string]bool

	// onFindCalendar runs inside FindCalendarByName, letting tests
	// interleave concurrent writes mid-provisioning.
	onFindCalendar func()
}

var _ provider.CalendarProvider = (*fakeProvider)(nil)

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		events:          make(map[string]map[string]*provider.Event),
		channels:        make(map[string]string),
		failEventTitles: make(map[string]bool),
	}
}

func (f *fakeProvider) ID() string { return provider.ProviderGoogle }

func (f *fakeProvider) IsConnected(ctx context.Context, accountID string) bool { return true }

func (f *fakeProvider) addCalendar(id, summary string, primary bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calendars = append(f.calendars, provider.Calendar{ID: id, Summary: summary, Primary: primary})
	if f.events[id] == nil {
		f.events[id] = make(map[string]*provider.Event)
	}
}

func (f *fakeProvider) addEvent(calendarID string, e provider.Event) *provider.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CalendarID = calendarID
	if f.events[calendarID] == nil {
		f.events[calendarID] = make(map[string]*provider.Event)
	}
	stored := e
	f.events[calendarID][e.ID] = &stored
	return &stored
}

func (f *fakeProvider) removeEvent(calendarID, eventID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.events[calendarID], eventID)
}

func (f *fakeProvider) eventCount(calendarID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events[calendarID])
}

func (f *fakeProvider) ListCalendars(ctx context.Context, accountID string) ([]provider.Calendar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Calendar(nil), f.calendars...), nil
}

func (f *fakeProvider) FindCalendarByName(ctx context.Context, accountID, name string) (*provider.Calendar, error) {
	if f.onFindCalendar != nil {
		f.onFindCalendar()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.calendars {
		if f.calendars[i].Summary == name {
			c := f.calendars[i]
			return &c, nil
		}
	}
	return nil, provider.NewError(provider.KindNotFound, "fake.FindCalendarByName",
		fmt.Errorf("calendar %q not found", name))
}

func (f *fakeProvider) CreateCalendar(ctx context.Context, accountID, name, description string) (*provider.Calendar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalendarCalls++
	cal := provider.Calendar{ID: uuid.NewString(), Summary: name, Description: description}
	f.calendars = append(f.calendars, cal)
	f.events[cal.ID] = make(map[string]*provider.Event)
	return &cal, nil
}

func (f *fakeProvider) DeleteCalendar(ctx context.Context, accountID, calendarID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.events, calendarID)
	return nil
}

func (f *fakeProvider) ListEvents(ctx context.Context, accountID, calendarID string, from, to time.Time) ([]provider.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listEventCalls++
	var out []provider.Event
	for _, e := range f.events[calendarID] {
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeProvider) GetEvent(ctx context.Context, accountID, calendarID, eventID string) (*provider.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[calendarID][eventID]
	if !ok {
		return nil, nil
	}
	out := *e
	return &out, nil
}

func (f *fakeProvider) CreateEvent(ctx context.Context, accountID, calendarID string, event *provider.Event) (*provider.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createEventCalls++
	if f.failEventTitles[event.Summary] {
		return nil, provider.NewError(provider.KindRemote, "fake.CreateEvent", fmt.Errorf("simulated failure"))
	}
	stored := *event
	stored.ID = uuid.NewString()
	stored.CalendarID = calendarID
	if f.events[calendarID] == nil {
		f.events[calendarID] = make(map[string]*provider.Event)
	}
	f.events[calendarID][stored.ID] = &stored
	out := stored
	return &out, nil
}

func (f *fakeProvider) UpdateEvent(ctx context.Context, accountID, calendarID string, event *provider.Event) (*provider.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateEventCalls++
	if f.failEventTitles[event.Summary] {
		return nil, provider.NewError(provider.KindRemote, "fake.UpdateEvent", fmt.Errorf("simulated failure"))
	}
	if _, ok := f.events[calendarID][event.ID]; !ok {
		return nil, provider.NewError(provider.KindNotFound, "fake.UpdateEvent",
			fmt.Errorf("event %s not found", event.ID))
	}
	stored := *event
	stored.CalendarID = calendarID
	f.events[calendarID][event.ID] = &stored
	out := stored
	return &out, nil
}

func (f *fakeProvider) DeleteEvent(ctx context.Context, accountID, calendarID, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteEventCalls++
	if _, ok := f.events[calendarID][eventID]; !ok {
		return provider.NewError(provider.KindNotFound, "fake.DeleteEvent",
			fmt.Errorf("event %s not found", eventID))
	}
	delete(f.events[calendarID], eventID)
	return nil
}

func (f *fakeProvider) WatchCalendar(ctx context.Context, accountID, calendarID, webhookURL string) (*provider.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchCalls++
	ch := &provider.Channel{
		ID:         uuid.NewString(),
		ResourceID: uuid.NewString(),
		Expiration: time.Now().Add(7 * 24 * time.Hour),
	}
	f.channels[ch.ID] = ch.ResourceID
	return ch, nil
}

func (f *fakeProvider) StopWatch(ctx context.Context, accountID, channelID, resourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	delete(f.channels, channelID)
	return nil
}
