// Package engine implements the synchronization engine: dedicated
// calendar provisioning, push (local to remote) and pull (remote to
// local) reconciliation, and the webhook channel lifecycle.
//
// The engine is invoked concurrently from user calls, post-CRUD hooks,
// webhook callbacks, and timer jobs, with no shared in-process lock.
// Instead of serializing, every write path is idempotent: keyed
// upserts, update-or-create with missing-remote fallback, and the
// store's mapping uniqueness constraints. The one true race guard is
// dedicated-calendar assignment, which goes through a conditional
// update at the store layer.
package engine

import (
	"log"
	"os"
	"time"

	"github.com/calbridge/calbridge/internal/auth"
	"github.com/calbridge/calbridge/internal/provider"
	"github.com/calbridge/calbridge/internal/store"
)

// Defaults for tunables not set in Config.
const (
	// DefaultCalendarName is the display name of the dedicated sync
	// calendar created or adopted during provisioning.
	DefaultCalendarName = "Calbridge Tasks"

	// DefaultEventDuration is applied when a task has no explicit end.
	DefaultEventDuration = time.Hour

	// Pull window: a rolling horizon around now, never the entire
	// calendar history.
	PullWindowPast   = 90 * 24 * time.Hour
	PullWindowFuture = 180 * 24 * time.Hour

	// ChannelRefreshBuffer is how close to expiry a webhook channel
	// must be before the refresh job renews it.
	ChannelRefreshBuffer = 24 * time.Hour
)

// Config carries the engine's tunables.
type Config struct {
	// CalendarName is the dedicated calendar's display name.
	CalendarName string

	// WebhookURL is the externally reachable notification endpoint
	// registered when opening channels. Webhooks are skipped when
	// empty.
	WebhookURL string

	// EventDuration is the default event length for tasks without an
	// explicit end.
	EventDuration time.Duration

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		CalendarName:  DefaultCalendarName,
		EventDuration: DefaultEventDuration,
		Logger:        log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine orchestrates synchronization between the local store and one
// remote calendar provider.
type Engine struct {
	store    *store.Store
	provider provider.CalendarProvider
	creds    auth.CredentialProvider
	config   *Config
	logger   *log.Logger
	runner   *Runner
}

// New creates an engine bound to one provider. The background runner
// serves the fire-and-forget trigger paths; pass nil to run triggers
// synchronously (tests do this).
func New(st *store.Store, prov provider.CalendarProvider, creds auth.CredentialProvider, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.CalendarName == "" {
		config.CalendarName = DefaultCalendarName
	}
	if config.EventDuration <= 0 {
		config.EventDuration = DefaultEventDuration
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	return &Engine{
		store:    st,
		provider: prov,
		creds:    creds,
		config:   config,
		logger:   config.Logger,
	}
}

// SetRunner attaches a background runner for fire-and-forget triggers.
func (e *Engine) SetRunner(r *Runner) { e.runner = r }

// Provider returns the provider id the engine is bound to.
func (e *Engine) Provider() string { return e.provider.ID() }

// SyncResult summarizes a bulk operation. Individual failures are
// counted and recorded; they never abort sibling work.
type SyncResult struct {
	Synced int
	Failed int
	Errors []string
}

func (r *SyncResult) recordFailure(err error) {
	r.Failed++
	r.Errors = append(r.Errors, err.Error())
}

func (r *SyncResult) merge(other *SyncResult) {
	r.Synced += other.Synced
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
}
