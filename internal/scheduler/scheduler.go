// Package scheduler drives the sync engine on timers: a periodic full
// pull, a periodic webhook channel refresh, and a one-shot deferred
// startup bootstrap. Webhook callbacks arrive separately through the
// HTTP endpoint; the timer jobs here are the belt-and-suspenders path
// that keeps accounts converging even when notifications are lost.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/calbridge/calbridge/internal/engine"
)

// Config holds scheduler configuration.
type Config struct {
	// PullInterval is how often every sync-enabled account gets a full
	// pull, independent of webhook health.
	PullInterval time.Duration

	// ChannelRefreshInterval is how often near-expiry webhook channels
	// are renewed.
	ChannelRefreshInterval time.Duration

	// BootstrapDelay defers the startup webhook bootstrap so the
	// process finishes coming up first.
	BootstrapDelay time.Duration

	// Logger for scheduler activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PullInterval:           time.Hour,
		ChannelRefreshInterval: 6 * time.Hour,
		BootstrapDelay:         30 * time.Second,
		Logger:                 log.New(os.Stderr, "[scheduler] ", log.LstdFlags),
	}
}

// Scheduler owns the timer goroutines driving the engine.
type Scheduler struct {
	engine *engine.Engine
	config *Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler for the engine.
func New(eng *engine.Engine, config *Config) (*Scheduler, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[scheduler] ", log.LstdFlags)
	}
	if config.PullInterval <= 0 {
		config.PullInterval = time.Hour
	}
	if config.ChannelRefreshInterval <= 0 {
		config.ChannelRefreshInterval = 6 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		engine: eng,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start launches the timer goroutines and returns. Use Stop for
// graceful shutdown.
func (s *Scheduler) Start() {
	s.config.Logger.Println("Starting scheduler")

	s.wg.Add(3)
	go s.runBootstrap()
	go s.runPeriodicPull()
	go s.runChannelRefresh()
}

// Stop signals shutdown and waits for all timer goroutines.
func (s *Scheduler) Stop() {
	s.config.Logger.Println("Stopping scheduler")
	s.cancel()
	s.wg.Wait()
	s.config.Logger.Println("Scheduler stopped")
}

// runBootstrap enables webhooks once, after the configured delay, for
// every sync-enabled account missing an active channel.
func (s *Scheduler) runBootstrap() {
	defer s.wg.Done()

	delay := s.config.BootstrapDelay
	if delay <= 0 {
		delay = time.Millisecond
	}

	select {
	case <-s.ctx.Done():
		return
	case <-time.After(delay):
	}

	s.config.Logger.Println("Bootstrapping webhook channels")
	if err := s.engine.EnableWebhooksForAllAccounts(s.ctx); err != nil {
		s.config.Logger.Printf("Webhook bootstrap failed: %v", err)
	}
}

// runPeriodicPull pulls all accounts on every tick.
func (s *Scheduler) runPeriodicPull() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.engine.PullAllAccounts(s.ctx)
		}
	}
}

// runChannelRefresh renews near-expiry webhook channels on every tick.
func (s *Scheduler) runChannelRefresh() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ChannelRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.engine.RefreshExpiringWebhooks(s.ctx); err != nil {
				s.config.Logger.Printf("Channel refresh failed: %v", err)
			}
		}
	}
}
