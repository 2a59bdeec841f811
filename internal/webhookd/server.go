// Package webhookd exposes the inbound webhook endpoint that the
// remote calendar service delivers push notifications to.
//
// The endpoint always answers 200: the remote service retries delivery
// on its own, so notifications for unknown channels are dropped, never
// errored. Actual work is delegated to the sync engine.
package webhookd

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/calbridge/calbridge/internal/engine"
)

// Notification headers set by the remote calendar service.
const (
	headerChannelID     = "X-Goog-Channel-ID"
	headerResourceID    = "X-Goog-Resource-ID"
	headerResourceState = "X-Goog-Resource-State"
)

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8080)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.New(os.Stderr, "[webhookd] ", log.LstdFlags),
	}
}

// Server is the webhook HTTP listener.
type Server struct {
	addr     string
	engine   *engine.Engine
	listener net.Listener
	server   *http.Server
	logger   *log.Logger
	wg       sync.WaitGroup
}

// NewServer creates a webhook server delegating to the engine.
func NewServer(eng *engine.Engine, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[webhookd] ", log.LstdFlags)
	}

	return &Server{
		addr:   fmt.Sprintf(":%d", config.Port),
		engine: eng,
		logger: config.Logger,
	}
}

// Start begins serving. Non-blocking; use Stop for graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/google", s.handleNotification)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Webhook server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping webhook server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	s.logger.Println("Webhook server stopped")
	return nil
}

// Addr returns the bound listen address, useful when Port was 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// handleNotification processes one push notification. The response is
// always 200 so the remote service never retries against us for state
// we chose to drop.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	channelID := r.Header.Get(headerChannelID)
	resourceID := r.Header.Get(headerResourceID)
	state := r.Header.Get(headerResourceState)

	if channelID == "" {
		s.logger.Println("Dropping notification without channel id")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := s.engine.HandleWebhookNotification(r.Context(), channelID, resourceID, state); err != nil {
		s.logger.Printf("Failed to handle notification on channel %s: %v", channelID, err)
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","time":"%s"}`, time.Now().UTC().Format(time.RFC3339))
}
