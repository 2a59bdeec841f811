// Command cb is the calbridge CLI: it runs the sync service and
// exposes manual sync operations against the local database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calbridge/calbridge/internal/auth"
	"github.com/calbridge/calbridge/internal/config"
	"github.com/calbridge/calbridge/internal/engine"
	"github.com/calbridge/calbridge/internal/provider"
	"github.com/calbridge/calbridge/internal/provider/google"
	"github.com/calbridge/calbridge/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cb",
	Short: "Two-way sync between local tasks and remote calendars",
	Long: `calbridge keeps local tasks and remote calendar events mirrored:
creating, editing, or deleting a task is reflected on the calendar and
vice versa, without merging data by hand.

Run 'cb serve' for the long-running sync service, or use the manual
commands (push, pull, status) for one-off operations.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/calbridge/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(calendarsCmd)
	rootCmd.AddCommand(disconnectCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the wired components behind every command.
type app struct {
	cfg    *config.Config
	store  *store.Store
	engine *engine.Engine
}

// setup opens the store and wires credentials, provider registry, and
// engine from the resolved configuration.
func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(cmd.Context()); err != nil {
		_ = st.Close()
		return nil, err
	}

	secrets, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("unable to read client secret file %s: %w", cfg.CredentialsFile, err)
	}

	creds, err := auth.NewManager(st, secrets, nil)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	registry := provider.NewRegistry()
	gp := google.New(creds, nil)
	registry.Register(gp)

	eng := engine.New(st, gp, creds, &engine.Config{
		CalendarName: cfg.CalendarName,
		WebhookURL:   cfg.WebhookURL(),
	})

	return &app{cfg: cfg, store: st, engine: eng}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}
