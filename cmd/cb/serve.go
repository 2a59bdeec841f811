package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/calbridge/calbridge/internal/engine"
	"github.com/calbridge/calbridge/internal/scheduler"
	"github.com/calbridge/calbridge/internal/ui"
	"github.com/calbridge/calbridge/internal/webhookd"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync service",
	Long: `Run the long-running sync service:

  1. Listens for inbound webhook notifications
  2. Pulls every sync-enabled account periodically
  3. Renews webhook channels before they expire
  4. Bootstraps missing channels shortly after startup`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		if a.cfg.LogFile != "" {
			log.SetOutput(&lumberjack.Logger{
				Filename:   a.cfg.LogFile,
				MaxSize:    20, // megabytes
				MaxBackups: 5,
				MaxAge:     30, // days
				Compress:   true,
			})
		}

		runner := engine.NewRunner(128, 4, nil)
		a.engine.SetRunner(runner)

		sched, err := scheduler.New(a.engine, &scheduler.Config{
			PullInterval:           a.cfg.PullInterval,
			ChannelRefreshInterval: a.cfg.ChannelRefreshInterval,
			BootstrapDelay:         scheduler.DefaultConfig().BootstrapDelay,
		})
		if err != nil {
			return err
		}

		server := webhookd.NewServer(a.engine, &webhookd.Config{Port: a.cfg.ListenPort})
		if err := server.Start(); err != nil {
			return err
		}
		sched.Start()

		fmt.Printf("%s calbridge serving on %s\n", ui.RenderPass("✓"), server.Addr())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		fmt.Printf("%s shutting down...\n", ui.RenderWarn("⚠"))
		sched.Stop()
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping server: %v\n", err)
		}
		runner.Stop()
		return nil
	},
}
