package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/calbridge/calbridge/internal/ui"
)

var pushCalendarID string

var initCmd = &cobra.Command{
	Use:   "init <account-id>",
	Short: "Provision the dedicated sync calendar for an account",
	Long: `Provision the dedicated sync calendar for an account.

Adopts an existing remote calendar with the configured name, or
creates one, then enables webhooks, ensures the Inbox project, and
pushes every mapped task. Safe to run repeatedly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		calendarID, err := a.engine.InitializeDedicatedCalendar(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s Dedicated calendar: %s\n", ui.RenderPass("✓"), calendarID)
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push <account-id> [task-id]",
	Short: "Push tasks to the remote calendar",
	Long: `Push one task (or all mapped tasks) to the remote calendar.

A task without a mapping is only pushed when --calendar names a
target; otherwise it stays local-only.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		accountID := args[0]
		if len(args) == 2 {
			if err := a.engine.SyncTaskToRemote(cmd.Context(), accountID, args[1], pushCalendarID); err != nil {
				return err
			}
			fmt.Printf("%s Pushed task %s\n", ui.RenderPass("✓"), args[1])
			return nil
		}

		start := time.Now()
		result, err := a.engine.SyncAllTasksToRemote(cmd.Context(), accountID)
		if err != nil {
			return err
		}
		fmt.Printf("%s Push complete in %v: synced=%d failed=%d\n",
			ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond), result.Synced, result.Failed)
		for _, msg := range result.Errors {
			fmt.Printf("   %s %s\n", ui.RenderFail("✗"), msg)
		}
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull <account-id> [calendar-id]",
	Short: "Pull remote events into local tasks",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		calendarID := ""
		if len(args) == 2 {
			calendarID = args[1]
		}

		start := time.Now()
		result, err := a.engine.SyncRemoteEventsToTasks(cmd.Context(), args[0], calendarID)
		if err != nil {
			return err
		}
		fmt.Printf("%s Pull complete in %v: synced=%d failed=%d\n",
			ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond), result.Synced, result.Failed)
		for _, msg := range result.Errors {
			fmt.Printf("   %s %s\n", ui.RenderFail("✗"), msg)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <account-id>",
	Short: "Show an account's sync status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		status, err := a.engine.GetSyncStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		connected := ui.RenderFail("no")
		if status.Connected {
			connected = ui.RenderPass("yes")
		}
		enabled := ui.RenderDim("disabled")
		if status.SyncEnabled {
			enabled = ui.RenderPass("enabled")
		}

		fmt.Printf("\nAccount %s\n", args[0])
		fmt.Printf("   Connected:     %s\n", connected)
		fmt.Printf("   Sync:          %s\n", enabled)
		fmt.Printf("   Calendar:      %s\n", status.DedicatedCalendarID)
		fmt.Printf("   Mapped tasks:  %d\n", status.MappedTasks)
		for _, cal := range status.Calendars {
			marker := ui.RenderDim("·")
			if cal.IsSynced || cal.Primary {
				marker = ui.RenderAccent("✓")
			}
			channel := ui.RenderDim("no channel")
			if cal.ChannelActive {
				channel = fmt.Sprintf("channel until %s", cal.ChannelExpiry.Format(time.RFC3339))
			}
			fmt.Printf("   %s %s (%s)\n", marker, cal.Summary, channel)
		}
		fmt.Println()
		return nil
	},
}

var calendarsCmd = &cobra.Command{
	Use:   "calendars <account-id>",
	Short: "List the account's remote calendars",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		calendars, err := a.engine.ListRemoteCalendars(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, cal := range calendars {
			marker := " "
			if cal.Primary {
				marker = ui.RenderAccent("*")
			}
			access := ""
			if cal.ReadOnly {
				access = ui.RenderDim(" (read-only)")
			}
			fmt.Printf(" %s %s  %s%s\n", marker, cal.ID, cal.Summary, access)
		}
		return nil
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <account-id>",
	Short: "Disconnect sync for an account",
	Long: `Disconnect sync for an account.

Stops webhook channels, clears the dedicated calendar, and deletes
all mappings and cached events. Local tasks are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.engine.DisconnectSync(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("%s Sync disconnected for %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

func init() {
	pushCmd.Flags().StringVar(&pushCalendarID, "calendar", "", "target calendar for a first push")
}
