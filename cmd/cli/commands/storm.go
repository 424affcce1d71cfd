package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jakechorley/snow-dispatch/pkg/core/services"
)

// CheckStormCmd creates the checkStorm command
func CheckStormCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "checkStorm",
		Short: "Check the snowfall forecast once, create storm events and broadcast them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Database()
			if err != nil {
				return err
			}
			notifier, err := app.Notifier()
			if err != nil {
				return err
			}
			forecaster, err := app.Forecaster()
			if err != nil {
				return err
			}

			result, err := services.CheckForecastAndUpdateSurge(app.Ctx, store, forecaster, notifier, app.Logger, app.Cfg.SurgePolicy(), app.Region(), time.Now().UTC())
			if err != nil {
				return err
			}

			if result.IsForecastSkipped() {
				fmt.Printf("\n⚠️  Forecast unavailable, cycle skipped: %v\n\n", result.SkipReason)
				return nil
			}

			fmt.Printf("\nForecast:\n")
			for _, day := range result.Forecast {
				fmt.Printf("  %s  %5.1f in\n", day.Date, day.Inches)
			}
			fmt.Println()

			if len(result.Created) == 0 {
				fmt.Println("No new storm events.")
			}
			for _, e := range result.Created {
				fmt.Printf("✓ Storm event for %s: %.1f in, surge x%.2f\n", e.Day, e.ForecastInches, e.SurgeMultiplier)
			}
			for _, day := range result.Existing {
				fmt.Printf("  Storm event for %s already exists\n", day)
			}
			if len(result.Notified) > 0 {
				fmt.Printf("✓ Broadcast %d storm event(s) to online workers\n", len(result.Notified))
			}
			if result.Deactivated > 0 {
				fmt.Printf("  Deactivated %d expired event(s)\n", result.Deactivated)
			}
			fmt.Println()
			return nil
		},
	}
}

// PromoteBackupsCmd creates the promoteBackups command
func PromoteBackupsCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "promoteBackups",
		Short: "Promote every backup whose claimant has missed the promotion timeout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Database()
			if err != nil {
				return err
			}
			notifier, err := app.Notifier()
			if err != nil {
				return err
			}

			result, err := services.PromoteOverdueBackups(app.Ctx, store, notifier, app.Logger, app.Promotion(), time.Now().UTC())
			if err != nil {
				return err
			}

			fmt.Printf("\nChecked %d job(s) with a backup\n\n", result.Checked)
			for _, p := range result.Promoted {
				fmt.Printf("✓ Job %s: %s promoted, %s now has %d strike(s)\n", p.Job.ID, p.PromotedWorkerID, p.NoShowWorkerID, p.NoShowStrikes)
			}
			for _, jobID := range result.Released {
				fmt.Printf("⚠️  Job %s: backup is suspended and was released from the slot\n", jobID)
			}
			if len(result.Promoted) == 0 && len(result.Released) == 0 {
				fmt.Println("No backups were due.")
			}
			fmt.Println()
			return nil
		},
	}
}
