package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jakechorley/snow-dispatch/pkg/core/reliability"
	"github.com/jakechorley/snow-dispatch/pkg/core/services"
)

// RegisterWorkerCmd creates the registerWorker command
func RegisterWorkerCmd(app *AppContext) *cobra.Command {
	var input services.RegisterWorkerInput
	var lat, lon float64

	cmd := &cobra.Command{
		Use:   "registerWorker <phone> <name>",
		Short: "Create or update a worker profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Database()
			if err != nil {
				return err
			}

			input.Phone, input.Name = args[0], args[1]
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
				input.Lat, input.Lon = &lat, &lon
			}

			worker, err := services.RegisterWorker(app.Ctx, store, app.Logger, input)
			if err != nil {
				return err
			}

			fmt.Printf("\n✓ Worker %s (%s) registered\n", worker.Name, worker.ID)
			fmt.Printf("  Truck: %t  Rate: %.2f  Strikes: %d\n\n", worker.HasTruck, worker.Rate, worker.NoShowStrikes)
			return nil
		},
	}

	f := cmd.Flags()
	f.Float64Var(&lat, "lat", 0, "Home latitude")
	f.Float64Var(&lon, "lon", 0, "Home longitude")
	f.Float64Var(&input.Rate, "rate", 0, "Hourly rate")
	f.BoolVar(&input.HasTruck, "truck", false, "Worker has a plow truck")
	f.Float64Var(&input.SMSNotifyThreshold, "sms-threshold", 0, "Minimum job price that triggers an SMS")
	f.StringVar(&input.PushSubscription, "push", "", "Push subscription handle")
	return cmd
}

// ReliabilityCmd creates the reliability command
func ReliabilityCmd(app *AppContext) *cobra.Command {
	var noShow, clearAll bool

	cmd := &cobra.Command{
		Use:   "reliability <worker_phone>",
		Short: "Show a worker's reliability, optionally recording a no-show or clearing strikes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if noShow && clearAll {
				return fmt.Errorf("--no-show and --clear cannot be used together")
			}
			store, err := app.Database()
			if err != nil {
				return err
			}

			workerID := args[0]
			var score *reliability.Score
			switch {
			case noShow:
				score, err = services.RecordNoShow(app.Ctx, store, app.Logger, workerID)
			case clearAll:
				score, err = services.ClearStrikes(app.Ctx, store, app.Logger, cliActor, workerID)
			default:
				score, err = services.GetReliability(app.Ctx, store, workerID)
			}
			if err != nil {
				return err
			}

			printScore(workerID, score)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noShow, "no-show", false, "Record a no-show strike first")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "Clear all strikes first")
	return cmd
}

func printScore(workerID string, score *reliability.Score) {
	fmt.Printf("\nWorker %s\n", workerID)
	fmt.Printf("  Claimed:     %d\n", score.JobsClaimed)
	fmt.Printf("  Completed:   %d\n", score.JobsCompleted)
	fmt.Printf("  Reliability: %.0f%%\n", score.Reliability*100)
	fmt.Printf("  Tier:        %s\n", score.Tier)
	fmt.Printf("  Strikes:     %d/%d\n", score.Strikes, reliability.MaxStrikes)
	if score.Suspended {
		fmt.Printf("\n⚠️  Suspended: this worker cannot claim or bid\n")
	}
	fmt.Println()
}
