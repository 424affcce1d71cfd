package commands

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/core/services"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

// cliActor is recorded in the audit log for operations run from the command line
var cliActor = model.Actor{ID: "cli", Role: model.RoleAdmin}

// CreateJobCmd creates the createJob command
func CreateJobCmd(app *AppContext) *cobra.Command {
	var input services.CreateJobInput
	var serviceType, biddingFor string
	var lat, lon float64

	cmd := &cobra.Command{
		Use:   "createJob",
		Short: "Create a job and notify eligible workers",
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

			input.ServiceType = model.ServiceType(serviceType)
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
				input.Lat, input.Lon = &lat, &lon
			}
			input.Now = time.Now().UTC()
			if biddingFor != "" {
				d, err := time.ParseDuration(biddingFor)
				if err != nil {
					return fmt.Errorf("invalid --bidding-for: %w", err)
				}
				deadline := input.Now.Add(d)
				input.BidMode = true
				input.BidDeadline = &deadline
			}

			job, err := services.CreateJob(app.Ctx, store, notifier, app.Logger, input)
			if err != nil {
				return err
			}

			fmt.Printf("\n✓ Job created\n\n")
			printJob(job)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&input.CustomerID, "customer-id", "", "Customer id")
	f.StringVar(&input.CustomerName, "name", "", "Customer name")
	f.StringVar(&input.CustomerPhone, "phone", "", "Customer phone (E.164)")
	f.StringVar(&input.CustomerEmail, "email", "", "Customer email (optional)")
	f.StringVar(&input.Address, "address", "", "Job address")
	f.Float64Var(&lat, "lat", 0, "Job latitude")
	f.Float64Var(&lon, "lon", 0, "Job longitude")
	f.StringVar(&serviceType, "service", string(model.ServiceAny), "Service type: truck, shovel or any")
	f.Float64Var(&input.MaxPrice, "max-price", 0, "Maximum price")
	f.StringVar(&biddingFor, "bidding-for", "", "Open the job for bids for this long, e.g. 30m")
	return cmd
}

// ClaimCmd creates the claim command
func ClaimCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <job_id> <worker_phone>",
		Short: "Claim a job for a worker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClaim(app, services.ClaimRequest{JobID: args[0], Mode: services.ClaimDirect, WorkerID: args[1]})
		},
	}
}

// ClaimBackupCmd creates the claimBackup command
func ClaimBackupCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "claimBackup <job_id> <worker_phone>",
		Short: "Take the backup slot on a claimed job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClaim(app, services.ClaimRequest{JobID: args[0], Mode: services.ClaimBackup, WorkerID: args[1]})
		},
	}
}

// ClaimFromBidCmd creates the claimFromBid command
func ClaimFromBidCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "claimFromBid <job_id> <bid_index>",
		Short: "Award a bid-mode job to the bid at the given 0-based index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("bid_index must be a number: %w", err)
			}
			return runClaim(app, services.ClaimRequest{JobID: args[0], Mode: services.ClaimFromBid, BidIndex: index, Actor: cliActor})
		},
	}
}

func runClaim(app *AppContext, req services.ClaimRequest) error {
	store, err := app.Database()
	if err != nil {
		return err
	}
	notifier, err := app.Notifier()
	if err != nil {
		return err
	}

	req.Now = time.Now().UTC()
	result, err := services.Claim(app.Ctx, store, notifier, app.Logger, req)
	if err != nil {
		return err
	}

	fmt.Printf("\n✓ %s claim succeeded for %s\n\n", result.Mode, result.WorkerID)
	printJob(result.Job)
	return nil
}

// BidCmd creates the bid command
func BidCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "bid <job_id> <worker_phone> <amount>",
		Short: "Submit a bid on a bid-mode job",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("amount must be a number: %w", err)
			}
			store, err := app.Database()
			if err != nil {
				return err
			}

			result, err := services.SubmitBid(app.Ctx, store, app.Logger, args[0], args[1], amount, time.Now().UTC())
			if err != nil {
				return err
			}

			fmt.Printf("\n✓ Bid of %.2f recorded at position %d\n\n", result.Bid.Amount, result.Position)
			return nil
		},
	}
}

// AdvanceCmd creates the advance command
func AdvanceCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <job_id> <status>",
		Short: "Move a job to accepted, on_the_way, in_progress, completed or cancelled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := model.ParseJobStatus(args[1])
			if err != nil {
				return err
			}
			store, err := app.Database()
			if err != nil {
				return err
			}
			notifier, err := app.Notifier()
			if err != nil {
				return err
			}

			job, err := services.AdvanceJob(app.Ctx, store, notifier, app.Logger, args[0], cliActor, to, time.Now().UTC())
			if err != nil {
				return err
			}

			fmt.Printf("\n✓ Job moved to %s\n\n", job.Status)
			printJob(job)
			return nil
		},
	}
}

// ListOpenCmd creates the listOpen command
func ListOpenCmd(app *AppContext) *cobra.Command {
	var serviceTypes []string
	var lat, lon, radius float64
	var limit int

	cmd := &cobra.Command{
		Use:   "listOpen",
		Short: "List pending jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Database()
			if err != nil {
				return err
			}

			query := services.OpenJobsQuery{RadiusMiles: radius, Limit: limit}
			for _, st := range serviceTypes {
				query.ServiceTypes = append(query.ServiceTypes, model.ServiceType(st))
			}
			if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon") {
				query.Lat, query.Lon = &lat, &lon
			}

			jobs, err := services.ListOpenJobs(app.Ctx, store, query)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("No open jobs.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSERVICE\tPRICE\tSURGE\tMODE\tADDRESS\tCREATED")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%.2f\tx%.2f\t%s\t%s\t%s\n",
					j.ID, j.ServiceType, j.MaxPrice, j.SurgeMultiplier, jobMode(&j), j.Address, j.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&serviceTypes, "service", nil, "Service types to include")
	f.Float64Var(&lat, "lat", 0, "Worker latitude")
	f.Float64Var(&lon, "lon", 0, "Worker longitude")
	f.Float64Var(&radius, "radius", 0, "Radius in miles around lat/lon")
	f.IntVar(&limit, "limit", 20, "Maximum jobs to list")
	return cmd
}

func jobMode(j *db.Job) string {
	if !j.BidMode {
		return "direct"
	}
	if j.BidDeadline == nil {
		return "bids"
	}
	return fmt.Sprintf("bids until %s (%d)", j.BidDeadline.Format("15:04"), len(j.Bids))
}

func printJob(j *db.Job) {
	fmt.Printf("Job ID:   %s\n", j.ID)
	fmt.Printf("Status:   %s\n", j.Status)
	fmt.Printf("Address:  %s\n", j.Address)
	fmt.Printf("Service:  %s\n", j.ServiceType)
	fmt.Printf("Mode:     %s\n", jobMode(j))
	fmt.Printf("Charge:   %.2f (max %.2f, surge x%.2f)\n", j.ChargeAmount(), j.MaxPrice, j.SurgeMultiplier)
	if j.ClaimedBy != "" {
		fmt.Printf("Claimed:  %s\n", j.ClaimedBy)
	}
	if j.BackupClaimedBy != "" {
		fmt.Printf("Backup:   %s\n", j.BackupClaimedBy)
	}
	for i, b := range j.Bids {
		fmt.Printf("  bid %d: %s %.2f at %s\n", i, b.WorkerID, b.Amount, b.SubmittedAt.Format(time.RFC3339))
	}
	fmt.Println()
}
