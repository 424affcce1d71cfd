package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/snow-dispatch/cmd/cli/commands"
	"github.com/jakechorley/snow-dispatch/internal/config"
	"github.com/jakechorley/snow-dispatch/pkg/utils/logging"
)

var (
	env       string
	storeKind string
	app       *commands.AppContext
)

func main() {
	app = &commands.AppContext{Ctx: context.Background()}

	rootCmd := &cobra.Command{
		Use:   "snow-dispatch",
		Short: "Snow dispatch - job claiming and surge engine",
		Long:  `Runs the dispatch API and scheduler, and exposes the dispatch operations for operators.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.Logger != nil {
				_ = app.Logger.Sync()
			}
			app.Close()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&env, "env", "e", "", "Environment (required: dev, test, prod, etc.)")
	rootCmd.MarkPersistentFlagRequired("env")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", commands.StorePostgres, "Store backend: postgres or memory")

	rootCmd.AddCommand(commands.ServeCmd(app))
	rootCmd.AddCommand(commands.MigrateCmd(app))
	rootCmd.AddCommand(commands.CheckStormCmd(app))
	rootCmd.AddCommand(commands.PromoteBackupsCmd(app))
	rootCmd.AddCommand(commands.CreateJobCmd(app))
	rootCmd.AddCommand(commands.ListOpenCmd(app))
	rootCmd.AddCommand(commands.ClaimCmd(app))
	rootCmd.AddCommand(commands.BidCmd(app))
	rootCmd.AddCommand(commands.ClaimFromBidCmd(app))
	rootCmd.AddCommand(commands.ClaimBackupCmd(app))
	rootCmd.AddCommand(commands.AdvanceCmd(app))
	rootCmd.AddCommand(commands.RegisterWorkerCmd(app))
	rootCmd.AddCommand(commands.ReliabilityCmd(app))
	rootCmd.AddCommand(commands.IssueTokenCmd(app))
	rootCmd.AddCommand(commands.AuthorizeEmailCmd(app))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initApp sets up the logger and config. Stores and clients are opened by the
// commands that need them.
func initApp() error {
	var err error
	app.Env = env

	switch storeKind {
	case commands.StorePostgres, commands.StoreMemory:
		app.StoreKind = storeKind
	default:
		return fmt.Errorf("unknown store %q: expected %s or %s", storeKind, commands.StorePostgres, commands.StoreMemory)
	}

	app.Logger, err = logging.InitLogger(env)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.Logger.Info("Starting application", zap.String("environment", env), zap.String("store", storeKind))

	app.Cfg, err = config.Load(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app.Logger.Debug("Configuration loaded successfully")

	return nil
}
