package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/snow-dispatch/pkg/api"
	"github.com/jakechorley/snow-dispatch/pkg/core/services"
	"github.com/jakechorley/snow-dispatch/pkg/scheduler"
)

const shutdownTimeout = 15 * time.Second

// ServeCmd creates the serve command
func ServeCmd(app *AppContext) *cobra.Command {
	var withScheduler, migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, optionally, the surge and backup scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Cfg.Secrets.RequireSecrets("JWT_SECRET"); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(app.Ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if migrate && app.StoreKind == StorePostgres {
				pg, err := app.Postgres()
				if err != nil {
					return err
				}
				if err := pg.RunMigrations(ctx); err != nil {
					return fmt.Errorf("failed to run migrations: %w", err)
				}
			}

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

			srv := api.NewServer(store, notifier, forecaster, api.NewTokens(app.Cfg.Secrets.JWTSecret, 0), api.Config{
				Promotion:          app.Promotion(),
				SurgePolicy:        app.Cfg.SurgePolicy(),
				Region:             app.Region(),
				DispatchRadius:     app.Cfg.Dispatch.RadiusMiles,
				CORSAllowedOrigins: app.Cfg.CORSAllowedOrigins,
				CronSecret:         app.Cfg.Secrets.CronSecret,
			}, app.Logger)

			httpServer := &http.Server{
				Addr:              app.Cfg.ServerAddr,
				Handler:           srv.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			if withScheduler {
				sched, err := scheduler.New(app.Cfg.ScheduleRRule, app.Cfg.Location(), time.Now(), app.Logger,
					scheduler.Task{Name: "surge_check", Run: func(ctx context.Context, now time.Time) error {
						_, err := services.CheckForecastAndUpdateSurge(ctx, store, forecaster, notifier, app.Logger, app.Cfg.SurgePolicy(), app.Region(), now.UTC())
						return err
					}},
					scheduler.Task{Name: "backup_promotion", Run: func(ctx context.Context, now time.Time) error {
						_, err := services.PromoteOverdueBackups(ctx, store, notifier, app.Logger, app.Promotion(), now.UTC())
						return err
					}},
				)
				if err != nil {
					return err
				}
				go func() {
					if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						app.Logger.Error("Scheduler stopped", zap.Error(err))
					}
				}()
				app.Logger.Info("Scheduler started", zap.String("rrule", app.Cfg.ScheduleRRule))
			}

			errCh := make(chan error, 1)
			go func() {
				app.Logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			app.Logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down http server: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withScheduler, "scheduler", true, "Run the surge check and backup promotion on the configured schedule")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending database migrations before serving")
	return cmd
}

// MigrateCmd creates the migrate command
func MigrateCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pg, err := app.Postgres()
			if err != nil {
				return err
			}
			if err := pg.RunMigrations(app.Ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Printf("\n✓ Migrations applied\n\n")
			return nil
		},
	}
}
