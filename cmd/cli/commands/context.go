package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/snow-dispatch/internal/config"
	"github.com/jakechorley/snow-dispatch/pkg/clients/forecastclient"
	"github.com/jakechorley/snow-dispatch/pkg/clients/gmailclient"
	"github.com/jakechorley/snow-dispatch/pkg/clients/pushclient"
	"github.com/jakechorley/snow-dispatch/pkg/clients/smsclient"
	"github.com/jakechorley/snow-dispatch/pkg/core/services"
	"github.com/jakechorley/snow-dispatch/pkg/db"
	"github.com/jakechorley/snow-dispatch/pkg/postgres"
	"github.com/jakechorley/snow-dispatch/pkg/utils"
)

// Store backends selectable with --store
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// AppContext holds the application dependencies shared across all commands.
// Collaborators are built on first use so that commands like issueToken do not
// need a database or notification providers.
type AppContext struct {
	Env       string
	StoreKind string
	Cfg       *config.Config
	Logger    *zap.Logger
	Ctx       context.Context

	database db.Database
	pg       *postgres.DB
	notifier *services.Notifier
	closers  []func()
}

// Close releases every connection opened by the context
func (app *AppContext) Close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}
	app.closers = nil
}

// Database opens the configured store
func (app *AppContext) Database() (db.Database, error) {
	if app.database != nil {
		return app.database, nil
	}

	if app.StoreKind == StoreMemory {
		app.Logger.Warn("Using in-memory store; data is lost on exit and is not shared between processes")
		app.database = db.NewMemoryDB()
		return app.database, nil
	}

	pg, err := app.Postgres()
	if err != nil {
		return nil, err
	}
	app.database = pg
	return app.database, nil
}

// Postgres connects to DATABASE_URL
func (app *AppContext) Postgres() (*postgres.DB, error) {
	if app.pg != nil {
		return app.pg, nil
	}
	if err := app.Cfg.Secrets.RequireSecrets("DATABASE_URL"); err != nil {
		return nil, err
	}

	app.Logger.Info("Connecting to database")
	pg, err := postgres.NewDB(app.Ctx, app.Cfg.Secrets.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	app.pg = pg
	app.closers = append(app.closers, pg.Close)
	app.Logger.Debug("Database connected")
	return pg, nil
}

// Forecaster creates the Open-Meteo client for the configured region
func (app *AppContext) Forecaster() (services.Forecaster, error) {
	client, err := forecastclient.NewClient(forecastclient.Options{Timezone: app.Cfg.Region.Timezone})
	if err != nil {
		return nil, fmt.Errorf("failed to create forecast client: %w", err)
	}
	return client, nil
}

// Region is the configured service area in the form the surge check takes
func (app *AppContext) Region() services.Region {
	return services.Region{
		Lat:          app.Cfg.Region.Latitude,
		Lon:          app.Cfg.Region.Longitude,
		Location:     app.Cfg.Location(),
		ForecastDays: app.Cfg.Region.ForecastDays,
	}
}

// Promotion is the configured backup promotion policy
func (app *AppContext) Promotion() services.PromotionConfig {
	return services.PromotionConfig{Timeout: app.Cfg.Promotion.Timeout, Bonus: app.Cfg.Promotion.Bonus}
}

// Notifier builds the notifier with every provider that is configured. A
// provider that is missing or fails to start leaves its channel unconfigured.
func (app *AppContext) Notifier() (*services.Notifier, error) {
	if app.notifier != nil {
		return app.notifier, nil
	}
	store, err := app.Database()
	if err != nil {
		return nil, err
	}

	app.notifier = services.NewNotifier(store, app.pushSender(), app.smsSender(), app.emailSender(), services.NotifierConfig{
		PresenceTTL:    app.Cfg.Dispatch.PresenceTTL,
		DispatchRadius: app.Cfg.Dispatch.RadiusMiles,
		PublicBaseURL:  app.Cfg.PublicBaseURL,
	}, app.Logger)
	return app.notifier, nil
}

func (app *AppContext) pushSender() services.PushSender {
	if app.Cfg.Secrets.RabbitMQURL == "" {
		app.Logger.Info("Push notifications not configured")
		return nil
	}
	client, err := pushclient.Dial(app.Cfg.Secrets.RabbitMQURL, app.Cfg.Notifications.PushExchange, 5*time.Second)
	if err != nil {
		app.Logger.Warn("Push gateway unavailable, push channel disabled", zap.Error(err))
		return nil
	}
	app.closers = append(app.closers, client.Close)
	return client
}

func (app *AppContext) smsSender() services.SMSSender {
	n := app.Cfg.Notifications
	if n.TwilioAccountSID == "" || n.TwilioFrom == "" || app.Cfg.Secrets.TwilioAuthToken == "" {
		app.Logger.Info("SMS notifications not configured")
		return nil
	}
	client, err := smsclient.NewClient(smsclient.Options{
		AccountSID: n.TwilioAccountSID,
		AuthToken:  app.Cfg.Secrets.TwilioAuthToken,
		From:       n.TwilioFrom,
	})
	if err != nil {
		app.Logger.Warn("SMS client unavailable, SMS channel disabled", zap.Error(err))
		return nil
	}
	return client
}

// emailSender never starts the interactive OAuth flow; run authorizeEmail first
func (app *AppContext) emailSender() services.EmailSender {
	if app.Cfg.Notifications.GmailSender == "" {
		app.Logger.Info("Customer email not configured")
		return nil
	}

	oauthCfg, err := config.LoadOAuthClient(app.Env)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			app.Logger.Warn("No OAuth client file, customer email disabled", zap.Error(err))
		} else {
			app.Logger.Warn("Invalid OAuth client file, customer email disabled", zap.Error(err))
		}
		return nil
	}
	oauthConfig, err := utils.GetOAuthConfig(oauthCfg)
	if err != nil {
		app.Logger.Warn("Failed to build OAuth config, customer email disabled", zap.Error(err))
		return nil
	}
	token, err := utils.LoadToken(app.Ctx, oauthConfig, app.Env, app.Logger)
	if err != nil {
		app.Logger.Warn("No usable Gmail token, customer email disabled", zap.Error(err))
		return nil
	}

	client, err := gmailclient.NewClient(app.Ctx, oauthCfg, token, app.Cfg.Notifications.GmailSender)
	if err != nil {
		app.Logger.Warn("Gmail client unavailable, customer email disabled", zap.Error(err))
		return nil
	}
	return client
}
