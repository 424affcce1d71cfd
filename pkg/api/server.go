package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/core/services"
	"github.com/jakechorley/snow-dispatch/pkg/core/surge"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

// Notifier is everything the API triggers notifications through
type Notifier interface {
	services.WorkerNotifier
	services.StormNotifier
	services.CustomerNotifier
}

// Config holds the settings handlers pass through to the services
type Config struct {
	Promotion          services.PromotionConfig
	SurgePolicy        surge.Policy
	Region             services.Region
	DispatchRadius     float64
	CORSAllowedOrigins []string
	CronSecret         string
}

// Server serves the dispatch HTTP API
type Server struct {
	store      db.Database
	notifier   Notifier
	forecaster services.Forecaster
	tokens     *Tokens
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewServer wires the handlers to their collaborators
func NewServer(store db.Database, notifier Notifier, forecaster services.Forecaster, tokens *Tokens, cfg Config, logger *zap.Logger) *Server {
	return &Server{
		store:      store,
		notifier:   notifier,
		forecaster: forecaster,
		tokens:     tokens,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Router builds the chi router
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	if len(s.cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)

	r.Group(func(r chi.Router) {
		r.Use(requireCronOrAdmin(s.cfg.CronSecret, s.tokens))
		r.Post("/storm/check", s.checkStorm)
		r.Post("/backups/promote-overdue", s.promoteOverdueBackups)
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Use(requireAuth(s.tokens))

		r.With(requireRole(model.RoleCustomer, model.RoleAdmin)).Post("/", s.createJob)
		r.With(requireRole(model.RoleWorker, model.RoleAdmin)).Get("/open", s.listOpenJobs)
		r.Get("/{id}", s.getJob)

		r.With(requireRole(model.RoleWorker)).Post("/{id}/claim", s.claimJob)
		r.With(requireRole(model.RoleWorker)).Post("/{id}/bids", s.submitBid)
		r.With(requireRole(model.RoleCustomer, model.RoleAdmin)).Post("/{id}/claim-from-bid", s.claimFromBid)
		r.With(requireRole(model.RoleWorker)).Post("/{id}/claim-backup", s.claimBackup)
		r.With(requireRole(model.RoleWorker, model.RoleAdmin)).Post("/{id}/promote-backup", s.promoteBackup)
		r.Post("/{id}/status", s.advanceJob)
	})

	r.Route("/workers", func(r chi.Router) {
		r.Use(requireAuth(s.tokens))

		r.With(requireRole(model.RoleWorker, model.RoleAdmin)).Post("/", s.registerWorker)
		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.RoleWorker))
			r.Post("/me/online", s.goOnline)
			r.Post("/me/offline", s.goOffline)
			r.Post("/me/heartbeat", s.heartbeat)
		})
		r.Get("/{id}/reliability", s.getReliability)
		r.With(requireRole(model.RoleAdmin)).Post("/{id}/no-show", s.recordNoShow)
		r.With(requireRole(model.RoleAdmin)).Post("/{id}/clear-strikes", s.clearStrikes)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())))
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.logger.Warn("Health check failed", zap.Error(err))
			writeMessage(w, http.StatusServiceUnavailable, "unavailable", "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func actor(r *http.Request) model.Actor {
	a, _ := ActorFromContext(r.Context())
	return a
}
