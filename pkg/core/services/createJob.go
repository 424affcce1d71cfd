package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/core/surge"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

// CreateJobStore is the subset of the database CreateJob needs
type CreateJobStore interface {
	InsertJob(ctx context.Context, job *db.Job) error
	GetActiveStormEvent(ctx context.Context, at time.Time) (*db.StormEvent, error)
}

// CreateJobInput is a customer's request for a job
type CreateJobInput struct {
	CustomerID    string            `json:"customer_id" validate:"required"`
	CustomerName  string            `json:"customer_name" validate:"required"`
	CustomerPhone string            `json:"customer_phone" validate:"required,e164"`
	CustomerEmail string            `json:"customer_email" validate:"omitempty,email"`
	Address       string            `json:"address" validate:"required"`
	Lat           *float64          `json:"lat" validate:"omitempty,latitude"`
	Lon           *float64          `json:"lon" validate:"omitempty,longitude"`
	ServiceType   model.ServiceType `json:"service_type" validate:"required,oneof=truck shovel any"`
	MaxPrice      float64           `json:"max_price" validate:"gt=0"`
	BidMode       bool              `json:"bid_mode"`
	BidDeadline   *time.Time        `json:"bid_deadline"`

	// Now overrides the creation time, zero means the current time
	Now time.Time `json:"-"`
}

var validate = validator.New()

// CreateJob inserts a pending job stamped with the surge multiplier of the storm
// active at creation time, then announces it to eligible workers
func CreateJob(ctx context.Context, store CreateJobStore, notifier WorkerNotifier, logger *zap.Logger, input CreateJobInput) (*db.Job, error) {
	if err := validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if (input.Lat == nil) != (input.Lon == nil) {
		return nil, fmt.Errorf("%w: lat and lon must be supplied together", ErrInvalidInput)
	}

	now := nowOr(input.Now)
	if input.BidMode {
		if input.BidDeadline == nil {
			return nil, fmt.Errorf("%w: bid mode requires a bid deadline", ErrInvalidInput)
		}
		if !input.BidDeadline.After(now) {
			return nil, fmt.Errorf("%w: bid deadline must be in the future", ErrInvalidInput)
		}
	}

	multiplier := surge.NoSurge
	event, err := store.GetActiveStormEvent(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get active storm event: %w", err)
	}
	if event != nil {
		multiplier = event.SurgeMultiplier
		logger.Debug("Applying storm surge to new job",
			zap.String("storm_event_id", event.ID),
			zap.Float64("multiplier", multiplier))
	}

	job := &db.Job{
		ID:              uuid.New().String(),
		CustomerID:      input.CustomerID,
		CustomerName:    input.CustomerName,
		CustomerPhone:   input.CustomerPhone,
		CustomerEmail:   input.CustomerEmail,
		Address:         input.Address,
		Lat:             input.Lat,
		Lon:             input.Lon,
		ServiceType:     input.ServiceType,
		MaxPrice:        input.MaxPrice,
		SurgeMultiplier: multiplier,
		BidMode:         input.BidMode,
		Status:          model.StatusPending,
		CreatedAt:       now,
	}
	if input.BidMode {
		job.BidDeadline = timePtr(input.BidDeadline.UTC())
	}

	if err := store.InsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}

	logger.Info("Job created",
		zap.String("job_id", job.ID),
		zap.String("service_type", string(job.ServiceType)),
		zap.Bool("bid_mode", job.BidMode),
		zap.Float64("surge_multiplier", job.SurgeMultiplier))

	if notifier != nil {
		if _, err := notifier.NotifyEligibleWorkers(ctx, job); err != nil {
			logger.Warn("Failed to notify workers of new job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	return job, nil
}
