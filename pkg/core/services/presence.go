package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/snow-dispatch/pkg/db"
)

// RegisterWorkerInput is a worker's profile as submitted at sign-up or on edit
type RegisterWorkerInput struct {
	Phone              string   `json:"phone" validate:"required,e164"`
	Name               string   `json:"name" validate:"required"`
	Lat                *float64 `json:"lat" validate:"omitempty,latitude"`
	Lon                *float64 `json:"lon" validate:"omitempty,longitude"`
	Rate               float64  `json:"rate" validate:"gte=0"`
	HasTruck           bool     `json:"has_truck"`
	SMSNotifyThreshold float64  `json:"sms_notify_threshold" validate:"gte=0"`
	PushSubscription   string   `json:"push_subscription"`
}

// RegisterWorker creates or updates a worker profile. Counters, strikes and presence are preserved.
func RegisterWorker(ctx context.Context, store db.WorkerStore, logger *zap.Logger, input RegisterWorkerInput) (*db.Worker, error) {
	if err := validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	worker := &db.Worker{
		ID:                 input.Phone,
		Name:               input.Name,
		Lat:                input.Lat,
		Lon:                input.Lon,
		Rate:               input.Rate,
		HasTruck:           input.HasTruck,
		SMSNotifyThreshold: input.SMSNotifyThreshold,
		PushSubscription:   input.PushSubscription,
	}
	if err := store.UpsertWorker(ctx, worker); err != nil {
		return nil, fmt.Errorf("failed to upsert worker: %w", err)
	}

	logger.Info("Worker registered", zap.String("worker_id", worker.ID), zap.Bool("has_truck", worker.HasTruck))

	return store.GetWorker(ctx, worker.ID)
}

// GoOnline marks the worker available for dispatch, optionally updating their location
func GoOnline(ctx context.Context, store db.WorkerStore, logger *zap.Logger, workerID string, lat, lon *float64, now time.Time) error {
	if (lat == nil) != (lon == nil) {
		return fmt.Errorf("%w: lat and lon must be supplied together", ErrInvalidInput)
	}
	return setPresence(ctx, store, logger, db.Presence{
		WorkerID:         workerID,
		IsOnline:         true,
		LastTransitionAt: nowOr(now),
		Lat:              lat,
		Lon:              lon,
	})
}

// GoOffline removes the worker from dispatch
func GoOffline(ctx context.Context, store db.WorkerStore, logger *zap.Logger, workerID string, now time.Time) error {
	return setPresence(ctx, store, logger, db.Presence{
		WorkerID:         workerID,
		IsOnline:         false,
		LastTransitionAt: nowOr(now),
	})
}

// Heartbeat refreshes the worker's last-seen time so they stay within the presence TTL
func Heartbeat(ctx context.Context, store db.WorkerStore, workerID string, now time.Time) error {
	if err := store.Touch(ctx, workerID, nowOr(now)); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
		}
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return nil
}

func setPresence(ctx context.Context, store db.WorkerStore, logger *zap.Logger, presence db.Presence) error {
	if err := store.SetPresence(ctx, presence); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrWorkerNotFound, presence.WorkerID)
		}
		return fmt.Errorf("failed to set presence: %w", err)
	}
	logger.Info("Presence changed", zap.String("worker_id", presence.WorkerID), zap.Bool("online", presence.IsOnline))
	return nil
}
