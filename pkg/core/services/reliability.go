package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/core/reliability"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

// RecordNoShow adds a strike to the worker, capped at the suspension threshold.
// Returns the worker's score after the strike.
func RecordNoShow(ctx context.Context, store db.WorkerStore, logger *zap.Logger, workerID string) (*reliability.Score, error) {
	strikes, err := store.IncrementNoShowStrikes(ctx, workerID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record no-show: %w", err)
	}

	if reliability.IsSuspended(strikes) {
		logger.Warn("Worker suspended", zap.String("worker_id", workerID), zap.Int("strikes", strikes))
	} else {
		logger.Info("No-show recorded", zap.String("worker_id", workerID), zap.Int("strikes", strikes))
	}

	return GetReliability(ctx, store, workerID)
}

// RecordCompletion counts a completed job towards the worker's reliability
func RecordCompletion(ctx context.Context, store interface {
	IncrementJobsCompleted(ctx context.Context, workerID string) error
}, logger *zap.Logger, workerID string) error {
	if err := store.IncrementJobsCompleted(ctx, workerID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
		}
		return fmt.Errorf("failed to record completion: %w", err)
	}
	logger.Debug("Completion recorded", zap.String("worker_id", workerID))
	return nil
}

// ClearStrikes resets a worker's no-show strikes after a successful appeal
func ClearStrikes(ctx context.Context, store db.WorkerStore, logger *zap.Logger, actor model.Actor, workerID string) (*reliability.Score, error) {
	if actor.Role != model.RoleAdmin {
		return nil, fmt.Errorf("%w: only an admin may clear strikes", ErrForbidden)
	}
	if err := store.ResetNoShowStrikes(ctx, workerID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
		}
		return nil, fmt.Errorf("failed to clear strikes: %w", err)
	}

	logger.Info("Strikes cleared", zap.String("worker_id", workerID), zap.String("actor", actor.String()))

	return GetReliability(ctx, store, workerID)
}

// GetReliability derives the worker's reliability score and tier from their counters
func GetReliability(ctx context.Context, store interface {
	GetWorker(ctx context.Context, id string) (*db.Worker, error)
}, workerID string) (*reliability.Score, error) {
	worker, err := store.GetWorker(ctx, workerID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}

	score := reliability.Compute(worker.JobsCompleted, worker.JobsClaimed, worker.NoShowStrikes)
	return &score, nil
}
