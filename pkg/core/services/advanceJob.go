package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

// AdvanceStore is the subset of the database AdvanceJob needs
type AdvanceStore interface {
	GetJob(ctx context.Context, id string) (*db.Job, error)
	ConditionalUpdateJob(ctx context.Context, id string, pred db.JobPredicate, upd db.JobUpdate) (*db.Job, error)
}

var statusMessages = map[model.JobStatus]string{
	model.StatusAccepted:   "Your plower has accepted the job at %s.",
	model.StatusOnTheWay:   "Your plower is on the way to %s.",
	model.StatusInProgress: "Your plower has started clearing %s.",
	model.StatusCompleted:  "Your job at %s is complete.",
	model.StatusCancelled:  "Your job at %s has been cancelled.",
}

// AdvanceJob moves a job one legal step forward, or cancels it. Forward steps are
// taken by the claimant (or an admin); cancellation by the customer (or an admin).
// Claiming is not an advance, use the claim operations.
func AdvanceJob(ctx context.Context, store AdvanceStore, customers CustomerNotifier, logger *zap.Logger, jobID string, actor model.Actor, to model.JobStatus, now time.Time) (*db.Job, error) {
	now = nowOr(now)

	if !to.IsValid() || to == model.StatusPending || to == model.StatusClaimed {
		return nil, fmt.Errorf("%w: cannot advance to %q", ErrInvalidTransition, to)
	}

	job, err := loadJob(ctx, store, jobID)
	if err != nil {
		return nil, err
	}
	from := job.Status
	if !model.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	if err := authorizeAdvance(job, actor, to); err != nil {
		return nil, err
	}

	pred := db.JobPredicate{StatusIn: []model.JobStatus{from}, ClaimedBy: job.ClaimedBy}
	if job.ClaimedBy == "" {
		pred.ClaimedByIsNull = true
	}
	upd := db.JobUpdate{
		Status: statusPtr(to),
		Audit:  newAudit(jobID, "advance", from, to, actor, "", now),
	}
	switch to {
	case model.StatusAccepted:
		upd.AcceptedAt = timePtr(now)
	case model.StatusOnTheWay:
		upd.OnTheWayAt = timePtr(now)
	case model.StatusInProgress:
		upd.StartedAt = timePtr(now)
	case model.StatusCompleted:
		upd.CompletedAt = timePtr(now)
		upd.Counters.JobsCompleted = job.ClaimedBy
	case model.StatusCancelled:
		upd.CancelledAt = timePtr(now)
	}

	updated, err := store.ConditionalUpdateJob(ctx, jobID, pred, upd)
	if errors.Is(err, db.ErrConflict) {
		return nil, ErrConcurrentUpdate
	}
	if err != nil {
		return nil, fmt.Errorf("failed to advance job: %w", err)
	}

	logger.Info("Job advanced",
		zap.String("job_id", jobID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor.String()))

	if customers != nil {
		customers.NotifyCustomer(ctx, updated, "Job update", fmt.Sprintf(statusMessages[to], updated.Address))
	}

	return updated, nil
}

func authorizeAdvance(job *db.Job, actor model.Actor, to model.JobStatus) error {
	if actor.Role == model.RoleAdmin {
		return nil
	}
	if to == model.StatusCancelled {
		if actor.Role == model.RoleCustomer && actor.ID == job.CustomerID {
			return nil
		}
		return fmt.Errorf("%w: only the customer may cancel", ErrForbidden)
	}
	if actor.Role == model.RoleWorker && actor.ID == job.ClaimedBy {
		return nil
	}
	return fmt.Errorf("%w: only the claimant may advance the job", ErrForbidden)
}
