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

// ClaimStore is the subset of the database the claim coordinator needs
type ClaimStore interface {
	GetJob(ctx context.Context, id string) (*db.Job, error)
	ConditionalUpdateJob(ctx context.Context, id string, pred db.JobPredicate, upd db.JobUpdate) (*db.Job, error)
	GetWorker(ctx context.Context, id string) (*db.Worker, error)
}

// ClaimMode selects how a job is claimed
type ClaimMode string

const (
	ClaimDirect  ClaimMode = "direct"
	ClaimFromBid ClaimMode = "from_bid"
	ClaimBackup  ClaimMode = "backup"
)

// ClaimRequest is a request to claim a job
type ClaimRequest struct {
	JobID string
	Mode  ClaimMode

	// WorkerID is the claimant for direct and backup claims
	WorkerID string

	// BidIndex is the 0-based bid the customer selected, for ClaimFromBid
	BidIndex int
	// Actor is the customer or admin selecting the bid, for ClaimFromBid
	Actor model.Actor

	Now time.Time
}

// ClaimResult is the job as it stands after a successful claim
type ClaimResult struct {
	Job      *db.Job
	WorkerID string
	Mode     ClaimMode
}

// Claim routes a claim request to the matching claim mode
func Claim(ctx context.Context, store ClaimStore, customers CustomerNotifier, logger *zap.Logger, req ClaimRequest) (*ClaimResult, error) {
	switch req.Mode {
	case ClaimDirect:
		return ClaimJob(ctx, store, customers, logger, req.JobID, req.WorkerID, req.Now)
	case ClaimFromBid:
		return ClaimJobFromBid(ctx, store, customers, logger, req.JobID, req.BidIndex, req.Actor, req.Now)
	case ClaimBackup:
		return ClaimBackupSlot(ctx, store, customers, logger, req.JobID, req.WorkerID, req.Now)
	default:
		return nil, fmt.Errorf("%w: unknown claim mode %q", ErrInvalidInput, req.Mode)
	}
}

// ClaimJob claims a pending fixed-price job for a worker. Of any number of
// concurrent callers exactly one succeeds; the rest get ErrAlreadyClaimed.
func ClaimJob(ctx context.Context, store ClaimStore, customers CustomerNotifier, logger *zap.Logger, jobID, workerID string, now time.Time) (*ClaimResult, error) {
	now = nowOr(now)

	if _, err := loadActiveWorker(ctx, store, workerID); err != nil {
		return nil, err
	}

	pred := db.JobPredicate{
		StatusIn:        []model.JobStatus{model.StatusPending},
		ClaimedByIsNull: true,
		BidMode:         boolPtr(false),
	}
	upd := db.JobUpdate{
		Status:    statusPtr(model.StatusClaimed),
		ClaimedBy: stringPtr(workerID),
		ClaimedAt: timePtr(now),
		Audit: newAudit(jobID, "claim", model.StatusPending, model.StatusClaimed,
			model.Actor{ID: workerID, Role: model.RoleWorker}, "", now),
		Counters: db.WorkerCounters{JobsClaimed: workerID},
	}

	job, err := store.ConditionalUpdateJob(ctx, jobID, pred, upd)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if errors.Is(err, db.ErrConflict) {
		return nil, explainDirectClaimConflict(ctx, store, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	logger.Info("Job claimed", zap.String("job_id", jobID), zap.String("worker_id", workerID))

	notifyClaim(ctx, customers, job,
		"Your job has been claimed", fmt.Sprintf("A plower has claimed your job at %s.", job.Address))

	return &ClaimResult{Job: job, WorkerID: workerID, Mode: ClaimDirect}, nil
}

// explainDirectClaimConflict re-reads the job to tell a bid-mode job apart from a lost race
func explainDirectClaimConflict(ctx context.Context, store ClaimStore, jobID string) error {
	job, err := loadJob(ctx, store, jobID)
	if err != nil {
		return err
	}
	if job.BidMode && job.Status == model.StatusPending {
		return ErrBidRequired
	}
	return ErrAlreadyClaimed
}

func notifyClaim(ctx context.Context, customers CustomerNotifier, job *db.Job, subject, message string) {
	if customers != nil {
		customers.NotifyCustomer(ctx, job, subject, message)
	}
}
