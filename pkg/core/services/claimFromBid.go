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

// ClaimJobFromBid awards a bid-mode job to the bidder at bidIndex (0-based).
// Only the job's customer or an admin may select. A bid submitted after the
// deadline can never be selected, but a bid submitted in time can be selected
// after the deadline has passed.
func ClaimJobFromBid(ctx context.Context, store ClaimStore, customers CustomerNotifier, logger *zap.Logger, jobID string, bidIndex int, actor model.Actor, now time.Time) (*ClaimResult, error) {
	now = nowOr(now)

	job, err := loadJob(ctx, store, jobID)
	if err != nil {
		return nil, err
	}

	if actor.Role != model.RoleAdmin && !(actor.Role == model.RoleCustomer && actor.ID == job.CustomerID) {
		return nil, fmt.Errorf("%w: only the job's customer may select a bid", ErrForbidden)
	}
	if !job.BidMode {
		return nil, ErrNotBidMode
	}
	if job.Status != model.StatusPending || job.ClaimedBy != "" {
		return nil, ErrAlreadyClaimed
	}
	if bidIndex < 0 || bidIndex >= len(job.Bids) {
		return nil, fmt.Errorf("%w: index %d of %d bids", ErrBidNotFound, bidIndex, len(job.Bids))
	}

	bid := job.Bids[bidIndex]
	if job.BidDeadline != nil && bid.SubmittedAt.After(*job.BidDeadline) {
		return nil, fmt.Errorf("%w: bid was submitted after the deadline", ErrBidWindowClosed)
	}

	if _, err := loadActiveWorker(ctx, store, bid.WorkerID); err != nil {
		return nil, err
	}

	pred := db.JobPredicate{
		StatusIn:        []model.JobStatus{model.StatusPending},
		ClaimedByIsNull: true,
		BidMode:         boolPtr(true),
	}
	upd := db.JobUpdate{
		Status:           statusPtr(model.StatusClaimed),
		ClaimedBy:        stringPtr(bid.WorkerID),
		SelectedBidIndex: &bidIndex,
		ClaimedAt:        timePtr(now),
		Audit: newAudit(jobID, "claim_from_bid", model.StatusPending, model.StatusClaimed, actor,
			fmt.Sprintf("bid %d by %s for %.2f", bidIndex, bid.WorkerID, bid.Amount), now),
		Counters: db.WorkerCounters{JobsClaimed: bid.WorkerID},
	}

	updated, err := store.ConditionalUpdateJob(ctx, jobID, pred, upd)
	if errors.Is(err, db.ErrConflict) {
		return nil, ErrAlreadyClaimed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job from bid: %w", err)
	}

	logger.Info("Job claimed from bid",
		zap.String("job_id", jobID),
		zap.String("worker_id", bid.WorkerID),
		zap.Int("bid_index", bidIndex),
		zap.Float64("amount", bid.Amount))

	notifyClaim(ctx, customers, updated,
		"Bid accepted", fmt.Sprintf("Your selected plower will clear %s for $%.2f.", updated.Address, updated.ChargeAmount()))

	return &ClaimResult{Job: updated, WorkerID: bid.WorkerID, Mode: ClaimFromBid}, nil
}
