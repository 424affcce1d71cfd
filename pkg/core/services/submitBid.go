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

// BidStore is the subset of the database the bid manager needs
type BidStore interface {
	GetJob(ctx context.Context, id string) (*db.Job, error)
	GetWorker(ctx context.Context, id string) (*db.Worker, error)
	AppendBid(ctx context.Context, jobID string, bid db.Bid, pred db.BidPredicate) (int, error)
}

// BidResult is an accepted bid and its arrival position
type BidResult struct {
	JobID    string
	Bid      db.Bid
	Position int // 1-based
}

// SubmitBid records a worker's offer on a pending bid-mode job. Bids are never
// auto-selected; the customer picks one with ClaimJobFromBid.
func SubmitBid(ctx context.Context, store BidStore, logger *zap.Logger, jobID, workerID string, amount float64, now time.Time) (*BidResult, error) {
	now = nowOr(now)

	if _, err := loadActiveWorker(ctx, store, workerID); err != nil {
		return nil, err
	}

	job, err := loadJob(ctx, store, jobID)
	if err != nil {
		return nil, err
	}
	if !job.BidMode {
		return nil, ErrNotBidMode
	}
	if job.Status != model.StatusPending {
		return nil, fmt.Errorf("%w: job is %s", ErrBidWindowClosed, job.Status)
	}
	if job.BidDeadline != nil && now.After(*job.BidDeadline) {
		return nil, fmt.Errorf("%w: deadline was %s", ErrBidWindowClosed, job.BidDeadline.Format(time.RFC3339))
	}
	if err := CheckBidBounds(amount); err != nil {
		return nil, err
	}

	bid := db.Bid{WorkerID: workerID, Amount: amount, SubmittedAt: now}
	position, err := store.AppendBid(ctx, jobID, bid, db.BidPredicate{Now: now})
	if errors.Is(err, db.ErrConflict) {
		return nil, ErrBidWindowClosed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append bid: %w", err)
	}
	bid.Seq = position

	logger.Info("Bid submitted",
		zap.String("job_id", jobID),
		zap.String("worker_id", workerID),
		zap.Float64("amount", amount),
		zap.Int("position", position))

	return &BidResult{JobID: jobID, Bid: bid, Position: position}, nil
}
