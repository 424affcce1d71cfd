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

// ClaimBackupSlot registers workerID as the backup on a claimed job. The job's status
// does not change. The slot is taken by at most one worker.
func ClaimBackupSlot(ctx context.Context, store ClaimStore, customers CustomerNotifier, logger *zap.Logger, jobID, workerID string, now time.Time) (*ClaimResult, error) {
	now = nowOr(now)

	if _, err := loadActiveWorker(ctx, store, workerID); err != nil {
		return nil, err
	}

	job, err := loadJob(ctx, store, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.AcceptsBackup() || job.BackupClaimedBy != "" {
		return nil, ErrBackupUnavailable
	}
	if job.ClaimedBy == workerID {
		return nil, fmt.Errorf("%w: the claimant cannot also be the backup", ErrBackupUnavailable)
	}

	pred := db.JobPredicate{
		StatusIn:     model.BackupStates(),
		BackupIsNull: true,
		ClaimedBy:    job.ClaimedBy,
	}
	upd := db.JobUpdate{
		BackupClaimedBy: stringPtr(workerID),
		Audit: newAudit(jobID, "claim_backup", job.Status, job.Status,
			model.Actor{ID: workerID, Role: model.RoleWorker}, "", now),
	}

	updated, err := store.ConditionalUpdateJob(ctx, jobID, pred, upd)
	if errors.Is(err, db.ErrConflict) {
		return nil, ErrBackupUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim backup: %w", err)
	}

	logger.Info("Backup claimed", zap.String("job_id", jobID), zap.String("worker_id", workerID))

	if customers != nil {
		customers.NotifyCustomer(ctx, updated, "Backup plower assigned",
			fmt.Sprintf("A backup plower is standing by for your job at %s.", updated.Address))
	}

	return &ClaimResult{Job: updated, WorkerID: workerID, Mode: ClaimBackup}, nil
}
