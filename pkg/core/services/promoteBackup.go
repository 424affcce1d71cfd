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

// PromotionStore is the subset of the database backup promotion needs
type PromotionStore interface {
	GetJob(ctx context.Context, id string) (*db.Job, error)
	ListJobs(ctx context.Context, filter db.JobFilter) ([]db.Job, error)
	ConditionalUpdateJob(ctx context.Context, id string, pred db.JobPredicate, upd db.JobUpdate) (*db.Job, error)
	GetWorker(ctx context.Context, id string) (*db.Worker, error)
}

// PromotionConfig holds the promotion tunables
type PromotionConfig struct {
	// Timeout is how long a claimant may hold a job before the backup may take over
	Timeout time.Duration
	// Bonus is paid to a promoted backup on top of the job price
	Bonus float64
}

// PromoteBackupRequest asks for the backup on a job to replace its claimant
type PromoteBackupRequest struct {
	JobID string
	Actor model.Actor
	// AdminConfirmed skips the timeout check. Only admins may set it.
	AdminConfirmed bool
	Now            time.Time
}

// PromotionResult describes a completed promotion
type PromotionResult struct {
	Job              *db.Job
	PromotedWorkerID string
	NoShowWorkerID   string
	NoShowStrikes    int
}

// PromoteBackup replaces a claimant who has held the job past the timeout (or whom an
// admin confirmed as a no-show) with the backup. The job's status is left unchanged,
// the original claimant gets a no-show strike and the backup receives the bonus. A
// suspended backup is refused with ErrWorkerSuspended.
func PromoteBackup(ctx context.Context, store PromotionStore, customers CustomerNotifier, logger *zap.Logger, cfg PromotionConfig, req PromoteBackupRequest) (*PromotionResult, error) {
	now := nowOr(req.Now)

	if req.AdminConfirmed && req.Actor.Role != model.RoleAdmin {
		return nil, fmt.Errorf("%w: only an admin may confirm abandonment", ErrForbidden)
	}
	if !req.AdminConfirmed && cfg.Timeout <= 0 {
		return nil, fmt.Errorf("%w: promotion timeout must be configured", ErrInvalidInput)
	}

	job, err := loadJob(ctx, store, req.JobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.AcceptsBackup() || job.BackupClaimedBy == "" || job.ClaimedBy == "" {
		return nil, ErrBackupUnavailable
	}

	switch req.Actor.Role {
	case model.RoleAdmin, model.RoleSystem:
	case model.RoleWorker:
		if req.Actor.ID != job.BackupClaimedBy {
			return nil, fmt.Errorf("%w: only the backup may request promotion", ErrForbidden)
		}
	default:
		return nil, fmt.Errorf("%w: role %s may not promote backups", ErrForbidden, req.Actor.Role)
	}

	pred := db.JobPredicate{
		StatusIn:        model.BackupStates(),
		ClaimedBy:       job.ClaimedBy,
		BackupClaimedBy: job.BackupClaimedBy,
	}
	detail := "admin confirmed abandonment"
	if !req.AdminConfirmed {
		cutoff := now.Add(-cfg.Timeout)
		if job.ClaimedAt == nil || job.ClaimedAt.After(cutoff) {
			return nil, ErrPromotionNotDue
		}
		pred.ClaimedAtOrBefore = &cutoff
		detail = fmt.Sprintf("claimant exceeded %s", cfg.Timeout)
	}

	original, backup := job.ClaimedBy, job.BackupClaimedBy
	if _, err := loadActiveWorker(ctx, store, backup); err != nil {
		return nil, err
	}

	bonus := cfg.Bonus
	upd := db.JobUpdate{
		ClaimedBy:       stringPtr(backup),
		BackupClaimedBy: stringPtr(""),
		ClaimedAt:       timePtr(now),
		BackupBonus:     &bonus,
		Audit:           newAudit(job.ID, "promote_backup", job.Status, job.Status, req.Actor, detail, now),
		Counters:        db.WorkerCounters{JobsClaimed: backup, NoShowStrike: original},
	}

	updated, err := store.ConditionalUpdateJob(ctx, job.ID, pred, upd)
	if errors.Is(err, db.ErrConflict) {
		return nil, ErrConcurrentUpdate
	}
	if err != nil {
		return nil, fmt.Errorf("failed to promote backup: %w", err)
	}

	// The strike is already committed; this read only reports the new total
	var strikes int
	if w, err := store.GetWorker(ctx, original); err == nil {
		strikes = w.NoShowStrikes
	} else {
		logger.Warn("Failed to read strikes of replaced claimant", zap.String("worker_id", original), zap.Error(err))
	}

	logger.Info("Backup promoted",
		zap.String("job_id", job.ID),
		zap.String("promoted", backup),
		zap.String("no_show", original),
		zap.Int("strikes", strikes),
		zap.Bool("admin_confirmed", req.AdminConfirmed))

	if customers != nil {
		customers.NotifyCustomer(ctx, updated, "Your plower has changed",
			fmt.Sprintf("Your original plower did not arrive. A backup plower is now handling %s.", updated.Address))
	}

	return &PromotionResult{
		Job:              updated,
		PromotedWorkerID: backup,
		NoShowWorkerID:   original,
		NoShowStrikes:    strikes,
	}, nil
}

// SweepResult summarises a PromoteOverdueBackups run
type SweepResult struct {
	Checked  int
	Promoted []PromotionResult
	// Released lists jobs whose suspended backup was removed from the slot
	Released []string
}

// PromoteOverdueBackups promotes the backup on every job whose claimant has held it
// past the timeout. Jobs that change under the sweep are skipped. A suspended backup
// is released from the slot so that another worker can take it.
func PromoteOverdueBackups(ctx context.Context, store PromotionStore, customers CustomerNotifier, logger *zap.Logger, cfg PromotionConfig, now time.Time) (*SweepResult, error) {
	now = nowOr(now)
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("%w: promotion timeout must be configured", ErrInvalidInput)
	}

	jobs, err := store.ListJobs(ctx, db.JobFilter{Statuses: model.BackupStates(), HasBackup: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs with backups: %w", err)
	}

	result := &SweepResult{Checked: len(jobs)}
	cutoff := now.Add(-cfg.Timeout)
	for _, job := range jobs {
		if job.ClaimedAt == nil || job.ClaimedAt.After(cutoff) {
			continue
		}

		promoted, err := PromoteBackup(ctx, store, customers, logger, cfg, PromoteBackupRequest{
			JobID: job.ID,
			Actor: model.SystemActor,
			Now:   now,
		})
		switch {
		case err == nil:
			result.Promoted = append(result.Promoted, *promoted)
		case errors.Is(err, ErrWorkerSuspended):
			released, err := releaseBackup(ctx, store, logger, &job, now)
			if err != nil {
				return result, err
			}
			if released {
				result.Released = append(result.Released, job.ID)
			}
		case errors.Is(err, ErrConcurrentUpdate), errors.Is(err, ErrPromotionNotDue), errors.Is(err, ErrBackupUnavailable):
			logger.Debug("Skipping job changed during sweep", zap.String("job_id", job.ID), zap.Error(err))
		default:
			return result, fmt.Errorf("failed to promote backup on job %s: %w", job.ID, err)
		}
	}

	logger.Info("Backup sweep complete",
		zap.Int("checked", result.Checked),
		zap.Int("promoted", len(result.Promoted)),
		zap.Int("released", len(result.Released)))

	return result, nil
}

// releaseBackup empties the backup slot if it still holds the same worker
func releaseBackup(ctx context.Context, store PromotionStore, logger *zap.Logger, job *db.Job, now time.Time) (bool, error) {
	pred := db.JobPredicate{
		StatusIn:        model.BackupStates(),
		ClaimedBy:       job.ClaimedBy,
		BackupClaimedBy: job.BackupClaimedBy,
	}
	upd := db.JobUpdate{
		BackupClaimedBy: stringPtr(""),
		Audit:           newAudit(job.ID, "release_backup", job.Status, job.Status, model.SystemActor, "backup is suspended", now),
	}

	_, err := store.ConditionalUpdateJob(ctx, job.ID, pred, upd)
	if errors.Is(err, db.ErrConflict) || errors.Is(err, db.ErrNotFound) {
		logger.Debug("Skipping backup release on changed job", zap.String("job_id", job.ID))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to release backup on job %s: %w", job.ID, err)
	}

	logger.Warn("Suspended backup released",
		zap.String("job_id", job.ID),
		zap.String("worker_id", job.BackupClaimedBy))
	return true, nil
}
