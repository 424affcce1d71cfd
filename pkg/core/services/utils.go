package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/core/reliability"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

// WorkerNotifier announces a new job to eligible workers
type WorkerNotifier interface {
	NotifyEligibleWorkers(ctx context.Context, job *db.Job) (*DispatchReport, error)
}

// StormNotifier broadcasts a storm event to online workers
type StormNotifier interface {
	NotifyStorm(ctx context.Context, event *db.StormEvent) (*DispatchReport, error)
}

// CustomerNotifier tells the customer about changes to their job. Best effort, never fails.
type CustomerNotifier interface {
	NotifyCustomer(ctx context.Context, job *db.Job, subject, message string)
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func newAudit(jobID, action string, from, to model.JobStatus, actor model.Actor, detail string, at time.Time) *db.AuditEntry {
	return &db.AuditEntry{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Action:    action,
		FromState: from,
		ToState:   to,
		Actor:     actor.String(),
		Detail:    detail,
		At:        at,
	}
}

// loadJob fetches a job, translating a missing row into ErrJobNotFound
func loadJob(ctx context.Context, store interface {
	GetJob(ctx context.Context, id string) (*db.Job, error)
}, id string) (*db.Job, error) {
	job, err := store.GetJob(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// loadActiveWorker fetches a worker and rejects suspended ones
func loadActiveWorker(ctx context.Context, store interface {
	GetWorker(ctx context.Context, id string) (*db.Worker, error)
}, id string) (*db.Worker, error) {
	worker, err := store.GetWorker(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}
	if reliability.IsSuspended(worker.NoShowStrikes) {
		return nil, ErrWorkerSuspended
	}
	return worker, nil
}

func statusPtr(s model.JobStatus) *model.JobStatus { return &s }
func stringPtr(s string) *string                   { return &s }
func timePtr(t time.Time) *time.Time               { return &t }
func boolPtr(b bool) *bool                         { return &b }
