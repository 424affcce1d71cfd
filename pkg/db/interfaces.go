package db

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
)

var (
	// ErrNotFound is returned when the addressed record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional write's predicate no longer holds
	ErrConflict = errors.New("conditional write conflict")
	// ErrWorkerMissing is returned when a job update moves the counters of an unknown worker
	ErrWorkerMissing = errors.New("counter target worker not found")
)

// JobPredicate is the expected current state of a job row for a conditional write.
// Zero-valued fields are not checked.
type JobPredicate struct {
	StatusIn          []model.JobStatus
	ClaimedByIsNull   bool
	ClaimedBy         string
	BackupIsNull      bool
	BackupClaimedBy   string
	BidMode           *bool
	ClaimedAtOrBefore *time.Time
}

// Matches evaluates the predicate against a job in memory
func (p JobPredicate) Matches(j *Job) bool {
	if len(p.StatusIn) > 0 {
		found := false
		for _, s := range p.StatusIn {
			if j.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if p.ClaimedByIsNull && j.ClaimedBy != "" {
		return false
	}
	if p.ClaimedBy != "" && j.ClaimedBy != p.ClaimedBy {
		return false
	}
	if p.BackupIsNull && j.BackupClaimedBy != "" {
		return false
	}
	if p.BackupClaimedBy != "" && j.BackupClaimedBy != p.BackupClaimedBy {
		return false
	}
	if p.BidMode != nil && j.BidMode != *p.BidMode {
		return false
	}
	if p.ClaimedAtOrBefore != nil && (j.ClaimedAt == nil || j.ClaimedAt.After(*p.ClaimedAtOrBefore)) {
		return false
	}
	return true
}

// JobUpdate lists the fields a conditional write sets. Nil fields are left untouched.
type JobUpdate struct {
	Status           *model.JobStatus
	ClaimedBy        *string
	BackupClaimedBy  *string
	SelectedBidIndex *int
	BackupBonus      *float64

	ClaimedAt   *time.Time
	AcceptedAt  *time.Time
	OnTheWayAt  *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time

	// Audit is written in the same operation as the update, only if it succeeds
	Audit *AuditEntry
	// Counters move worker reliability counters in the same operation as the update.
	// If any named worker is missing nothing is written.
	Counters WorkerCounters
}

// WorkerCounters names the workers whose counters a job update moves. Empty fields
// are left untouched.
type WorkerCounters struct {
	JobsClaimed   string
	JobsCompleted string
	NoShowStrike  string
}

// Workers returns the distinct workers the counters touch
func (c WorkerCounters) Workers() []string {
	var ids []string
	for _, id := range []string{c.JobsClaimed, c.JobsCompleted, c.NoShowStrike} {
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Apply copies the update onto a job in memory
func (u JobUpdate) Apply(j *Job) {
	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.ClaimedBy != nil {
		j.ClaimedBy = *u.ClaimedBy
	}
	if u.BackupClaimedBy != nil {
		j.BackupClaimedBy = *u.BackupClaimedBy
	}
	if u.SelectedBidIndex != nil {
		idx := *u.SelectedBidIndex
		j.SelectedBidIndex = &idx
	}
	if u.BackupBonus != nil {
		j.BackupBonus = *u.BackupBonus
	}
	setTime(&j.ClaimedAt, u.ClaimedAt)
	setTime(&j.AcceptedAt, u.AcceptedAt)
	setTime(&j.OnTheWayAt, u.OnTheWayAt)
	setTime(&j.StartedAt, u.StartedAt)
	setTime(&j.CompletedAt, u.CompletedAt)
	setTime(&j.CancelledAt, u.CancelledAt)
}

func setTime(dst **time.Time, v *time.Time) {
	if v == nil {
		return
	}
	t := *v
	*dst = &t
}

// BidPredicate is re-checked by the store when a bid is appended
type BidPredicate struct {
	// Now is compared with the job's bid deadline
	Now time.Time
}

// JobFilter narrows job listings
type JobFilter struct {
	Statuses     []model.JobStatus
	ServiceTypes []model.ServiceType
	HasBackup    bool
	CustomerID   string
	Limit        int
}

// WorkerFilter narrows online worker listings
type WorkerFilter struct {
	// SeenSince excludes workers whose last heartbeat is older than this
	SeenSince time.Time
}

// NotificationLogFilter narrows notification log listings
type NotificationLogFilter struct {
	JobID        string
	StormEventID string
	Recipient    string
}

// JobStore defines the job operations the claim coordinator and bid manager rely on
type JobStore interface {
	InsertJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	// ConditionalUpdateJob applies upd only if pred holds for the current row,
	// as a single atomic operation. Returns ErrConflict otherwise.
	ConditionalUpdateJob(ctx context.Context, id string, pred JobPredicate, upd JobUpdate) (*Job, error)
	// AppendBid appends a bid to a pending bid-mode job whose deadline has not passed
	// and returns its 1-based arrival position. Returns ErrConflict if the job no longer accepts bids.
	AppendBid(ctx context.Context, jobID string, bid Bid, pred BidPredicate) (int, error)
	ListAuditEntries(ctx context.Context, jobID string) ([]AuditEntry, error)
}

// WorkerStore defines worker, presence and counter operations
type WorkerStore interface {
	UpsertWorker(ctx context.Context, worker *Worker) error
	GetWorker(ctx context.Context, id string) (*Worker, error)
	ListOnlineWorkers(ctx context.Context, filter WorkerFilter) ([]Worker, error)
	SetPresence(ctx context.Context, presence Presence) error
	Touch(ctx context.Context, workerID string, at time.Time) error
	// IncrementNoShowStrikes adds a strike (capped at 3) and returns the new count
	IncrementNoShowStrikes(ctx context.Context, workerID string) (int, error)
	ResetNoShowStrikes(ctx context.Context, workerID string) error
	IncrementJobsClaimed(ctx context.Context, workerID string) error
	IncrementJobsCompleted(ctx context.Context, workerID string) error
}

// StormStore defines storm event operations
type StormStore interface {
	// InsertStormEventIfAbsent creates the event unless one already exists for its day.
	// Returns the stored event and whether this call created it.
	InsertStormEventIfAbsent(ctx context.Context, event *StormEvent) (*StormEvent, bool, error)
	// GetActiveStormEvent returns the active event covering at, or nil
	GetActiveStormEvent(ctx context.Context, at time.Time) (*StormEvent, error)
	ListUnnotifiedStormEvents(ctx context.Context) ([]StormEvent, error)
	// MarkStormEventNotified flips notified_workers from false to true. Returns false
	// if another caller already marked it.
	MarkStormEventNotified(ctx context.Context, id string) (bool, error)
	DeactivateExpiredStormEvents(ctx context.Context, now time.Time) (int, error)
}

// NotificationLogStore is the append-only record of notification attempts
type NotificationLogStore interface {
	AppendNotificationLog(ctx context.Context, entry NotificationLog) error
	ListNotificationLogs(ctx context.Context, filter NotificationLogFilter) ([]NotificationLog, error)
}

// Database defines the interface for all database operations.
// Both the in-memory MemoryDB and postgres.DB implement this interface.
type Database interface {
	JobStore
	WorkerStore
	StormStore
	NotificationLogStore
}
