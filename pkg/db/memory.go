package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
)

// MemoryDB is a single-process Database. Every operation holds one mutex, which
// gives it the same atomicity guarantees the Postgres store gets from conditional
// SQL writes. It backs tests and the --store=memory development mode.
type MemoryDB struct {
	mu            sync.Mutex
	jobs          map[string]*Job
	jobOrder      []string
	workers       map[string]*Worker
	storms        map[string]*StormEvent // keyed by day
	audit         []AuditEntry
	notifications []NotificationLog
}

var _ Database = (*MemoryDB)(nil)

// NewMemoryDB creates an empty in-memory database
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		jobs:    make(map[string]*Job),
		workers: make(map[string]*Worker),
		storms:  make(map[string]*StormEvent),
	}
}

func copyJob(j *Job) *Job {
	c := *j
	c.Bids = append([]Bid(nil), j.Bids...)
	if j.SelectedBidIndex != nil {
		idx := *j.SelectedBidIndex
		c.SelectedBidIndex = &idx
	}
	return &c
}

// InsertJob inserts a new job record
func (m *MemoryDB) InsertJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	m.jobs[job.ID] = copyJob(job)
	m.jobOrder = append(m.jobOrder, job.ID)
	return nil
}

// GetJob retrieves a job with its bids
func (m *MemoryDB) GetJob(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(j), nil
}

// ListJobs returns jobs matching the filter, newest first
func (m *MemoryDB) ListJobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Job
	for i := len(m.jobOrder) - 1; i >= 0; i-- {
		j := m.jobs[m.jobOrder[i]]
		if !matchesJobFilter(j, filter) {
			continue
		}
		result = append(result, *copyJob(j))
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func matchesJobFilter(j *Job, f JobFilter) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, j.Status) {
		return false
	}
	if len(f.ServiceTypes) > 0 {
		found := false
		for _, st := range f.ServiceTypes {
			if j.ServiceType == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.HasBackup && j.BackupClaimedBy == "" {
		return false
	}
	if f.CustomerID != "" && j.CustomerID != f.CustomerID {
		return false
	}
	return true
}

func containsStatus(list []model.JobStatus, s model.JobStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ConditionalUpdateJob applies the update only if the predicate holds
func (m *MemoryDB) ConditionalUpdateJob(ctx context.Context, id string, pred JobPredicate, upd JobUpdate) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !pred.Matches(j) {
		return nil, ErrConflict
	}
	for _, workerID := range upd.Counters.Workers() {
		if _, ok := m.workers[workerID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrWorkerMissing, workerID)
		}
	}

	upd.Apply(j)
	if upd.Audit != nil {
		m.audit = append(m.audit, *upd.Audit)
	}
	m.applyCounters(upd.Counters)
	return copyJob(j), nil
}

// AppendBid appends a bid if the job still accepts bids
func (m *MemoryDB) AppendBid(ctx context.Context, jobID string, bid Bid, pred BidPredicate) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return 0, ErrNotFound
	}
	if j.Status != model.StatusPending || !j.BidMode {
		return 0, ErrConflict
	}
	if j.BidDeadline != nil && pred.Now.After(*j.BidDeadline) {
		return 0, ErrConflict
	}

	bid.Seq = len(j.Bids) + 1
	j.Bids = append(j.Bids, bid)
	return bid.Seq, nil
}

// ListAuditEntries returns the audit trail of a job in write order
func (m *MemoryDB) ListAuditEntries(ctx context.Context, jobID string) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []AuditEntry
	for _, e := range m.audit {
		if e.JobID == jobID {
			result = append(result, e)
		}
	}
	return result, nil
}

// UpsertWorker creates or replaces a worker profile, keeping its counters
func (m *MemoryDB) UpsertWorker(ctx context.Context, worker *Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *worker
	if existing, ok := m.workers[worker.ID]; ok {
		c.NoShowStrikes = existing.NoShowStrikes
		c.JobsClaimed = existing.JobsClaimed
		c.JobsCompleted = existing.JobsCompleted
		c.IsOnline = existing.IsOnline
		c.LastSeenAt = existing.LastSeenAt
	}
	m.workers[worker.ID] = &c
	return nil
}

// GetWorker retrieves a worker
func (m *MemoryDB) GetWorker(ctx context.Context, id string) (*Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *w
	return &c, nil
}

// ListOnlineWorkers returns online workers seen since the filter cut-off, ordered by id
func (m *MemoryDB) ListOnlineWorkers(ctx context.Context, filter WorkerFilter) ([]Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Worker
	for _, w := range m.workers {
		if !w.IsOnline {
			continue
		}
		if !filter.SeenSince.IsZero() && (w.LastSeenAt == nil || w.LastSeenAt.Before(filter.SeenSince)) {
			continue
		}
		result = append(result, *w)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// SetPresence records an online/offline transition
func (m *MemoryDB) SetPresence(ctx context.Context, presence Presence) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[presence.WorkerID]
	if !ok {
		return ErrNotFound
	}
	w.IsOnline = presence.IsOnline
	at := presence.LastTransitionAt
	w.LastSeenAt = &at
	if presence.Lat != nil && presence.Lon != nil {
		lat, lon := *presence.Lat, *presence.Lon
		w.Lat, w.Lon = &lat, &lon
	}
	return nil
}

// Touch refreshes a worker's last-seen time
func (m *MemoryDB) Touch(ctx context.Context, workerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return ErrNotFound
	}
	w.LastSeenAt = &at
	return nil
}

// IncrementNoShowStrikes adds a strike, capped at 3
func (m *MemoryDB) IncrementNoShowStrikes(ctx context.Context, workerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return 0, ErrNotFound
	}
	addStrike(w)
	return w.NoShowStrikes, nil
}

func addStrike(w *Worker) {
	if w.NoShowStrikes < 3 {
		w.NoShowStrikes++
	}
}

// applyCounters expects every named worker to exist. Callers hold the mutex.
func (m *MemoryDB) applyCounters(c WorkerCounters) {
	if c.JobsClaimed != "" {
		m.workers[c.JobsClaimed].JobsClaimed++
	}
	if c.JobsCompleted != "" {
		m.workers[c.JobsCompleted].JobsCompleted++
	}
	if c.NoShowStrike != "" {
		addStrike(m.workers[c.NoShowStrike])
	}
}

// ResetNoShowStrikes clears a worker's strikes
func (m *MemoryDB) ResetNoShowStrikes(ctx context.Context, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return ErrNotFound
	}
	w.NoShowStrikes = 0
	return nil
}

// IncrementJobsClaimed bumps the claimed counter
func (m *MemoryDB) IncrementJobsClaimed(ctx context.Context, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return ErrNotFound
	}
	w.JobsClaimed++
	return nil
}

// IncrementJobsCompleted bumps the completed counter
func (m *MemoryDB) IncrementJobsCompleted(ctx context.Context, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return ErrNotFound
	}
	w.JobsCompleted++
	return nil
}

// InsertStormEventIfAbsent creates the event unless its day is already taken
func (m *MemoryDB) InsertStormEventIfAbsent(ctx context.Context, event *StormEvent) (*StormEvent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.storms[event.Day]; ok {
		c := *existing
		return &c, false, nil
	}
	c := *event
	m.storms[event.Day] = &c
	out := c
	return &out, true, nil
}

// GetActiveStormEvent returns the active event covering at, or nil
func (m *MemoryDB) GetActiveStormEvent(ctx context.Context, at time.Time) (*StormEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *StormEvent
	for _, e := range m.storms {
		if !e.IsActive || !e.Covers(at) {
			continue
		}
		if best == nil || e.StartTime.After(best.StartTime) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	c := *best
	return &c, nil
}

// ListUnnotifiedStormEvents returns active events that have not been broadcast, oldest day first
func (m *MemoryDB) ListUnnotifiedStormEvents(ctx context.Context) ([]StormEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []StormEvent
	for _, e := range m.storms {
		if e.IsActive && !e.NotifiedWorkers {
			result = append(result, *e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Day < result[j].Day })
	return result, nil
}

// MarkStormEventNotified flips the notified flag if it is still unset
func (m *MemoryDB) MarkStormEventNotified(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.storms {
		if e.ID != id {
			continue
		}
		if e.NotifiedWorkers {
			return false, nil
		}
		e.NotifiedWorkers = true
		return true, nil
	}
	return false, ErrNotFound
}

// DeactivateExpiredStormEvents turns off events whose window has ended
func (m *MemoryDB) DeactivateExpiredStormEvents(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, e := range m.storms {
		if e.IsActive && !now.Before(e.EndTime) {
			e.IsActive = false
			count++
		}
	}
	return count, nil
}

// AppendNotificationLog appends an attempt record
func (m *MemoryDB) AppendNotificationLog(ctx context.Context, entry NotificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notifications = append(m.notifications, entry)
	return nil
}

// ListNotificationLogs returns matching attempt records in write order
func (m *MemoryDB) ListNotificationLogs(ctx context.Context, filter NotificationLogFilter) ([]NotificationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []NotificationLog
	for _, n := range m.notifications {
		if filter.JobID != "" && n.JobID != filter.JobID {
			continue
		}
		if filter.StormEventID != "" && n.StormEventID != filter.StormEventID {
			continue
		}
		if filter.Recipient != "" && n.Recipient != filter.Recipient {
			continue
		}
		result = append(result, n)
	}
	return result, nil
}
