package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

func TestBuildConditionalUpdate(t *testing.T) {
	claimedAt := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	worker := "+13125550001"
	status := model.StatusClaimed
	bidMode := false

	query, params := buildConditionalUpdate("job-1",
		db.JobPredicate{StatusIn: []model.JobStatus{model.StatusPending}, ClaimedByIsNull: true, BidMode: &bidMode},
		db.JobUpdate{Status: &status, ClaimedBy: &worker, ClaimedAt: &claimedAt},
	)

	assert.Equal(t,
		"UPDATE jobs SET status = $2, claimed_by = $3, claimed_at = $4 "+
			"WHERE id = $1 AND status = ANY($5) AND claimed_by IS NULL AND bid_mode = $6",
		query)
	require.Len(t, params, 6)
	assert.Equal(t, "job-1", params[0])
	assert.Equal(t, "claimed", params[1])
	assert.Equal(t, &worker, params[2])
	assert.Equal(t, []string{"pending"}, params[4])
	assert.Equal(t, false, params[5])
}

func TestBuildConditionalUpdate_ClearsBackup(t *testing.T) {
	cutoff := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	empty := ""
	backup := "+13125550002"

	query, params := buildConditionalUpdate("job-1",
		db.JobPredicate{BackupClaimedBy: backup, ClaimedAtOrBefore: &cutoff},
		db.JobUpdate{ClaimedBy: &backup, BackupClaimedBy: &empty},
	)

	assert.Equal(t,
		"UPDATE jobs SET claimed_by = $2, backup_claimed_by = $3 "+
			"WHERE id = $1 AND backup_claimed_by = $4 AND claimed_at <= $5",
		query)
	assert.Nil(t, params[2].(*string), "empty string is written as NULL")
}

func TestBuildJobListQuery(t *testing.T) {
	tests := []struct {
		name       string
		filter     db.JobFilter
		wantWhere  string
		wantParams int
	}{
		{name: "no filter", filter: db.JobFilter{}, wantWhere: "", wantParams: 0},
		{
			name:       "pending truck jobs",
			filter:     db.JobFilter{Statuses: []model.JobStatus{model.StatusPending}, ServiceTypes: []model.ServiceType{model.ServiceTruck}},
			wantWhere:  " WHERE status = ANY($1) AND service_type = ANY($2)",
			wantParams: 2,
		},
		{
			name:       "backups for a customer with limit",
			filter:     db.JobFilter{HasBackup: true, CustomerID: "cust-1", Limit: 5},
			wantWhere:  " WHERE backup_claimed_by IS NOT NULL AND customer_id = $1",
			wantParams: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, params := buildJobListQuery(tt.filter)
			assert.Contains(t, query, "FROM jobs"+tt.wantWhere+" ORDER BY created_at DESC")
			assert.Len(t, params, tt.wantParams)
			if tt.filter.Limit > 0 {
				assert.Contains(t, query, fmt.Sprintf("LIMIT $%d", tt.wantParams))
			}
		})
	}
}

func TestBuildNotificationLogQuery(t *testing.T) {
	query, params := buildNotificationLogQuery(db.NotificationLogFilter{StormEventID: "storm-1", Recipient: "+1"})
	assert.Contains(t, query, "WHERE storm_event_id = $1 AND recipient = $2 ORDER BY seq")
	assert.Equal(t, []any{"storm-1", "+1"}, params)
}

func TestPendingMigrations(t *testing.T) {
	all, err := pendingMigrations(map[string]bool{})
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, "001_initial_schema.sql", all[0])

	rest, err := pendingMigrations(map[string]bool{"001_initial_schema.sql": true})
	require.NoError(t, err)
	assert.Len(t, rest, len(all)-1)
}

// openTestDB connects to TEST_DATABASE_URL, skipping when it is not set
func openTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	d, err := NewDB(ctx, url)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	require.NoError(t, d.RunMigrations(ctx))
	return d
}

func TestDB_ConcurrentClaimHasOneWinner(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	suffix := uuid.New().String()[:8]
	const workers = 10
	for i := range workers {
		require.NoError(t, d.UpsertWorker(ctx, &db.Worker{ID: fmt.Sprintf("w-%s-%d", suffix, i), Name: "Worker"}))
	}
	job := &db.Job{
		ID:              "job-" + suffix,
		CustomerID:      "cust-1",
		CustomerName:    "Pat",
		CustomerPhone:   "+13125550100",
		Address:         "1 Main St",
		ServiceType:     model.ServiceAny,
		MaxPrice:        50,
		SurgeMultiplier: 1,
		Status:          model.StatusPending,
		CreatedAt:       now,
	}
	require.NoError(t, d.InsertJob(ctx, job))

	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			workerID := fmt.Sprintf("w-%s-%d", suffix, i)
			status := model.StatusClaimed
			_, results[i] = d.ConditionalUpdateJob(ctx, job.ID,
				db.JobPredicate{StatusIn: []model.JobStatus{model.StatusPending}, ClaimedByIsNull: true},
				db.JobUpdate{
					Status:    &status,
					ClaimedBy: &workerID,
					ClaimedAt: &now,
					Audit: &db.AuditEntry{
						ID: uuid.New().String(), JobID: job.ID, Action: "claim",
						FromState: model.StatusPending, ToState: model.StatusClaimed, Actor: workerID, At: now,
					},
				})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, db.ErrConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)

	audit, err := d.ListAuditEntries(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, audit, 1)

	_, err = d.ConditionalUpdateJob(ctx, "missing-"+suffix, db.JobPredicate{}, db.JobUpdate{})
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestDB_StormEventOncePerDay(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	start := time.Date(2031, 1, 10, 6, 0, 0, 0, time.UTC)
	day := fmt.Sprintf("2031-01-%02d", 10+time.Now().Nanosecond()%15)

	event := func() *db.StormEvent {
		return &db.StormEvent{
			ID: uuid.New().String(), Day: day, ForecastInches: 9, SurgeMultiplier: 1.75,
			StartTime: start, EndTime: start.Add(24 * time.Hour), IsActive: true, CreatedAt: start,
		}
	}

	first, created, err := d.InsertStormEventIfAbsent(ctx, event())
	require.NoError(t, err)
	if !created {
		t.Skipf("day %s already used by an earlier run", day)
	}
	assert.Equal(t, day, first.Day)

	second, created, err := d.InsertStormEventIfAbsent(ctx, event())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	marked, err := d.MarkStormEventNotified(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, marked)
	marked, err = d.MarkStormEventNotified(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestDB_ConditionalUpdateJob_CountersShareTransaction(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	suffix := uuid.New().String()[:8]
	workerID := "w-" + suffix
	require.NoError(t, d.UpsertWorker(ctx, &db.Worker{ID: workerID, Name: "Worker"}))
	job := &db.Job{
		ID:              "job-" + suffix,
		CustomerID:      "cust-1",
		CustomerName:    "Pat",
		CustomerPhone:   "+13125550100",
		Address:         "1 Main St",
		ServiceType:     model.ServiceAny,
		MaxPrice:        50,
		SurgeMultiplier: 1,
		Status:          model.StatusPending,
		CreatedAt:       now,
	}
	require.NoError(t, d.InsertJob(ctx, job))

	status := model.StatusClaimed
	pred := db.JobPredicate{StatusIn: []model.JobStatus{model.StatusPending}, ClaimedByIsNull: true}
	upd := db.JobUpdate{
		Status:    &status,
		ClaimedBy: &workerID,
		ClaimedAt: &now,
		Audit: &db.AuditEntry{
			ID: uuid.New().String(), JobID: job.ID, Action: "claim",
			FromState: model.StatusPending, ToState: model.StatusClaimed, Actor: workerID, At: now,
		},
		Counters: db.WorkerCounters{JobsClaimed: workerID, NoShowStrike: "ghost-" + suffix},
	}

	// The missing strike target rolls back the job update and audit entry
	_, err := d.ConditionalUpdateJob(ctx, job.ID, pred, upd)
	assert.ErrorIs(t, err, db.ErrWorkerMissing)

	stored, err := d.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
	audit, err := d.ListAuditEntries(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, audit)
	w, err := d.GetWorker(ctx, workerID)
	require.NoError(t, err)
	assert.Zero(t, w.JobsClaimed)

	upd.Counters = db.WorkerCounters{JobsClaimed: workerID}
	_, err = d.ConditionalUpdateJob(ctx, job.ID, pred, upd)
	require.NoError(t, err)
	w, err = d.GetWorker(ctx, workerID)
	require.NoError(t, err)
	assert.Equal(t, 1, w.JobsClaimed)
}
