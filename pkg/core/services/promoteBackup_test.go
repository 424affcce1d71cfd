package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

var testPromotion = PromotionConfig{Timeout: 30 * time.Minute, Bonus: 15}

// claimedWithBackup seeds a job claimed by worker-a at testNow with worker-c as backup
func claimedWithBackup(t *testing.T, store *db.MemoryDB) {
	t.Helper()
	ctx := context.Background()
	addWorker(t, store, "worker-a", 0)
	addWorker(t, store, "worker-c", 0)
	addJob(t, store, "job-1", nil)

	_, err := ClaimJob(ctx, store, nil, zap.NewNop(), "job-1", "worker-a", testNow)
	require.NoError(t, err)
	_, err = ClaimBackupSlot(ctx, store, nil, zap.NewNop(), "job-1", "worker-c", testNow)
	require.NoError(t, err)
}

func TestClaimBackupSlot(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryDB()
	claimedWithBackup(t, store)

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusClaimed, job.Status)
	assert.Equal(t, "worker-a", job.ClaimedBy)
	assert.Equal(t, "worker-c", job.BackupClaimedBy)

	addWorker(t, store, "worker-d", 0)
	_, err = ClaimBackupSlot(ctx, store, nil, zap.NewNop(), "job-1", "worker-d", testNow)
	assert.ErrorIs(t, err, ErrBackupUnavailable)
}

func TestClaimBackupSlot_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		worker  string
		strikes int
		job     func(*db.Job)
		wantErr error
	}{
		{
			name:    "pending job",
			worker:  "worker-c",
			wantErr: ErrBackupUnavailable,
		},
		{
			name:   "claimant cannot back itself up",
			worker: "worker-a",
			job: func(j *db.Job) {
				j.Status = model.StatusClaimed
				j.ClaimedBy = "worker-a"
			},
			wantErr: ErrBackupUnavailable,
		},
		{
			name:   "in progress",
			worker: "worker-c",
			job: func(j *db.Job) {
				j.Status = model.StatusInProgress
				j.ClaimedBy = "worker-a"
			},
			wantErr: ErrBackupUnavailable,
		},
		{
			name:    "suspended",
			worker:  "worker-c",
			strikes: 3,
			job: func(j *db.Job) {
				j.Status = model.StatusAccepted
				j.ClaimedBy = "worker-a"
			},
			wantErr: ErrWorkerSuspended,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := db.NewMemoryDB()
			addWorker(t, store, tt.worker, tt.strikes)
			addJob(t, store, "job-1", tt.job)

			_, err := ClaimBackupSlot(context.Background(), store, nil, zap.NewNop(), "job-1", tt.worker, testNow)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPromoteBackup_AfterTimeout(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryDB()
	customers := &recordingCustomers{}
	claimedWithBackup(t, store)

	later := testNow.Add(31 * time.Minute)
	result, err := PromoteBackup(ctx, store, customers, zap.NewNop(), testPromotion, PromoteBackupRequest{
		JobID: "job-1",
		Actor: model.Actor{ID: "worker-c", Role: model.RoleWorker},
		Now:   later,
	})
	require.NoError(t, err)

	assert.Equal(t, "worker-c", result.Job.ClaimedBy)
	assert.Empty(t, result.Job.BackupClaimedBy)
	assert.Equal(t, model.StatusClaimed, result.Job.Status)
	assert.Equal(t, 15.0, result.Job.BackupBonus)
	require.NotNil(t, result.Job.ClaimedAt)
	assert.Equal(t, later, *result.Job.ClaimedAt)
	assert.Equal(t, 1, result.NoShowStrikes)
	assert.Equal(t, 1, customers.count())

	original, err := store.GetWorker(ctx, "worker-a")
	require.NoError(t, err)
	assert.Equal(t, 1, original.NoShowStrikes)

	backup, err := store.GetWorker(ctx, "worker-c")
	require.NoError(t, err)
	assert.Equal(t, 1, backup.JobsClaimed)
}

func TestPromoteBackup_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		req     PromoteBackupRequest
		cfg     PromotionConfig
		wantErr error
	}{
		{
			name:    "not due",
			req:     PromoteBackupRequest{JobID: "job-1", Actor: model.SystemActor, Now: testNow.Add(10 * time.Minute)},
			cfg:     testPromotion,
			wantErr: ErrPromotionNotDue,
		},
		{
			name:    "timeout not configured",
			req:     PromoteBackupRequest{JobID: "job-1", Actor: model.SystemActor, Now: testNow.Add(time.Hour)},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "non admin confirmation",
			req:     PromoteBackupRequest{JobID: "job-1", Actor: model.Actor{ID: "worker-c", Role: model.RoleWorker}, AdminConfirmed: true},
			cfg:     testPromotion,
			wantErr: ErrForbidden,
		},
		{
			name:    "unrelated worker",
			req:     PromoteBackupRequest{JobID: "job-1", Actor: model.Actor{ID: "worker-z", Role: model.RoleWorker}, Now: testNow.Add(time.Hour)},
			cfg:     testPromotion,
			wantErr: ErrForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := db.NewMemoryDB()
			claimedWithBackup(t, store)

			_, err := PromoteBackup(context.Background(), store, nil, zap.NewNop(), tt.cfg, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)

			job, err := store.GetJob(context.Background(), "job-1")
			require.NoError(t, err)
			assert.Equal(t, "worker-a", job.ClaimedBy)
		})
	}
}

func TestPromoteBackup_AdminConfirmedSkipsTimeout(t *testing.T) {
	store := db.NewMemoryDB()
	claimedWithBackup(t, store)

	result, err := PromoteBackup(context.Background(), store, nil, zap.NewNop(), PromotionConfig{}, PromoteBackupRequest{
		JobID:          "job-1",
		Actor:          model.Actor{ID: "ops", Role: model.RoleAdmin},
		AdminConfirmed: true,
		Now:            testNow.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, "worker-c", result.Job.ClaimedBy)
}

func TestPromoteOverdueBackups(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryDB()
	claimedWithBackup(t, store)

	// A second job claimed later is not yet overdue
	addWorker(t, store, "worker-e", 0)
	addWorker(t, store, "worker-f", 0)
	addJob(t, store, "job-2", nil)
	_, err := ClaimJob(ctx, store, nil, zap.NewNop(), "job-2", "worker-e", testNow.Add(20*time.Minute))
	require.NoError(t, err)
	_, err = ClaimBackupSlot(ctx, store, nil, zap.NewNop(), "job-2", "worker-f", testNow.Add(20*time.Minute))
	require.NoError(t, err)

	result, err := PromoteOverdueBackups(ctx, store, nil, zap.NewNop(), testPromotion, testNow.Add(40*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Checked)
	require.Len(t, result.Promoted, 1)
	assert.Equal(t, "job-1", result.Promoted[0].Job.ID)

	job2, err := store.GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, "worker-e", job2.ClaimedBy)

	// Running again promotes nothing new
	result, err = PromoteOverdueBackups(ctx, store, nil, zap.NewNop(), testPromotion, testNow.Add(40*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, result.Promoted)
}

func suspend(t *testing.T, store *db.MemoryDB, workerID string) {
	t.Helper()
	for i := 0; i < 3; i++ {
		_, err := store.IncrementNoShowStrikes(context.Background(), workerID)
		require.NoError(t, err)
	}
}

func TestPromoteBackup_SuspendedBackup(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryDB()
	claimedWithBackup(t, store)
	suspend(t, store, "worker-c")

	_, err := PromoteBackup(ctx, store, nil, zap.NewNop(), testPromotion, PromoteBackupRequest{
		JobID: "job-1",
		Actor: model.SystemActor,
		Now:   testNow.Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrWorkerSuspended)

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "worker-a", job.ClaimedBy)
	assert.Equal(t, "worker-c", job.BackupClaimedBy)

	original, err := store.GetWorker(ctx, "worker-a")
	require.NoError(t, err)
	assert.Zero(t, original.NoShowStrikes)
}

func TestPromoteOverdueBackups_ReleasesSuspendedBackup(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryDB()
	claimedWithBackup(t, store)
	suspend(t, store, "worker-c")

	result, err := PromoteOverdueBackups(ctx, store, nil, zap.NewNop(), testPromotion, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, result.Promoted)
	assert.Equal(t, []string{"job-1"}, result.Released)

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "worker-a", job.ClaimedBy)
	assert.Empty(t, job.BackupClaimedBy)

	entries, err := store.ListAuditEntries(ctx, "job-1")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "release_backup", entries[len(entries)-1].Action)

	// The slot is open to an active worker again
	addWorker(t, store, "worker-d", 0)
	_, err = ClaimBackupSlot(ctx, store, nil, zap.NewNop(), "job-1", "worker-d", testNow.Add(time.Hour))
	require.NoError(t, err)
}

// counterFailingStore fails every job update that moves worker counters, the way a
// store whose worker row write aborts the transaction does
type counterFailingStore struct {
	*db.MemoryDB
}

func (s counterFailingStore) ConditionalUpdateJob(ctx context.Context, id string, pred db.JobPredicate, upd db.JobUpdate) (*db.Job, error) {
	if len(upd.Counters.Workers()) > 0 {
		return nil, errors.New("worker counters unavailable")
	}
	return s.MemoryDB.ConditionalUpdateJob(ctx, id, pred, upd)
}

func TestPromoteBackup_CounterFailureLeavesJobUnchanged(t *testing.T) {
	ctx := context.Background()
	mem := db.NewMemoryDB()
	claimedWithBackup(t, mem)

	_, err := PromoteBackup(ctx, counterFailingStore{mem}, nil, zap.NewNop(), testPromotion, PromoteBackupRequest{
		JobID: "job-1",
		Actor: model.SystemActor,
		Now:   testNow.Add(time.Hour),
	})
	require.Error(t, err)

	job, err := mem.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "worker-a", job.ClaimedBy)
	assert.Equal(t, "worker-c", job.BackupClaimedBy)

	backup, err := mem.GetWorker(ctx, "worker-c")
	require.NoError(t, err)
	assert.Zero(t, backup.JobsClaimed)
}
