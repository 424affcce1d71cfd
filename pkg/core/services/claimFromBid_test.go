package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

var customerActor = model.Actor{ID: "cust-1", Role: model.RoleCustomer}

func seedBids(t *testing.T, store *db.MemoryDB, deadline time.Time, workers ...string) {
	t.Helper()
	addJob(t, store, "job-1", bidModeJob(deadline))
	for i, w := range workers {
		addWorker(t, store, w, 0)
		_, err := SubmitBid(context.Background(), store, zap.NewNop(), "job-1", w, float64(40+10*i), deadline.Add(-time.Duration(len(workers)-i)*time.Minute))
		require.NoError(t, err)
	}
}

func TestClaimJobFromBid_Success(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryDB()
	customers := &recordingCustomers{}
	seedBids(t, store, testNow, "worker-a", "worker-b")

	result, err := ClaimJobFromBid(ctx, store, customers, zap.NewNop(), "job-1", 1, customerActor, testNow.Add(-time.Second))
	require.NoError(t, err)

	assert.Equal(t, model.StatusClaimed, result.Job.Status)
	assert.Equal(t, "worker-b", result.Job.ClaimedBy)
	require.NotNil(t, result.Job.SelectedBidIndex)
	assert.Equal(t, 1, *result.Job.SelectedBidIndex)
	assert.Equal(t, 50.0, result.Job.ChargeAmount())
	assert.Equal(t, 1, customers.count())

	worker, err := store.GetWorker(ctx, "worker-b")
	require.NoError(t, err)
	assert.Equal(t, 1, worker.JobsClaimed)
}

func TestClaimJobFromBid_AfterDeadline(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryDB()
	seedBids(t, store, testNow, "worker-a")
	addWorker(t, store, "worker-late", 0)

	after := testNow.Add(2 * time.Hour)

	_, err := SubmitBid(ctx, store, zap.NewNop(), "job-1", "worker-late", 30, after)
	assert.ErrorIs(t, err, ErrBidWindowClosed)

	result, err := ClaimJobFromBid(ctx, store, nil, zap.NewNop(), "job-1", 0, customerActor, after)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", result.Job.ClaimedBy)
}

func TestClaimJobFromBid_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		actor    model.Actor
		index    int
		suspend  bool
		preclaim bool
		wantErr  error
	}{
		{name: "other customer", actor: model.Actor{ID: "cust-2", Role: model.RoleCustomer}, wantErr: ErrForbidden},
		{name: "worker cannot select", actor: model.Actor{ID: "worker-a", Role: model.RoleWorker}, wantErr: ErrForbidden},
		{name: "index out of range", actor: customerActor, index: 5, wantErr: ErrBidNotFound},
		{name: "negative index", actor: customerActor, index: -1, wantErr: ErrBidNotFound},
		{name: "bidder suspended", actor: customerActor, suspend: true, wantErr: ErrWorkerSuspended},
		{name: "already selected", actor: customerActor, preclaim: true, wantErr: ErrAlreadyClaimed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := db.NewMemoryDB()
			seedBids(t, store, testNow, "worker-a", "worker-b")
			if tt.suspend {
				for i := 0; i < 3; i++ {
					_, err := store.IncrementNoShowStrikes(ctx, "worker-a")
					require.NoError(t, err)
				}
			}
			if tt.preclaim {
				_, err := ClaimJobFromBid(ctx, store, nil, zap.NewNop(), "job-1", 1, customerActor, testNow)
				require.NoError(t, err)
			}

			_, err := ClaimJobFromBid(ctx, store, nil, zap.NewNop(), "job-1", tt.index, tt.actor, testNow)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClaimJobFromBid_AdminMaySelect(t *testing.T) {
	store := db.NewMemoryDB()
	seedBids(t, store, testNow, "worker-a")

	admin := model.Actor{ID: "ops", Role: model.RoleAdmin}
	result, err := ClaimJobFromBid(context.Background(), store, nil, zap.NewNop(), "job-1", 0, admin, testNow)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", result.Job.ClaimedBy)
}

func TestClaimJobFromBid_NotBidMode(t *testing.T) {
	store := db.NewMemoryDB()
	addJob(t, store, "job-1", nil)

	_, err := ClaimJobFromBid(context.Background(), store, nil, zap.NewNop(), "job-1", 0, customerActor, testNow)
	assert.ErrorIs(t, err, ErrNotBidMode)
}
