package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jakechorley/snow-dispatch/pkg/db"
)

func TestSubmitBid_Bounds(t *testing.T) {
	tests := []struct {
		name      string
		amount    float64
		wantBound string
	}{
		{name: "minimum accepted", amount: 10},
		{name: "maximum accepted", amount: 500},
		{name: "inside accepted", amount: 75.5},
		{name: "just below minimum", amount: 9.99, wantBound: "min"},
		{name: "just above maximum", amount: 500.01, wantBound: "max"},
		{name: "zero", amount: 0, wantBound: "min"},
		{name: "negative", amount: -20, wantBound: "min"},
		{name: "not a number", amount: math.NaN(), wantBound: "min"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := db.NewMemoryDB()
			addWorker(t, store, "worker-a", 0)
			addJob(t, store, "job-1", bidModeJob(testNow.Add(time.Hour)))

			result, err := SubmitBid(context.Background(), store, zap.NewNop(), "job-1", "worker-a", tt.amount, testNow)
			if tt.wantBound == "" {
				require.NoError(t, err)
				assert.Equal(t, 1, result.Position)
				return
			}

			assert.ErrorIs(t, err, ErrBidOutOfBounds)
			var boundsErr *BidBoundsError
			require.True(t, errors.As(err, &boundsErr))
			assert.Equal(t, tt.wantBound, boundsErr.Bound)

			job, err := store.GetJob(context.Background(), "job-1")
			require.NoError(t, err)
			assert.Empty(t, job.Bids)
		})
	}
}

func TestSubmitBid_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		strikes int
		job     func(*db.Job)
		wantErr error
	}{
		{
			name:    "suspended worker",
			strikes: 3,
			job:     bidModeJob(testNow.Add(time.Hour)),
			wantErr: ErrWorkerSuspended,
		},
		{
			name:    "not bid mode",
			wantErr: ErrNotBidMode,
		},
		{
			name:    "deadline passed",
			job:     bidModeJob(testNow.Add(-time.Minute)),
			wantErr: ErrBidWindowClosed,
		},
		{
			name: "already claimed",
			job: func(j *db.Job) {
				bidModeJob(testNow.Add(time.Hour))(j)
				j.Status = "claimed"
				j.ClaimedBy = "worker-z"
			},
			wantErr: ErrBidWindowClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := db.NewMemoryDB()
			addWorker(t, store, "worker-a", tt.strikes)
			addJob(t, store, "job-1", tt.job)

			_, err := SubmitBid(context.Background(), store, zap.NewNop(), "job-1", "worker-a", 50, testNow)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSubmitBid_AtDeadlineAccepted(t *testing.T) {
	store := db.NewMemoryDB()
	addWorker(t, store, "worker-a", 0)
	addJob(t, store, "job-1", bidModeJob(testNow))

	result, err := SubmitBid(context.Background(), store, zap.NewNop(), "job-1", "worker-a", 50, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Position)
}

func TestSubmitBid_ConcurrentBidsGetDistinctPositions(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryDB()
	addJob(t, store, "job-1", bidModeJob(testNow.Add(time.Hour)))

	const n = 20
	for i := 0; i < n; i++ {
		addWorker(t, store, fmt.Sprintf("worker-%02d", i), 0)
	}

	var wg sync.WaitGroup
	positions := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := SubmitBid(ctx, store, zap.NewNop(), "job-1", fmt.Sprintf("worker-%02d", i), float64(20+i), testNow)
			if assert.NoError(t, err) {
				positions[i] = result.Position
			}
		}(i)
	}
	wg.Wait()

	seen := map[int]bool{}
	for _, p := range positions {
		assert.False(t, seen[p], "position %d assigned twice", p)
		seen[p] = true
	}
	for p := 1; p <= n; p++ {
		assert.True(t, seen[p], "position %d missing", p)
	}

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, job.Bids, n)
	assert.Equal(t, "pending", string(job.Status), "bids are never auto-selected")
	assert.Nil(t, job.SelectedBidIndex)
}
