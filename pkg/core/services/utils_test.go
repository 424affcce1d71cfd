package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

var testNow = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

type customerMessage struct {
	JobID   string
	Subject string
	Message string
}

// recordingCustomers is a CustomerNotifier that keeps every message
type recordingCustomers struct {
	mu       sync.Mutex
	messages []customerMessage
}

func (r *recordingCustomers) NotifyCustomer(ctx context.Context, job *db.Job, subject, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, customerMessage{JobID: job.ID, Subject: subject, Message: message})
}

func (r *recordingCustomers) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// recordingWorkers is a WorkerNotifier that keeps every announced job
type recordingWorkers struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (r *recordingWorkers) NotifyEligibleWorkers(ctx context.Context, job *db.Job) (*DispatchReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job.ID)
	if r.err != nil {
		return nil, r.err
	}
	return &DispatchReport{}, nil
}

func addWorker(t *testing.T, store *db.MemoryDB, id string, strikes int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertWorker(ctx, &db.Worker{ID: id, Name: id, HasTruck: true}))
	for i := 0; i < strikes; i++ {
		_, err := store.IncrementNoShowStrikes(ctx, id)
		require.NoError(t, err)
	}
}

func addJob(t *testing.T, store *db.MemoryDB, id string, mutate func(*db.Job)) *db.Job {
	t.Helper()
	job := &db.Job{
		ID:              id,
		CustomerID:      "cust-1",
		CustomerName:    "Pat Customer",
		CustomerPhone:   "+13125550100",
		Address:         "1 Main St",
		ServiceType:     model.ServiceAny,
		MaxPrice:        50,
		SurgeMultiplier: 1,
		Status:          model.StatusPending,
		CreatedAt:       testNow,
	}
	if mutate != nil {
		mutate(job)
	}
	require.NoError(t, store.InsertJob(context.Background(), job))
	return job
}

func bidModeJob(deadline time.Time) func(*db.Job) {
	return func(j *db.Job) {
		j.BidMode = true
		j.BidDeadline = &deadline
	}
}
