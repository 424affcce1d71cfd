package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/snow-dispatch/pkg/core/reliability"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

const workerColumns = `id, name, lat, lon, rate, has_truck, is_online, last_seen_at,
	no_show_strikes, jobs_claimed, jobs_completed, sms_notify_threshold, push_subscription`

func scanWorker(row pgx.Row) (*db.Worker, error) {
	var w db.Worker
	var push *string
	err := row.Scan(&w.ID, &w.Name, &w.Lat, &w.Lon, &w.Rate, &w.HasTruck, &w.IsOnline, &w.LastSeenAt,
		&w.NoShowStrikes, &w.JobsClaimed, &w.JobsCompleted, &w.SMSNotifyThreshold, &push)
	if err != nil {
		return nil, err
	}
	w.PushSubscription = derefString(push)
	return &w, nil
}

// UpsertWorker creates or replaces a worker profile. Counters and presence survive.
func (d *DB) UpsertWorker(ctx context.Context, worker *db.Worker) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO workers (id, name, lat, lon, rate, has_truck, sms_notify_threshold, push_subscription)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			rate = EXCLUDED.rate,
			has_truck = EXCLUDED.has_truck,
			sms_notify_threshold = EXCLUDED.sms_notify_threshold,
			push_subscription = EXCLUDED.push_subscription
	`, worker.ID, worker.Name, worker.Lat, worker.Lon, worker.Rate, worker.HasTruck,
		worker.SMSNotifyThreshold, nullIfEmpty(worker.PushSubscription))
	if err != nil {
		return fmt.Errorf("failed to upsert worker: %w", err)
	}
	return nil
}

// GetWorker retrieves a worker
func (d *DB) GetWorker(ctx context.Context, id string) (*db.Worker, error) {
	w, err := scanWorker(d.pool.QueryRow(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}
	return w, nil
}

// ListOnlineWorkers returns online workers seen since the filter cut-off, ordered by id
func (d *DB) ListOnlineWorkers(ctx context.Context, filter db.WorkerFilter) ([]db.Worker, error) {
	var seenSince *time.Time
	if !filter.SeenSince.IsZero() {
		t := filter.SeenSince.UTC()
		seenSince = &t
	}

	rows, err := d.pool.Query(ctx, `
		SELECT `+workerColumns+`
		FROM workers
		WHERE is_online AND ($1::timestamptz IS NULL OR last_seen_at >= $1)
		ORDER BY id
	`, seenSince)
	if err != nil {
		return nil, fmt.Errorf("failed to query online workers: %w", err)
	}
	defer rows.Close()

	var workers []db.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		workers = append(workers, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workers: %w", err)
	}
	return workers, nil
}

// SetPresence records an online/offline transition. The location is only
// replaced when both coordinates are given.
func (d *DB) SetPresence(ctx context.Context, presence db.Presence) error {
	var lat, lon *float64
	if presence.Lat != nil && presence.Lon != nil {
		lat, lon = presence.Lat, presence.Lon
	}
	tag, err := d.pool.Exec(ctx, `
		UPDATE workers
		SET is_online = $2, last_seen_at = $3, lat = COALESCE($4, lat), lon = COALESCE($5, lon)
		WHERE id = $1
	`, presence.WorkerID, presence.IsOnline, presence.LastTransitionAt.UTC(), lat, lon)
	if err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return requireRow(tag.RowsAffected())
}

// Touch refreshes a worker's last-seen time
func (d *DB) Touch(ctx context.Context, workerID string, at time.Time) error {
	tag, err := d.pool.Exec(ctx, `UPDATE workers SET last_seen_at = $2 WHERE id = $1`, workerID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to touch worker: %w", err)
	}
	return requireRow(tag.RowsAffected())
}

// IncrementNoShowStrikes adds a strike, capped at the suspension threshold
func (d *DB) IncrementNoShowStrikes(ctx context.Context, workerID string) (int, error) {
	var strikes int
	err := d.pool.QueryRow(ctx, `
		UPDATE workers SET no_show_strikes = LEAST(no_show_strikes + 1, $2)
		WHERE id = $1
		RETURNING no_show_strikes
	`, workerID, reliability.MaxStrikes).Scan(&strikes)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, db.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment no-show strikes: %w", err)
	}
	return strikes, nil
}

// ResetNoShowStrikes clears a worker's strikes
func (d *DB) ResetNoShowStrikes(ctx context.Context, workerID string) error {
	return d.updateWorkerCounter(ctx, workerID, `no_show_strikes = 0`)
}

// IncrementJobsClaimed bumps the claimed counter
func (d *DB) IncrementJobsClaimed(ctx context.Context, workerID string) error {
	return d.updateWorkerCounter(ctx, workerID, `jobs_claimed = jobs_claimed + 1`)
}

// IncrementJobsCompleted bumps the completed counter
func (d *DB) IncrementJobsCompleted(ctx context.Context, workerID string) error {
	return d.updateWorkerCounter(ctx, workerID, `jobs_completed = jobs_completed + 1`)
}

func (d *DB) updateWorkerCounter(ctx context.Context, workerID, assignment string) error {
	tag, err := d.pool.Exec(ctx, `UPDATE workers SET `+assignment+` WHERE id = $1`, workerID)
	if err != nil {
		return fmt.Errorf("failed to update worker counters: %w", err)
	}
	return requireRow(tag.RowsAffected())
}

// applyWorkerCounters moves the counters named by a job update. A missing worker
// aborts the surrounding transaction.
func applyWorkerCounters(ctx context.Context, q querier, c db.WorkerCounters) error {
	updates := []struct {
		workerID   string
		assignment string
	}{
		{c.JobsClaimed, `jobs_claimed = jobs_claimed + 1`},
		{c.JobsCompleted, `jobs_completed = jobs_completed + 1`},
		{c.NoShowStrike, fmt.Sprintf(`no_show_strikes = LEAST(no_show_strikes + 1, %d)`, reliability.MaxStrikes)},
	}
	for _, u := range updates {
		if u.workerID == "" {
			continue
		}
		tag, err := q.Exec(ctx, `UPDATE workers SET `+u.assignment+` WHERE id = $1`, u.workerID)
		if err != nil {
			return fmt.Errorf("failed to update worker counters: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", db.ErrWorkerMissing, u.workerID)
		}
	}
	return nil
}

func requireRow(affected int64) error {
	if affected == 0 {
		return db.ErrNotFound
	}
	return nil
}
