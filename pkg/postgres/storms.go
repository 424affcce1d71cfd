package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/snow-dispatch/pkg/db"
)

const stormColumns = `id, to_char(day, 'YYYY-MM-DD'), forecast_inches, surge_multiplier,
	start_time, end_time, is_active, notified_workers, created_at`

func scanStormEvent(row pgx.Row) (*db.StormEvent, error) {
	var e db.StormEvent
	err := row.Scan(&e.ID, &e.Day, &e.ForecastInches, &e.SurgeMultiplier,
		&e.StartTime, &e.EndTime, &e.IsActive, &e.NotifiedWorkers, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// InsertStormEventIfAbsent relies on the unique day column, so concurrent
// schedulers create at most one event per day
func (d *DB) InsertStormEventIfAbsent(ctx context.Context, event *db.StormEvent) (*db.StormEvent, bool, error) {
	created, err := scanStormEvent(d.pool.QueryRow(ctx, `
		INSERT INTO storm_events (id, day, forecast_inches, surge_multiplier, start_time, end_time,
			is_active, notified_workers, created_at)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (day) DO NOTHING
		RETURNING `+stormColumns,
		event.ID, event.Day, event.ForecastInches, event.SurgeMultiplier, event.StartTime.UTC(), event.EndTime.UTC(),
		event.IsActive, event.NotifiedWorkers, event.CreatedAt.UTC()))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert storm event: %w", err)
	}

	existing, err := scanStormEvent(d.pool.QueryRow(ctx,
		`SELECT `+stormColumns+` FROM storm_events WHERE day = $1::date`, event.Day))
	if err != nil {
		return nil, false, fmt.Errorf("failed to get existing storm event: %w", err)
	}
	return existing, false, nil
}

// GetActiveStormEvent returns the latest-starting active event covering at, or nil
func (d *DB) GetActiveStormEvent(ctx context.Context, at time.Time) (*db.StormEvent, error) {
	e, err := scanStormEvent(d.pool.QueryRow(ctx, `
		SELECT `+stormColumns+`
		FROM storm_events
		WHERE is_active AND start_time <= $1 AND end_time > $1
		ORDER BY start_time DESC
		LIMIT 1
	`, at.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active storm event: %w", err)
	}
	return e, nil
}

// ListUnnotifiedStormEvents returns active events that have not been broadcast, oldest day first
func (d *DB) ListUnnotifiedStormEvents(ctx context.Context) ([]db.StormEvent, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+stormColumns+`
		FROM storm_events
		WHERE is_active AND NOT notified_workers
		ORDER BY day
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query storm events: %w", err)
	}
	defer rows.Close()

	var events []db.StormEvent
	for rows.Next() {
		e, err := scanStormEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan storm event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating storm events: %w", err)
	}
	return events, nil
}

// MarkStormEventNotified flips notified_workers if it is still false
func (d *DB) MarkStormEventNotified(ctx context.Context, id string) (bool, error) {
	tag, err := d.pool.Exec(ctx, `
		UPDATE storm_events SET notified_workers = TRUE WHERE id = $1 AND NOT notified_workers
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark storm event notified: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := d.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM storm_events WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check storm event: %w", err)
	}
	if !exists {
		return false, db.ErrNotFound
	}
	return false, nil
}

// DeactivateExpiredStormEvents turns off events whose window has ended
func (d *DB) DeactivateExpiredStormEvents(ctx context.Context, now time.Time) (int, error) {
	tag, err := d.pool.Exec(ctx, `
		UPDATE storm_events SET is_active = FALSE WHERE is_active AND end_time <= $1
	`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate storm events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
