package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jakechorley/snow-dispatch/pkg/db"
)

// AppendNotificationLog appends an attempt record
func (d *DB) AppendNotificationLog(ctx context.Context, entry db.NotificationLog) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO notification_log (id, kind, recipient, channel, job_id, storm_event_id, outcome, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.Kind, entry.Recipient, string(entry.Channel), nullIfEmpty(entry.JobID),
		nullIfEmpty(entry.StormEventID), entry.Outcome, entry.Reason, entry.At.UTC())
	if err != nil {
		return fmt.Errorf("failed to append notification log: %w", err)
	}
	return nil
}

// ListNotificationLogs returns matching attempt records in write order
func (d *DB) ListNotificationLogs(ctx context.Context, filter db.NotificationLogFilter) ([]db.NotificationLog, error) {
	query, params := buildNotificationLogQuery(filter)
	rows, err := d.pool.Query(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification log: %w", err)
	}
	defer rows.Close()

	var logs []db.NotificationLog
	for rows.Next() {
		var n db.NotificationLog
		var jobID, stormID *string
		if err := rows.Scan(&n.ID, &n.Kind, &n.Recipient, &n.Channel, &jobID, &stormID, &n.Outcome, &n.Reason, &n.At); err != nil {
			return nil, fmt.Errorf("failed to scan notification log: %w", err)
		}
		n.JobID = derefString(jobID)
		n.StormEventID = derefString(stormID)
		logs = append(logs, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification log: %w", err)
	}
	return logs, nil
}

func buildNotificationLogQuery(filter db.NotificationLogFilter) (string, []any) {
	var a args
	var where []string
	if filter.JobID != "" {
		where = append(where, "job_id = "+a.add(filter.JobID))
	}
	if filter.StormEventID != "" {
		where = append(where, "storm_event_id = "+a.add(filter.StormEventID))
	}
	if filter.Recipient != "" {
		where = append(where, "recipient = "+a.add(filter.Recipient))
	}

	query := `SELECT id, kind, recipient, channel, job_id, storm_event_id, outcome, reason, at FROM notification_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query + " ORDER BY seq", a.values
}
