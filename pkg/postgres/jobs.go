package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

const jobColumns = `id, customer_id, customer_name, customer_phone, customer_email, address, lat, lon,
	service_type, max_price, surge_multiplier, bid_mode, bid_deadline,
	status, claimed_by, backup_claimed_by, selected_bid_index, backup_bonus,
	created_at, claimed_at, accepted_at, on_the_way_at, started_at, completed_at, cancelled_at`

func scanJob(row pgx.Row) (*db.Job, error) {
	var j db.Job
	var email, claimedBy, backup *string
	err := row.Scan(
		&j.ID, &j.CustomerID, &j.CustomerName, &j.CustomerPhone, &email, &j.Address, &j.Lat, &j.Lon,
		&j.ServiceType, &j.MaxPrice, &j.SurgeMultiplier, &j.BidMode, &j.BidDeadline,
		&j.Status, &claimedBy, &backup, &j.SelectedBidIndex, &j.BackupBonus,
		&j.CreatedAt, &j.ClaimedAt, &j.AcceptedAt, &j.OnTheWayAt, &j.StartedAt, &j.CompletedAt, &j.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	j.CustomerEmail = derefString(email)
	j.ClaimedBy = derefString(claimedBy)
	j.BackupClaimedBy = derefString(backup)
	return &j, nil
}

// InsertJob inserts a new job record. Bids are never inserted with the job.
func (d *DB) InsertJob(ctx context.Context, job *db.Job) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO jobs (id, customer_id, customer_name, customer_phone, customer_email, address, lat, lon,
			service_type, max_price, surge_multiplier, bid_mode, bid_deadline, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, job.ID, job.CustomerID, job.CustomerName, job.CustomerPhone, nullIfEmpty(job.CustomerEmail), job.Address,
		job.Lat, job.Lon, string(job.ServiceType), job.MaxPrice, job.SurgeMultiplier, job.BidMode, job.BidDeadline,
		string(job.Status), job.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job with its bids
func (d *DB) GetJob(ctx context.Context, id string) (*db.Job, error) {
	return getJob(ctx, d.pool, id)
}

func getJob(ctx context.Context, q querier, id string) (*db.Job, error) {
	job, err := scanJob(q.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	bids, err := listBids(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	job.Bids = bids[id]
	return job, nil
}

// listBids returns the bids of each job, ordered by arrival
func listBids(ctx context.Context, q querier, jobIDs []string) (map[string][]db.Bid, error) {
	rows, err := q.Query(ctx, `
		SELECT job_id, seq, worker_id, amount, submitted_at
		FROM bids
		WHERE job_id = ANY($1)
		ORDER BY job_id, seq
	`, jobIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	bids := make(map[string][]db.Bid)
	for rows.Next() {
		var jobID string
		var b db.Bid
		if err := rows.Scan(&jobID, &b.Seq, &b.WorkerID, &b.Amount, &b.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids[jobID] = append(bids[jobID], b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bids: %w", err)
	}
	return bids, nil
}

// ListJobs returns jobs matching the filter, newest first
func (d *DB) ListJobs(ctx context.Context, filter db.JobFilter) ([]db.Job, error) {
	query, params := buildJobListQuery(filter)
	rows, err := d.pool.Query(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []db.Job
	var ids []string
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
		ids = append(ids, job.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	bids, err := listBids(ctx, d.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		jobs[i].Bids = bids[jobs[i].ID]
	}
	return jobs, nil
}

func buildJobListQuery(filter db.JobFilter) (string, []any) {
	var a args
	var where []string
	if len(filter.Statuses) > 0 {
		where = append(where, "status = ANY("+a.add(statusStrings(filter.Statuses))+")")
	}
	if len(filter.ServiceTypes) > 0 {
		types := make([]string, len(filter.ServiceTypes))
		for i, t := range filter.ServiceTypes {
			types[i] = string(t)
		}
		where = append(where, "service_type = ANY("+a.add(types)+")")
	}
	if filter.HasBackup {
		where = append(where, "backup_claimed_by IS NOT NULL")
	}
	if filter.CustomerID != "" {
		where = append(where, "customer_id = "+a.add(filter.CustomerID))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + a.add(filter.Limit)
	}
	return query, a.values
}

func statusStrings(statuses []model.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// ConditionalUpdateJob applies upd with pred as the UPDATE's WHERE clause.
// The audit entry is inserted in the same transaction.
func (d *DB) ConditionalUpdateJob(ctx context.Context, id string, pred db.JobPredicate, upd db.JobUpdate) (*db.Job, error) {
	query, params := buildConditionalUpdate(id, pred, upd)

	var job *db.Job
	err := d.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, params...)
		if err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check job: %w", err)
			}
			if !exists {
				return db.ErrNotFound
			}
			return db.ErrConflict
		}

		if err := applyWorkerCounters(ctx, tx, upd.Counters); err != nil {
			return err
		}
		if upd.Audit != nil {
			if err := insertAudit(ctx, tx, *upd.Audit); err != nil {
				return err
			}
		}

		job, err = getJob(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func buildConditionalUpdate(id string, pred db.JobPredicate, upd db.JobUpdate) (string, []any) {
	var a args
	idParam := a.add(id)

	var sets []string
	set := func(column string, v any) {
		sets = append(sets, column+" = "+a.add(v))
	}
	if upd.Status != nil {
		set("status", string(*upd.Status))
	}
	if upd.ClaimedBy != nil {
		set("claimed_by", nullIfEmpty(*upd.ClaimedBy))
	}
	if upd.BackupClaimedBy != nil {
		set("backup_claimed_by", nullIfEmpty(*upd.BackupClaimedBy))
	}
	if upd.SelectedBidIndex != nil {
		set("selected_bid_index", *upd.SelectedBidIndex)
	}
	if upd.BackupBonus != nil {
		set("backup_bonus", *upd.BackupBonus)
	}
	if upd.ClaimedAt != nil {
		set("claimed_at", upd.ClaimedAt.UTC())
	}
	if upd.AcceptedAt != nil {
		set("accepted_at", upd.AcceptedAt.UTC())
	}
	if upd.OnTheWayAt != nil {
		set("on_the_way_at", upd.OnTheWayAt.UTC())
	}
	if upd.StartedAt != nil {
		set("started_at", upd.StartedAt.UTC())
	}
	if upd.CompletedAt != nil {
		set("completed_at", upd.CompletedAt.UTC())
	}
	if upd.CancelledAt != nil {
		set("cancelled_at", upd.CancelledAt.UTC())
	}
	if len(sets) == 0 {
		sets = append(sets, "id = id")
	}

	where := []string{"id = " + idParam}
	if len(pred.StatusIn) > 0 {
		where = append(where, "status = ANY("+a.add(statusStrings(pred.StatusIn))+")")
	}
	if pred.ClaimedByIsNull {
		where = append(where, "claimed_by IS NULL")
	}
	if pred.ClaimedBy != "" {
		where = append(where, "claimed_by = "+a.add(pred.ClaimedBy))
	}
	if pred.BackupIsNull {
		where = append(where, "backup_claimed_by IS NULL")
	}
	if pred.BackupClaimedBy != "" {
		where = append(where, "backup_claimed_by = "+a.add(pred.BackupClaimedBy))
	}
	if pred.BidMode != nil {
		where = append(where, "bid_mode = "+a.add(*pred.BidMode))
	}
	if pred.ClaimedAtOrBefore != nil {
		where = append(where, "claimed_at <= "+a.add(pred.ClaimedAtOrBefore.UTC()))
	}

	query := "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE " + strings.Join(where, " AND ")
	return query, a.values
}

// AppendBid locks the job row, re-checks it still accepts bids and appends the
// bid with the next sequence number
func (d *DB) AppendBid(ctx context.Context, jobID string, bid db.Bid, pred db.BidPredicate) (int, error) {
	var seq int
	err := d.inTx(ctx, func(tx pgx.Tx) error {
		var status model.JobStatus
		var bidMode bool
		var deadline *time.Time
		err := tx.QueryRow(ctx, `
			SELECT status, bid_mode, bid_deadline FROM jobs WHERE id = $1 FOR UPDATE
		`, jobID).Scan(&status, &bidMode, &deadline)
		if errors.Is(err, pgx.ErrNoRows) {
			return db.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock job: %w", err)
		}
		if status != model.StatusPending || !bidMode {
			return db.ErrConflict
		}
		if deadline != nil && pred.Now.After(*deadline) {
			return db.ErrConflict
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO bids (job_id, seq, worker_id, amount, submitted_at)
			SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4 FROM bids WHERE job_id = $1
			RETURNING seq
		`, jobID, bid.WorkerID, bid.Amount, bid.SubmittedAt.UTC()).Scan(&seq)
		if err != nil {
			return fmt.Errorf("failed to insert bid: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func insertAudit(ctx context.Context, q querier, e db.AuditEntry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO job_audit (id, job_id, action, from_state, to_state, actor, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.JobID, e.Action, string(e.FromState), string(e.ToState), e.Actor, e.Detail, e.At.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns the audit trail of a job in write order
func (d *DB) ListAuditEntries(ctx context.Context, jobID string) ([]db.AuditEntry, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, job_id, action, from_state, to_state, actor, detail, at
		FROM job_audit
		WHERE job_id = $1
		ORDER BY seq
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []db.AuditEntry
	for rows.Next() {
		var e db.AuditEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.Action, &e.FromState, &e.ToState, &e.Actor, &e.Detail, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}
