package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"blueline/internal/compare"
)

// CreateJob inserts a new job in the pending state.
func (s *Store) CreateJob(ctx context.Context, job *compare.Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	now := time.Now().UTC()
	job.Status = compare.JobPending
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (id, old_version_id, new_version_id, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.OldVersionID,
		job.NewVersionID,
		job.Status,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by identifier. Returns nil when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*compare.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs filtered by status set (or all jobs when no status is
// provided), ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, statuses ...compare.JobStatus) ([]*compare.Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*compare.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// TransitionJob applies a compare-and-set status transition. The update only
// lands when the stored status is one of the expected values and the move is
// forward per compare.CanTransition; the returned bool reports whether it
// applied. A false result with nil error means another event got there first,
// which at-least-once delivery makes routine.
func (s *Store) TransitionJob(ctx context.Context, id string, from []compare.JobStatus, to compare.JobStatus, errMsg string) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("transition requires at least one expected status")
	}
	for _, status := range from {
		if !compare.CanTransition(status, to) {
			return false, fmt.Errorf("transition %s -> %s is not monotonic", status, to)
		}
	}

	now := time.Now().UTC()
	var completedAt any
	if to.IsTerminal() {
		completedAt = now.Format(time.RFC3339Nano)
	}

	placeholders := makePlaceholders(len(from))
	args := make([]any, 0, len(from)+5)
	args = append(args, to, nullableString(errMsg), now.Format(time.RFC3339Nano), completedAt, id)
	for _, status := range from {
		args = append(args, status)
	}

	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, updated_at = ?, completed_at = COALESCE(?, completed_at)
         WHERE id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("transition job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RequestCancel sets the cooperative cancellation flag. Workers consult it
// before every persistence step; already-enqueued messages drain without side
// effects. Returns false when the job is already terminal.
func (s *Store) RequestCancel(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ?
         WHERE id = ? AND status IN (?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		compare.JobPending,
		compare.JobOCRRunning,
		compare.JobDiffRunning,
		compare.JobSummaryRunning,
	)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// CancelRequested reports the cancellation flag for a job.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag int
	err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// ClaimDiffDispatch flips the diff_dispatched flag from 0 to 1 and reports
// whether this caller won the claim. Both OCR messages race to notice that
// the other version finished; the claim guarantees the diff-stage message is
// published once.
func (s *Store) ClaimDiffDispatch(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET diff_dispatched = 1, updated_at = ? WHERE id = ? AND diff_dispatched = 0`,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("claim diff dispatch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[compare.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[compare.JobStatus]int)
	for rows.Next() {
		var status compare.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

const jobColumns = "id, old_version_id, new_version_id, status, error_message, cancel_requested, diff_dispatched, diff_done, created_at, updated_at, completed_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*compare.Job, error) {
	var (
		id           string
		oldVersion   string
		newVersion   string
		statusStr    string
		errorMessage sql.NullString
		cancelFlag   int
		dispatched   int
		diffDone     int
		createdRaw   string
		updatedRaw   string
		completedRaw sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&oldVersion,
		&newVersion,
		&statusStr,
		&errorMessage,
		&cancelFlag,
		&dispatched,
		&diffDone,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	job := &compare.Job{
		ID:              id,
		OldVersionID:    oldVersion,
		NewVersionID:    newVersion,
		Status:          compare.JobStatus(statusStr),
		Error:           errorMessage.String,
		CancelRequested: cancelFlag != 0,
		DiffDispatched:  dispatched != 0,
		DiffDone:        diffDone != 0,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	return job, nil
}

// ReopenJob moves a failed job back to a running status for operator replay
// of a dead-lettered message. This is the one sanctioned exception to the
// forward-only status machine; it clears the error so the replayed stage
// reports a fresh outcome. Returns false when the job is not in the failed
// state.
func (s *Store) ReopenJob(ctx context.Context, id string, to compare.JobStatus) (bool, error) {
	switch to {
	case compare.JobOCRRunning, compare.JobDiffRunning, compare.JobSummaryRunning:
	default:
		return false, fmt.Errorf("cannot reopen job into %s", to)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, error_message = NULL, completed_at = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		to,
		now,
		id,
		compare.JobFailed,
	)
	if err != nil {
		return false, fmt.Errorf("reopen job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
