package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"blueline/internal/compare"
)

// ReplaceChanges writes a job's full change set in one transaction,
// replacing anything a previous delivery of the same diff work left behind,
// and marks the job's diff output as available. Redelivered diff work
// therefore converges on the same final rows.
func (s *Store) ReplaceChanges(ctx context.Context, jobID string, changes []compare.ChangeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin change write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM change_records WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("clear prior changes: %w", err)
	}

	for i := range changes {
		change := &changes[i]
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO change_records (id, job_id, drawing_code, action, category, description, confidence, position)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			change.ID,
			jobID,
			change.DrawingCode,
			change.Action,
			nullableString(change.Category),
			change.Description,
			change.Confidence,
			change.Position,
		); err != nil {
			return fmt.Errorf("insert change %s: %w", change.DrawingCode, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE jobs SET diff_done = 1, updated_at = ? WHERE id = ?`,
		now,
		jobID,
	); err != nil {
		return fmt.Errorf("mark diff done: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit change write: %w", err)
	}
	return nil
}

// ListChanges returns a job's change records in their stable presentation
// order: drawing code, then action severity, then recorded position.
func (s *Store) ListChanges(ctx context.Context, jobID string) ([]compare.ChangeRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, job_id, drawing_code, action, category, description, confidence, position
         FROM change_records WHERE job_id = ?`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var changes []compare.ChangeRecord
	for rows.Next() {
		var change compare.ChangeRecord
		var category sql.NullString
		if err := rows.Scan(
			&change.ID,
			&change.JobID,
			&change.DrawingCode,
			&change.Action,
			&category,
			&change.Description,
			&change.Confidence,
			&change.Position,
		); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		change.Category = category.String
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}

	compare.SortChanges(changes)
	return changes, nil
}
