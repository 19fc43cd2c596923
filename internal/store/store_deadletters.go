package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"blueline/internal/compare"
)

// InsertDeadLetter parks a message that exhausted its delivery attempts.
// The unique key on (topic, job_id, version_id, page_number) keeps one row
// per parked message regardless of how many workers raced to park it; the
// returned bool reports whether this call created the row.
func (s *Store) InsertDeadLetter(ctx context.Context, record *compare.DeadLetterRecord) (bool, error) {
	if record == nil {
		return false, errors.New("dead letter record is nil")
	}

	failedAt := record.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now().UTC()
	}

	result, err := s.execWithRetry(
		ctx,
		`INSERT INTO dead_letters (topic, stage, job_id, version_id, page_number, attempt, last_error, failed_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (topic, job_id, version_id, page_number) DO NOTHING`,
		record.Topic,
		record.Stage,
		record.JobID,
		record.VersionID,
		record.PageNumber,
		record.Attempt,
		nullableString(record.LastError),
		failedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("insert dead letter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert dead letter rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListDeadLetters returns parked messages, newest first.
func (s *Store) ListDeadLetters(ctx context.Context) ([]compare.DeadLetterRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, topic, stage, job_id, version_id, page_number, attempt, last_error, failed_at
         FROM dead_letters ORDER BY failed_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var records []compare.DeadLetterRecord
	for rows.Next() {
		record, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// GetDeadLetter fetches one parked message by row id. Returns nil when absent.
func (s *Store) GetDeadLetter(ctx context.Context, id int64) (*compare.DeadLetterRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, topic, stage, job_id, version_id, page_number, attempt, last_error, failed_at
         FROM dead_letters WHERE id = ?`,
		id,
	)
	record, err := scanDeadLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// DeleteDeadLetter removes a parked message, typically after an operator
// retry re-enqueues its work.
func (s *Store) DeleteDeadLetter(ctx context.Context, id int64) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	return nil
}

func scanDeadLetter(scanner interface{ Scan(dest ...any) error }) (*compare.DeadLetterRecord, error) {
	var (
		record    compare.DeadLetterRecord
		lastError sql.NullString
		failedRaw string
	)
	if err := scanner.Scan(
		&record.ID,
		&record.Topic,
		&record.Stage,
		&record.JobID,
		&record.VersionID,
		&record.PageNumber,
		&record.Attempt,
		&lastError,
		&failedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan dead letter: %w", err)
	}
	record.LastError = lastError.String
	if failed, err := parseTimeString(failedRaw); err == nil {
		record.FailedAt = failed
	}
	return &record, nil
}
