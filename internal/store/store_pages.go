package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"blueline/internal/compare"
)

// InsertPage records one processed page. The primary key on
// (version_id, page_number) makes redelivered page work a no-op; the
// returned bool reports whether this call performed the write.
func (s *Store) InsertPage(ctx context.Context, entry *compare.PageEntry) (bool, error) {
	if entry == nil {
		return false, errors.New("page entry is nil")
	}
	if entry.PageNumber <= 0 {
		return false, fmt.Errorf("version %s: page number must be positive", entry.VersionID)
	}

	processedAt := entry.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	var extracted any
	if len(entry.ExtractedInfo) > 0 {
		extracted = string(entry.ExtractedInfo)
	}

	result, err := s.execWithRetry(
		ctx,
		`INSERT INTO ocr_pages (version_id, page_number, drawing_name, extracted_info, confidence, error_message, processed_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (version_id, page_number) DO NOTHING`,
		entry.VersionID,
		entry.PageNumber,
		nullableString(entry.DrawingName),
		extracted,
		entry.Confidence,
		nullableString(entry.Error),
		processedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("insert page: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert page rows affected: %w", err)
	}
	return affected > 0, nil
}

// PageNumbers lists the pages already recorded for a version, ascending.
func (s *Store) PageNumbers(ctx context.Context, versionID string) ([]int, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT page_number FROM ocr_pages WHERE version_id = ? ORDER BY page_number`,
		versionID,
	)
	if err != nil {
		return nil, fmt.Errorf("page numbers: %w", err)
	}
	defer rows.Close()

	var numbers []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan page number: %w", err)
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// GetLog returns the full incremental log for a version in a single
// transaction so callers see a consistent snapshot of header, pages, and
// summary. Returns nil when no log exists yet.
func (s *Store) GetLog(ctx context.Context, versionID string) (*compare.OcrLog, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin log read: %w", err)
	}
	defer tx.Rollback()

	var (
		startedRaw   string
		summaryRaw   sql.NullString
		completedRaw sql.NullString
	)
	err = tx.QueryRowContext(
		ctx,
		`SELECT started_at, summary_json, completed_at FROM ocr_logs WHERE version_id = ?`,
		versionID,
	).Scan(&startedRaw, &summaryRaw, &completedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read log header: %w", err)
	}

	log := &compare.OcrLog{VersionID: versionID}
	if log.StartedAt, err = parseTimeString(startedRaw); err != nil {
		return nil, fmt.Errorf("parse log start time: %w", err)
	}
	if summaryRaw.Valid {
		var summary compare.Summary
		if err := json.Unmarshal([]byte(summaryRaw.String), &summary); err != nil {
			return nil, fmt.Errorf("decode log summary: %w", err)
		}
		log.Summary = &summary
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			log.CompletedAt = &completed
		}
	}

	rows, err := tx.QueryContext(
		ctx,
		`SELECT version_id, page_number, drawing_name, extracted_info, confidence, error_message, processed_at
         FROM ocr_pages WHERE version_id = ? ORDER BY page_number`,
		versionID,
	)
	if err != nil {
		return nil, fmt.Errorf("read log pages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		log.Pages = append(log.Pages, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log pages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit log read: %w", err)
	}
	return log, nil
}

// SetSummary attaches the aggregate summary to a version's log exactly once.
// Redelivered summary work finds summary_json already set and writes nothing.
func (s *Store) SetSummary(ctx context.Context, versionID string, summary *compare.Summary) (bool, error) {
	if summary == nil {
		return false, errors.New("summary is nil")
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return false, fmt.Errorf("encode summary: %w", err)
	}

	result, err := s.execWithRetry(
		ctx,
		`UPDATE ocr_logs SET summary_json = ? WHERE version_id = ? AND summary_json IS NULL`,
		string(payload),
		versionID,
	)
	if err != nil {
		return false, fmt.Errorf("set summary: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set summary rows affected: %w", err)
	}
	return affected > 0, nil
}

// CompleteLog stamps a log's completion time if it has not been stamped.
func (s *Store) CompleteLog(ctx context.Context, versionID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(
		ctx,
		`UPDATE ocr_logs SET completed_at = ? WHERE version_id = ? AND completed_at IS NULL`,
		now,
		versionID,
	)
	if err != nil {
		return fmt.Errorf("complete log: %w", err)
	}
	return nil
}

func scanPage(scanner interface{ Scan(dest ...any) error }) (*compare.PageEntry, error) {
	var (
		versionID    string
		pageNumber   int
		drawingName  sql.NullString
		extractedRaw sql.NullString
		confidence   float64
		errorMsg     sql.NullString
		processedRaw string
	)
	if err := scanner.Scan(&versionID, &pageNumber, &drawingName, &extractedRaw, &confidence, &errorMsg, &processedRaw); err != nil {
		return nil, fmt.Errorf("scan page: %w", err)
	}

	entry := &compare.PageEntry{
		VersionID:   versionID,
		PageNumber:  pageNumber,
		DrawingName: drawingName.String,
		Confidence:  confidence,
		Error:       errorMsg.String,
	}
	if extractedRaw.Valid {
		entry.ExtractedInfo = json.RawMessage(extractedRaw.String)
	}
	if processed, err := parseTimeString(processedRaw); err == nil {
		entry.ProcessedAt = processed
	}
	return entry, nil
}
