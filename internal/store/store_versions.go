package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"blueline/internal/compare"
)

// RegisterVersion records an uploaded drawing version. The upload
// collaborator calls this once both the file and its page count are known;
// re-registration of the same id is a no-op.
func (s *Store) RegisterVersion(ctx context.Context, version *compare.DrawingVersion) error {
	if version == nil {
		return errors.New("version is nil")
	}
	if strings.TrimSpace(version.ID) == "" {
		return errors.New("version id must not be empty")
	}
	if version.PageCount <= 0 {
		return fmt.Errorf("version %s: page count must be positive", version.ID)
	}
	if version.OCRStatus == "" {
		version.OCRStatus = compare.OCRPending
	}

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO drawing_versions (id, ocr_status, file_hash, page_count)
         VALUES (?, ?, ?, ?)
         ON CONFLICT (id) DO NOTHING`,
		version.ID,
		version.OCRStatus,
		version.FileHash,
		version.PageCount,
	)
	if err != nil {
		return fmt.Errorf("register version: %w", err)
	}
	return nil
}

// GetVersion fetches a drawing version by identifier. Returns nil when absent.
func (s *Store) GetVersion(ctx context.Context, id string) (*compare.DrawingVersion, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, ocr_status, ocr_result_ref, file_hash, page_count, ocr_completed_at
         FROM drawing_versions WHERE id = ?`,
		id,
	)
	version, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return version, nil
}

// StartVersionOCR moves a version from pending to in_progress and opens its
// log. Safe under redelivery: a version already in progress or completed is
// left alone.
func (s *Store) StartVersionOCR(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE drawing_versions SET ocr_status = ? WHERE id = ? AND ocr_status = ?`,
		compare.OCRInProgress,
		id,
		compare.OCRPending,
	); err != nil {
		return fmt.Errorf("start version ocr: %w", err)
	}
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO ocr_logs (version_id, started_at) VALUES (?, ?)
         ON CONFLICT (version_id) DO NOTHING`,
		id,
		now,
	); err != nil {
		return fmt.Errorf("open ocr log: %w", err)
	}
	return nil
}

// CompleteVersionOCR marks extraction finished for a version and records the
// result reference used as the durable resumability checkpoint.
func (s *Store) CompleteVersionOCR(ctx context.Context, id, resultRef string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(
		ctx,
		`UPDATE drawing_versions
         SET ocr_status = ?, ocr_result_ref = ?, ocr_completed_at = ?
         WHERE id = ? AND ocr_status != ?`,
		compare.OCRCompleted,
		nullableString(resultRef),
		now,
		id,
		compare.OCRCompleted,
	)
	if err != nil {
		return fmt.Errorf("complete version ocr: %w", err)
	}
	return nil
}

// FailVersionOCR marks a version's extraction as failed.
func (s *Store) FailVersionOCR(ctx context.Context, id string) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE drawing_versions SET ocr_status = ? WHERE id = ? AND ocr_status != ?`,
		compare.OCRFailed,
		id,
		compare.OCRCompleted,
	)
	if err != nil {
		return fmt.Errorf("fail version ocr: %w", err)
	}
	return nil
}

// FindCompletedByHash returns a completed version sharing the given content
// hash, excluding the provided version id. Used to skip re-extraction of
// byte-identical documents.
func (s *Store) FindCompletedByHash(ctx context.Context, fileHash, excludeID string) (*compare.DrawingVersion, error) {
	if strings.TrimSpace(fileHash) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, ocr_status, ocr_result_ref, file_hash, page_count, ocr_completed_at
         FROM drawing_versions
         WHERE file_hash = ? AND id != ? AND ocr_status = ?
         ORDER BY ocr_completed_at LIMIT 1`,
		fileHash,
		excludeID,
		compare.OCRCompleted,
	)
	version, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find version by hash: %w", err)
	}
	return version, nil
}

// CopyPages duplicates every page entry from one version's log into
// another's, preserving first-write-wins for pages already present.
func (s *Store) CopyPages(ctx context.Context, dstVersionID, srcVersionID string) error {
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO ocr_pages (version_id, page_number, drawing_name, extracted_info, confidence, error_message, processed_at)
         SELECT ?, page_number, drawing_name, extracted_info, confidence, error_message, ?
         FROM ocr_pages WHERE version_id = ?
         ON CONFLICT (version_id, page_number) DO NOTHING`,
		dstVersionID,
		time.Now().UTC().Format(time.RFC3339Nano),
		srcVersionID,
	)
	if err != nil {
		return fmt.Errorf("copy pages: %w", err)
	}
	return nil
}

func scanVersion(scanner interface{ Scan(dest ...any) error }) (*compare.DrawingVersion, error) {
	var (
		id           string
		statusStr    string
		resultRef    sql.NullString
		fileHash     string
		pageCount    int
		completedRaw sql.NullString
	)
	if err := scanner.Scan(&id, &statusStr, &resultRef, &fileHash, &pageCount, &completedRaw); err != nil {
		return nil, err
	}

	version := &compare.DrawingVersion{
		ID:           id,
		OCRStatus:    compare.OCRStatus(statusStr),
		OCRResultRef: resultRef.String,
		FileHash:     fileHash,
		PageCount:    pageCount,
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			version.OCRCompletedAt = &completed
		}
	}
	return version, nil
}
