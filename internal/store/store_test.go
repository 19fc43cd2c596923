package store_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"blueline/internal/compare"
	"blueline/internal/testsupport"
)

func TestTransitionJobCompareAndSet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, st, 2, 2)
	ctx := context.Background()

	applied, err := st.TransitionJob(ctx, job.ID, []compare.JobStatus{compare.JobPending}, compare.JobOCRRunning, "")
	if err != nil {
		t.Fatalf("TransitionJob: %v", err)
	}
	if !applied {
		t.Fatal("expected pending -> ocr_running to apply")
	}

	// A duplicate of the same event finds the status already advanced.
	applied, err = st.TransitionJob(ctx, job.ID, []compare.JobStatus{compare.JobPending}, compare.JobOCRRunning, "")
	if err != nil {
		t.Fatalf("TransitionJob duplicate: %v", err)
	}
	if applied {
		t.Fatal("duplicate transition should not apply")
	}

	stored, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != compare.JobOCRRunning {
		t.Fatalf("status = %s, want %s", stored.Status, compare.JobOCRRunning)
	}
}

func TestTransitionJobRejectsBackwardMove(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, st, 1, 1)
	ctx := context.Background()

	if _, err := st.TransitionJob(ctx, job.ID, []compare.JobStatus{compare.JobDiffRunning}, compare.JobOCRRunning, ""); err == nil {
		t.Fatal("expected backward transition to be rejected")
	}
}

func TestTransitionJobTerminalStampsCompletion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, st, 1, 1)
	ctx := context.Background()

	running := []compare.JobStatus{
		compare.JobPending,
		compare.JobOCRRunning,
		compare.JobDiffRunning,
		compare.JobSummaryRunning,
	}
	applied, err := st.TransitionJob(ctx, job.ID, running, compare.JobFailed, "ocr: extraction unavailable")
	if err != nil {
		t.Fatalf("TransitionJob: %v", err)
	}
	if !applied {
		t.Fatal("expected failure transition to apply")
	}

	stored, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != compare.JobFailed {
		t.Fatalf("status = %s, want %s", stored.Status, compare.JobFailed)
	}
	if stored.Error != "ocr: extraction unavailable" {
		t.Fatalf("error = %q", stored.Error)
	}
	if stored.CompletedAt == nil {
		t.Fatal("expected completed_at to be stamped on terminal status")
	}
}

func TestRequestCancelSkipsTerminalJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, st, 1, 1)
	ctx := context.Background()

	ok, err := st.RequestCancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	if !ok {
		t.Fatal("expected cancel request on pending job to succeed")
	}
	flagged, err := st.CancelRequested(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelRequested: %v", err)
	}
	if !flagged {
		t.Fatal("expected cancel flag to be set")
	}

	if _, err := st.TransitionJob(ctx, job.ID, []compare.JobStatus{compare.JobPending}, compare.JobCancelled, ""); err != nil {
		t.Fatalf("TransitionJob: %v", err)
	}
	ok, err = st.RequestCancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("RequestCancel terminal: %v", err)
	}
	if ok {
		t.Fatal("cancel request on terminal job should not apply")
	}
}

func TestClaimDiffDispatchWonOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, st, 1, 1)
	ctx := context.Background()

	won, err := st.ClaimDiffDispatch(ctx, job.ID)
	if err != nil {
		t.Fatalf("ClaimDiffDispatch: %v", err)
	}
	if !won {
		t.Fatal("first claim should win")
	}
	won, err = st.ClaimDiffDispatch(ctx, job.ID)
	if err != nil {
		t.Fatalf("ClaimDiffDispatch second: %v", err)
	}
	if won {
		t.Fatal("second claim should lose")
	}
}

func TestInsertPageFirstWriteWins(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, st, 2, 2)
	ctx := context.Background()

	if err := st.StartVersionOCR(ctx, job.NewVersionID); err != nil {
		t.Fatalf("StartVersionOCR: %v", err)
	}

	first := &compare.PageEntry{
		VersionID:     job.NewVersionID,
		PageNumber:    1,
		DrawingName:   "A-101",
		ExtractedInfo: json.RawMessage(`{"title":"floor plan"}`),
	}
	inserted, err := st.InsertPage(ctx, first)
	if err != nil {
		t.Fatalf("InsertPage: %v", err)
	}
	if !inserted {
		t.Fatal("first insert should write")
	}

	// Redelivered page work must not overwrite the original entry.
	second := &compare.PageEntry{
		VersionID:   job.NewVersionID,
		PageNumber:  1,
		DrawingName: "A-999",
	}
	inserted, err = st.InsertPage(ctx, second)
	if err != nil {
		t.Fatalf("InsertPage duplicate: %v", err)
	}
	if inserted {
		t.Fatal("duplicate page insert should be a no-op")
	}

	log, err := st.GetLog(ctx, job.NewVersionID)
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if log == nil || len(log.Pages) != 1 {
		t.Fatalf("expected one page entry, got %+v", log)
	}
	if log.Pages[0].DrawingName != "A-101" {
		t.Fatalf("drawing name = %q, want original A-101", log.Pages[0].DrawingName)
	}
}

func TestSetSummaryWritesOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, st, 1, 1)
	ctx := context.Background()

	if err := st.StartVersionOCR(ctx, job.NewVersionID); err != nil {
		t.Fatalf("StartVersionOCR: %v", err)
	}

	set, err := st.SetSummary(ctx, job.NewVersionID, &compare.Summary{TotalPages: 1, DrawingsFound: []string{"A-101"}})
	if err != nil {
		t.Fatalf("SetSummary: %v", err)
	}
	if !set {
		t.Fatal("first summary write should apply")
	}

	set, err = st.SetSummary(ctx, job.NewVersionID, &compare.Summary{TotalPages: 99})
	if err != nil {
		t.Fatalf("SetSummary duplicate: %v", err)
	}
	if set {
		t.Fatal("second summary write should be a no-op")
	}

	log, err := st.GetLog(ctx, job.NewVersionID)
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if log.Summary == nil || log.Summary.TotalPages != 1 {
		t.Fatalf("summary = %+v, want the original", log.Summary)
	}
}

func TestReplaceChangesIsTransactional(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, st, 1, 1)
	ctx := context.Background()

	first := []compare.ChangeRecord{
		{ID: uuid.NewString(), JobID: job.ID, DrawingCode: "A-201", Action: compare.ActionModified, Description: "wall moved", Confidence: 0.8},
		{ID: uuid.NewString(), JobID: job.ID, DrawingCode: "A-101", Action: compare.ActionRemoved, Description: "sheet dropped", Confidence: 0.95},
	}
	if err := st.ReplaceChanges(ctx, job.ID, first); err != nil {
		t.Fatalf("ReplaceChanges: %v", err)
	}

	// A redelivered diff produces a fresh set that fully replaces the old one.
	second := []compare.ChangeRecord{
		{ID: uuid.NewString(), JobID: job.ID, DrawingCode: "A-301", Action: compare.ActionAdded, Description: "new detail sheet", Confidence: 0.9},
	}
	if err := st.ReplaceChanges(ctx, job.ID, second); err != nil {
		t.Fatalf("ReplaceChanges redelivery: %v", err)
	}

	changes, err := st.ListChanges(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListChanges: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected replacement set of 1, got %d", len(changes))
	}
	if changes[0].DrawingCode != "A-301" {
		t.Fatalf("drawing code = %q", changes[0].DrawingCode)
	}

	stored, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !stored.DiffDone {
		t.Fatal("expected diff_done to be set with the change write")
	}
}

func TestListChangesOrdering(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, st, 1, 1)
	ctx := context.Background()

	changes := []compare.ChangeRecord{
		{ID: uuid.NewString(), JobID: job.ID, DrawingCode: "A-102", Action: compare.ActionAdded, Description: "added", Confidence: 0.9, Position: 0},
		{ID: uuid.NewString(), JobID: job.ID, DrawingCode: "A-101", Action: compare.ActionModified, Description: "modified", Confidence: 0.7, Position: 1},
		{ID: uuid.NewString(), JobID: job.ID, DrawingCode: "A-101", Action: compare.ActionRemoved, Description: "removed", Confidence: 0.8, Position: 0},
	}
	if err := st.ReplaceChanges(ctx, job.ID, changes); err != nil {
		t.Fatalf("ReplaceChanges: %v", err)
	}

	listed, err := st.ListChanges(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListChanges: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(listed))
	}
	if listed[0].DrawingCode != "A-101" || listed[0].Action != compare.ActionRemoved {
		t.Fatalf("first = %s %s, want A-101 removed", listed[0].DrawingCode, listed[0].Action)
	}
	if listed[1].DrawingCode != "A-101" || listed[1].Action != compare.ActionModified {
		t.Fatalf("second = %s %s, want A-101 modified", listed[1].DrawingCode, listed[1].Action)
	}
	if listed[2].DrawingCode != "A-102" {
		t.Fatalf("third = %s, want A-102", listed[2].DrawingCode)
	}
}

func TestInsertDeadLetterExactlyOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, st, 1, 1)
	ctx := context.Background()

	record := &compare.DeadLetterRecord{
		Topic:     "compare.diff.dead-letter",
		Stage:     compare.StageDiff,
		JobID:     job.ID,
		Attempt:   5,
		LastError: "alignment failed",
	}
	created, err := st.InsertDeadLetter(ctx, record)
	if err != nil {
		t.Fatalf("InsertDeadLetter: %v", err)
	}
	if !created {
		t.Fatal("first park should create a row")
	}
	created, err = st.InsertDeadLetter(ctx, record)
	if err != nil {
		t.Fatalf("InsertDeadLetter duplicate: %v", err)
	}
	if created {
		t.Fatal("parking the same message twice should be a no-op")
	}

	records, err := st.ListDeadLetters(ctx)
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(records))
	}
	if records[0].Attempt != 5 {
		t.Fatalf("attempt = %d, want 5", records[0].Attempt)
	}

	if err := st.DeleteDeadLetter(ctx, records[0].ID); err != nil {
		t.Fatalf("DeleteDeadLetter: %v", err)
	}
	remaining, err := st.ListDeadLetters(ctx)
	if err != nil {
		t.Fatalf("ListDeadLetters after delete: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected empty dead letter table, got %d rows", len(remaining))
	}
}

func TestFindCompletedByHashAndCopyPages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	source := &compare.DrawingVersion{ID: uuid.NewString(), FileHash: "abc123", PageCount: 2}
	if err := st.RegisterVersion(ctx, source); err != nil {
		t.Fatalf("RegisterVersion: %v", err)
	}
	if err := st.StartVersionOCR(ctx, source.ID); err != nil {
		t.Fatalf("StartVersionOCR: %v", err)
	}
	for page := 1; page <= 2; page++ {
		entry := &compare.PageEntry{VersionID: source.ID, PageNumber: page, DrawingName: "A-101"}
		if _, err := st.InsertPage(ctx, entry); err != nil {
			t.Fatalf("InsertPage: %v", err)
		}
	}
	if err := st.CompleteVersionOCR(ctx, source.ID, "ref-1"); err != nil {
		t.Fatalf("CompleteVersionOCR: %v", err)
	}

	duplicate := &compare.DrawingVersion{ID: uuid.NewString(), FileHash: "abc123", PageCount: 2}
	if err := st.RegisterVersion(ctx, duplicate); err != nil {
		t.Fatalf("RegisterVersion duplicate: %v", err)
	}

	match, err := st.FindCompletedByHash(ctx, "abc123", duplicate.ID)
	if err != nil {
		t.Fatalf("FindCompletedByHash: %v", err)
	}
	if match == nil || match.ID != source.ID {
		t.Fatalf("match = %+v, want source version", match)
	}

	if err := st.StartVersionOCR(ctx, duplicate.ID); err != nil {
		t.Fatalf("StartVersionOCR duplicate: %v", err)
	}
	if err := st.CopyPages(ctx, duplicate.ID, source.ID); err != nil {
		t.Fatalf("CopyPages: %v", err)
	}
	pages, err := st.PageNumbers(ctx, duplicate.ID)
	if err != nil {
		t.Fatalf("PageNumbers: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 copied pages, got %d", len(pages))
	}
}

func TestGetLogAbsentVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	log, err := st.GetLog(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if log != nil {
		t.Fatalf("expected nil log for unknown version, got %+v", log)
	}
}
