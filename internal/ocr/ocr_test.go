package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"blueline/internal/broker"
	"blueline/internal/compare"
	"blueline/internal/config"
	"blueline/internal/extraction"
	"blueline/internal/services"
	"blueline/internal/store"
	"blueline/internal/testsupport"
)

type stubExtractor struct {
	mu    sync.Mutex
	calls map[string]int
	// extract decides the outcome per (versionID, page, attempt).
	extract func(versionID string, page, attempt int) (*extraction.PageInfo, error)
}

func newStubExtractor(extract func(versionID string, page, attempt int) (*extraction.PageInfo, error)) *stubExtractor {
	return &stubExtractor{calls: make(map[string]int), extract: extract}
}

func (s *stubExtractor) ExtractPage(ctx context.Context, versionID string, page int) (*extraction.PageInfo, error) {
	key := fmt.Sprintf("%s/%d", versionID, page)
	s.mu.Lock()
	s.calls[key]++
	attempt := s.calls[key]
	s.mu.Unlock()
	if s.extract != nil {
		return s.extract(versionID, page, attempt)
	}
	return goodPage(page), nil
}

func (s *stubExtractor) HealthCheck(context.Context) error { return nil }

func (s *stubExtractor) attempts(versionID string, page int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[fmt.Sprintf("%s/%d", versionID, page)]
}

func goodPage(page int) *extraction.PageInfo {
	return &extraction.PageInfo{
		DrawingName: fmt.Sprintf("A-%03d", page),
		Info:        json.RawMessage(fmt.Sprintf(`{"title":"sheet %d"}`, page)),
		Confidence:  0.9,
	}
}

type ocrFixture struct {
	cfg    *config.Config
	store  *store.Store
	mb     *broker.Memory
	events []compare.StageEvent
	mu     sync.Mutex
}

func (f *ocrFixture) sink(ctx context.Context, event compare.StageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *ocrFixture) eventCount(outcome compare.EventOutcome) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, event := range f.events {
		if event.Outcome == outcome {
			n++
		}
	}
	return n
}

func newOCRFixture(t *testing.T) *ocrFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	mb := broker.NewMemory(cfg)
	t.Cleanup(func() { mb.Close() })
	return &ocrFixture{cfg: cfg, store: st, mb: mb}
}

func (f *ocrFixture) newWorker(t *testing.T, ex extraction.Extractor) *Worker {
	t.Helper()
	worker := NewWorker(f.store, f.mb, ex, f.sink, f.cfg, nil)
	worker.sleep = func(context.Context, time.Duration) error { return nil }
	return worker
}

func TestHandleExtractsAllPages(t *testing.T) {
	f := newOCRFixture(t)
	job := testsupport.NewJob(t, f.store, 2, 3)
	ctx := context.Background()
	worker := f.newWorker(t, newStubExtractor(nil))

	msg := broker.Message{Stage: compare.StageOCR, JobID: job.ID, VersionID: job.NewVersionID, Attempt: 1}
	if err := worker.Handle(ctx, msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	log, err := f.store.GetLog(ctx, job.NewVersionID)
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if len(log.Pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(log.Pages))
	}
	for i, entry := range log.Pages {
		if entry.PageNumber != i+1 {
			t.Fatalf("page order: got %d at index %d", entry.PageNumber, i)
		}
		if entry.Failed() {
			t.Fatalf("page %d unexpectedly failed: %s", entry.PageNumber, entry.Error)
		}
	}

	version, err := f.store.GetVersion(ctx, job.NewVersionID)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if version.OCRStatus != compare.OCRCompleted {
		t.Fatalf("ocr status = %s, want completed", version.OCRStatus)
	}
	if version.OCRResultRef == "" || version.OCRCompletedAt == nil {
		t.Fatalf("completion fields missing: %+v", version)
	}
}

func TestHandleRetriesTransientPageErrors(t *testing.T) {
	f := newOCRFixture(t)
	job := testsupport.NewJob(t, f.store, 1, 2)
	ctx := context.Background()

	ex := newStubExtractor(func(versionID string, page, attempt int) (*extraction.PageInfo, error) {
		if page == 2 && attempt < 3 {
			return nil, services.Wrap(services.ErrTransient, "ocr", "extract page", "briefly unavailable", nil)
		}
		return goodPage(page), nil
	})
	worker := f.newWorker(t, ex)

	msg := broker.Message{Stage: compare.StageOCR, JobID: job.ID, VersionID: job.NewVersionID, Attempt: 1}
	if err := worker.Handle(ctx, msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if got := ex.attempts(job.NewVersionID, 2); got != 3 {
		t.Fatalf("page 2 attempts = %d, want 3", got)
	}
	log, _ := f.store.GetLog(ctx, job.NewVersionID)
	for _, entry := range log.Pages {
		if entry.Failed() {
			t.Fatalf("page %d failed after retries: %s", entry.PageNumber, entry.Error)
		}
	}
}

func TestHandleMarksExhaustedPageAndContinues(t *testing.T) {
	f := newOCRFixture(t)
	job := testsupport.NewJob(t, f.store, 1, 3)
	ctx := context.Background()

	ex := newStubExtractor(func(versionID string, page, attempt int) (*extraction.PageInfo, error) {
		if page == 2 {
			return nil, services.Wrap(services.ErrTransient, "ocr", "extract page", "page corrupt upstream", nil)
		}
		return goodPage(page), nil
	})
	worker := f.newWorker(t, ex)

	msg := broker.Message{Stage: compare.StageOCR, JobID: job.ID, VersionID: job.NewVersionID, Attempt: 1}
	if err := worker.Handle(ctx, msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if got := ex.attempts(job.NewVersionID, 2); got != f.cfg.Extraction.PageRetryAttempts {
		t.Fatalf("page 2 attempts = %d, want budget %d", got, f.cfg.Extraction.PageRetryAttempts)
	}

	log, _ := f.store.GetLog(ctx, job.NewVersionID)
	if len(log.Pages) != 3 {
		t.Fatalf("pages = %d, want 3 including the failed one", len(log.Pages))
	}
	var failed *compare.PageEntry
	for i := range log.Pages {
		if log.Pages[i].PageNumber == 2 {
			failed = &log.Pages[i]
		}
	}
	if failed == nil || !failed.Failed() {
		t.Fatalf("expected error-marked entry for page 2, got %+v", failed)
	}

	version, _ := f.store.GetVersion(ctx, job.NewVersionID)
	if version.OCRStatus != compare.OCRCompleted {
		t.Fatalf("version must still complete, status = %s", version.OCRStatus)
	}
	if f.eventCount(compare.OutcomePageFailure) != 1 {
		t.Fatalf("page failure events = %d, want 1", f.eventCount(compare.OutcomePageFailure))
	}
}

func TestHandleDispatchesDiffExactlyOnce(t *testing.T) {
	f := newOCRFixture(t)
	job := testsupport.NewJob(t, f.store, 1, 1)
	ctx := context.Background()
	worker := f.newWorker(t, newStubExtractor(nil))
	diffCh := f.mb.Subscribe(broker.TopicDiff)

	for _, versionID := range []string{job.OldVersionID, job.NewVersionID} {
		msg := broker.Message{Stage: compare.StageOCR, JobID: job.ID, VersionID: versionID, Attempt: 1}
		if err := worker.Handle(ctx, msg); err != nil {
			t.Fatalf("Handle %s: %v", versionID, err)
		}
	}
	// A redelivered OCR message after completion must not dispatch again.
	msg := broker.Message{Stage: compare.StageOCR, JobID: job.ID, VersionID: job.NewVersionID, Attempt: 2}
	if err := worker.Handle(ctx, msg); err != nil {
		t.Fatalf("Handle redelivery: %v", err)
	}

	select {
	case delivery := <-diffCh:
		if delivery.Message().JobID != job.ID {
			t.Fatalf("diff message job = %s", delivery.Message().JobID)
		}
		delivery.Ack()
	case <-time.After(time.Second):
		t.Fatal("expected a diff dispatch")
	}
	select {
	case extra := <-diffCh:
		t.Fatalf("second diff dispatch: %+v", extra.Message())
	case <-time.After(100 * time.Millisecond):
	}
	if f.eventCount(compare.OutcomeSuccess) != 1 {
		t.Fatalf("success events = %d, want 1", f.eventCount(compare.OutcomeSuccess))
	}
}

func TestHandleReusesExtractionForIdenticalHash(t *testing.T) {
	f := newOCRFixture(t)
	ctx := context.Background()

	source := &compare.DrawingVersion{ID: uuid.NewString(), FileHash: "hash-1", PageCount: 2}
	target := &compare.DrawingVersion{ID: uuid.NewString(), FileHash: "hash-1", PageCount: 2}
	if err := f.store.RegisterVersion(ctx, source); err != nil {
		t.Fatalf("RegisterVersion: %v", err)
	}
	if err := f.store.RegisterVersion(ctx, target); err != nil {
		t.Fatalf("RegisterVersion: %v", err)
	}
	job := &compare.Job{ID: uuid.NewString(), OldVersionID: source.ID, NewVersionID: target.ID}
	if err := f.store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	ex := newStubExtractor(nil)
	worker := f.newWorker(t, ex)

	if err := worker.Handle(ctx, broker.Message{Stage: compare.StageOCR, JobID: job.ID, VersionID: source.ID, Attempt: 1}); err != nil {
		t.Fatalf("Handle source: %v", err)
	}
	if err := worker.Handle(ctx, broker.Message{Stage: compare.StageOCR, JobID: job.ID, VersionID: target.ID, Attempt: 1}); err != nil {
		t.Fatalf("Handle target: %v", err)
	}

	if got := ex.attempts(target.ID, 1); got != 0 {
		t.Fatalf("target pages were re-extracted %d times, want copy", got)
	}
	pages, _ := f.store.PageNumbers(ctx, target.ID)
	if len(pages) != 2 {
		t.Fatalf("copied pages = %d, want 2", len(pages))
	}
}

func TestHandleSkipsCompletionWhenCancelled(t *testing.T) {
	f := newOCRFixture(t)
	job := testsupport.NewJob(t, f.store, 1, 1)
	ctx := context.Background()
	worker := f.newWorker(t, newStubExtractor(nil))

	if _, err := f.store.RequestCancel(ctx, job.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}

	msg := broker.Message{Stage: compare.StageOCR, JobID: job.ID, VersionID: job.NewVersionID, Attempt: 1}
	if err := worker.Handle(ctx, msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	version, _ := f.store.GetVersion(ctx, job.NewVersionID)
	if version.OCRStatus == compare.OCRCompleted {
		t.Fatal("cancelled job must not persist completion")
	}
}

func TestHandleCancelledJobWritesNoPages(t *testing.T) {
	f := newOCRFixture(t)
	job := testsupport.NewJob(t, f.store, 1, 2)
	ctx := context.Background()
	ex := newStubExtractor(nil)
	worker := f.newWorker(t, ex)

	if _, err := f.store.RequestCancel(ctx, job.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}

	msg := broker.Message{Stage: compare.StageOCR, JobID: job.ID, VersionID: job.NewVersionID, Attempt: 1}
	if err := worker.Handle(ctx, msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	pages, err := f.store.PageNumbers(ctx, job.NewVersionID)
	if err != nil {
		t.Fatalf("PageNumbers: %v", err)
	}
	if len(pages) != 0 {
		t.Fatalf("cancelled job persisted %d page entries, want 0", len(pages))
	}
	for page := 1; page <= 2; page++ {
		if got := ex.attempts(job.NewVersionID, page); got != 0 {
			t.Fatalf("page %d extracted %d times after cancel, want 0", page, got)
		}
	}
}

func TestHandleUnknownVersionIsPermanent(t *testing.T) {
	f := newOCRFixture(t)
	worker := f.newWorker(t, newStubExtractor(nil))

	msg := broker.Message{Stage: compare.StageOCR, JobID: uuid.NewString(), VersionID: "missing", Attempt: 1}
	err := worker.Handle(context.Background(), msg)
	if err == nil {
		t.Fatal("expected error for unknown version")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation marker", err)
	}
}
