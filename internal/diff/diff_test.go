package diff_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"blueline/internal/broker"
	"blueline/internal/compare"
	"blueline/internal/diff"
	"blueline/internal/stage"
	"blueline/internal/store"
	"blueline/internal/testsupport"
)

func page(number int, name string, confidence float64, info string) compare.PageEntry {
	entry := compare.PageEntry{
		PageNumber:  number,
		DrawingName: name,
		Confidence:  confidence,
	}
	if info != "" {
		entry.ExtractedInfo = json.RawMessage(info)
	}
	return entry
}

func TestCompareClassifiesChanges(t *testing.T) {
	oldPages := []compare.PageEntry{
		page(1, "A-101", 0.9, `{"title":"Ground Floor","scale":"1:50"}`),
		page(2, "A-102", 0.85, `{"title":"First Floor"}`),
		page(3, "A-103", 0.8, `{"title":"Roof Plan"}`),
	}
	newPages := []compare.PageEntry{
		page(1, "a-101", 0.95, `{"title":"Ground Floor","scale":"1:100"}`),
		page(2, "A-103", 0.9, `{"title":"Roof Plan"}`),
		page(3, "A-201", 0.7, `{"title":"Sections"}`),
	}

	changes := diff.Compare("job-1", oldPages, newPages)

	if len(changes) != 3 {
		t.Fatalf("changes = %d, want 3: %+v", len(changes), changes)
	}
	// Ordered by drawing code, then removed < modified < added.
	if changes[0].DrawingCode != "A-101" || changes[0].Action != compare.ActionModified {
		t.Fatalf("first = %s %s", changes[0].DrawingCode, changes[0].Action)
	}
	if changes[0].Category != "scale" {
		t.Fatalf("category = %q, want the differing field", changes[0].Category)
	}
	if changes[0].Confidence != 0.9 {
		t.Fatalf("confidence = %v, want min of both pages", changes[0].Confidence)
	}
	if changes[1].DrawingCode != "A-102" || changes[1].Action != compare.ActionRemoved {
		t.Fatalf("second = %s %s", changes[1].DrawingCode, changes[1].Action)
	}
	if changes[2].DrawingCode != "A-201" || changes[2].Action != compare.ActionAdded {
		t.Fatalf("third = %s %s", changes[2].DrawingCode, changes[2].Action)
	}
}

func TestCompareEmitsOneModificationPerField(t *testing.T) {
	oldPages := []compare.PageEntry{
		page(1, "A-101", 0.9, `{"title":"Plan","scale":"1:50","revision":"B"}`),
	}
	newPages := []compare.PageEntry{
		page(1, "A-101", 0.9, `{"title":"Plan","scale":"1:100","revision":"C"}`),
	}

	changes := diff.Compare("job-1", oldPages, newPages)
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want one per differing field", len(changes))
	}
	if changes[0].Category != "revision" || changes[1].Category != "scale" {
		t.Fatalf("categories = %q, %q", changes[0].Category, changes[1].Category)
	}
}

func TestCompareSkipsErrorMarkedPages(t *testing.T) {
	failed := compare.PageEntry{PageNumber: 1, Error: "extraction exhausted"}
	oldPages := []compare.PageEntry{failed, page(2, "A-102", 0.9, `{"title":"Plan"}`)}
	newPages := []compare.PageEntry{page(1, "A-102", 0.9, `{"title":"Plan"}`)}

	changes := diff.Compare("job-1", oldPages, newPages)
	if len(changes) != 0 {
		t.Fatalf("changes = %+v, want none from failed pages", changes)
	}
}

func TestCompareIdenticalVersions(t *testing.T) {
	pages := []compare.PageEntry{page(1, "A-101", 0.9, `{"title":"Plan"}`)}
	if changes := diff.Compare("job-1", pages, pages); len(changes) != 0 {
		t.Fatalf("changes = %+v, want empty", changes)
	}
}

type diffFixture struct {
	store  *store.Store
	mb     *broker.Memory
	events []compare.StageEvent
}

func newDiffFixture(t *testing.T) *diffFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	f := &diffFixture{
		store: testsupport.MustOpenStore(t, cfg),
		mb:    broker.NewMemory(cfg),
	}
	t.Cleanup(func() { f.mb.Close() })
	return f
}

func (f *diffFixture) sink(ctx context.Context, event compare.StageEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *diffFixture) completeVersion(t *testing.T, versionID string, pages ...compare.PageEntry) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.StartVersionOCR(ctx, versionID); err != nil {
		t.Fatalf("StartVersionOCR: %v", err)
	}
	for _, entry := range pages {
		entry.VersionID = versionID
		if _, err := f.store.InsertPage(ctx, &entry); err != nil {
			t.Fatalf("InsertPage: %v", err)
		}
	}
	if err := f.store.CompleteVersionOCR(ctx, versionID, "ref"); err != nil {
		t.Fatalf("CompleteVersionOCR: %v", err)
	}
}

func TestHandleRequiresBothVersionsCompleted(t *testing.T) {
	f := newDiffFixture(t)
	job := testsupport.NewJob(t, f.store, 1, 1)
	worker := diff.NewWorker(f.store, f.mb, f.sink, nil)

	f.completeVersion(t, job.OldVersionID, page(1, "A-101", 0.9, `{"title":"Plan"}`))

	err := worker.Handle(context.Background(), broker.Message{Stage: compare.StageDiff, JobID: job.ID, Attempt: 1})
	if !errors.Is(err, stage.ErrNotReady) {
		t.Fatalf("error = %v, want ErrNotReady while new version extracting", err)
	}
}

func TestHandleWritesChangesAndAdvances(t *testing.T) {
	f := newDiffFixture(t)
	job := testsupport.NewJob(t, f.store, 1, 1)
	worker := diff.NewWorker(f.store, f.mb, f.sink, nil)
	summaryCh := f.mb.Subscribe(broker.TopicSummary)
	ctx := context.Background()

	f.completeVersion(t, job.OldVersionID, page(1, "A-101", 0.9, `{"scale":"1:50"}`))
	f.completeVersion(t, job.NewVersionID, page(1, "A-101", 0.9, `{"scale":"1:100"}`))

	if err := worker.Handle(ctx, broker.Message{Stage: compare.StageDiff, JobID: job.ID, Attempt: 1}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	changes, err := f.store.ListChanges(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListChanges: %v", err)
	}
	if len(changes) != 1 || changes[0].Action != compare.ActionModified {
		t.Fatalf("changes = %+v", changes)
	}

	stored, _ := f.store.GetJob(ctx, job.ID)
	if !stored.DiffDone {
		t.Fatal("diff_done not set")
	}

	select {
	case delivery := <-summaryCh:
		msg := delivery.Message()
		if msg.Stage != compare.StageSummary || msg.JobID != job.ID || msg.VersionID != job.NewVersionID {
			t.Fatalf("summary message = %+v", msg)
		}
		delivery.Ack()
	case <-time.After(time.Second):
		t.Fatal("expected summary message")
	}

	if len(f.events) != 1 || f.events[0].Outcome != compare.OutcomeSuccess {
		t.Fatalf("events = %+v", f.events)
	}
}

func TestHandleSkipsWriteWhenCancelled(t *testing.T) {
	f := newDiffFixture(t)
	job := testsupport.NewJob(t, f.store, 1, 1)
	worker := diff.NewWorker(f.store, f.mb, f.sink, nil)
	ctx := context.Background()

	f.completeVersion(t, job.OldVersionID, page(1, "A-101", 0.9, `{"scale":"1:50"}`))
	f.completeVersion(t, job.NewVersionID, page(1, "A-101", 0.9, `{"scale":"1:100"}`))
	if _, err := f.store.RequestCancel(ctx, job.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}

	if err := worker.Handle(ctx, broker.Message{Stage: compare.StageDiff, JobID: job.ID, Attempt: 1}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	stored, _ := f.store.GetJob(ctx, job.ID)
	if stored.DiffDone {
		t.Fatal("cancelled job must not persist changes")
	}
	if len(f.events) != 0 {
		t.Fatalf("events = %+v, want none", f.events)
	}
}
