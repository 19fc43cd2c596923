package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"blueline/internal/compare"
	"blueline/internal/config"
	"blueline/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewJob creates a pending comparison job with two registered drawing
// versions of the given page counts.
func NewJob(t testing.TB, st *store.Store, oldPages, newPages int) *compare.Job {
	t.Helper()

	ctx := context.Background()
	oldVersion := &compare.DrawingVersion{ID: uuid.NewString(), PageCount: oldPages}
	newVersion := &compare.DrawingVersion{ID: uuid.NewString(), PageCount: newPages}
	if err := st.RegisterVersion(ctx, oldVersion); err != nil {
		t.Fatalf("register old version: %v", err)
	}
	if err := st.RegisterVersion(ctx, newVersion); err != nil {
		t.Fatalf("register new version: %v", err)
	}

	job := &compare.Job{
		ID:           uuid.NewString(),
		OldVersionID: oldVersion.ID,
		NewVersionID: newVersion.ID,
		Status:       compare.JobPending,
	}
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job
}
