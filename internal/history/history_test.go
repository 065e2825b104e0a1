package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opentranslator/client/internal/document"
	"github.com/opentranslator/client/internal/poller"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRecord(id, status string) Record {
	return Record{
		ProcessID:   id,
		FileName:    "report.pdf",
		SourceLang:  "en",
		TargetLang:  "fa",
		Direction:   document.DirectionRTL,
		Status:      status,
		Progress:    40,
		CurrentPage: 2,
		TotalPages:  5,
		SubmittedAt: time.Now().Truncate(time.Second),
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rec := sampleRecord("proc-1", document.StatusInProgress)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	got, err := store.Get(ctx, "proc-1")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got.FileName != "report.pdf" || got.Status != document.StatusInProgress {
		t.Errorf("Unexpected record %+v", got)
	}
	if got.Direction != document.DirectionRTL {
		t.Errorf("Expected rtl direction, got %q", got.Direction)
	}
}

func TestStore_SaveUpserts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rec := sampleRecord("proc-1", document.StatusInProgress)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	rec.Status = document.StatusCompleted
	rec.Progress = 100
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}

	got, err := store.Get(ctx, "proc-1")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got.Status != document.StatusCompleted || got.Progress != 100 {
		t.Errorf("Update was not applied: %+v", got)
	}

	records, err := store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected 1 record after upsert, got %d", len(records))
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := newStore(t)
	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestStore_ListRecentOrder(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		rec := sampleRecord(id, document.StatusCompleted)
		rec.SubmittedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Failed to save %s: %v", id, err)
		}
	}

	records, err := store.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].ProcessID != "new" || records[1].ProcessID != "mid" {
		t.Errorf("Wrong order: %s, %s", records[0].ProcessID, records[1].ProcessID)
	}
}

func TestStore_LatestActive(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.LatestActive(ctx); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound on empty store, got %v", err)
	}

	done := sampleRecord("done", document.StatusCompleted)
	done.SubmittedAt = time.Now()
	if err := store.Save(ctx, done); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	running := sampleRecord("running", document.StatusInProgress)
	running.SubmittedAt = time.Now().Add(-time.Minute)
	if err := store.Save(ctx, running); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	got, err := store.LatestActive(ctx)
	if err != nil {
		t.Fatalf("Failed to find active job: %v", err)
	}
	if got.ProcessID != "running" {
		t.Errorf("Expected the in-progress job, got %s (%s)", got.ProcessID, got.Status)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, sampleRecord("proc-1", document.StatusFailed)); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if err := store.Delete(ctx, "proc-1"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if err := store.Delete(ctx, "proc-1"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound on double delete, got %v", err)
	}
}

func TestStore_PruneTerminal(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	old := sampleRecord("old-done", document.StatusCompleted)
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	if err := store.Save(ctx, old); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	fresh := sampleRecord("fresh-done", document.StatusCompleted)
	if err := store.Save(ctx, fresh); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	active := sampleRecord("old-running", document.StatusInProgress)
	active.UpdatedAt = time.Now().Add(-48 * time.Hour)
	if err := store.Save(ctx, active); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	pruned, err := store.PruneTerminal(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("Expected 1 pruned record, got %d", pruned)
	}
	if _, err := store.Get(ctx, "old-running"); err != nil {
		t.Errorf("Active jobs must survive pruning: %v", err)
	}
}

func TestFromJob(t *testing.T) {
	job := poller.Job{
		ProcessID:   "proc-9",
		FileName:    "doc.pdf",
		SourceLang:  "en",
		TargetLang:  "ar",
		Direction:   document.DirectionRTL,
		Status:      document.StatusInProgress,
		Progress:    65,
		SubmittedAt: time.Now(),
	}

	rec := FromJob(job)
	if rec.ProcessID != "proc-9" || rec.Progress != 65 {
		t.Errorf("Unexpected record %+v", rec)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("Expected UpdatedAt to be set")
	}
}
