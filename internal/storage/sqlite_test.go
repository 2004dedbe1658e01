package storage

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "reconsage.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SaveAndGetRun(t *testing.T) {
	store := newTestStore(t)

	summary, _ := json.Marshal(map[string]int{"found": 3})
	record := RunRecord{
		ID:            "run-1",
		Operation:     "directory",
		Target:        "https://example.com",
		State:         "completed",
		StartedAt:     time.Now().Add(-time.Minute).UTC(),
		FinishedAt:    time.Now().UTC(),
		DurationMs:    1500,
		Summary:       summary,
		ArtifactPaths: []string{"/tmp/run-1.json"},
		Metadata:      map[string]string{"wordlist": "common.txt"},
	}

	if err := store.SaveRun(record); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil {
		t.Fatal("expected a record, got nil")
	}
	if got.Operation != "directory" || got.Target != "https://example.com" {
		t.Errorf("unexpected record: %+v", got)
	}
	if len(got.ArtifactPaths) != 1 || got.ArtifactPaths[0] != "/tmp/run-1.json" {
		t.Errorf("artifact paths not round-tripped: %+v", got.ArtifactPaths)
	}
	if got.Metadata["wordlist"] != "common.txt" {
		t.Errorf("metadata not round-tripped: %+v", got.Metadata)
	}
}

func TestSQLiteStore_GetRun_NotFound(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetRun("does-not-exist")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for a missing run, got %+v", got)
	}
}

func TestSQLiteStore_ListRuns_FiltersAndOrders(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour).UTC()
	records := []RunRecord{
		{ID: "a", Operation: "directory", Target: "t1", State: "completed", StartedAt: base},
		{ID: "b", Operation: "waf", Target: "t2", State: "failed", StartedAt: base.Add(time.Minute)},
		{ID: "c", Operation: "directory", Target: "t3", State: "completed", StartedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range records {
		if err := store.SaveRun(r); err != nil {
			t.Fatalf("SaveRun(%s): %v", r.ID, err)
		}
	}

	list, err := store.ListRuns(ListRunsOptions{Operation: "directory"})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 directory runs, got %d", len(list))
	}
	if list[0].ID != "c" {
		t.Errorf("expected most recent run first, got %q", list[0].ID)
	}

	stateFiltered, err := store.ListRuns(ListRunsOptions{State: "failed"})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(stateFiltered) != 1 || stateFiltered[0].ID != "b" {
		t.Fatalf("expected only run b for state=failed, got %+v", stateFiltered)
	}

	limited, err := store.ListRuns(ListRunsOptions{Limit: 1})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to cap at 1 row, got %d", len(limited))
	}
}

func TestSQLiteStore_GetStats(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC()
	for _, r := range []RunRecord{
		{ID: "a", Operation: "directory", State: "completed", StartedAt: now, DurationMs: 100},
		{ID: "b", Operation: "directory", State: "failed", StartedAt: now, DurationMs: 200},
		{ID: "c", Operation: "waf", State: "completed", StartedAt: now, DurationMs: 300},
	} {
		if err := store.SaveRun(r); err != nil {
			t.Fatalf("SaveRun(%s): %v", r.ID, err)
		}
	}

	stats, err := store.GetStats(nil)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalRuns != 3 {
		t.Errorf("expected 3 total runs, got %d", stats.TotalRuns)
	}
	if stats.RunsByState["completed"] != 2 || stats.RunsByState["failed"] != 1 {
		t.Errorf("unexpected state breakdown: %+v", stats.RunsByState)
	}
	if stats.RunsByOperation["directory"] != 2 || stats.RunsByOperation["waf"] != 1 {
		t.Errorf("unexpected operation breakdown: %+v", stats.RunsByOperation)
	}
}

func TestSQLiteStore_Cleanup(t *testing.T) {
	store := newTestStore(t)

	old := time.Now().AddDate(0, 0, -60).UTC()
	recent := time.Now().UTC()
	if err := store.SaveRun(RunRecord{ID: "old", Operation: "directory", State: "completed", StartedAt: old, FinishedAt: old}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := store.SaveRun(RunRecord{ID: "new", Operation: "directory", State: "completed", StartedAt: recent, FinishedAt: recent}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	deleted, err := store.Cleanup(30)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted row, got %d", deleted)
	}

	if got, _ := store.GetRun("old"); got != nil {
		t.Error("expected old run to be deleted")
	}
	if got, _ := store.GetRun("new"); got == nil {
		t.Error("expected recent run to survive cleanup")
	}
}
