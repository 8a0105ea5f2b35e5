package db

import (
	"testing"
	"time"

	"github.com/liveport/crmsync/models"
)

func TestSyncLogLifecycle(t *testing.T) {
	database := openTestDB(t)

	entry, err := StartSyncLog(database, models.CategoryOrganizations)
	if err != nil {
		t.Fatalf("StartSyncLog failed: %v", err)
	}
	if entry.Outcome != models.OutcomeRunning {
		t.Errorf("new entry outcome = %s, want running", entry.Outcome)
	}

	err = FinalizeSyncLog(database, entry.ID, models.OutcomeSuccess, 10, 10, 0, "")
	if err != nil {
		t.Fatalf("FinalizeSyncLog failed: %v", err)
	}

	entries, err := RecentSyncLogs(database, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("RecentSyncLogs failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	got := entries[0]
	if got.ID != entry.ID {
		t.Errorf("ID mismatch: %s vs %s", got.ID, entry.ID)
	}
	if got.Outcome != models.OutcomeSuccess || got.RecordsProcessed != 10 || got.RecordsSynced != 10 {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("finalized entry should have completed_at set")
	}
}

func TestFinalizeSyncLogIsIdempotent(t *testing.T) {
	database := openTestDB(t)

	entry, err := StartSyncLog(database, models.CategoryPersons)
	if err != nil {
		t.Fatalf("StartSyncLog failed: %v", err)
	}

	if err := FinalizeSyncLog(database, entry.ID, models.OutcomePartial, 5, 3, 2, "2 errors occurred"); err != nil {
		t.Fatalf("FinalizeSyncLog failed: %v", err)
	}
	// A second finalize must not overwrite the closed entry.
	if err := FinalizeSyncLog(database, entry.ID, models.OutcomeSuccess, 99, 99, 0, ""); err != nil {
		t.Fatalf("second FinalizeSyncLog errored: %v", err)
	}

	entries, _ := RecentSyncLogs(database, time.Now().Add(-time.Hour))
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Outcome != models.OutcomePartial || entries[0].RecordsProcessed != 5 {
		t.Errorf("closed entry was mutated: %+v", entries[0])
	}
	if entries[0].ErrorMessage != "2 errors occurred" {
		t.Errorf("ErrorMessage = %q", entries[0].ErrorMessage)
	}
}

func TestRecentSyncLogsExcludesRunningEntries(t *testing.T) {
	database := openTestDB(t)

	if _, err := StartSyncLog(database, models.CategoryFull); err != nil {
		t.Fatalf("StartSyncLog failed: %v", err)
	}
	closed, err := StartSyncLog(database, models.CategoryOrganizations)
	if err != nil {
		t.Fatalf("StartSyncLog failed: %v", err)
	}
	if err := FinalizeSyncLog(database, closed.ID, models.OutcomeError, 0, 0, 0, "fetch failed"); err != nil {
		t.Fatalf("FinalizeSyncLog failed: %v", err)
	}

	entries, err := RecentSyncLogs(database, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("RecentSyncLogs failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the finalized entry, got %d", len(entries))
	}
	if entries[0].Category != models.CategoryOrganizations {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestRecentSyncLogsHonorsCutoff(t *testing.T) {
	database := openTestDB(t)

	entry, err := StartSyncLog(database, models.CategoryOrganizations)
	if err != nil {
		t.Fatalf("StartSyncLog failed: %v", err)
	}
	if err := FinalizeSyncLog(database, entry.ID, models.OutcomeSuccess, 1, 1, 0, ""); err != nil {
		t.Fatalf("FinalizeSyncLog failed: %v", err)
	}

	entries, err := RecentSyncLogs(database, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("RecentSyncLogs failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries past a future cutoff, got %d", len(entries))
	}
}
