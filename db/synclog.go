// ABOUTME: Sync log operations for the append-only audit trail
// ABOUTME: Entries are created running, finalized once, and never mutated again
package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/liveport/crmsync/errs"
	"github.com/liveport/crmsync/models"
)

// StartSyncLog creates a running entry at the start of a category sync.
func StartSyncLog(db *sql.DB, category string) (*models.SyncLog, error) {
	entry := &models.SyncLog{
		ID:        uuid.New(),
		Category:  category,
		Outcome:   models.OutcomeRunning,
		StartedAt: time.Now(),
	}

	_, err := db.Exec(`
		INSERT INTO sync_log (id, category, outcome, started_at)
		VALUES (?, ?, ?, ?)
	`, entry.ID.String(), entry.Category, entry.Outcome, entry.StartedAt)
	if err != nil {
		return nil, &errs.PersistenceError{Op: "start sync log", Err: err}
	}

	return entry, nil
}

// FinalizeSyncLog closes a running entry with its outcome and counts.
func FinalizeSyncLog(db *sql.DB, id uuid.UUID, outcome string, processed, synced, failed int, errorMessage string) error {
	var errMsg sql.NullString
	if errorMessage != "" {
		errMsg = sql.NullString{String: errorMessage, Valid: true}
	}

	_, err := db.Exec(`
		UPDATE sync_log SET
			outcome = ?, records_processed = ?, records_synced = ?,
			records_failed = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND outcome = ?
	`, outcome, processed, synced, failed, errMsg, time.Now(), id.String(), models.OutcomeRunning)
	if err != nil {
		return &errs.PersistenceError{Op: "finalize sync log", Err: err}
	}

	return nil
}

// RecentSyncLogs returns finalized entries started since the cutoff, newest
// first. Running entries are excluded so a crash mid-run does not skew the
// trailing error rate.
func RecentSyncLogs(db *sql.DB, since time.Time) ([]models.SyncLog, error) {
	rows, err := db.Query(`
		SELECT id, category, outcome, records_processed, records_synced,
		       records_failed, error_message, started_at, completed_at
		FROM sync_log
		WHERE started_at >= ? AND outcome != ?
		ORDER BY started_at DESC
	`, since, models.OutcomeRunning)
	if err != nil {
		return nil, &errs.PersistenceError{Op: "query sync logs", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var entries []models.SyncLog
	for rows.Next() {
		var entry models.SyncLog
		var id string
		var errMsg sql.NullString
		var completedAt sql.NullTime

		err := rows.Scan(&id, &entry.Category, &entry.Outcome,
			&entry.RecordsProcessed, &entry.RecordsSynced, &entry.RecordsFailed,
			&errMsg, &entry.StartedAt, &completedAt)
		if err != nil {
			return nil, &errs.PersistenceError{Op: "scan sync log", Err: err}
		}

		entry.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, &errs.PersistenceError{Op: "parse sync log id", Err: err}
		}
		entry.ErrorMessage = errMsg.String
		if completedAt.Valid {
			entry.CompletedAt = &completedAt.Time
		}

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &errs.PersistenceError{Op: "iterate sync logs", Err: err}
	}

	return entries, nil
}
