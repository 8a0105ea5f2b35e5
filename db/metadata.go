// ABOUTME: Sync metadata and run lock operations
// ABOUTME: Tracks per-category fetch windows and prevents overlapping runs
package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/liveport/crmsync/errs"
)

// ErrRunActive means another run holds the advisory lock. Callers should
// no-op rather than interleave writes.
var ErrRunActive = errors.New("another sync run is already active")

// GetLastSyncTime returns the incremental fetch window start for a category,
// or nil when the category has never completed a run.
func GetLastSyncTime(db *sql.DB, category string) (*time.Time, error) {
	var lastSync sql.NullTime

	err := db.QueryRow(`
		SELECT last_sync_time FROM sync_metadata WHERE category = ?
	`, category).Scan(&lastSync)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errs.PersistenceError{Op: "get last sync time", Err: err}
	}

	if !lastSync.Valid {
		return nil, nil
	}
	return &lastSync.Time, nil
}

// SetLastSyncTime advances the fetch window for a category.
func SetLastSyncTime(db *sql.DB, category string, t time.Time) error {
	_, err := db.Exec(`
		INSERT INTO sync_metadata (category, last_sync_time, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(category) DO UPDATE SET
			last_sync_time = excluded.last_sync_time,
			updated_at = CURRENT_TIMESTAMP
	`, category, t)
	if err != nil {
		return &errs.PersistenceError{Op: "set last sync time", Err: err}
	}

	return nil
}

// AcquireRunLock takes the single-row advisory lock. A live lock returns
// ErrRunActive; a lock older than maxAge is treated as abandoned by a
// crashed process and stolen.
func AcquireRunLock(db *sql.DB, holder string, maxAge time.Duration) error {
	var acquiredAt sql.NullTime
	err := db.QueryRow(`SELECT acquired_at FROM run_lock WHERE id = 1`).Scan(&acquiredAt)

	switch {
	case err == sql.ErrNoRows:
		// free, take it below
	case err != nil:
		return &errs.PersistenceError{Op: "check run lock", Err: err}
	case acquiredAt.Valid && time.Since(acquiredAt.Time) < maxAge:
		return ErrRunActive
	default:
		// stale lock, steal it
		if _, err := db.Exec(`DELETE FROM run_lock WHERE id = 1`); err != nil {
			return &errs.PersistenceError{Op: "clear stale run lock", Err: err}
		}
	}

	_, err = db.Exec(`
		INSERT INTO run_lock (id, holder, acquired_at) VALUES (1, ?, ?)
	`, holder, time.Now())
	if err != nil {
		// lost the race to another process
		return ErrRunActive
	}

	return nil
}

// ReleaseRunLock frees the advisory lock.
func ReleaseRunLock(db *sql.DB) error {
	if _, err := db.Exec(`DELETE FROM run_lock WHERE id = 1`); err != nil {
		return &errs.PersistenceError{Op: "release run lock", Err: err}
	}
	return nil
}
