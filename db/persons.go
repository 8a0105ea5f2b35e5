// ABOUTME: Person mirror table operations
// ABOUTME: Upserts by external ID with tolerant organization references
package db

import (
	"database/sql"
	"time"

	"github.com/liveport/crmsync/errs"
	"github.com/liveport/crmsync/models"
)

// GetPersonByExternalID returns nil without error when the row is absent.
func GetPersonByExternalID(db *sql.DB, externalID int64) (*models.Person, error) {
	person := &models.Person{}
	var (
		email, phone, status, rawData, lastError sql.NullString
		orgExternalID, destContactID             sql.NullInt64
		sourceUpdated                            sql.NullTime
	)

	err := db.QueryRow(`
		SELECT id, external_id, name, email, phone, org_external_id, status,
		       raw_data, fingerprint, sync_status, dest_contact_id,
		       failure_count, last_error, source_updated, created_at, updated_at
		FROM persons WHERE external_id = ?
	`, externalID).Scan(
		&person.ID, &person.ExternalID, &person.Name, &email, &phone,
		&orgExternalID, &status, &rawData, &person.Fingerprint,
		&person.SyncStatus, &destContactID, &person.FailureCount, &lastError,
		&sourceUpdated, &person.CreatedAt, &person.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errs.PersistenceError{Op: "get person", Err: err}
	}

	person.Email = email.String
	person.Phone = phone.String
	person.Status = status.String
	person.RawData = rawData.String
	person.LastError = lastError.String
	if orgExternalID.Valid {
		person.OrgExternalID = &orgExternalID.Int64
	}
	if destContactID.Valid {
		person.DestContactID = &destContactID.Int64
	}
	if sourceUpdated.Valid {
		person.SourceUpdated = &sourceUpdated.Time
	}

	return person, nil
}

// InsertPerson creates a new mirror row in the pending state. The
// organization reference is stored as provided even when no matching
// organization row exists yet; referential repair is deferred to later runs.
func InsertPerson(db *sql.DB, person *models.Person) error {
	now := time.Now()
	person.CreatedAt = now
	person.UpdatedAt = now
	person.SyncStatus = models.SyncPending

	res, err := db.Exec(`
		INSERT INTO persons
			(external_id, name, email, phone, org_external_id, status,
			 raw_data, fingerprint, sync_status, source_updated, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, person.ExternalID, person.Name, person.Email, person.Phone,
		person.OrgExternalID, person.Status, person.RawData, person.Fingerprint,
		person.SyncStatus, person.SourceUpdated, person.CreatedAt, person.UpdatedAt)
	if err != nil {
		return &errs.PersistenceError{Op: "insert person", Err: err}
	}

	person.ID, _ = res.LastInsertId()
	return nil
}

// UpdatePerson refreshes mutable fields and returns the row to pending.
func UpdatePerson(db *sql.DB, person *models.Person) error {
	person.UpdatedAt = time.Now()
	person.SyncStatus = models.SyncPending

	_, err := db.Exec(`
		UPDATE persons SET
			name = ?, email = ?, phone = ?, org_external_id = ?, status = ?,
			raw_data = ?, fingerprint = ?, sync_status = ?, source_updated = ?,
			updated_at = ?
		WHERE external_id = ?
	`, person.Name, person.Email, person.Phone, person.OrgExternalID,
		person.Status, person.RawData, person.Fingerprint, person.SyncStatus,
		person.SourceUpdated, person.UpdatedAt, person.ExternalID)
	if err != nil {
		return &errs.PersistenceError{Op: "update person", Err: err}
	}

	return nil
}

// MarkPersonSynced records a confirmed push.
func MarkPersonSynced(db *sql.DB, externalID, destContactID int64) error {
	_, err := db.Exec(`
		UPDATE persons SET
			sync_status = ?, dest_contact_id = ?, last_error = NULL, updated_at = ?
		WHERE external_id = ?
	`, models.SyncSynced, destContactID, time.Now(), externalID)
	if err != nil {
		return &errs.PersistenceError{Op: "mark person synced", Err: err}
	}
	return nil
}

// MarkPersonFailed records a push failure.
func MarkPersonFailed(db *sql.DB, externalID int64, message string) error {
	_, err := db.Exec(`
		UPDATE persons SET
			sync_status = ?, failure_count = failure_count + 1, last_error = ?, updated_at = ?
		WHERE external_id = ?
	`, models.SyncFailed, message, time.Now(), externalID)
	if err != nil {
		return &errs.PersistenceError{Op: "mark person failed", Err: err}
	}
	return nil
}

// ListUnsyncedPersons returns every row that still needs a push.
func ListUnsyncedPersons(db *sql.DB) ([]models.Person, error) {
	rows, err := db.Query(`
		SELECT external_id FROM persons
		WHERE sync_status != ? ORDER BY external_id
	`, models.SyncSynced)
	if err != nil {
		return nil, &errs.PersistenceError{Op: "list unsynced persons", Err: err}
	}

	// Drain IDs before re-querying, same single-connection constraint as the
	// organization list.
	var ids []int64
	for rows.Next() {
		var externalID int64
		if err := rows.Scan(&externalID); err != nil {
			_ = rows.Close()
			return nil, &errs.PersistenceError{Op: "scan unsynced person", Err: err}
		}
		ids = append(ids, externalID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, &errs.PersistenceError{Op: "iterate unsynced persons", Err: err}
	}
	_ = rows.Close()

	var persons []models.Person
	for _, externalID := range ids {
		person, err := GetPersonByExternalID(db, externalID)
		if err != nil {
			return nil, err
		}
		if person != nil {
			persons = append(persons, *person)
		}
	}

	return persons, nil
}

// CountPersons returns total, unsynced, and stale counts.
func CountPersons(db *sql.DB, staleCutoff time.Time) (total, unsynced, stale int, err error) {
	err = db.QueryRow(`SELECT COUNT(*) FROM persons`).Scan(&total)
	if err != nil {
		return 0, 0, 0, &errs.PersistenceError{Op: "count persons", Err: err}
	}

	err = db.QueryRow(`SELECT COUNT(*) FROM persons WHERE sync_status != ?`, models.SyncSynced).Scan(&unsynced)
	if err != nil {
		return 0, 0, 0, &errs.PersistenceError{Op: "count unsynced persons", Err: err}
	}

	err = db.QueryRow(`
		SELECT COUNT(*) FROM persons WHERE sync_status != ? AND updated_at < ?
	`, models.SyncSynced, staleCutoff).Scan(&stale)
	if err != nil {
		return 0, 0, 0, &errs.PersistenceError{Op: "count stale persons", Err: err}
	}

	return total, unsynced, stale, nil
}
