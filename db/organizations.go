// ABOUTME: Organization mirror table operations
// ABOUTME: Upserts by external ID and manages per-row sync lifecycle
package db

import (
	"database/sql"
	"time"

	"github.com/liveport/crmsync/errs"
	"github.com/liveport/crmsync/models"
)

// GetOrganizationByExternalID returns nil without error when the row is absent.
func GetOrganizationByExternalID(db *sql.DB, externalID int64) (*models.Organization, error) {
	org := &models.Organization{}
	var (
		phone, email, city, country, status       sql.NullString
		supportLink, notes, dealTitle, ownerName  sql.NullString
		rawData, lastError                        sql.NullString
		destContactID                             sql.NullInt64
		sourceUpdated                             sql.NullTime
	)

	err := db.QueryRow(`
		SELECT id, external_id, name, phone, email, city, country, status,
		       support_link, notes, deal_title, owner_name, raw_data,
		       fingerprint, sync_status, dest_contact_id, failure_count,
		       last_error, source_updated, created_at, updated_at
		FROM organizations WHERE external_id = ?
	`, externalID).Scan(
		&org.ID, &org.ExternalID, &org.Name, &phone, &email, &city, &country,
		&status, &supportLink, &notes, &dealTitle, &ownerName, &rawData,
		&org.Fingerprint, &org.SyncStatus, &destContactID, &org.FailureCount,
		&lastError, &sourceUpdated, &org.CreatedAt, &org.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errs.PersistenceError{Op: "get organization", Err: err}
	}

	org.Phone = phone.String
	org.Email = email.String
	org.City = city.String
	org.Country = country.String
	org.Status = status.String
	org.SupportLink = supportLink.String
	org.Notes = notes.String
	org.DealTitle = dealTitle.String
	org.OwnerName = ownerName.String
	org.RawData = rawData.String
	org.LastError = lastError.String
	if destContactID.Valid {
		org.DestContactID = &destContactID.Int64
	}
	if sourceUpdated.Valid {
		org.SourceUpdated = &sourceUpdated.Time
	}

	return org, nil
}

// InsertOrganization creates a new mirror row in the pending state.
func InsertOrganization(db *sql.DB, org *models.Organization) error {
	now := time.Now()
	org.CreatedAt = now
	org.UpdatedAt = now
	org.SyncStatus = models.SyncPending

	res, err := db.Exec(`
		INSERT INTO organizations
			(external_id, name, phone, email, city, country, status,
			 support_link, notes, deal_title, owner_name, raw_data,
			 fingerprint, sync_status, source_updated, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, org.ExternalID, org.Name, org.Phone, org.Email, org.City, org.Country,
		org.Status, org.SupportLink, org.Notes, org.DealTitle, org.OwnerName,
		org.RawData, org.Fingerprint, org.SyncStatus, org.SourceUpdated,
		org.CreatedAt, org.UpdatedAt)
	if err != nil {
		return &errs.PersistenceError{Op: "insert organization", Err: err}
	}

	org.ID, _ = res.LastInsertId()
	return nil
}

// UpdateOrganization refreshes mutable fields on a changed row and returns it
// to the pending state so it becomes a push candidate again. The failure
// count is preserved across content changes.
func UpdateOrganization(db *sql.DB, org *models.Organization) error {
	org.UpdatedAt = time.Now()
	org.SyncStatus = models.SyncPending

	_, err := db.Exec(`
		UPDATE organizations SET
			name = ?, phone = ?, email = ?, city = ?, country = ?, status = ?,
			support_link = ?, notes = ?, deal_title = ?, owner_name = ?,
			raw_data = ?, fingerprint = ?, sync_status = ?, source_updated = ?,
			updated_at = ?
		WHERE external_id = ?
	`, org.Name, org.Phone, org.Email, org.City, org.Country, org.Status,
		org.SupportLink, org.Notes, org.DealTitle, org.OwnerName, org.RawData,
		org.Fingerprint, org.SyncStatus, org.SourceUpdated, org.UpdatedAt,
		org.ExternalID)
	if err != nil {
		return &errs.PersistenceError{Op: "update organization", Err: err}
	}

	return nil
}

// MarkOrganizationSynced records a confirmed push: synced status and the
// destination contact ID are set together so the pair invariant holds.
func MarkOrganizationSynced(db *sql.DB, externalID, destContactID int64) error {
	_, err := db.Exec(`
		UPDATE organizations SET
			sync_status = ?, dest_contact_id = ?, last_error = NULL, updated_at = ?
		WHERE external_id = ?
	`, models.SyncSynced, destContactID, time.Now(), externalID)
	if err != nil {
		return &errs.PersistenceError{Op: "mark organization synced", Err: err}
	}
	return nil
}

// MarkOrganizationFailed records a push failure without touching content
// fields; the row stays a candidate for the next run.
func MarkOrganizationFailed(db *sql.DB, externalID int64, message string) error {
	_, err := db.Exec(`
		UPDATE organizations SET
			sync_status = ?, failure_count = failure_count + 1, last_error = ?, updated_at = ?
		WHERE external_id = ?
	`, models.SyncFailed, message, time.Now(), externalID)
	if err != nil {
		return &errs.PersistenceError{Op: "mark organization failed", Err: err}
	}
	return nil
}

// ListUnsyncedOrganizations returns every row that still needs a push,
// including leftovers from interrupted runs.
func ListUnsyncedOrganizations(db *sql.DB) ([]models.Organization, error) {
	rows, err := db.Query(`
		SELECT external_id FROM organizations
		WHERE sync_status != ? ORDER BY external_id
	`, models.SyncSynced)
	if err != nil {
		return nil, &errs.PersistenceError{Op: "list unsynced organizations", Err: err}
	}

	// Drain IDs before re-querying: the store runs on one connection, so a
	// nested query while the cursor is open would wait on itself.
	var ids []int64
	for rows.Next() {
		var externalID int64
		if err := rows.Scan(&externalID); err != nil {
			_ = rows.Close()
			return nil, &errs.PersistenceError{Op: "scan unsynced organization", Err: err}
		}
		ids = append(ids, externalID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, &errs.PersistenceError{Op: "iterate unsynced organizations", Err: err}
	}
	_ = rows.Close()

	var orgs []models.Organization
	for _, externalID := range ids {
		org, err := GetOrganizationByExternalID(db, externalID)
		if err != nil {
			return nil, err
		}
		if org != nil {
			orgs = append(orgs, *org)
		}
	}

	return orgs, nil
}

// CountOrganizations returns total, unsynced, and stale counts. Stale means
// unsynced and untouched since the cutoff.
func CountOrganizations(db *sql.DB, staleCutoff time.Time) (total, unsynced, stale int, err error) {
	err = db.QueryRow(`SELECT COUNT(*) FROM organizations`).Scan(&total)
	if err != nil {
		return 0, 0, 0, &errs.PersistenceError{Op: "count organizations", Err: err}
	}

	err = db.QueryRow(`SELECT COUNT(*) FROM organizations WHERE sync_status != ?`, models.SyncSynced).Scan(&unsynced)
	if err != nil {
		return 0, 0, 0, &errs.PersistenceError{Op: "count unsynced organizations", Err: err}
	}

	err = db.QueryRow(`
		SELECT COUNT(*) FROM organizations WHERE sync_status != ? AND updated_at < ?
	`, models.SyncSynced, staleCutoff).Scan(&stale)
	if err != nil {
		return 0, 0, 0, &errs.PersistenceError{Op: "count stale organizations", Err: err}
	}

	return total, unsynced, stale, nil
}

// CountSyncedOrganizations returns rows with a confirmed destination contact.
func CountSyncedOrganizations(db *sql.DB) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM organizations WHERE sync_status = ?`, models.SyncSynced).Scan(&count)
	if err != nil {
		return 0, &errs.PersistenceError{Op: "count synced organizations", Err: err}
	}
	return count, nil
}
