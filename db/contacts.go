// ABOUTME: Destination contact projection operations
// ABOUTME: Records what was pushed, keyed by external key and role
package db

import (
	"database/sql"
	"time"

	"github.com/liveport/crmsync/errs"
	"github.com/liveport/crmsync/models"
)

// SaveContact upserts the destination-facing projection after a confirmed
// push. Repeated pushes of the same entity overwrite the previous snapshot.
func SaveContact(db *sql.DB, contact *models.Contact) error {
	now := time.Now()

	_, err := db.Exec(`
		INSERT INTO contacts
			(external_key, role, name, phone, email, payload, dest_contact_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_key) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			email = excluded.email,
			payload = excluded.payload,
			dest_contact_id = excluded.dest_contact_id,
			updated_at = excluded.updated_at
	`, contact.ExternalKey, contact.Role, contact.Name, contact.Phone,
		contact.Email, contact.Payload, contact.DestContactID, now, now)
	if err != nil {
		return &errs.PersistenceError{Op: "save contact", Err: err}
	}

	return nil
}

// GetContactByExternalKey returns nil without error when absent.
func GetContactByExternalKey(db *sql.DB, externalKey string) (*models.Contact, error) {
	contact := &models.Contact{}
	var phone, email, payload sql.NullString

	err := db.QueryRow(`
		SELECT id, external_key, role, name, phone, email, payload,
		       dest_contact_id, created_at, updated_at
		FROM contacts WHERE external_key = ?
	`, externalKey).Scan(
		&contact.ID, &contact.ExternalKey, &contact.Role, &contact.Name,
		&phone, &email, &payload, &contact.DestContactID,
		&contact.CreatedAt, &contact.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errs.PersistenceError{Op: "get contact", Err: err}
	}

	contact.Phone = phone.String
	contact.Email = email.String
	contact.Payload = payload.String

	return contact, nil
}

// CountContacts returns the number of pushed contact projections.
func CountContacts(db *sql.DB) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count)
	if err != nil {
		return 0, &errs.PersistenceError{Op: "count contacts", Err: err}
	}
	return count, nil
}
