package db

import (
	"testing"

	"github.com/liveport/crmsync/models"
)

func TestSaveContactUpsertsByExternalKey(t *testing.T) {
	database := openTestDB(t)

	contact := &models.Contact{
		ExternalKey:   "org-42",
		Role:          models.RoleOrganization,
		Name:          "Acme Pty Ltd",
		Phone:         "+61400000000",
		Payload:       `{"name":"Acme Pty Ltd"}`,
		DestContactID: 900,
	}
	if err := SaveContact(database, contact); err != nil {
		t.Fatalf("SaveContact failed: %v", err)
	}

	// Re-push of the same entity overwrites the previous snapshot.
	contact.Name = "Acme Renamed"
	contact.DestContactID = 901
	if err := SaveContact(database, contact); err != nil {
		t.Fatalf("second SaveContact failed: %v", err)
	}

	got, err := GetContactByExternalKey(database, "org-42")
	if err != nil {
		t.Fatalf("GetContactByExternalKey failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected contact, got nil")
	}
	if got.Name != "Acme Renamed" || got.DestContactID != 901 {
		t.Errorf("upsert did not overwrite: %+v", got)
	}

	count, err := CountContacts(database)
	if err != nil {
		t.Fatalf("CountContacts failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 contact after upsert, got %d", count)
	}
}

func TestGetContactByExternalKeyAbsent(t *testing.T) {
	database := openTestDB(t)

	got, err := GetContactByExternalKey(database, "person-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestSaveContactRejectsUnknownRole(t *testing.T) {
	database := openTestDB(t)

	err := SaveContact(database, &models.Contact{
		ExternalKey:   "deal-1",
		Role:          "deal",
		Name:          "Nope",
		DestContactID: 1,
	})
	if err == nil {
		t.Error("expected CHECK constraint to reject an unknown role")
	}
}
