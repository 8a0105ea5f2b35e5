package syncer

import (
	"testing"

	"github.com/liveport/crmsync/models"
)

func TestOrganizationFingerprintStable(t *testing.T) {
	org := &models.Organization{
		ExternalID: 1,
		Name:       "Acme Pty Ltd",
		Phone:      "+61400000000",
		Email:      "hello@acme.com.au",
		City:       "Sydney",
		Status:     "Customer",
	}

	a := OrganizationFingerprint(org)
	b := OrganizationFingerprint(org)
	if a != b {
		t.Errorf("fingerprint not deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestOrganizationFingerprintDetectsChanges(t *testing.T) {
	base := &models.Organization{Name: "Acme", Phone: "+61400000000", Email: "a@acme.com"}
	baseFP := OrganizationFingerprint(base)

	changed := *base
	changed.Email = "b@acme.com"
	if OrganizationFingerprint(&changed) == baseFP {
		t.Error("email change did not alter fingerprint")
	}

	// Bookkeeping fields never participate.
	bookkeeping := *base
	bookkeeping.SyncStatus = models.SyncSynced
	bookkeeping.FailureCount = 5
	bookkeeping.RawData = `{"anything": true}`
	if OrganizationFingerprint(&bookkeeping) != baseFP {
		t.Error("bookkeeping fields altered fingerprint")
	}
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	// "ab" + "c" must not collide with "a" + "bc" across the separator.
	a := &models.Organization{Name: "ab", Phone: "c"}
	b := &models.Organization{Name: "a", Phone: "bc"}
	if OrganizationFingerprint(a) == OrganizationFingerprint(b) {
		t.Error("adjacent fields collided")
	}
}

func TestPersonFingerprintIncludesOrgReference(t *testing.T) {
	orgA := int64(10)
	orgB := int64(20)

	person := &models.Person{Name: "Jo", Email: "jo@acme.com", OrgExternalID: &orgA}
	moved := &models.Person{Name: "Jo", Email: "jo@acme.com", OrgExternalID: &orgB}
	unlinked := &models.Person{Name: "Jo", Email: "jo@acme.com"}

	fpA := PersonFingerprint(person)
	if fpA == PersonFingerprint(moved) {
		t.Error("organization move did not alter fingerprint")
	}
	if fpA == PersonFingerprint(unlinked) {
		t.Error("unlinking organization did not alter fingerprint")
	}
}
