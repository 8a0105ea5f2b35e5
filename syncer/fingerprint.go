// ABOUTME: Content fingerprints for change detection
// ABOUTME: Hashes the mutable fields so no-op updates are detected cheaply
package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/liveport/crmsync/models"
)

// Fields are joined with a unit separator before hashing so adjacent values
// cannot collide ("ab"+"c" vs "a"+"bc"). Phone numbers must already be
// normalized by the caller.

func OrganizationFingerprint(org *models.Organization) string {
	return fingerprint(
		org.Name,
		org.Phone,
		org.Email,
		org.City,
		org.Country,
		org.Status,
		org.SupportLink,
		org.Notes,
		org.DealTitle,
		org.OwnerName,
	)
}

func PersonFingerprint(person *models.Person) string {
	orgRef := ""
	if person.OrgExternalID != nil {
		orgRef = strconv.FormatInt(*person.OrgExternalID, 10)
	}
	return fingerprint(
		person.Name,
		person.Email,
		person.Phone,
		orgRef,
		person.Status,
	)
}

func fingerprint(fields ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}
