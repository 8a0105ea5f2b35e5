// ABOUTME: Phone number canonicalization
// ABOUTME: Normalizes to E.164 so formatting-only changes never trigger re-pushes
package syncer

import (
	"strings"
	"unicode"

	"github.com/ttacon/libphonenumber"
)

// NormalizePhone parses a free-form phone number against the default region
// and returns it in E.164. Empty, unparseable, or implausibly short numbers
// normalize to "". The destination rejects junk phone values, so dropping
// them beats failing the record.
func NormalizePhone(raw, region string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	num, err := libphonenumber.Parse(trimmed, region)
	if err != nil {
		return ""
	}

	formatted := libphonenumber.Format(num, libphonenumber.E164)
	if digitCount(formatted) < 8 {
		return ""
	}

	return formatted
}

func digitCount(s string) int {
	count := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			count++
		}
	}
	return count
}
