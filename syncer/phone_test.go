package syncer

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		input    string
		region   string
		expected string
	}{
		// National and international forms of the same number converge.
		{"0400 000 000", "AU", "+61400000000"},
		{"+61 400 000 000", "AU", "+61400000000"},
		{"(04) 0000-0000", "AU", "+61400000000"},
		{"0400000000", "AU", "+61400000000"},

		// Landline with area code.
		{"02 9999 9999", "AU", "+61299999999"},

		// Already E.164 for another region passes through.
		{"+14155552671", "AU", "+14155552671"},

		// Junk normalizes to empty rather than failing the record.
		{"", "AU", ""},
		{"   ", "AU", ""},
		{"not a number", "AU", ""},
		{"123", "AU", ""},
	}

	for _, tt := range tests {
		if got := NormalizePhone(tt.input, tt.region); got != tt.expected {
			t.Errorf("NormalizePhone(%q, %q) = %q, want %q", tt.input, tt.region, got, tt.expected)
		}
	}
}

func TestNormalizePhoneFormattingOnlyChangesConverge(t *testing.T) {
	a := NormalizePhone("0400 000 000", "AU")
	b := NormalizePhone("+61 400-000-000", "AU")
	if a == "" || a != b {
		t.Errorf("formatting variants did not converge: %q vs %q", a, b)
	}
}
