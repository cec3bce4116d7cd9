package domain

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName puts a user-entered name into NFC with surrounding
// whitespace trimmed. Names arrive from different platforms and keyboards;
// without a canonical form the same name entered offline and online can
// compare unequal and trip conflict detection on a field nobody changed.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
