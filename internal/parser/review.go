package parser

import (
	"regexp"
	"strings"
)

var (
	reNonWord     = regexp.MustCompile(`[^a-z0-9 ]+`)
	reHouseNumber = regexp.MustCompile(`^\d+[a-z]?\s+`)
)

func normName(s string) string {
	s = reNonWord.ReplaceAllString(strings.ToLower(s), " ")
	return " " + strings.Join(strings.Fields(s), " ") + " "
}

// OwnerAddressOverlap detects owner/address bleed, e.g. an owner "Owen St. Clair" next to
// the address "12 Owen St.". Overlapping records are kept as extracted but flagged.
func OwnerAddressOverlap(owner, address *string) (string, bool) {
	if owner == nil || address == nil {
		return "", false
	}
	o := normName(*owner)
	a := normName(*address)
	street := " " + reHouseNumber.ReplaceAllString(strings.TrimSpace(a), "") + " "
	if len(strings.Fields(street)) >= 2 && strings.Contains(o, street) {
		return "owner name contains street name " + strings.TrimSpace(street), true
	}
	if len(strings.Fields(o)) >= 2 && strings.Contains(a, o) {
		return "civic address contains owner name", true
	}
	return "", false
}
