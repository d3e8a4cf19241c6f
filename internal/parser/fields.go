package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"taxsale/internal/domain"
)

// Field extractors shared by the free-text layouts. Each one looks at the whole segment
// and returns nil/"" when its pattern is absent; nothing is guessed.

var (
	reAAN = regexp.MustCompile(`(?i)\b(?:AAN|A\.A\.N\.|Assessment\s+(?:Account\s+)?(?:Number|No\.?|#))\s*[:#.]?\s*(\d{6,10}|\d{2,5}-\d{2,5}(?:-\d{1,5})?)\b`)
	rePID = regexp.MustCompile(`(?i)\bPID\s*(?:Number|No\.?|#)?\s*[:#.]?\s*(\d{8})\b`)

	reAssessedTo = regexp.MustCompile(`(?i)\b(?:property\s+)?assessed\s+to\s+`)
	reLocatedAt  = regexp.MustCompile(`(?i)\b(?:located\s+at|situated\s+at|civic\s+address[:\s])\s*`)

	reSize = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*(acres?|ac\.|hectares?|ha\b|sq\.?\s*ft\.?|square\s+feet|sq\.?\s*m\b|square\s+met(?:re|er)s)`)

	// bid patterns in priority order
	reBids = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:opening|minimum|upset)\s+(?:bid|price)\b[^$\d\n]{0,20}\$?\s*([\d,]+(?:\.\d{1,2})?)`),
		regexp.MustCompile(`(?i)\b(?:taxes|amount|total)\s+(?:owing|owed|due|outstanding)\b[^$\d\n]{0,20}\$?\s*([\d,]+(?:\.\d{1,2})?)`),
		regexp.MustCompile(`(?i)\btaxes,?\s+interest\s+and\s+(?:costs|expenses)\b[^$\d\n]{0,20}\$?\s*([\d,]+(?:\.\d{1,2})?)`),
	}

	reNonRedeemable = regexp.MustCompile(`(?i)\bnon[-\s]?redeemable\b`)
	reRedeemable    = regexp.MustCompile(`(?i)\bredeemable\b`)

	// case-sensitive: notices print settlement markers in capitals
	reSettled = regexp.MustCompile(`\b(PAID(?:\s+IN\s+FULL)?|DEFERRED|REDEEMED|WITHDRAWN|CANCELL?ED|REMOVED)\b`)

	// clauses that end a free-text description or address
	reClauseEnd = regexp.MustCompile(`(?i)\b(?:taxes|amount|opening\s+bid|minimum\s+bid|upset\s+price|total\s+due|PID|AAN)\b`)
)

var reAANDigits = regexp.MustCompile(`^\d{6,10}$`)

// NormalizeAAN strips separators and returns "" when the result is not a plausible AAN.
func NormalizeAAN(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '\t' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if !reAANDigits.MatchString(s) {
		return ""
	}
	return s
}

func extractAAN(seg string) string {
	if m := reAAN.FindStringSubmatch(seg); m != nil {
		return NormalizeAAN(m[1])
	}
	return ""
}

func extractPID(seg string) *string {
	if m := rePID.FindStringSubmatch(seg); m != nil {
		return &m[1]
	}
	return nil
}

// extractOwner reads the name after "assessed to", ending at the first sentence break
// that is not an initial ("John A. Smith") or a saint prefix ("St. Clair").
func extractOwner(seg string) *string {
	loc := reAssessedTo.FindStringIndex(seg)
	if loc == nil {
		return nil
	}
	rest := seg[loc[1]:]
	end := len(rest)
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if c == '\n' || c == ';' {
			end = i
			break
		}
		if c == ',' && i+1 < len(rest) && startsDescription(rest[i+1:]) {
			end = i
			break
		}
		if c != '.' {
			continue
		}
		if i+1 < len(rest) && rest[i+1] != ' ' {
			continue
		}
		word := lastWord(rest[:i])
		if len(word) == 1 || strings.EqualFold(word, "st") || strings.EqualFold(word, "ste") ||
			strings.EqualFold(word, "jr") || strings.EqualFold(word, "sr") || strings.EqualFold(word, "mc") {
			continue
		}
		end = i
		break
	}
	return cleanPtr(rest[:end])
}

func startsDescription(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, p := range []string{"land", "dwelling", "located", "vacant", "lot ", "building"} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func lastWord(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[len(f)-1]
}

// extractAddress reads the civic address following "located at".
func extractAddress(seg string) *string {
	loc := reLocatedAt.FindStringIndex(seg)
	if loc == nil {
		return nil
	}
	return cutClause(seg[loc[1]:])
}

// extractDescription returns the text after the owner sentence (or the whole segment body
// when there is no owner clause), stopping before money clauses.
func extractDescription(seg string, owner *string) *string {
	body := seg
	if loc := reAssessedTo.FindStringIndex(seg); loc != nil {
		body = seg[loc[1]:]
		if owner != nil {
			if i := strings.Index(body, *owner); i >= 0 {
				body = body[i+len(*owner):]
			}
		}
	} else if loc := reAAN.FindStringIndex(seg); loc != nil {
		body = seg[loc[1]:]
		if m := rePID.FindStringIndex(body); m != nil && m[0] < 8 {
			body = body[m[1]:]
		}
	}
	body = strings.TrimLeft(body, " .,;:–-/\n\t")
	if m := reClauseEnd.FindStringIndex(body); m != nil {
		body = body[:m[0]]
	}
	return cleanPtr(body)
}

// cutClause keeps s up to the first clause break: ";", a newline, "(", a sentence end
// (". " not followed by lowercase) or a money/identifier clause.
func cutClause(s string) *string {
	end := len(s)
	if i := strings.IndexAny(s, ";\n("); i >= 0 {
		end = i
	}
	for i := 0; i+2 < end; i++ {
		if s[i] == '.' && s[i+1] == ' ' && !unicode.IsLower(rune(s[i+2])) {
			end = i
			break
		}
	}
	if m := reClauseEnd.FindStringIndex(s[:end]); m != nil {
		end = m[0]
	}
	return cleanPtr(s[:end])
}

func extractSize(seg string) string {
	if m := reSize.FindStringSubmatch(seg); m != nil {
		return strings.Join(strings.Fields(m[1]+" "+m[2]), " ")
	}
	return ""
}

func extractBid(seg string) *float64 {
	for _, re := range reBids {
		if m := re.FindStringSubmatch(seg); m != nil {
			if f, ok := parseMoney(m[1]); ok {
				return &f
			}
		}
	}
	return nil
}

func parseMoney(s string) (float64, bool) {
	s = strings.TrimSpace(strings.NewReplacer("$", "", ",", "", " ", "").Replace(s))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}

// extractRedeemable returns nil when the notice says nothing about redemption.
func extractRedeemable(seg string) *bool {
	switch {
	case reNonRedeemable.MatchString(seg):
		return domain.Ptr(false)
	case reRedeemable.MatchString(seg):
		return domain.Ptr(true)
	}
	return nil
}

func isSettled(seg string) bool { return reSettled.MatchString(seg) }

// settledStatus maps a settled listing to the status its stored record moves to.
// Paid and redeemed listings are redeemed; withdrawn, cancelled, removed and deferred
// ones are withdrawn.
func settledStatus(seg string) domain.Status {
	c := strings.ToLower(seg)
	switch {
	case strings.Contains(c, "withdrawn"), strings.Contains(c, "cancel"),
		strings.Contains(c, "removed"), strings.Contains(c, "deferred"):
		return domain.StatusWithdrawn
	case strings.Contains(c, "redeemed"), strings.Contains(c, "paid"):
		return domain.StatusRedeemed
	}
	return domain.StatusWithdrawn
}

func cleanPtr(s string) *string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, " .,;:–-/")
	if s == "" {
		return nil
	}
	return &s
}

// noticeDetails collects the per-listing extras that live in property_details.
func noticeDetails(seg string) domain.Details {
	d := domain.Details{}
	if size := extractSize(seg); size != "" {
		d["notice_size"] = size
	}
	if r := extractRedeemable(seg); r != nil {
		d["redeemable"] = *r
	}
	if len(d) == 0 {
		return nil
	}
	return d
}

// draftFromText applies the full field battery to a free-text segment.
func draftFromText(seg string) domain.Draft {
	owner := extractOwner(seg)
	return domain.Draft{
		AssessmentNumber:    extractAAN(seg),
		PIDNumber:           extractPID(seg),
		OwnerName:           owner,
		CivicAddress:        extractAddress(seg),
		PropertyDescription: extractDescription(seg, owner),
		OpeningBid:          extractBid(seg),
		Details:             noticeDetails(seg),
	}
}
