package parser

import (
	"encoding/csv"
	"errors"
	"regexp"
	"strings"

	"taxsale/internal/domain"
)

/********** column alias registry (shared with labeled blocks) **********/

var columnAliases = map[string][]string{
	"aan":         {"aan", "a.a.n.", "assessment account number", "assessment number", "assessment no", "assessment #", "account number", "account", "assessment account"},
	"pid":         {"pid", "pid number", "pid no", "parcel id", "parcel identifier"},
	"owner":       {"owner", "owners", "assessed owner", "assessed to", "name", "owner name", "assessed owner(s)"},
	"address":     {"address", "civic address", "location", "property location", "civic", "property address"},
	"description": {"description", "property description", "legal description", "property", "type"},
	"size":        {"size", "land size", "area", "acreage", "lot size"},
	"bid":         {"opening bid", "minimum bid", "upset price", "taxes owing", "amount owing", "amount", "total due", "taxes, interest and costs", "amount due"},
	"status":      {"status", "remarks", "notes", "redemption"},
}

var aliasIndex = func() map[string]string {
	idx := make(map[string]string, 64)
	for key, aliases := range columnAliases {
		for _, a := range aliases {
			idx[a] = key
		}
	}
	return idx
}()

var reLabelNoise = regexp.MustCompile(`[\s_]+`)

func canonicalColumn(label string) (string, bool) {
	l := strings.ToLower(strings.TrimSpace(label))
	l = reLabelNoise.ReplaceAllString(l, " ")
	l = strings.TrimRight(l, ":. ")
	key, ok := aliasIndex[l]
	return key, ok
}

/********** delimited rows **********/

var reMultiSpace = regexp.MustCompile(`[ \t]{2,}`)

// Delimited handles tabular notices (spreadsheets, CSV exports, column-aligned text).
// The first line that names an assessment-number column is the header; every later
// non-empty line is one listing.
type Delimited struct{}

func (Delimited) ID() string { return "delimited" }

func (Delimited) Extract(text string) ([]Listing, error) {
	lines := strings.Split(text, "\n")
	hdr, split := -1, splitter(nil)
	var cols map[int]string
	for i, line := range lines {
		if s, c := headerColumns(line); c != nil {
			hdr, split, cols = i, s, c
			break
		}
	}
	if hdr < 0 {
		return nil, errors.New("no header row naming an assessment number column")
	}

	var out []Listing
	for _, line := range lines[hdr+1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := split(line)
		if len(cells) < 2 {
			continue
		}
		fields := map[string]string{}
		for i, cell := range cells {
			if key, ok := cols[i]; ok && fields[key] == "" {
				fields[key] = strings.TrimSpace(cell)
			}
		}
		d := domain.Draft{
			AssessmentNumber:    NormalizeAAN(fields["aan"]),
			PIDNumber:           firstDigits(fields["pid"], 8),
			OwnerName:           cleanPtr(fields["owner"]),
			CivicAddress:        cleanPtr(fields["address"]),
			PropertyDescription: cleanPtr(fields["description"]),
			Details:             noticeDetails(line),
		}
		if v, ok := parseMoney(fields["bid"]); ok {
			d.OpeningBid = &v
		}
		if size := fields["size"]; size != "" {
			if d.Details == nil {
				d.Details = domain.Details{}
			}
			d.Details["notice_size"] = size
		}
		settled := isSettled(line)
		if st := fields["status"]; st != "" {
			status, settledStatus := statusFromCell(st)
			settled = settled || settledStatus
			d.Status = status
		}
		out = append(out, Listing{Excerpt: strings.TrimSpace(line), Draft: d, Settled: settled})
	}
	return out, nil
}

type splitter func(string) []string

func csvSplitter(sep rune) splitter {
	return func(line string) []string {
		r := csv.NewReader(strings.NewReader(line))
		r.Comma = sep
		r.LazyQuotes = true
		r.FieldsPerRecord = -1
		rec, err := r.Read()
		if err != nil {
			return strings.Split(line, string(sep))
		}
		return rec
	}
}

func plainSplitter(sep string) splitter {
	return func(line string) []string { return strings.Split(line, sep) }
}

var candidateSplitters = []splitter{
	plainSplitter("\t"),
	plainSplitter("|"),
	csvSplitter(';'),
	csvSplitter(','),
	func(line string) []string { return reMultiSpace.Split(strings.TrimSpace(line), -1) },
}

// headerColumns returns the splitter and column mapping if line is a header row.
func headerColumns(line string) (splitter, map[int]string) {
	for _, s := range candidateSplitters {
		cells := s(line)
		if len(cells) < 2 {
			continue
		}
		cols := map[int]string{}
		for i, c := range cells {
			if key, ok := canonicalColumn(c); ok {
				cols[i] = key
			}
		}
		for _, key := range cols {
			if key == "aan" && len(cols) >= 2 {
				return s, cols
			}
		}
	}
	return nil, nil
}

// statusFromCell maps a free-form status cell to a record status and whether the
// listing is settled (and therefore excluded).
func statusFromCell(cell string) (domain.Status, bool) {
	c := strings.ToLower(strings.TrimSpace(cell))
	switch {
	case strings.Contains(c, "paid"), strings.Contains(c, "deferred"),
		strings.Contains(c, "redeemed"), strings.Contains(c, "withdrawn"),
		strings.Contains(c, "cancel"), strings.Contains(c, "removed"):
		return "", true
	case strings.Contains(c, "sold"):
		return domain.StatusSold, false
	}
	return "", false
}
