package parser

import (
	"regexp"
	"strings"

	"taxsale/internal/domain"
)

var reLabeledStart = regexp.MustCompile(`(?im)^[ \t]*(?:assessment\s+account\s+(?:number|no\.?)|assessment\s+(?:number|no\.?)|AAN)\s*[:#]`)

// LabeledBlock handles notices where each property is a block of "Label: value" lines
// introduced by the assessment number line.
type LabeledBlock struct{}

func (LabeledBlock) ID() string { return "labeled_block" }

func (LabeledBlock) Extract(text string) ([]Listing, error) {
	segs := splitAt(text, reLabeledStart)
	out := make([]Listing, 0, len(segs))
	for _, seg := range segs {
		fields := labeledFields(seg)
		d := domain.Draft{
			AssessmentNumber:    NormalizeAAN(fields["aan"]),
			PIDNumber:           firstDigits(fields["pid"], 8),
			OwnerName:           cleanPtr(fields["owner"]),
			CivicAddress:        cleanPtr(fields["address"]),
			PropertyDescription: cleanPtr(fields["description"]),
			Details:             noticeDetails(seg),
		}
		if d.AssessmentNumber == "" {
			d.AssessmentNumber = extractAAN(seg)
		}
		if d.PIDNumber == nil {
			d.PIDNumber = extractPID(seg)
		}
		if v, ok := parseMoney(fields["bid"]); ok {
			d.OpeningBid = &v
		} else {
			d.OpeningBid = extractBid(seg)
		}
		if size := strings.TrimSpace(fields["size"]); size != "" {
			if d.Details == nil {
				d.Details = domain.Details{}
			}
			d.Details["notice_size"] = size
		}
		settled := isSettled(seg)
		if st := strings.TrimSpace(fields["status"]); st != "" {
			status, settledStatus := statusFromCell(st)
			settled = settled || settledStatus
			d.Status = status
		}
		out = append(out, Listing{Excerpt: seg, Draft: d, Settled: settled})
	}
	return out, nil
}

// labeledFields maps each "Label: value" line to its canonical field name.
// Continuation lines without a label are appended to the previous field.
func labeledFields(seg string) map[string]string {
	out := map[string]string{}
	last := ""
	for _, line := range strings.Split(seg, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		i := strings.Index(line, ":")
		if i > 0 {
			if key, ok := canonicalColumn(line[:i]); ok {
				val := strings.TrimSpace(line[i+1:])
				if out[key] == "" {
					out[key] = val
				}
				last = key
				continue
			}
		}
		if last != "" {
			out[last] = strings.TrimSpace(out[last] + " " + line)
		}
	}
	return out
}

var reDigits = regexp.MustCompile(`\d+`)

func firstDigits(s string, n int) *string {
	for _, m := range reDigits.FindAllString(s, -1) {
		if len(m) == n {
			return &m
		}
	}
	return nil
}
