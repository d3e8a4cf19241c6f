package parser

import (
	"regexp"
	"strings"
)

// A listing starts at a numbered line ("12. ...") or at an inline "12. AAN" run-on
// produced by PDF text extraction.
var reListingMarker = regexp.MustCompile(`(?m)^[ \t]*\d{1,4}[.)][ \t]+|[ \t]\d{1,4}[.)][ \t]+(?:AAN|A\.A\.N\.|Assessment)`)

// NumberedAAN handles notices written as a numbered list of sentences, e.g.
// "1. AAN: 00254118 / PID: 85006500 – Property assessed to ...".
type NumberedAAN struct{}

func (NumberedAAN) ID() string { return "numbered_aan" }

func (NumberedAAN) Extract(text string) ([]Listing, error) {
	segs := splitAt(text, reListingMarker)
	out := make([]Listing, 0, len(segs))
	for _, seg := range segs {
		out = append(out, Listing{
			Excerpt: seg,
			Draft:   draftFromText(seg),
			Settled: isSettled(seg),
		})
	}
	return out, nil
}

// splitAt cuts text at every marker match; text before the first marker is preamble.
func splitAt(text string, marker *regexp.Regexp) []string {
	locs := marker.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	segs := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if seg := strings.TrimSpace(text[loc[0]:end]); seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}
