package enrichment

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"taxsale/internal/domain"
)

// fieldExtractor reads one attribute. ok=false means the attribute is absent and the key
// is left out of the result.
type fieldExtractor struct {
	key string
	fn  func(text string) (any, bool)
}

// battery is evaluated in full for every page; extractors never look at each other's output.
var battery = []fieldExtractor{
	{"quality_of_construction", labelString(`quality\s+of\s+construction`)},
	{"under_construction", labelString(`under\s+construction`)},
	{"living_units", labelInt(`living\s+units?`)},
	{"finished_basement", labelString(`finished\s+basement`)},
	{"garage", labelString(`garage`)},
	{"land_size", landSize},
	{"year_built", labelInt(`(?:year\s+built|built\s+year)`)},
	{"bedrooms", labelInt(`bedrooms?`)},
	{"bathrooms", labelNumber(`bathrooms?`)},
	{"assessed_value", assessedValue(false)},
	{"taxable_assessed_value", assessedValue(true)},
}

// Extract applies every field extractor to page text.
func Extract(text string) domain.Details {
	out := domain.Details{}
	for _, f := range battery {
		if v, ok := f.fn(text); ok {
			out[f.key] = v
		}
	}
	return out
}

// label patterns anchor on a line start so "Garage" does not match inside another label
func labelRe(label, value string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)^[ \t]*` + label + `[ \t]*[:\-]?[ \t]*` + value)
}

func labelString(label string) func(string) (any, bool) {
	re := labelRe(label, `([^\s:][^\n]{0,60}?)[ \t]*$`)
	return func(text string) (any, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return nil, false
		}
		v := strings.TrimSpace(m[1])
		return v, v != ""
	}
}

const countPattern = `(\d{1,4}(?:\.\d{1,2})?)\b`

// labelInt reports a fractional value as absent rather than truncating it.
func labelInt(label string) func(string) (any, bool) {
	num := labelNumber(label)
	return func(text string) (any, bool) {
		v, ok := num(text)
		if !ok {
			return nil, false
		}
		n, whole := v.(int)
		return n, whole
	}
}

// labelNumber returns an int for whole values and a float64 otherwise ("1.5" bathrooms).
func labelNumber(label string) func(string) (any, bool) {
	re := labelRe(label, countPattern)
	return func(text string) (any, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return nil, false
		}
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil, false
		}
		if f == math.Trunc(f) {
			return int(f), true
		}
		return f, true
	}
}

var reLandSize = labelRe(`land\s+(?:size|area)`,
	`(\d[\d,]*(?:\.\d+)?(?:[ \t]*(?:acres?|ac\b|hectares?|ha\b|sq\.?[ \t]*ft\.?|square[ \t]+feet|sq\.?[ \t]*m\b|square[ \t]+met(?:re|er)s))?)`)

func landSize(text string) (any, bool) {
	m := reLandSize.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	return strings.Join(strings.Fields(m[1]), " "), true
}

var (
	reAssessed = regexp.MustCompile(`(?im)^[ \t]*(taxable[ \t]+)?assessed[ \t]+value(?:[ \t]*\(\d{4}\))?[ \t]*:?[ \t]*\$?[ \t]*([\d,]+(?:\.\d{1,2})?)`)
)

// assessedValue distinguishes "Assessed Value" from "Taxable Assessed Value" by the
// optional prefix group.
func assessedValue(taxable bool) func(string) (any, bool) {
	return func(text string) (any, bool) {
		for _, m := range reAssessed.FindAllStringSubmatch(text, -1) {
			if (m[1] != "") != taxable {
				continue
			}
			f, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
			if err != nil {
				continue
			}
			return f, true
		}
		return nil, false
	}
}
