package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"taxsale/internal/domain"
)

// Assessments reads per-property assessment pages from {base}/property/{aan}.
type Assessments struct {
	c    *Client
	base string
}

func NewAssessments(c *Client, base string) *Assessments {
	return &Assessments{c: c, base: strings.TrimRight(base, "/")}
}

func (a *Assessments) FetchAssessment(ctx context.Context, aan string) (string, error) {
	if a.base == "" {
		return "", fmt.Errorf("%w: enrichment source not configured", domain.ErrTransport)
	}
	resp, err := a.c.get(ctx, "assessment", a.base+"/property/"+url.PathEscape(aan), "text/html, text/plain")
	if err != nil {
		return "", err
	}
	return string(resp.body), nil
}
