package fetch

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"taxsale/internal/doctext"
	"taxsale/internal/domain"
)

// Documents downloads tax-sale notices. A source's base URL is either the document itself
// or a listing page whose links are matched against the source's document patterns.
type Documents struct{ c *Client }

func NewDocuments(c *Client) *Documents { return &Documents{c: c} }

func (d *Documents) FetchDocument(ctx context.Context, src domain.MunicipalitySourceConfig) (domain.Document, error) {
	if strings.TrimSpace(src.BaseURL) == "" {
		return domain.Document{}, fmt.Errorf("%w: source %d has no base url", domain.ErrValidation, src.ID)
	}
	resp, err := d.c.get(ctx, "document", src.BaseURL, "")
	if err != nil {
		return domain.Document{}, err
	}
	doc := domain.Document{URL: resp.url, ContentType: resp.contentType, Body: resp.body}
	if doctext.Detect(doc) != doctext.KindHTML || len(src.DocumentPatterns) == 0 {
		return doc, nil
	}

	link, err := pickLink(doc, src.DocumentPatterns)
	if err != nil {
		return domain.Document{}, err
	}
	log.Debug().Int64("source_id", src.ID).Str("url", link).Msg("document discovered")
	resp, err = d.c.get(ctx, "document", link, "")
	if err != nil {
		return domain.Document{}, err
	}
	return domain.Document{URL: resp.url, ContentType: resp.contentType, Body: resp.body}, nil
}

// pickLink returns the first link whose URL or text matches a pattern; patterns are tried
// in order so the first pattern has priority over later ones.
func pickLink(page domain.Document, patterns []string) (string, error) {
	links, err := doctext.Links(bytes.NewReader(page.Body), page.URL)
	if err != nil {
		return "", fmt.Errorf("%w: listing page: %v", domain.ErrFormat, err)
	}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return "", fmt.Errorf("%w: document pattern %q: %v", domain.ErrValidation, p, err)
		}
		for _, l := range links {
			if re.MatchString(l.Href) || re.MatchString(l.Text) {
				return l.Href, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no link on %s matches document patterns", domain.ErrNotFound, page.URL)
}
