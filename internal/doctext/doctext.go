// Package doctext turns fetched notice documents and assessment pages into plain text.
package doctext

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html"

	"taxsale/internal/domain"
)

const (
	KindText = "text"
	KindHTML = "html"
	KindPDF  = "pdf"
	KindXLSX = "xlsx"
)

// Detect picks a conversion by content type, then URL extension, then magic bytes.
func Detect(doc domain.Document) string {
	ct := strings.ToLower(doc.ContentType)
	switch {
	case strings.Contains(ct, "pdf"):
		return KindPDF
	case strings.Contains(ct, "spreadsheetml"), strings.Contains(ct, "ms-excel"):
		return KindXLSX
	case strings.Contains(ct, "html"):
		return KindHTML
	}
	if u, err := url.Parse(doc.URL); err == nil {
		switch strings.ToLower(path.Ext(u.Path)) {
		case ".pdf":
			return KindPDF
		case ".xlsx", ".xlsm":
			return KindXLSX
		case ".html", ".htm":
			return KindHTML
		}
	}
	switch {
	case bytes.HasPrefix(doc.Body, []byte("%PDF-")):
		return KindPDF
	case bytes.HasPrefix(doc.Body, []byte("PK\x03\x04")):
		return KindXLSX
	}
	return KindText
}

// FromDocument extracts text; unreadable content is reported as domain.ErrFormat.
func FromDocument(doc domain.Document) (string, error) {
	if len(bytes.TrimSpace(doc.Body)) == 0 {
		return "", fmt.Errorf("%w: empty document %s", domain.ErrFormat, doc.URL)
	}
	var (
		text string
		err  error
	)
	switch Detect(doc) {
	case KindPDF:
		text, err = pdfText(doc.Body)
	case KindXLSX:
		text, err = xlsxText(doc.Body)
	case KindHTML:
		text, err = FromHTML(bytes.NewReader(doc.Body))
	default:
		if !utf8.Valid(doc.Body) {
			return "", fmt.Errorf("%w: document is not valid UTF-8 text", domain.ErrFormat)
		}
		text = string(doc.Body)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrFormat, err)
	}
	return normalize(text), nil
}

func pdfText(b []byte) (text string, err error) {
	// the pdf reader panics on some malformed cross-reference tables
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("pdf: %v", rec)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	rd, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rd); err != nil {
		return "", fmt.Errorf("pdf text: %w", err)
	}
	return buf.String(), nil
}

// xlsxText flattens every sheet into tab-separated lines.
func xlsxText(b []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("sheet %s: %w", sheet, err)
		}
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "li": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"dt": true, "dd": true, "section": true, "article": true,
}

// FromHTML renders markup as text: block elements become line breaks, table cells are
// separated by a single space, script and style are dropped.
func FromHTML(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var sb strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return normalize(sb.String()), nil
			}
			return "", z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skip++
				continue
			}
			if blockTags[tag] {
				sb.WriteByte('\n')
			} else if tag == "td" || tag == "th" {
				sb.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
				continue
			}
			if blockTags[tag] {
				sb.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		}
	}
}

// Link is an anchor found in markup, with href resolved against the page URL.
type Link struct {
	Href string
	Text string
}

func Links(r io.Reader, pageURL string) ([]Link, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	z := html.NewTokenizer(r)
	var (
		out []Link
		cur *Link
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return out, nil
			}
			return out, z.Err()
		case html.StartTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" || !hasAttr {
				continue
			}
			for {
				k, v, more := z.TagAttr()
				if string(k) == "href" {
					if u, err := base.Parse(strings.TrimSpace(string(v))); err == nil {
						cur = &Link{Href: u.String()}
					}
				}
				if !more {
					break
				}
			}
		case html.TextToken:
			if cur != nil {
				cur.Text += string(z.Text())
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "a" && cur != nil {
				cur.Text = strings.TrimSpace(cur.Text)
				out = append(out, *cur)
				cur = nil
			}
		}
	}
}

// normalize unifies line endings, non-breaking spaces and blank-line runs.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if strings.TrimSpace(l) == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
