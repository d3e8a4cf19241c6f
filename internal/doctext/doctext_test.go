package doctext_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"taxsale/internal/doctext"
	"taxsale/internal/domain"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		name string
		doc  domain.Document
		want string
	}{
		{"content type pdf", domain.Document{ContentType: "application/pdf"}, doctext.KindPDF},
		{"content type xlsx", domain.Document{ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}, doctext.KindXLSX},
		{"extension", domain.Document{URL: "https://x.ca/files/TaxSale.PDF?v=2"}, doctext.KindPDF},
		{"html by type", domain.Document{ContentType: "text/html; charset=utf-8"}, doctext.KindHTML},
		{"magic pdf", domain.Document{Body: []byte("%PDF-1.7 ...")}, doctext.KindPDF},
		{"magic zip", domain.Document{Body: []byte("PK\x03\x04rest")}, doctext.KindXLSX},
		{"plain", domain.Document{Body: []byte("hello")}, doctext.KindText},
	}
	for _, tc := range cases {
		if got := doctext.Detect(tc.doc); got != tc.want {
			t.Errorf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestFromHTML(t *testing.T) {
	page := `<html><head><style>p{color:red}</style><script>var x = "AAN";</script></head>
<body><h1>Property&nbsp;Details</h1>
<table><tr><th>Living Units</th><td>1</td></tr><tr><th>Garage</th><td>N</td></tr></table>
<p>Line one<br>Line two</p></body></html>`
	got, err := doctext.FromHTML(strings.NewReader(page))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	for _, want := range []string{"Property Details", "Living Units 1", "Garage N", "Line one\nLine two"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
	if strings.Contains(got, "color") || strings.Contains(got, "var x") {
		t.Errorf("script/style leaked: %q", got)
	}
}

func TestLinks(t *testing.T) {
	page := `<ul><li><a href="/docs/tax-sale-2026.pdf">Tax Sale 2026</a></li>
<li><a href="https://other.ca/a.xlsx"> List </a></li><li><a name="top">no href</a></li></ul>`
	links, err := doctext.Links(strings.NewReader(page), "https://county.ca/finance/tax-sale")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %+v", links)
	}
	if links[0].Href != "https://county.ca/docs/tax-sale-2026.pdf" || links[0].Text != "Tax Sale 2026" {
		t.Fatalf("first link: %+v", links[0])
	}
	if links[1].Href != "https://other.ca/a.xlsx" || links[1].Text != "List" {
		t.Fatalf("second link: %+v", links[1])
	}
}

func TestFromDocument_Spreadsheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{
		{"AAN", "Owner", "Opening Bid"},
		{"10000001", "Jane Roe", "1000"},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	text, err := doctext.FromDocument(domain.Document{URL: "https://x.ca/list.xlsx", Body: buf.Bytes()})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if text != "AAN\tOwner\tOpening Bid\n10000001\tJane Roe\t1000" {
		t.Fatalf("text: %q", text)
	}
}

func TestFromDocument_Unreadable(t *testing.T) {
	cases := map[string]domain.Document{
		"empty":       {URL: "https://x.ca/a.txt", Body: []byte("  \n")},
		"bad utf8":    {URL: "https://x.ca/a.txt", Body: []byte{0xff, 0xfe, 0x00, 'a'}},
		"broken pdf":  {URL: "https://x.ca/a.pdf", Body: []byte("%PDF-1.4 truncated")},
		"broken xlsx": {URL: "https://x.ca/a.xlsx", Body: bytes.Repeat([]byte("x"), 32)},
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := doctext.FromDocument(doc); !errors.Is(err, domain.ErrFormat) {
				t.Fatalf("expected format failure, got %v", err)
			}
		})
	}
}

func TestFromDocument_NormalizesText(t *testing.T) {
	text, err := doctext.FromDocument(domain.Document{Body: []byte("\r\n\r\nline one  \r\n\r\n\r\nline two\r\n")})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if text != "line one\n\nline two" {
		t.Fatalf("text: %q", text)
	}
}
