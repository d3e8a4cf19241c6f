package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"taxsale/internal/domain"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sources.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestReadSources(t *testing.T) {
	p := writeFile(t, `[
  {"municipality_name": "Victoria County", "base_url": "https://victoria.example/tax-sale",
   "document_patterns": ["tax[-_ ]sale.*\\.pdf$"], "parser_id": "numbered_aan"},
  {"municipality_name": "Richmond", "base_url": "https://richmond.example/notice.xlsx",
   "parser_id": "delimited", "enabled": false}
]`)
	got, err := readSources(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(got))
	}
	if !got[0].Enabled || got[0].DocumentPatterns[0] != `tax[-_ ]sale.*\.pdf$` {
		t.Fatalf("first: %+v", got[0])
	}
	if got[1].Enabled {
		t.Fatalf("explicit enabled=false ignored")
	}
}

func TestReadSources_Invalid(t *testing.T) {
	if _, err := readSources(writeFile(t, `[{"municipality_name": "X"}]`)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("missing fields: %v", err)
	}
	if _, err := readSources(writeFile(t, `{not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := readSources(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected read error")
	}
}
