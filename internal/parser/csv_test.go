package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCSVParser_BatchesRows(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("name,age\n")
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&sb, "user%d,%d\n", i, 20+i)
	}
	path := filepath.Join(t.TempDir(), "people.csv")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	units, err := (&CSVParser{}).ParseFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(units))
	}
	if !strings.HasPrefix(units[0].Text, "Headers: name, age\n") {
		t.Errorf("expected header line, got %q", units[0].Text)
	}
	if !strings.Contains(units[0].Text, "name: user0, age: 20") {
		t.Errorf("expected labelled first row, got %q", units[0].Text)
	}
	if units[1].Lines == nil || units[1].Lines.Start != 22 || units[1].Lines.End != 26 {
		t.Errorf("expected second batch on lines 22-26, got %+v", units[1].Lines)
	}
}

func TestFileParsers_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	for ext, p := range DefaultFileParsers() {
		if _, err := p.ParseFile(context.Background(), missing+ext); err == nil {
			t.Errorf("%s: expected error for missing file", ext)
		}
	}
}
