package manifest_test

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"imgbatch/internal/manifest"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rows    []manifest.Row
		wantErr error
		wantRow int
	}{
		{name: "empty", rows: nil, wantErr: manifest.ErrEmptyManifest},
		{
			name: "valid",
			rows: []manifest.Row{{"Product Name": "A", "Input Image Urls": "http://x/a.jpg"}},
		},
		{
			name: "missing name on second row",
			rows: []manifest.Row{
				{"Product Name": "A", "Input Image Urls": "http://x/a.jpg"},
				{"Product Name": "  ", "Input Image Urls": "http://x/b.jpg"},
			},
			wantErr: manifest.ErrMissingField,
			wantRow: 2,
		},
		{
			name:    "only separators in urls",
			rows:    []manifest.Row{{"name": "A", "image URLs": " , ,"}},
			wantErr: manifest.ErrMissingField,
			wantRow: 1,
		},
		{
			name: "aliases",
			rows: []manifest.Row{{"NAME": "A", "Image  urls": "http://x/a.jpg"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := manifest.Validate(tt.rows)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			var verr *manifest.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if verr.Row != tt.wantRow {
				t.Fatalf("expected row %d, got %d", tt.wantRow, verr.Row)
			}
		})
	}
}

func TestRowImageURLsSplitsAndTrims(t *testing.T) {
	row := manifest.Row{"Input Image Urls": " http://x/a.jpg ,,http://x/b.jpg, "}
	got := row.ImageURLs()
	want := []string{"http://x/a.jpg", "http://x/b.jpg"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ImageURLs = %v, want %v", got, want)
	}
}

func TestRowAliasPrecedence(t *testing.T) {
	row := manifest.Row{
		"product":    "Footwear",
		"name":       "Shoe",
		"images":     "http://x/late.jpg",
		"image URLs": "http://x/early.jpg",
	}
	for i := 0; i < 50; i++ {
		if got := row.Name(); got != "Shoe" {
			t.Fatalf("call %d: Name = %q, want %q", i, got, "Shoe")
		}
		if got := row.ImageURLs(); !reflect.DeepEqual(got, []string{"http://x/early.jpg"}) {
			t.Fatalf("call %d: ImageURLs = %v", i, got)
		}
	}
}

func TestRowBlankCanonicalFallsBackToAlias(t *testing.T) {
	row := manifest.Row{
		manifest.FieldName:      "  ",
		"name":                  "Shoe",
		manifest.FieldImageURLs: "http://x/a.jpg",
	}
	if got := row.Name(); got != "Shoe" {
		t.Fatalf("Name = %q, want %q", got, "Shoe")
	}
	if err := manifest.Validate([]manifest.Row{row}); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseCSV(t *testing.T) {
	input := "\ufeffS. No.,Product Name,Input Image Urls\n" +
		"1,Shirt,\"http://x/a.jpg,http://x/b.jpg\"\n" +
		",,\n" +
		"2,Hat\n"
	rows, err := manifest.ParseCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Name() != "Shirt" || len(rows[0].ImageURLs()) != 2 {
		t.Fatalf("unexpected first row: %v", rows[0])
	}
	if rows[1].Name() != "Hat" || len(rows[1].ImageURLs()) != 0 {
		t.Fatalf("unexpected second row: %v", rows[1])
	}
	if err := manifest.Validate(rows); !errors.Is(err, manifest.ErrMissingField) {
		t.Fatalf("expected missing field for short row, got %v", err)
	}
}

func TestParseCSVMalformed(t *testing.T) {
	_, err := manifest.ParseCSV(strings.NewReader("Product Name,Input Image Urls\n\"unterminated,x\n"))
	if !errors.Is(err, manifest.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseCSVHeaderOnlyIsEmpty(t *testing.T) {
	rows, err := manifest.ParseCSV(strings.NewReader("Product Name,Input Image Urls\n"))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if err := manifest.Validate(rows); !errors.Is(err, manifest.ErrEmptyManifest) {
		t.Fatalf("expected ErrEmptyManifest, got %v", err)
	}
}

func TestParseXLSX(t *testing.T) {
	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	values := [][]any{
		{"Product Name", "Input Image Urls"},
		{"Lamp", "http://x/lamp.jpg"},
		{"Desk", "http://x/desk1.jpg, http://x/desk2.jpg"},
	}
	for r, record := range values {
		for c, value := range record {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := book.SetCellValue(sheet, cell, value); err != nil {
				t.Fatalf("set cell: %v", err)
			}
		}
	}
	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	rows, err := manifest.Parse("products.xlsx", "", bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if got := rows[1].ImageURLs(); len(got) != 2 || got[1] != "http://x/desk2.jpg" {
		t.Fatalf("unexpected desk urls: %v", got)
	}
}

func TestParseJSON(t *testing.T) {
	input := `[
		{"name": "Mug", "image URLs": ["http://x/mug.jpg", "http://x/mug2.jpg"]},
		{"Product Name": "Cap", "Input Image Urls": "http://x/cap.jpg"}
	]`
	rows, err := manifest.Parse("", "application/json; charset=utf-8", strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := manifest.Validate(rows); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rows[0].Name() != "Mug" || len(rows[0].ImageURLs()) != 2 {
		t.Fatalf("unexpected first row: %v", rows[0])
	}
}

func TestParseJSONRejectsSchemaViolations(t *testing.T) {
	for _, input := range []string{`{"name": "x"}`, `[{"name": 5}]`, `[1, 2]`, `not json`} {
		if _, err := manifest.ParseJSON(strings.NewReader(input)); !errors.Is(err, manifest.ErrMalformed) {
			t.Fatalf("input %q: expected ErrMalformed, got %v", input, err)
		}
	}
}

func TestDetectFormat(t *testing.T) {
	cases := map[string]manifest.Format{
		"a.csv":  manifest.FormatCSV,
		"b.XLSX": manifest.FormatXLSX,
		"c.json": manifest.FormatJSON,
		"":       manifest.FormatCSV,
	}
	for name, want := range cases {
		if got := manifest.DetectFormat(name, ""); got != want {
			t.Fatalf("DetectFormat(%q) = %q, want %q", name, got, want)
		}
	}
}
