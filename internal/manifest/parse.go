package manifest

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/xuri/excelize/v2"
)

//go:embed manifest.schema.json
var manifestSchema []byte

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("manifest.schema.json", bytes.NewReader(manifestSchema)); err != nil {
		panic(fmt.Sprintf("add manifest schema: %v", err))
	}
	schema, err := compiler.Compile("manifest.schema.json")
	if err != nil {
		panic(fmt.Sprintf("compile manifest schema: %v", err))
	}
	return schema
}

// Format identifies a manifest encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// DetectFormat picks a format from a filename extension, falling back to the
// content type. CSV is assumed when neither is conclusive.
func DetectFormat(filename, contentType string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		return FormatXLSX
	case ".json":
		return FormatJSON
	case ".csv":
		return FormatCSV
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/json":
		return FormatJSON
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return FormatXLSX
	}
	return FormatCSV
}

// Parse decodes a manifest in the format implied by filename and contentType.
func Parse(filename, contentType string, r io.Reader) ([]Row, error) {
	switch DetectFormat(filename, contentType) {
	case FormatXLSX:
		return ParseXLSX(r)
	case FormatJSON:
		return ParseJSON(r)
	default:
		return ParseCSV(r)
	}
}

// ParseCSV reads a header row followed by records. Short records leave the
// missing columns empty.
func ParseCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, malformed("read csv: %w", err)
	}
	return rowsFromRecords(records), nil
}

// ParseXLSX reads the first sheet of a workbook, treating its first row as
// the header.
func ParseXLSX(r io.Reader) ([]Row, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, malformed("open workbook: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, malformed("workbook has no sheets")
	}
	records, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, malformed("read sheet %q: %w", sheets[0], err)
	}
	return rowsFromRecords(records), nil
}

// ParseJSON reads an array of objects. Values are strings; the image URL
// column may also be an array of strings.
func ParseJSON(r io.Reader) ([]Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, malformed("read json: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, malformed("decode json: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, malformed("schema: %w", err)
	}

	objects, _ := doc.([]any)
	rows := make([]Row, 0, len(objects))
	for _, obj := range objects {
		fields, _ := obj.(map[string]any)
		row := make(Row, len(fields))
		for key, value := range fields {
			switch v := value.(type) {
			case string:
				row[key] = v
			case []any:
				parts := make([]string, 0, len(v))
				for _, item := range v {
					if s, ok := item.(string); ok {
						parts = append(parts, s)
					}
				}
				row[key] = strings.Join(parts, ",")
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func rowsFromRecords(records [][]string) []Row {
	if len(records) == 0 {
		return nil
	}
	header := make([]string, len(records[0]))
	for i, col := range records[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
	}

	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		if blankRecord(record) {
			continue
		}
		row := make(Row, len(header))
		for i, col := range header {
			if col == "" {
				continue
			}
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
