package manifest

import (
	"maps"
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

const (
	// FieldName is the canonical column holding the item name.
	FieldName = "Product Name"
	// FieldImageURLs is the canonical column holding comma-separated image URLs.
	FieldImageURLs = "Input Image Urls"
)

var fieldAliases = map[string][]string{
	FieldName:      {FieldName, "name", "product"},
	FieldImageURLs: {FieldImageURLs, "image URLs", "input image urls", "images"},
}

var folder = cases.Fold()

// Row is one manifest record keyed by column header.
type Row map[string]string

// Name returns the trimmed item name.
func (r Row) Name() string {
	return strings.TrimSpace(r.lookup(FieldName))
}

// ImageURLs splits the URL column on commas, dropping blank entries.
func (r Row) ImageURLs() []string {
	return SplitURLs(r.lookup(FieldImageURLs))
}

// SplitURLs splits a comma-separated URL list, trimming blanks and dropping
// empty entries.
func SplitURLs(raw string) []string {
	parts := strings.Split(raw, ",")
	urls := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	return urls
}

// lookup returns the first non-blank value among the field's aliases, in
// alias order. Headers that fold to the same alias are tried in sorted order.
func (r Row) lookup(field string) string {
	var headers []string
	for _, alias := range fieldAliases[field] {
		if value, ok := r[alias]; ok && strings.TrimSpace(value) != "" {
			return value
		}
		if headers == nil {
			headers = slices.Sorted(maps.Keys(r))
		}
		want := headerKey(alias)
		for _, header := range headers {
			if value := r[header]; headerKey(header) == want && strings.TrimSpace(value) != "" {
				return value
			}
		}
	}
	return ""
}

// headerKey normalizes a column header for comparison.
func headerKey(header string) string {
	return folder.String(strings.Join(strings.Fields(header), " "))
}
