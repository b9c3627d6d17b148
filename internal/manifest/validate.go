package manifest

// Validate checks that a manifest has at least one row and that every row
// carries a name and a non-empty image URL list. It reports the first
// problem found.
func Validate(rows []Row) error {
	if len(rows) == 0 {
		return &ValidationError{Kind: ErrEmptyManifest}
	}
	for i, row := range rows {
		if row.Name() == "" {
			return &ValidationError{Kind: ErrMissingField, Row: i + 1, Field: FieldName}
		}
		if len(row.ImageURLs()) == 0 {
			return &ValidationError{Kind: ErrMissingField, Row: i + 1, Field: FieldImageURLs}
		}
	}
	return nil
}
