package jobstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	jobColumns  = "id, status, error_message, item_count, created_at, updated_at, completed_at"
	itemColumns = "job_id, position, name, input_urls, output_urls, failures, state, updated_at"
)

type scanner interface{ Scan(dest ...any) error }

func scanJob(row scanner) (*Job, error) {
	var (
		job          Job
		status       string
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
		completedRaw sql.NullString
	)
	if err := row.Scan(&job.ID, &status, &errorMessage, &job.ItemCount, &createdRaw, &updatedRaw, &completedRaw); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.ErrorMessage = errorMessage.String
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	return &job, nil
}

func scanItem(row scanner) (Item, error) {
	var (
		item       Item
		inputRaw   string
		outputRaw  string
		failureRaw string
		state      string
		updatedRaw string
	)
	if err := row.Scan(&item.JobID, &item.Position, &item.Name, &inputRaw, &outputRaw, &failureRaw, &state, &updatedRaw); err != nil {
		return Item{}, err
	}
	item.State = ItemState(state)
	if err := decodeJSON(inputRaw, &item.InputURLs); err != nil {
		return Item{}, fmt.Errorf("decode input urls: %w", err)
	}
	if err := decodeJSON(outputRaw, &item.OutputURLs); err != nil {
		return Item{}, fmt.Errorf("decode output urls: %w", err)
	}
	if err := decodeJSON(failureRaw, &item.Failures); err != nil {
		return Item{}, fmt.Errorf("decode failures: %w", err)
	}
	if item.OutputURLs == nil {
		item.OutputURLs = []string{}
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func encodeJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return "[]", nil
	}
	return string(data), nil
}

func decodeJSON(raw string, dest any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
