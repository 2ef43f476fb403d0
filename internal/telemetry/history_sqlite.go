package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultSampleLimit = 50
	maxSampleLimit     = 500
)

// SQLiteHistoryRepository implements HistoryRepository using SQLite.
//
// It stores sample payloads as JSON in the sample_history table.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a new SQLite sample history repository.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteHistoryRepository: Repository instance ready for use
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// RecordSample inserts a new sample history row.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - path: Dotted telemetry path
//   - source: Producing device label (may be empty)
//   - value: Sample payload to persist
//   - at: Sample timestamp (zero means now)
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteHistoryRepository) RecordSample(ctx context.Context, path, source string, value Value, at time.Time) error {
	if path == "" {
		return fmt.Errorf("path is required")
	}
	if at.IsZero() {
		at = time.Now()
	}

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshalling sample value: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO sample_history (path, source, value, created_at) VALUES (?, ?, ?, ?)",
		path,
		source,
		string(valueJSON),
		at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting sample history: %w", err)
	}

	return nil
}

// GetSamples returns recent samples for a path, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - path: Dotted telemetry path
//   - source: Producing device label, or empty for all sources
//   - limit: Maximum entries to return (default 50, max 500)
//
// Returns:
//   - []SampleRecord: Samples ordered by created_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteHistoryRepository) GetSamples(ctx context.Context, path, source string, limit int) ([]SampleRecord, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if limit <= 0 {
		limit = defaultSampleLimit
	}
	if limit > maxSampleLimit {
		limit = maxSampleLimit
	}

	query := `SELECT id, path, source, value, created_at
		 FROM sample_history
		 WHERE path = ?
		 ORDER BY created_at DESC
		 LIMIT ?`
	args := []any{path, limit}

	if source != "" {
		query = `SELECT id, path, source, value, created_at
		 FROM sample_history
		 WHERE path = ? AND source = ?
		 ORDER BY created_at DESC
		 LIMIT ?`
		args = []any{path, source, limit}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sample history: %w", err)
	}
	defer rows.Close()

	records := make([]SampleRecord, 0, limit)
	for rows.Next() {
		var record SampleRecord
		var valueJSON string
		var createdAt string

		if err := rows.Scan(&record.ID, &record.Path, &record.Source, &valueJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning sample history: %w", err)
		}

		if err := json.Unmarshal([]byte(valueJSON), &record.Value); err != nil {
			return nil, fmt.Errorf("unmarshalling sample value: %w", err)
		}

		timestamp, err := parseSampleTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		record.CreatedAt = timestamp

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sample history: %w", err)
	}

	return records, nil
}

// PruneSamples deletes samples older than the given duration.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Duration to retain (samples older than now-olderThan are deleted)
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteHistoryRepository) PruneSamples(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM sample_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting sample history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// parseSampleTimestamp parses a timestamp stored in SQLite.
func parseSampleTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
