package telemetry

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupHistoryTestDB creates an in-memory SQLite database with the sample_history table.
func setupHistoryTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE sample_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			path       TEXT NOT NULL,
			source     TEXT NOT NULL DEFAULT '',
			value      TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX idx_sample_history_path_created ON sample_history(path, created_at);
		CREATE INDEX idx_sample_history_created_at ON sample_history(created_at);
		CREATE INDEX idx_sample_history_path_source_created ON sample_history(path, source, created_at);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// insertSampleRow inserts a sample history row with a specific timestamp.
func insertSampleRow(t *testing.T, db *sql.DB, path, source, valueJSON string, createdAt time.Time) {
	t.Helper()

	_, err := db.Exec(
		"INSERT INTO sample_history (path, source, value, created_at) VALUES (?, ?, ?, ?)",
		path,
		source,
		valueJSON,
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		t.Fatalf("failed to insert sample history row: %v", err)
	}
}

// TestRecordSample verifies sample writes and retrieval.
func TestRecordSample(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	if err := repo.RecordSample(ctx, "navigation.speedOverGround", "gps.0", NumberValue(5.14), at); err != nil {
		t.Fatalf("RecordSample() error = %v", err)
	}

	records, err := repo.GetSamples(ctx, "navigation.speedOverGround", "", 10)
	if err != nil {
		t.Fatalf("GetSamples() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records length = %d, want 1", len(records))
	}

	record := records[0]
	if record.Path != "navigation.speedOverGround" {
		t.Errorf("Path = %q, want %q", record.Path, "navigation.speedOverGround")
	}
	if record.Source != "gps.0" {
		t.Errorf("Source = %q, want %q", record.Source, "gps.0")
	}
	if !record.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt = %s, want %s", record.CreatedAt, at)
	}
	if num, ok := record.Value.Number(); !ok || num != 5.14 {
		t.Errorf("Value = %v, want 5.14", record.Value)
	}
}

// TestRecordSample_EmptyPath verifies the path guard.
func TestRecordSample_EmptyPath(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)

	err := repo.RecordSample(context.Background(), "", "gps.0", NumberValue(1), time.Now())
	if err == nil {
		t.Fatal("RecordSample() expected error for empty path")
	}
}

// TestRecordSample_NonNumeric verifies non-numeric payloads survive the round trip.
func TestRecordSample_NonNumeric(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	at := time.Now().UTC().Truncate(time.Second)
	if err := repo.RecordSample(ctx, "navigation.state", "", TextValue("anchored"), at); err != nil {
		t.Fatalf("RecordSample() error = %v", err)
	}
	if err := repo.RecordSample(ctx, "notifications.anchor", "", BoolValue(true), at); err != nil {
		t.Fatalf("RecordSample() error = %v", err)
	}

	records, err := repo.GetSamples(ctx, "navigation.state", "", 10)
	if err != nil {
		t.Fatalf("GetSamples() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records length = %d, want 1", len(records))
	}
	if text, ok := records[0].Value.Text(); !ok || text != "anchored" {
		t.Errorf("Value = %v, want %q", records[0].Value, "anchored")
	}

	records, err = repo.GetSamples(ctx, "notifications.anchor", "", 10)
	if err != nil {
		t.Fatalf("GetSamples() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records length = %d, want 1", len(records))
	}
	if b, ok := records[0].Value.Bool(); !ok || !b {
		t.Errorf("Value = %v, want true", records[0].Value)
	}
}

// TestGetSamples verifies ordering and limit enforcement.
func TestGetSamples(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertSampleRow(t, db, "navigation.speedOverGround", "gps.0", "5.1", now.Add(-2*time.Hour))
	insertSampleRow(t, db, "navigation.speedOverGround", "gps.0", "5.3", now.Add(-1*time.Hour))
	insertSampleRow(t, db, "navigation.speedOverGround", "gps.0", "5.6", now)
	insertSampleRow(t, db, "environment.depth.belowTransducer", "sounder.0", "12.8", now)

	records, err := repo.GetSamples(ctx, "navigation.speedOverGround", "", 2)
	if err != nil {
		t.Fatalf("GetSamples() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records length = %d, want 2", len(records))
	}

	if !records[0].CreatedAt.Equal(now) {
		t.Errorf("record[0] CreatedAt = %s, want %s", records[0].CreatedAt, now)
	}
	if !records[1].CreatedAt.Equal(now.Add(-1 * time.Hour)) {
		t.Errorf("record[1] CreatedAt = %s, want %s", records[1].CreatedAt, now.Add(-1*time.Hour))
	}
}

// TestGetSamples_SourceFilter verifies per-source retrieval.
func TestGetSamples_SourceFilter(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertSampleRow(t, db, "navigation.headingMagnetic", "compass.0", "1.57", now.Add(-1*time.Minute))
	insertSampleRow(t, db, "navigation.headingMagnetic", "gps.0", "1.59", now)

	records, err := repo.GetSamples(ctx, "navigation.headingMagnetic", "compass.0", 10)
	if err != nil {
		t.Fatalf("GetSamples() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records length = %d, want 1", len(records))
	}
	if records[0].Source != "compass.0" {
		t.Errorf("Source = %q, want %q", records[0].Source, "compass.0")
	}

	records, err = repo.GetSamples(ctx, "navigation.headingMagnetic", "", 10)
	if err != nil {
		t.Fatalf("GetSamples() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records length = %d, want 2", len(records))
	}
}

// TestPruneSamples verifies old samples are removed.
func TestPruneSamples(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertSampleRow(t, db, "navigation.speedOverGround", "gps.0", "4.9", now.Add(-40*24*time.Hour))
	insertSampleRow(t, db, "navigation.speedOverGround", "gps.0", "5.1", now.Add(-12*time.Hour))

	deleted, err := repo.PruneSamples(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("PruneSamples() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	records, err := repo.GetSamples(ctx, "navigation.speedOverGround", "", 10)
	if err != nil {
		t.Fatalf("GetSamples() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records length = %d, want 1", len(records))
	}
	if !records[0].CreatedAt.Equal(now.Add(-12 * time.Hour)) {
		t.Errorf("remaining CreatedAt = %s, want %s", records[0].CreatedAt, now.Add(-12*time.Hour))
	}
}

// =============================================================================
// Recorder Tests
// =============================================================================

// recordingRepo captures RecordSample calls for throttle tests.
type recordingRepo struct {
	mu      sync.Mutex
	samples []SampleRecord
	pruned  int
}

func (r *recordingRepo) RecordSample(ctx context.Context, path, source string, value Value, at time.Time) error {
	r.mu.Lock()
	r.samples = append(r.samples, SampleRecord{Path: path, Source: source, Value: value, CreatedAt: at})
	r.mu.Unlock()
	return nil
}

func (r *recordingRepo) GetSamples(ctx context.Context, path, source string, limit int) ([]SampleRecord, error) {
	return nil, nil
}

func (r *recordingRepo) PruneSamples(ctx context.Context, olderThan time.Duration) (int64, error) {
	r.mu.Lock()
	r.pruned++
	r.mu.Unlock()
	return 0, nil
}

func (r *recordingRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// TestRecorderThrottle verifies samples inside the window are dropped.
func TestRecorderThrottle(t *testing.T) {
	repo := &recordingRepo{}
	recorder := NewRecorder(RecorderConfig{
		Repository:  repo,
		MinInterval: 10 * time.Second,
	})

	clock := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	recorder.now = func() time.Time { return clock }

	ctx := context.Background()

	// First sample stores.
	recorder.Record(ctx, "navigation.speedOverGround", "gps.0", NumberValue(5.1), clock)
	if repo.count() != 1 {
		t.Fatalf("sample count = %d, want 1", repo.count())
	}

	// Second sample 2s later is inside the window and drops.
	clock = clock.Add(2 * time.Second)
	recorder.Record(ctx, "navigation.speedOverGround", "gps.0", NumberValue(5.2), clock)
	if repo.count() != 1 {
		t.Fatalf("sample count = %d, want 1 after throttled write", repo.count())
	}

	// 10s after the stored sample, the window reopens.
	clock = clock.Add(8 * time.Second)
	recorder.Record(ctx, "navigation.speedOverGround", "gps.0", NumberValue(5.3), clock)
	if repo.count() != 2 {
		t.Fatalf("sample count = %d, want 2 after window reopened", repo.count())
	}
}

// TestRecorderThrottle_PerKey verifies different paths and sources throttle independently.
func TestRecorderThrottle_PerKey(t *testing.T) {
	repo := &recordingRepo{}
	recorder := NewRecorder(RecorderConfig{
		Repository:  repo,
		MinInterval: 10 * time.Second,
	})

	clock := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	recorder.now = func() time.Time { return clock }

	ctx := context.Background()

	recorder.Record(ctx, "navigation.speedOverGround", "gps.0", NumberValue(5.1), clock)
	recorder.Record(ctx, "navigation.speedOverGround", "gps.1", NumberValue(5.0), clock)
	recorder.Record(ctx, "environment.depth.belowTransducer", "sounder.0", NumberValue(12.8), clock)

	if repo.count() != 3 {
		t.Fatalf("sample count = %d, want 3 (keys throttle independently)", repo.count())
	}
}

// TestRecorderEmptyPath verifies empty paths are ignored.
func TestRecorderEmptyPath(t *testing.T) {
	repo := &recordingRepo{}
	recorder := NewRecorder(RecorderConfig{Repository: repo})

	recorder.Record(context.Background(), "", "gps.0", NumberValue(1), time.Now())
	if repo.count() != 0 {
		t.Fatalf("sample count = %d, want 0", repo.count())
	}
}

// TestRecorderNilRepository verifies a recorder without a repository is inert.
func TestRecorderNilRepository(t *testing.T) {
	recorder := NewRecorder(RecorderConfig{})

	// Must not panic.
	recorder.Record(context.Background(), "navigation.speedOverGround", "gps.0", NumberValue(1), time.Now())
	recorder.Start(context.Background())
	recorder.Stop()
}

// TestRecorderPruneLoop verifies the startup prune fires and Stop is clean.
func TestRecorderPruneLoop(t *testing.T) {
	repo := &recordingRepo{}
	recorder := NewRecorder(RecorderConfig{
		Repository:    repo,
		PruneInterval: time.Hour,
	})

	recorder.Start(context.Background())

	// The loop prunes once at startup before waiting on the ticker.
	deadline := time.After(2 * time.Second)
	for {
		repo.mu.Lock()
		pruned := repo.pruned
		repo.mu.Unlock()
		if pruned >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("startup prune did not run")
		case <-time.After(10 * time.Millisecond):
		}
	}

	recorder.Stop()
	recorder.Stop() // Safe to call twice.
}
