package dashboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for dashboard persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Dashboard, error)
	GetBySlug(ctx context.Context, slug string) (*Dashboard, error)
	List(ctx context.Context) ([]Dashboard, error)
	Create(ctx context.Context, dash *Dashboard) error
	Update(ctx context.Context, dash *Dashboard) error
	Delete(ctx context.Context, id string) error
}

// dashboardColumns is the SELECT column list for dashboard queries.
const dashboardColumns = `id, name, slug, columns, sort_order, widgets, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a dashboard by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Dashboard, error) {
	query := `SELECT ` + dashboardColumns + ` FROM dashboards WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	dash, err := scanDashboard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDashboardNotFound
		}
		return nil, fmt.Errorf("querying dashboard by id: %w", err)
	}
	return dash, nil
}

// GetBySlug retrieves a dashboard by its slug.
func (r *SQLiteRepository) GetBySlug(ctx context.Context, slug string) (*Dashboard, error) {
	query := `SELECT ` + dashboardColumns + ` FROM dashboards WHERE slug = ?`

	row := r.db.QueryRowContext(ctx, query, slug)
	dash, err := scanDashboard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDashboardNotFound
		}
		return nil, fmt.Errorf("querying dashboard by slug: %w", err)
	}
	return dash, nil
}

// List retrieves all dashboards ordered by sort_order then name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Dashboard, error) {
	query := `SELECT ` + dashboardColumns + ` FROM dashboards ORDER BY sort_order, name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying dashboards: %w", err)
	}
	defer rows.Close()

	var dashboards []Dashboard
	for rows.Next() {
		dash, scanErr := scanDashboardFromRows(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning dashboard: %w", scanErr)
		}
		dashboards = append(dashboards, *dash)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dashboards: %w", err)
	}
	return dashboards, nil
}

// Create inserts a new dashboard.
func (r *SQLiteRepository) Create(ctx context.Context, dash *Dashboard) error {
	widgetsJSON, err := json.Marshal(dash.Widgets)
	if err != nil {
		return fmt.Errorf("marshalling widgets: %w", err)
	}

	now := time.Now().UTC()
	if dash.CreatedAt.IsZero() {
		dash.CreatedAt = now
	}
	dash.UpdatedAt = now

	query := `
		INSERT INTO dashboards (
			id, name, slug, columns, sort_order, widgets, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		dash.ID,
		dash.Name,
		dash.Slug,
		dash.Columns,
		dash.SortOrder,
		string(widgetsJSON),
		dash.CreatedAt.Format(time.RFC3339),
		dash.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDashboardExists
		}
		return fmt.Errorf("inserting dashboard: %w", err)
	}
	return nil
}

// Update modifies an existing dashboard.
func (r *SQLiteRepository) Update(ctx context.Context, dash *Dashboard) error {
	widgetsJSON, err := json.Marshal(dash.Widgets)
	if err != nil {
		return fmt.Errorf("marshalling widgets: %w", err)
	}

	dash.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE dashboards SET
			name = ?, slug = ?, columns = ?, sort_order = ?,
			widgets = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		dash.Name,
		dash.Slug,
		dash.Columns,
		dash.SortOrder,
		string(widgetsJSON),
		dash.UpdatedAt.Format(time.RFC3339),
		dash.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDashboardExists
		}
		return fmt.Errorf("updating dashboard: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDashboardNotFound
	}
	return nil
}

// Delete removes a dashboard by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM dashboards WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting dashboard: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDashboardNotFound
	}
	return nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDashboard scans a single sql.Row into a Dashboard.
func scanDashboard(row *sql.Row) (*Dashboard, error) {
	return scanDashboardRow(row)
}

// scanDashboardFromRows scans a sql.Rows result into a Dashboard.
func scanDashboardFromRows(rows *sql.Rows) (*Dashboard, error) {
	return scanDashboardRow(rows)
}

func scanDashboardRow(scanner rowScanner) (*Dashboard, error) {
	var d Dashboard
	var widgetsJSON string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&d.Slug,
		&d.Columns,
		&d.SortOrder,
		&widgetsJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Parse timestamps (stored as RFC3339 TEXT)
	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		d.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		d.UpdatedAt = t
	}

	// Unmarshal widgets JSON
	if widgetsJSON != "" && widgetsJSON != "[]" {
		if jsonErr := json.Unmarshal([]byte(widgetsJSON), &d.Widgets); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling widgets: %w", jsonErr)
		}
	}
	if d.Widgets == nil {
		d.Widgets = []Widget{}
	}

	return &d, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
