package dashboard

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the dashboards schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}

	// Create the dashboards table (matches migration)
	schema := `
		CREATE TABLE dashboards (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			columns INTEGER NOT NULL DEFAULT 4,
			sort_order INTEGER NOT NULL DEFAULT 0,
			widgets TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX idx_dashboards_sort_order ON dashboards(sort_order);`

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// testDashboard creates a test dashboard with the given ID and name.
func testDashboard(id, name string) *Dashboard {
	return &Dashboard{
		ID:      id,
		Name:    name,
		Slug:    GenerateSlug(name),
		Columns: 4,
		Widgets: []Widget{
			{
				Type:  WidgetGauge,
				Path:  "navigation.speedOverGround",
				Title: "SOG",
			},
		},
	}
}

func TestSQLiteRepository_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("create success", func(t *testing.T) {
		dash := testDashboard("dash-01", "Helm Overview")

		err := repo.Create(ctx, dash)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		// Verify timestamps were set
		if dash.CreatedAt.IsZero() {
			t.Error("CreatedAt not set")
		}
		if dash.UpdatedAt.IsZero() {
			t.Error("UpdatedAt not set")
		}
	})

	t.Run("duplicate ID", func(t *testing.T) {
		dash := testDashboard("dash-01", "Duplicate")
		dash.Slug = "duplicate" // Different slug to avoid that constraint

		err := repo.Create(ctx, dash)
		if !errors.Is(err, ErrDashboardExists) {
			t.Errorf("expected ErrDashboardExists, got: %v", err)
		}
	})

	t.Run("duplicate slug", func(t *testing.T) {
		dash := testDashboard("dash-99", "Helm Overview") // Same name, same slug
		err := repo.Create(ctx, dash)
		if !errors.Is(err, ErrDashboardExists) {
			t.Errorf("expected ErrDashboardExists, got: %v", err)
		}
	})
}

func TestSQLiteRepository_GetByID(t *testing.T) { //nolint:gocognit // comprehensive field round-trip
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	// Create a dashboard with all widget fields populated
	minRPM := 0.0
	maxRPM := 5000.0
	decimals := 0
	dash := testDashboard("dash-get", "Engine Room")
	dash.Columns = 6
	dash.SortOrder = 2
	dash.Widgets = []Widget{
		{
			Type:     WidgetGauge,
			Path:     "propulsion.port.revolutions",
			Source:   "n2k.42",
			Title:    "Port RPM",
			Min:      &minRPM,
			Max:      &maxRPM,
			Decimals: &decimals,
			Options:  map[string]any{"redline": float64(4200)},
		},
		{Type: WidgetTank, Path: "tanks.fuel.0.currentLevel"},
	}

	if err := repo.Create(ctx, dash); err != nil {
		t.Fatalf("Create: %v", err)
	}

	t.Run("found", func(t *testing.T) {
		got, err := repo.GetByID(ctx, "dash-get")
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}

		if got.ID != "dash-get" {
			t.Errorf("ID = %q, want %q", got.ID, "dash-get")
		}
		if got.Name != "Engine Room" {
			t.Errorf("Name = %q, want %q", got.Name, "Engine Room")
		}
		if got.Slug != "engine-room" {
			t.Errorf("Slug = %q, want %q", got.Slug, "engine-room")
		}
		if got.Columns != 6 {
			t.Errorf("Columns = %d, want 6", got.Columns)
		}
		if got.SortOrder != 2 {
			t.Errorf("SortOrder = %d, want 2", got.SortOrder)
		}
		if len(got.Widgets) != 2 {
			t.Fatalf("Widgets count = %d, want 2", len(got.Widgets))
		}

		w := got.Widgets[0]
		if w.Type != WidgetGauge {
			t.Errorf("Widget[0].Type = %q, want %q", w.Type, WidgetGauge)
		}
		if w.Source != "n2k.42" {
			t.Errorf("Widget[0].Source = %q, want %q", w.Source, "n2k.42")
		}
		if w.Title != "Port RPM" {
			t.Errorf("Widget[0].Title = %q, want %q", w.Title, "Port RPM")
		}
		if w.Min == nil || *w.Min != 0 {
			t.Errorf("Widget[0].Min = %v, want 0", w.Min)
		}
		if w.Max == nil || *w.Max != 5000 {
			t.Errorf("Widget[0].Max = %v, want 5000", w.Max)
		}
		if w.Decimals == nil || *w.Decimals != 0 {
			t.Errorf("Widget[0].Decimals = %v, want 0", w.Decimals)
		}
		if redline, ok := w.Options["redline"].(float64); !ok || redline != 4200 {
			t.Errorf("Widget[0].Options[redline] = %v, want 4200", w.Options["redline"])
		}
		if got.Widgets[1].Type != WidgetTank {
			t.Errorf("Widget[1].Type = %q, want %q", got.Widgets[1].Type, WidgetTank)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "nonexistent")
		if !errors.Is(err, ErrDashboardNotFound) {
			t.Errorf("expected ErrDashboardNotFound, got: %v", err)
		}
	})
}

func TestSQLiteRepository_GetBySlug(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	dash := testDashboard("dash-slug", "Night Passage")
	if err := repo.Create(ctx, dash); err != nil {
		t.Fatalf("Create: %v", err)
	}

	t.Run("found", func(t *testing.T) {
		got, err := repo.GetBySlug(ctx, "night-passage")
		if err != nil {
			t.Fatalf("GetBySlug: %v", err)
		}
		if got.ID != "dash-slug" {
			t.Errorf("ID = %q, want %q", got.ID, "dash-slug")
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.GetBySlug(ctx, "nonexistent")
		if !errors.Is(err, ErrDashboardNotFound) {
			t.Errorf("expected ErrDashboardNotFound, got: %v", err)
		}
	})
}

func TestSQLiteRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		dashboards, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(dashboards) != 0 {
			t.Errorf("expected 0 dashboards, got %d", len(dashboards))
		}
	})

	// Insert test dashboards with deliberate sort orders
	for i, name := range []string{"Helm Overview", "Anchor Watch", "Engine Room"} {
		d := testDashboard("dash-list-"+string(rune('a'+i)), name)
		d.SortOrder = 2 - i
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create %q: %v", name, err)
		}
	}

	t.Run("ordered by sort_order", func(t *testing.T) {
		dashboards, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(dashboards) != 3 {
			t.Fatalf("expected 3 dashboards, got %d", len(dashboards))
		}
		// Inserted with descending sort orders; expect ascending back
		if dashboards[0].Name != "Engine Room" {
			t.Errorf("first dashboard = %q, want %q", dashboards[0].Name, "Engine Room")
		}
		if dashboards[2].Name != "Helm Overview" {
			t.Errorf("last dashboard = %q, want %q", dashboards[2].Name, "Helm Overview")
		}
	})
}

func TestSQLiteRepository_Update(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	dash := testDashboard("dash-upd", "Original Name")
	if err := repo.Create(ctx, dash); err != nil {
		t.Fatalf("Create: %v", err)
	}

	t.Run("success", func(t *testing.T) {
		dash.Name = "Updated Name"
		dash.Slug = "updated-name"
		dash.Columns = 8
		dash.Widgets = append(dash.Widgets, Widget{Type: WidgetCompass, Path: "navigation.headingTrue"})

		err := repo.Update(ctx, dash)
		if err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, err := repo.GetByID(ctx, "dash-upd")
		if err != nil {
			t.Fatalf("GetByID after update: %v", err)
		}
		if got.Name != "Updated Name" {
			t.Errorf("Name = %q, want %q", got.Name, "Updated Name")
		}
		if got.Columns != 8 {
			t.Errorf("Columns = %d, want 8", got.Columns)
		}
		if len(got.Widgets) != 2 {
			t.Errorf("Widgets count = %d, want 2", len(got.Widgets))
		}
	})

	t.Run("duplicate slug", func(t *testing.T) {
		other := testDashboard("dash-other", "Other Board")
		if err := repo.Create(ctx, other); err != nil {
			t.Fatalf("Create other: %v", err)
		}

		other.Slug = "updated-name" // Taken by dash-upd
		err := repo.Update(ctx, other)
		if !errors.Is(err, ErrDashboardExists) {
			t.Errorf("expected ErrDashboardExists, got: %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		notFound := testDashboard("nonexistent", "Nope")
		err := repo.Update(ctx, notFound)
		if !errors.Is(err, ErrDashboardNotFound) {
			t.Errorf("expected ErrDashboardNotFound, got: %v", err)
		}
	})
}

func TestSQLiteRepository_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	dash := testDashboard("dash-del", "Delete Me")
	if err := repo.Create(ctx, dash); err != nil {
		t.Fatalf("Create: %v", err)
	}

	t.Run("success", func(t *testing.T) {
		err := repo.Delete(ctx, "dash-del")
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}

		_, err = repo.GetByID(ctx, "dash-del")
		if !errors.Is(err, ErrDashboardNotFound) {
			t.Errorf("expected ErrDashboardNotFound after delete, got: %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		err := repo.Delete(ctx, "nonexistent")
		if !errors.Is(err, ErrDashboardNotFound) {
			t.Errorf("expected ErrDashboardNotFound, got: %v", err)
		}
	})
}
