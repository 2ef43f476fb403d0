package dashboard

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides dashboard management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Dashboard // Cached dashboards by ID
	cacheMu sync.RWMutex          // Protects cache
	logger  Logger
}

// NewRegistry creates a new dashboard registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Dashboard),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all dashboards from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	dashboards, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading dashboards: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	r.cache = make(map[string]*Dashboard, len(dashboards))
	for i := range dashboards {
		d := dashboards[i]
		r.cache[d.ID] = d.DeepCopy()
	}

	r.logger.Info("dashboard cache refreshed", "count", len(dashboards))
	return nil
}

// Get retrieves a dashboard by ID.
// The returned dashboard is a deep copy; callers can safely modify it.
func (r *Registry) Get(_ context.Context, id string) (*Dashboard, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrDashboardNotFound
}

// GetBySlug retrieves a dashboard by its slug.
// The returned dashboard is a deep copy.
func (r *Registry) GetBySlug(_ context.Context, slug string) (*Dashboard, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	for _, d := range r.cache {
		if d.Slug == slug {
			return d.DeepCopy(), nil
		}
	}
	return nil, ErrDashboardNotFound
}

// List retrieves all dashboards from the cache.
// Returns deep copies sorted by sort_order then name for deterministic ordering.
func (r *Registry) List(_ context.Context) ([]Dashboard, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	dashboards := make([]Dashboard, 0, len(r.cache))
	for _, d := range r.cache {
		dashboards = append(dashboards, *d.DeepCopy())
	}
	sortDashboards(dashboards)
	return dashboards, nil
}

// sortDashboards sorts dashboards by sort_order then name, matching the DB query ordering.
func sortDashboards(dashboards []Dashboard) {
	sort.Slice(dashboards, func(i, j int) bool {
		if dashboards[i].SortOrder != dashboards[j].SortOrder {
			return dashboards[i].SortOrder < dashboards[j].SortOrder
		}
		return dashboards[i].Name < dashboards[j].Name
	})
}

// Create validates, persists, and caches a new dashboard.
func (r *Registry) Create(ctx context.Context, dash *Dashboard) error {
	// Generate ID and slug if not provided
	if dash.ID == "" {
		dash.ID = GenerateID()
	}
	if dash.Slug == "" {
		dash.Slug = GenerateSlug(dash.Name)
	}

	// Set default grid width if not provided
	if dash.Columns == 0 {
		dash.Columns = defaultColumns
	}

	// Validate
	if err := ValidateDashboard(dash); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Create(ctx, dash); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	r.cache[dash.ID] = dash.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("dashboard created", "id", dash.ID, "name", dash.Name)
	return nil
}

// Update validates, persists, and updates the cached dashboard.
func (r *Registry) Update(ctx context.Context, dash *Dashboard) error {
	// Validate
	if err := ValidateDashboard(dash); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Update(ctx, dash); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	r.cache[dash.ID] = dash.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("dashboard updated", "id", dash.ID, "name", dash.Name)
	return nil
}

// Delete removes a dashboard from persistence and cache.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("dashboard deleted", "id", id)
	return nil
}

// Count returns the number of cached dashboards.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
