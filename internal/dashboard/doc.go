// Package dashboard manages wall panel layouts for Pelorus.
//
// A dashboard is a named grid of widgets, each bound to a telemetry path.
// The panel fetches dashboard definitions over the REST API and renders
// live values from the WebSocket stream into them.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│                 Registry (registry.go)                 │
//	│  Thread-safe in-memory cache over the Repository       │
//	│  ┌──────────────┐    ┌──────────────┐                │
//	│  │  Validation  │───▶│  Repository  │                │
//	│  │(validation.go)│   │(repository.go)│               │
//	│  └──────────────┘    └──────────────┘                │
//	│        │                                              │
//	│        ▼                                              │
//	│  ┌──────────────────────────────────────────────┐    │
//	│  │  Write Pipeline                               │    │
//	│  │  1. Generate ID/slug for new dashboards       │    │
//	│  │  2. Semantic validation (sentinel errors)     │    │
//	│  │  3. Persist to SQLite                         │    │
//	│  │  4. Refresh cached copy                       │    │
//	│  └──────────────────────────────────────────────┘    │
//	└───────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Dashboard: Named widget grid with slug, column count, and sort order
//   - Widget: Single display element bound to a telemetry path
//   - Registry: Thread-safe in-memory cache wrapping Repository
//   - Repository: Persistence interface with a SQLite implementation
//
// # Validation
//
// Validation happens at two levels. ValidateDocument checks raw JSON
// against an embedded JSON Schema, rejecting unknown fields and type
// mismatches before decoding. ValidateDashboard checks decoded values
// semantically and returns specific sentinel errors (ErrInvalidName,
// ErrInvalidSlug, ErrInvalidWidget) that the API maps to error codes.
//
// # Thread Safety
//
// Registry is safe for concurrent use from multiple goroutines. Reads
// return deep copies, so callers can modify results freely.
//
// # Usage
//
//	repo := dashboard.NewSQLiteRepository(db)
//	registry := dashboard.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	dash, err := registry.GetBySlug(ctx, "helm-overview")
package dashboard
