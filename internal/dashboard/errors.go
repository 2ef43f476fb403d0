package dashboard

import "errors"

// Domain errors for the dashboard package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, dashboard.ErrDashboardNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDashboardNotFound is returned when a dashboard ID does not exist.
	ErrDashboardNotFound = errors.New("dashboard: not found")

	// ErrDashboardExists is returned when creating a dashboard with an ID or slug that already exists.
	ErrDashboardExists = errors.New("dashboard: already exists")

	// ErrInvalidDashboard is returned when dashboard validation fails.
	ErrInvalidDashboard = errors.New("dashboard: invalid")

	// ErrInvalidWidget is returned when a widget definition is invalid.
	ErrInvalidWidget = errors.New("dashboard: invalid widget")

	// ErrInvalidName is returned when a dashboard name is empty or too long.
	ErrInvalidName = errors.New("dashboard: invalid name")

	// ErrInvalidSlug is returned when a slug format is invalid.
	ErrInvalidSlug = errors.New("dashboard: invalid slug")
)
