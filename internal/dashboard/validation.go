package dashboard

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validation constants.
const (
	maxNameLength  = 100
	maxSlugLength  = 50
	maxTitleLength = 100
	maxPathLength  = 255
	maxWidgets     = 64
	minColumns     = 1
	maxColumns     = 12
	defaultColumns = 4
	maxDecimals    = 10
	maxOptionKeys  = 20
	slugPattern    = `^[a-z0-9]+(?:-[a-z0-9]+)*$`
	pathPattern    = `^[A-Za-z0-9_-]+(?:\.[A-Za-z0-9_-]+)*$`
)

var (
	slugRegex = regexp.MustCompile(slugPattern)
	pathRegex = regexp.MustCompile(pathPattern)
)

//go:embed schema/dashboard-v1.json
var dashboardSchemaJSON string

// dashboardSchema is the compiled JSON Schema for raw dashboard documents.
// Compilation happens once at startup; the schema is embedded so the
// binary stays self-contained.
var dashboardSchema = jsonschema.MustCompileString("dashboard-v1.json", dashboardSchemaJSON)

// Pre-computed validation set for O(1) widget type lookups.
var validWidgetTypes map[WidgetType]struct{}

func init() {
	validWidgetTypes = make(map[WidgetType]struct{}, len(AllWidgetTypes()))
	for _, wt := range AllWidgetTypes() {
		validWidgetTypes[wt] = struct{}{}
	}
}

// ValidateDocument checks a raw dashboard JSON document against the
// embedded schema. This rejects structural problems (unknown fields,
// wrong types, out-of-range values) before the document is decoded
// into a Dashboard.
func ValidateDocument(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", ErrInvalidDashboard, err)
	}
	if err := dashboardSchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDashboard, err)
	}
	return nil
}

// ValidateDashboard performs comprehensive validation on a dashboard.
// Returns an error describing the first validation failure found.
func ValidateDashboard(d *Dashboard) error {
	if d == nil {
		return ErrInvalidDashboard
	}

	// Validate name
	if err := ValidateName(d.Name); err != nil {
		return err
	}

	// Validate slug if provided (empty slug will be generated)
	if d.Slug != "" {
		if err := ValidateSlug(d.Slug); err != nil {
			return err
		}
	}

	// Validate grid width
	if d.Columns < minColumns || d.Columns > maxColumns {
		return fmt.Errorf("%w: columns must be %d-%d", ErrInvalidDashboard, minColumns, maxColumns)
	}

	// Validate widgets (an empty dashboard is legal; a panel editor
	// creates the dashboard first and adds widgets afterwards)
	if len(d.Widgets) > maxWidgets {
		return fmt.Errorf("%w: exceeds maximum of %d widgets", ErrInvalidWidget, maxWidgets)
	}

	for i, widget := range d.Widgets {
		if err := ValidateWidget(widget); err != nil {
			return fmt.Errorf("widget[%d]: %w", i, err)
		}
	}

	return nil
}

// ValidateName checks if a dashboard name is valid.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateSlug checks if a slug format is valid.
func ValidateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("%w: slug cannot be empty", ErrInvalidSlug)
	}
	if len(slug) > maxSlugLength {
		return fmt.Errorf("%w: slug exceeds %d characters", ErrInvalidSlug, maxSlugLength)
	}
	if !slugRegex.MatchString(slug) {
		return fmt.Errorf("%w: must be lowercase alphanumeric with hyphens", ErrInvalidSlug)
	}
	return nil
}

// ValidateWidget checks if a widget definition is valid.
func ValidateWidget(w Widget) error {
	if w.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidWidget)
	}
	if _, ok := validWidgetTypes[w.Type]; !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidWidget, w.Type)
	}
	if w.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidWidget)
	}
	if len(w.Path) > maxPathLength {
		return fmt.Errorf("%w: path exceeds %d characters", ErrInvalidWidget, maxPathLength)
	}
	if !pathRegex.MatchString(w.Path) {
		return fmt.Errorf("%w: path must be dot-separated segments", ErrInvalidWidget)
	}
	if len(w.Title) > maxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidWidget, maxTitleLength)
	}
	if w.Min != nil && w.Max != nil && *w.Min >= *w.Max {
		return fmt.Errorf("%w: min must be less than max", ErrInvalidWidget)
	}
	if w.Decimals != nil && (*w.Decimals < 0 || *w.Decimals > maxDecimals) {
		return fmt.Errorf("%w: decimals must be 0-%d", ErrInvalidWidget, maxDecimals)
	}
	if len(w.Options) > maxOptionKeys {
		return fmt.Errorf("%w: options exceeds %d keys", ErrInvalidWidget, maxOptionKeys)
	}
	return nil
}

// GenerateSlug creates a URL-safe slug from a name.
// It lowercases, replaces spaces/underscores with hyphens, removes
// non-alphanumeric characters, and trims to maxSlugLength.
func GenerateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, "_", "-")

	var result strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	slug = result.String()

	// Clean up multiple/leading/trailing hyphens
	slug = strings.Trim(slug, "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}

	// Truncate to max length
	if len(slug) > maxSlugLength {
		slug = slug[:maxSlugLength]
		slug = strings.TrimRight(slug, "-")
	}

	return slug
}

// GenerateID creates a new UUID for a dashboard.
func GenerateID() string {
	return uuid.New().String()
}
