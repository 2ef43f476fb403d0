package dashboard

import "time"

// Dashboard represents a named grid of widgets rendered by the wall panel.
// Widgets are laid out left-to-right, top-to-bottom across a fixed number
// of grid columns.
type Dashboard struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`

	// Grid width in columns (1-12, default 4)
	Columns int `json:"columns"`

	// Widgets to render (ordered)
	Widgets []Widget `json:"widgets"`

	// Sort order for UI display
	SortOrder int `json:"sort_order"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Widget defines a single display element within a dashboard.
//
// Each widget binds to a telemetry path and renders its resolved value.
// Min, Max and Decimals override the defaults derived from the path's
// conversion rule; Options carries renderer-specific settings.
type Widget struct {
	// Visual type (gauge, readout, chart, compass, tank, toggle, text)
	Type WidgetType `json:"type"`

	// Telemetry path to display (e.g., "navigation.speedOverGround")
	Path string `json:"path"`

	// Preferred source label when the path has multiple sources
	Source string `json:"source,omitempty"`

	// Display title (defaults to the path's metadata display name)
	Title string `json:"title,omitempty"`

	// Scale bounds in display units
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`

	// Decimal places override (0-10)
	Decimals *int `json:"decimals,omitempty"`

	// Renderer-specific settings (colours, thresholds, chart window)
	Options map[string]any `json:"options,omitempty"`
}

// WidgetType represents a widget's visual rendering style.
type WidgetType string

const (
	WidgetGauge   WidgetType = "gauge"
	WidgetReadout WidgetType = "readout"
	WidgetChart   WidgetType = "chart"
	WidgetCompass WidgetType = "compass"
	WidgetTank    WidgetType = "tank"
	WidgetToggle  WidgetType = "toggle"
	WidgetText    WidgetType = "text"
)

// AllWidgetTypes returns all valid widget types.
func AllWidgetTypes() []WidgetType {
	return []WidgetType{
		WidgetGauge,
		WidgetReadout,
		WidgetChart,
		WidgetCompass,
		WidgetTank,
		WidgetToggle,
		WidgetText,
	}
}

// DeepCopy creates a complete independent copy of the Dashboard.
// All map and slice fields are cloned so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (d *Dashboard) DeepCopy() *Dashboard {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	// Deep copy Widgets slice (pointer and map fields need cloning)
	if d.Widgets != nil {
		cpy.Widgets = make([]Widget, len(d.Widgets))
		for i, widget := range d.Widgets {
			cpy.Widgets[i] = widget
			cpy.Widgets[i].Min = cloneFloatPtr(widget.Min)
			cpy.Widgets[i].Max = cloneFloatPtr(widget.Max)
			cpy.Widgets[i].Decimals = cloneIntPtr(widget.Decimals)
			if widget.Options != nil {
				cpy.Widgets[i].Options = deepCopyMap(widget.Options)
			}
		}
	}

	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v // Primitives are immutable
	}
}

// cloneFloatPtr creates an independent copy of a *float64.
func cloneFloatPtr(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// cloneIntPtr creates an independent copy of a *int.
func cloneIntPtr(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
