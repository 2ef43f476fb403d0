package telemetry

import (
	"strconv"
	"time"

	"github.com/halyard-io/pelorus/internal/units"
)

// RuleSource supplies conversion rules to the resolver. Satisfied by
// *units.Store; nil results mean "no rule for this path".
type RuleSource interface {
	Get(path string) *units.ConversionRule
}

// Resolver is the read API widgets use. It combines the data point cache
// with the metadata store and owns the conversion policy, including what
// happens when either half is missing.
//
// The resolver never returns an error: missing data and missing metadata
// are ordinary steady-states (most visible right after connecting, before
// the metadata burst lands) and render as explicit no-data results.
type Resolver struct {
	rules RuleSource
	cache *Cache
}

// NewResolver creates a resolver over a rule source and a sample cache.
func NewResolver(rules RuleSource, cache *Cache) *Resolver {
	return &Resolver{rules: rules, cache: cache}
}

// DisplayValue resolves the current display-unit value for a path.
//
// Parameters:
//   - path: Telemetry path
//   - source: Specific source, or "" for the most recently updated one
//
// Returns:
//   - float64: Converted value when a rule exists, the raw SI value
//     unchanged when none does
//   - bool: False when no sample exists, the sample is non-numeric, or
//     the conversion fails to evaluate
func (r *Resolver) DisplayValue(path, source string) (float64, bool) {
	dp, ok := r.cache.Get(path, source)
	if !ok {
		return 0, false
	}
	raw, ok := dp.Value.Number()
	if !ok {
		return 0, false
	}

	rule := r.rules.Get(path)
	if rule == nil {
		// No metadata yet: hand back the SI value rather than dropping
		// the sample.
		return raw, true
	}

	display, err := rule.ToDisplay(raw)
	if err != nil {
		return 0, false
	}
	return display, true
}

// Formatted resolves the current value as a display string.
//
// Numeric samples format through the rule ("90.0 °"); without a rule the
// raw value renders with the requested precision and no symbol. Text and
// boolean samples render as themselves. Structured samples and missing
// data render as the no-value sentinel.
//
// A negative decimals means "use the rule's precision" (or one decimal in
// the no-rule fallback).
func (r *Resolver) Formatted(path, source string, decimals int) string {
	dp, ok := r.cache.Get(path, source)
	if !ok {
		return units.NoValue
	}

	switch dp.Value.Kind() {
	case KindText:
		text, _ := dp.Value.Text()
		return text
	case KindBoolean:
		b, _ := dp.Value.Bool()
		return strconv.FormatBool(b)
	case KindNumber:
		// Fall through below.
	default:
		return units.NoValue
	}

	raw, _ := dp.Value.Number()
	rule := r.rules.Get(path)
	if rule == nil {
		if decimals < 0 {
			decimals = units.DefaultDecimals
		}
		return strconv.FormatFloat(raw, 'f', decimals, 64)
	}
	return rule.Format(raw, decimals)
}

// UnitSymbol returns the display symbol for a path. False when no rule
// has been received.
func (r *Resolver) UnitSymbol(path string) (string, bool) {
	rule := r.rules.Get(path)
	if rule == nil {
		return "", false
	}
	return rule.Symbol, true
}

// SIForCommand converts a user-entered display value back to SI for a
// command to the server.
//
// When no rule exists, or the inverse formula fails, the display value is
// returned unchanged: the caller is assumed to already hold SI. The
// fallback must be identity and nothing else. Returning zero here would
// command an autopilot to heading zero; returning the display value at
// worst sends an unconverted number the server will reject.
func (r *Resolver) SIForCommand(path string, display float64) float64 {
	rule := r.rules.Get(path)
	if rule == nil {
		return display
	}
	si, err := rule.ToSI(display)
	if err != nil {
		return display
	}
	return si
}

// Fresh reports whether the resolved sample is within the cache's default
// freshness window.
func (r *Resolver) Fresh(path, source string) bool {
	return r.cache.IsFresh(path, source, 0)
}

// Reading is the resolver's aggregate answer for one (path, source):
// everything a serving layer needs to render the value.
type Reading struct {
	Path      string    `json:"path"`
	Source    string    `json:"source,omitempty"`
	Value     Value     `json:"value"`
	Display   *float64  `json:"display,omitempty"`
	Formatted string    `json:"formatted"`
	Symbol    string    `json:"symbol,omitempty"`
	Fresh     bool      `json:"fresh"`
	Timestamp time.Time `json:"timestamp"`
}

// Reading resolves the full display state for one path. Absent samples
// yield a Reading with the sentinel formatted string and Fresh false.
func (r *Resolver) Reading(path, source string) Reading {
	reading := Reading{
		Path:      path,
		Source:    source,
		Formatted: units.NoValue,
	}

	dp, ok := r.cache.Get(path, source)
	if !ok {
		return reading
	}

	reading.Source = dp.Source
	reading.Value = dp.Value
	reading.Timestamp = dp.Timestamp
	reading.Fresh = r.cache.IsFresh(path, dp.Source, 0)
	reading.Formatted = r.Formatted(path, dp.Source, -1)

	if display, ok := r.DisplayValue(path, dp.Source); ok {
		reading.Display = &display
	}
	if symbol, ok := r.UnitSymbol(path); ok {
		reading.Symbol = symbol
	}
	return reading
}
