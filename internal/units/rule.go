package units

import (
	"fmt"
	"strconv"
)

// DefaultDecimals is the display precision used when a conversion
// descriptor does not carry one.
const DefaultDecimals = 1

// NoValue is the sentinel string rendered when a value cannot be
// formatted: no data, no conversion, or a failed evaluation.
const NoValue = "--"

// ConversionRule describes one path's bidirectional SI ⇄ display
// conversion.
//
// Rules are immutable once constructed. "Updating" a rule means building
// a new instance and installing it in the Store; holders of an old rule
// keep a consistent view until they re-fetch.
type ConversionRule struct {
	// Path is the telemetry path this rule applies to, e.g.
	// "navigation.speedOverGround".
	Path string `json:"path"`

	// BaseUnit is the SI unit the server publishes, e.g. "m/s", "rad", "K".
	BaseUnit string `json:"baseUnit"`

	// TargetUnit is the display unit, e.g. "kn", "deg", "degF".
	TargetUnit string `json:"targetUnit"`

	// Formula maps SI to display; InverseFormula maps display back to SI.
	// Both reference the single variable "value". They are kept as source
	// text for inspection; evaluation uses the compiled forms.
	Formula        string `json:"formula"`
	InverseFormula string `json:"inverseFormula"`

	// Symbol is the human-readable unit suffix for formatted output,
	// e.g. "kn", "°". Defaults to TargetUnit when the descriptor omits it.
	Symbol string `json:"symbol"`

	// Description is optional free text from the server.
	Description string `json:"description,omitempty"`

	// Decimals is the suggested display precision.
	Decimals int `json:"decimals"`

	forward *Formula
	inverse *Formula
}

// NewRule compiles a conversion descriptor into an immutable rule.
//
// Parameters:
//   - path: Telemetry path, the rule's key
//   - baseUnit: SI unit declared by the server
//   - targetUnit: Display unit this rule converts to
//   - spec: Formula pair, symbol, and precision for targetUnit
//
// Returns:
//   - *ConversionRule: Ready-to-use rule
//   - error: ErrMalformedMetadata when required fields are missing,
//     ErrFormulaSyntax when either formula fails to compile
func NewRule(path, baseUnit, targetUnit string, spec ConversionSpec) (*ConversionRule, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: missing path", ErrMalformedMetadata)
	}
	if baseUnit == "" {
		return nil, fmt.Errorf("%w: missing baseUnit for %q", ErrMalformedMetadata, path)
	}
	if spec.Formula == "" || spec.InverseFormula == "" {
		return nil, fmt.Errorf("%w: missing formula pair for %q", ErrMalformedMetadata, path)
	}

	forward, err := Compile(spec.Formula)
	if err != nil {
		return nil, fmt.Errorf("compiling formula for %q: %w", path, err)
	}
	inverse, err := Compile(spec.InverseFormula)
	if err != nil {
		return nil, fmt.Errorf("compiling inverse formula for %q: %w", path, err)
	}

	symbol := spec.Symbol
	if symbol == "" {
		symbol = targetUnit
	}

	decimals := DefaultDecimals
	if spec.Decimals != nil && *spec.Decimals >= 0 {
		decimals = *spec.Decimals
	}

	return &ConversionRule{
		Path:           path,
		BaseUnit:       baseUnit,
		TargetUnit:     targetUnit,
		Formula:        spec.Formula,
		InverseFormula: spec.InverseFormula,
		Symbol:         symbol,
		Description:    spec.Description,
		Decimals:       decimals,
		forward:        forward,
		inverse:        inverse,
	}, nil
}

// ToDisplay converts an SI value into the rule's display unit.
//
// Returns ErrFormulaEvaluation when the formula cannot produce a finite
// result for this input; callers treat that as "conversion unavailable",
// never as a reason to crash.
func (r *ConversionRule) ToDisplay(si float64) (float64, error) {
	return r.forward.Eval(si)
}

// ToSI converts a display-unit value back into SI. This is the path used
// before sending a command to the server, which accepts SI only.
func (r *ConversionRule) ToSI(display float64) (float64, error) {
	return r.inverse.Eval(display)
}

// Format converts an SI value and renders it as "<display> <symbol>".
//
// Parameters:
//   - si: Value in the rule's base (SI) unit
//   - decimals: Rounding precision; negative means the rule's default
//
// Returns:
//   - string: Formatted display value, or the NoValue sentinel when the
//     conversion fails. Never panics.
func (r *ConversionRule) Format(si float64, decimals int) string {
	display, err := r.ToDisplay(si)
	if err != nil {
		return NoValue
	}
	if decimals < 0 {
		decimals = r.Decimals
	}
	text := strconv.FormatFloat(display, 'f', decimals, 64)
	if r.Symbol == "" {
		return text
	}
	return text + " " + r.Symbol
}

// Copy returns a copy of the rule. Compiled formulas are immutable and
// shared between copies.
func (r *ConversionRule) Copy() *ConversionRule {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}
