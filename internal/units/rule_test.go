package units

import (
	"errors"
	"math"
	"testing"
)

func intPtr(i int) *int {
	return &i
}

// ─── Construction ──────────────────────────────────────────────────

func TestNewRule(t *testing.T) {
	rule, err := NewRule("navigation.speedOverGround", "m/s", "kn", ConversionSpec{
		Formula:        "value * 1.94384",
		InverseFormula: "value / 1.94384",
		Symbol:         "kn",
		Description:    "knots",
		Decimals:       intPtr(2),
	})
	if err != nil {
		t.Fatalf("NewRule() error = %v", err)
	}

	if rule.Path != "navigation.speedOverGround" {
		t.Errorf("Path = %q", rule.Path)
	}
	if rule.BaseUnit != "m/s" || rule.TargetUnit != "kn" {
		t.Errorf("units = %q -> %q, want m/s -> kn", rule.BaseUnit, rule.TargetUnit)
	}
	if rule.Symbol != "kn" {
		t.Errorf("Symbol = %q, want kn", rule.Symbol)
	}
	if rule.Decimals != 2 {
		t.Errorf("Decimals = %d, want 2", rule.Decimals)
	}
}

func TestNewRuleDefaults(t *testing.T) {
	// Symbol falls back to the target unit, decimals to the package
	// default, when the descriptor omits them.
	rule, err := NewRule("environment.wind.speedApparent", "m/s", "km/h", ConversionSpec{
		Formula:        "value * 3.6",
		InverseFormula: "value / 3.6",
	})
	if err != nil {
		t.Fatalf("NewRule() error = %v", err)
	}
	if rule.Symbol != "km/h" {
		t.Errorf("Symbol = %q, want fallback to target unit", rule.Symbol)
	}
	if rule.Decimals != DefaultDecimals {
		t.Errorf("Decimals = %d, want %d", rule.Decimals, DefaultDecimals)
	}
}

func TestNewRuleErrors(t *testing.T) {
	valid := ConversionSpec{Formula: "value * 2", InverseFormula: "value / 2"}

	tests := []struct {
		name     string
		path     string
		baseUnit string
		spec     ConversionSpec
		wantErr  error
	}{
		{"missing path", "", "m/s", valid, ErrMalformedMetadata},
		{"missing base unit", "a.b", "", valid, ErrMalformedMetadata},
		{"missing formula", "a.b", "m/s", ConversionSpec{InverseFormula: "value"}, ErrMalformedMetadata},
		{"missing inverse", "a.b", "m/s", ConversionSpec{Formula: "value"}, ErrMalformedMetadata},
		{"bad formula syntax", "a.b", "m/s", ConversionSpec{Formula: "value +", InverseFormula: "value"}, ErrFormulaSyntax},
		{"bad inverse syntax", "a.b", "m/s", ConversionSpec{Formula: "value", InverseFormula: "knots(value)"}, ErrFormulaSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRule(tt.path, tt.baseUnit, "x", tt.spec)
			if err == nil {
				t.Fatalf("NewRule() succeeded, want error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewRule() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// ─── Conversion round trips ────────────────────────────────────────

func TestRuleRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		spec ConversionSpec
	}{
		{"m/s to knots", ConversionSpec{Formula: "value * 1.94384", InverseFormula: "value / 1.94384"}},
		{"radians to degrees", ConversionSpec{Formula: "value * 57.2957795", InverseFormula: "value / 57.2957795"}},
		{"kelvin to fahrenheit", ConversionSpec{Formula: "(value - 273.15) * 9/5 + 32", InverseFormula: "(value - 32) * 5/9 + 273.15"}},
		{"pascals to bar", ConversionSpec{Formula: "value * 1e-5", InverseFormula: "value * 1e5"}},
		{"ratio to percent", ConversionSpec{Formula: "value * 100", InverseFormula: "value / 100"}},
	}

	inputs := []float64{-40.0, 0.5, 1.0, 5.0, 101325.0, 300.0}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := NewRule("test.path", "si", "display", tt.spec)
			if err != nil {
				t.Fatalf("NewRule() error = %v", err)
			}
			for _, x := range inputs {
				display, err := rule.ToDisplay(x)
				if err != nil {
					t.Fatalf("ToDisplay(%v) error = %v", x, err)
				}
				back, err := rule.ToSI(display)
				if err != nil {
					t.Fatalf("ToSI(%v) error = %v", display, err)
				}
				// Relative tolerance, absolute near zero.
				tol := 1e-6 * math.Max(1.0, math.Abs(x))
				if math.Abs(back-x) > tol {
					t.Errorf("round trip of %v via %q drifted to %v", x, tt.spec.Formula, back)
				}
			}
		})
	}
}

func TestRuleToSICommandValue(t *testing.T) {
	// A display-unit entry of 75 °F must go over the wire as Kelvin.
	rule, err := NewRule("environment.inside.temperature", "K", "degF", ConversionSpec{
		Formula:        "(value - 273.15) * 9/5 + 32",
		InverseFormula: "(value - 32) * 5/9 + 273.15",
		Symbol:         "°F",
	})
	if err != nil {
		t.Fatalf("NewRule() error = %v", err)
	}

	si, err := rule.ToSI(75.0)
	if err != nil {
		t.Fatalf("ToSI() error = %v", err)
	}
	if !almostEqual(si, 297.0389, 1e-3) {
		t.Errorf("ToSI(75.0) = %v, want ≈297.039", si)
	}
}

// ─── Formatting ────────────────────────────────────────────────────

func TestRuleFormat(t *testing.T) {
	degrees, err := NewRule("navigation.headingTrue", "rad", "deg", ConversionSpec{
		Formula:        "value * 57.2957795",
		InverseFormula: "value / 57.2957795",
		Symbol:         "°",
	})
	if err != nil {
		t.Fatalf("NewRule() error = %v", err)
	}

	tests := []struct {
		name     string
		si       float64
		decimals int
		want     string
	}{
		{"heading one decimal", 1.5708, 1, "90.0 °"},
		{"default decimals", 1.5708, -1, "90.0 °"},
		{"integer rounding", 1.5708, 0, "90 °"},
		{"more precision", 0.0, 2, "0.00 °"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := degrees.Format(tt.si, tt.decimals)
			if got != tt.want {
				t.Errorf("Format(%v, %d) = %q, want %q", tt.si, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestRuleFormatEvaluationFailure(t *testing.T) {
	// Syntactically valid but divides by zero for every input.
	rule, err := NewRule("test.path", "si", "x", ConversionSpec{
		Formula:        "1 / (value - value)",
		InverseFormula: "value",
	})
	if err != nil {
		t.Fatalf("NewRule() error = %v", err)
	}
	if got := rule.Format(5.0, 1); got != NoValue {
		t.Errorf("Format() = %q, want %q sentinel", got, NoValue)
	}
}

func TestRuleCopy(t *testing.T) {
	rule, err := NewRule("a.b", "m", "ft", ConversionSpec{
		Formula:        "value * 3.28084",
		InverseFormula: "value / 3.28084",
	})
	if err != nil {
		t.Fatalf("NewRule() error = %v", err)
	}

	clone := rule.Copy()
	clone.Symbol = "yards"
	if rule.Symbol == "yards" {
		t.Error("mutating a copy changed the original")
	}

	// Copies still convert: compiled formulas are shared.
	got, err := clone.ToDisplay(1.0)
	if err != nil || !almostEqual(got, 3.28084, 1e-9) {
		t.Errorf("copy ToDisplay(1.0) = %v, %v", got, err)
	}

	var nilRule *ConversionRule
	if nilRule.Copy() != nil {
		t.Error("Copy of nil rule should be nil")
	}
}
