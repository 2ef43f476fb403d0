package units

import "errors"

// Domain errors for the units package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, units.ErrFormulaSyntax) {
//	    // reject this path's metadata, leave the store untouched
//	}
var (
	// ErrFormulaSyntax is returned when a formula string cannot be parsed
	// under the supported grammar.
	ErrFormulaSyntax = errors.New("units: formula syntax error")

	// ErrFormulaEvaluation is returned when a syntactically valid formula
	// produces a non-finite result or divides by zero.
	ErrFormulaEvaluation = errors.New("units: formula evaluation failed")

	// ErrMalformedMetadata is returned when a metadata descriptor is
	// missing required fields.
	ErrMalformedMetadata = errors.New("units: malformed metadata")
)
