// Package units implements the unit metadata and conversion subsystem for
// Pelorus.
//
// SignalK servers publish all telemetry in SI units (radians, m/s, Kelvin,
// Pascals) and separately declare, per path, how those values should be
// converted for display. This package ingests those declarations and turns
// them into queryable, bidirectional conversion rules.
//
// # Architecture
//
// Three layers, leaves first:
//
//	meta delta ──► Store.Update ──► Compile ──► ConversionRule
//	                                               │
//	widget read ◄── ToDisplay / ToSI / Format ◄────┘
//
//   - Formula: a compiled arithmetic expression with a single free
//     variable, evaluated against one float64 input.
//   - ConversionRule: an immutable pairing of forward and inverse formulas
//     with unit symbols and precision, keyed by telemetry path.
//   - Store: a path-keyed registry of rules fed by asynchronous metadata
//     deltas and read synchronously by many concurrent consumers.
//
// # Formula Safety
//
// Formulas originate from a possibly-untrusted server. The evaluator
// accepts only real-number literals, the identifier "value", the operators
// + - * / ^, unary minus, and parentheses. There are no function calls, no
// assignment, and no access to any scope beyond the single bound variable.
// Input length and nesting depth are bounded. Anything outside the grammar
// fails with ErrFormulaSyntax at compile time.
//
// # Failure Containment
//
// A malformed descriptor or unparseable formula rejects that one path's
// update and nothing else. Evaluation failures (division by zero,
// non-finite results) surface as ErrFormulaEvaluation and are absorbed by
// callers as "conversion unavailable". No error from this package should
// ever reach a rendering surface as a crash.
//
// # Thread Safety
//
// Compiled formulas and rules are immutable and safe for unsynchronised
// concurrent use. The Store is safe for concurrent use with a
// reader-biased lock: reads happen on every widget refresh, writes only
// when metadata deltas arrive.
package units
