package units

import (
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Store.
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

// MetaDescriptor is the wire shape of one path's unit metadata as
// delivered in a SignalK meta delta or a bulk conversions fetch.
// Unknown fields in the incoming JSON are ignored.
type MetaDescriptor struct {
	// BaseUnit is the SI unit the server publishes for this path.
	BaseUnit string `json:"baseUnit"`

	// Category is the server's grouping hint (speed, temperature, ...).
	Category string `json:"category,omitempty"`

	// TargetUnit names the preferred entry in Conversions. Optional; see
	// Update for the selection order when absent.
	TargetUnit string `json:"targetUnit,omitempty"`

	// Conversions maps display unit name to its formula pair.
	Conversions map[string]ConversionSpec `json:"conversions,omitempty"`
}

// ConversionSpec is one display unit's formula pair within a
// MetaDescriptor.
type ConversionSpec struct {
	Formula        string `json:"formula"`
	InverseFormula string `json:"inverseFormula"`
	Symbol         string `json:"symbol,omitempty"`
	Description    string `json:"description,omitempty"`

	// Decimals is the suggested display precision; nil means
	// DefaultDecimals.
	Decimals *int `json:"decimals,omitempty"`
}

// Store is a path-keyed registry of conversion rules.
//
// It is fed by asynchronous metadata deltas (bursty at connection time,
// rare afterwards) and read on every widget refresh, so the lock is
// reader-biased and Update does all parsing and compilation before
// taking the write lock.
//
// All public methods are thread-safe.
type Store struct {
	mu     sync.RWMutex
	rules  map[string]*ConversionRule
	logger Logger
}

// NewStore creates an empty metadata store.
func NewStore() *Store {
	return &Store{
		rules:  make(map[string]*ConversionRule),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Update parses a metadata descriptor and installs the resulting rule,
// replacing any prior rule for the path (last write wins, no merging).
//
// Descriptor validation, conversion selection, and formula compilation
// all happen before the write lock is taken; a malformed or uncompilable
// descriptor is dropped with a warning and leaves every other path's rule
// untouched. The store never holds a half-constructed rule.
//
// When the descriptor offers several conversions, the target is chosen in
// this order: the descriptor's TargetUnit if it names an existing entry,
// the sole entry if there is exactly one, otherwise the lexicographically
// first entry so repeated deltas pick deterministically.
func (s *Store) Update(path string, desc MetaDescriptor) error {
	if path == "" {
		err := fmt.Errorf("%w: missing path", ErrMalformedMetadata)
		s.logger.Warn("metadata update rejected", "error", err)
		return err
	}

	targetUnit, spec, err := selectConversion(desc)
	if err != nil {
		s.logger.Warn("metadata update rejected", "path", path, "error", err)
		return err
	}

	rule, err := NewRule(path, desc.BaseUnit, targetUnit, spec)
	if err != nil {
		s.logger.Warn("metadata update rejected", "path", path, "error", err)
		return err
	}

	s.mu.Lock()
	s.rules[path] = rule
	s.mu.Unlock()

	s.logger.Debug("conversion rule installed",
		"path", path, "base", rule.BaseUnit, "target", rule.TargetUnit)
	return nil
}

// selectConversion picks which conversion entry a descriptor installs.
func selectConversion(desc MetaDescriptor) (string, ConversionSpec, error) {
	if len(desc.Conversions) == 0 {
		return "", ConversionSpec{}, fmt.Errorf("%w: no conversions declared", ErrMalformedMetadata)
	}

	if desc.TargetUnit != "" {
		if spec, ok := desc.Conversions[desc.TargetUnit]; ok {
			return desc.TargetUnit, spec, nil
		}
	}

	if len(desc.Conversions) == 1 {
		for target, spec := range desc.Conversions {
			return target, spec, nil
		}
	}

	targets := make([]string, 0, len(desc.Conversions))
	for target := range desc.Conversions {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets[0], desc.Conversions[targets[0]], nil
}

// Get retrieves the rule for a path, or nil when none has been received.
// The returned rule is a copy; callers cannot mutate the store through it.
// Safe to call concurrently with Update.
func (s *Store) Get(path string) *ConversionRule {
	s.mu.RLock()
	rule, ok := s.rules[path]
	s.mu.RUnlock()

	if !ok {
		return nil
	}
	return rule.Copy()
}

// Reset clears all rules. Called on disconnect or server change so a rule
// from a previous session can never describe a new server's data. Atomic
// with respect to concurrent Get calls; a reader sees either the old map
// or an empty one, never a partial clear.
func (s *Store) Reset() {
	s.mu.Lock()
	count := len(s.rules)
	s.rules = make(map[string]*ConversionRule)
	s.mu.Unlock()

	if count > 0 {
		s.logger.Info("metadata store reset", "rules_dropped", count)
	}
}

// Snapshot returns a point-in-time copy of every installed rule, keyed by
// path. For inspection and the meta API; mutations to the result do not
// touch the store.
func (s *Store) Snapshot() map[string]*ConversionRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(map[string]*ConversionRule, len(s.rules))
	for path, rule := range s.rules {
		snap[path] = rule.Copy()
	}
	return snap
}

// RuleCount returns the number of installed rules.
func (s *Store) RuleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}
