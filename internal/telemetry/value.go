package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind discriminates the variants of a telemetry Value.
type Kind int

const (
	// KindAbsent marks a missing value (JSON null or no sample yet).
	KindAbsent Kind = iota

	// KindNumber is any numeric sample; the only convertible kind.
	KindNumber

	// KindBoolean is a true/false sample (switch states, alarms).
	KindBoolean

	// KindText is a string sample (navigation state, source labels).
	KindText

	// KindStructured is any object or array sample (positions, attitude).
	KindStructured
)

// String returns the kind name for logs.
func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindText:
		return "text"
	case KindStructured:
		return "structured"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the dynamically typed SignalK value space.
// SignalK types values per path, not per protocol, so the cache must carry
// numbers, booleans, strings, and structured objects side by side.
//
// The zero Value is KindAbsent.
type Value struct {
	kind       Kind
	num        float64
	boolean    bool
	text       string
	structured any
}

// NumberValue wraps a numeric sample.
func NumberValue(v float64) Value {
	return Value{kind: KindNumber, num: v}
}

// BoolValue wraps a boolean sample.
func BoolValue(b bool) Value {
	return Value{kind: KindBoolean, boolean: b}
}

// TextValue wraps a string sample.
func TextValue(s string) Value {
	return Value{kind: KindText, text: s}
}

// StructuredValue wraps an object or array sample. The caller keeps
// ownership; structured values pass through this package untouched.
func StructuredValue(v any) Value {
	return Value{kind: KindStructured, structured: v}
}

// AbsentValue is the explicit missing value.
func AbsentValue() Value {
	return Value{kind: KindAbsent}
}

// FromAny classifies a JSON-decoded value into its Value variant.
//
// encoding/json decodes numbers to float64; the integer cases cover
// programmatic callers.
func FromAny(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return AbsentValue()
	case float64:
		return NumberValue(v)
	case float32:
		return NumberValue(float64(v))
	case int:
		return NumberValue(float64(v))
	case int32:
		return NumberValue(float64(v))
	case int64:
		return NumberValue(float64(v))
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return NumberValue(f)
		}
		return TextValue(v.String())
	case bool:
		return BoolValue(v)
	case string:
		return TextValue(v)
	default:
		return StructuredValue(raw)
	}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind {
	return v.kind
}

// Number returns the numeric payload. The second return is false for
// every non-number variant.
func (v Value) Number() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// Bool returns the boolean payload.
func (v Value) Bool() (bool, bool) {
	if v.kind != KindBoolean {
		return false, false
	}
	return v.boolean, true
}

// Text returns the string payload.
func (v Value) Text() (string, bool) {
	if v.kind != KindText {
		return "", false
	}
	return v.text, true
}

// Structured returns the object/array payload.
func (v Value) Structured() (any, bool) {
	if v.kind != KindStructured {
		return nil, false
	}
	return v.structured, true
}

// IsAbsent reports whether the value is missing.
func (v Value) IsAbsent() bool {
	return v.kind == KindAbsent
}

// String renders the payload for logs and debug output.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.boolean)
	case KindText:
		return v.text
	case KindStructured:
		return fmt.Sprintf("%v", v.structured)
	default:
		return "absent"
	}
}

// MarshalJSON emits the raw payload, not the union wrapper, so cached
// samples serialize exactly as they arrived.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindBoolean:
		return json.Marshal(v.boolean)
	case KindText:
		return json.Marshal(v.text)
	case KindStructured:
		return json.Marshal(v.structured)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON classifies raw JSON through FromAny.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}
