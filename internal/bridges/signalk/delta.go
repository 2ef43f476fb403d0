package signalk

import (
	"encoding/json"
	"fmt"

	"github.com/halyard-io/pelorus/internal/units"
)

// SignalK stream message types. A connection delivers exactly three frame
// shapes: a hello on open, delta messages, and PUT responses. Frames are
// classified by field presence, not by an explicit type tag.

// Hello is the greeting frame the server sends when the stream opens.
type Hello struct {
	// Name is the server implementation name (e.g. "signalk-server").
	Name string `json:"name"`

	// Version is the server software version.
	Version string `json:"version"`

	// Self is the vessel context URN this connection is scoped to.
	Self string `json:"self"`

	// Roles describes the server's roles (master, main).
	Roles []string `json:"roles"`
}

// Delta is one stream update message: a context plus a batch of updates.
type Delta struct {
	// Context identifies the vessel the updates apply to. Empty means the
	// connection's self vessel.
	Context string `json:"context,omitempty"`

	// Updates is the batch of source-grouped updates.
	Updates []Update `json:"updates"`
}

// Update is one source's contribution within a delta: value samples,
// metadata declarations, or both.
type Update struct {
	// SourceRef is the compact source label ("gps.0", "n2k.115").
	SourceRef string `json:"$source,omitempty"`

	// Source is the expanded source block some servers send instead of,
	// or alongside, $source.
	Source *Source `json:"source,omitempty"`

	// Timestamp is the server's RFC3339 timestamp for this update. The
	// cache keys freshness off receipt time, so this is informational.
	Timestamp string `json:"timestamp,omitempty"`

	// Values carries telemetry samples.
	Values []PathValue `json:"values,omitempty"`

	// Meta carries unit-conversion descriptors.
	Meta []PathMeta `json:"meta,omitempty"`
}

// Source is the expanded form of a source reference.
type Source struct {
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
}

// PathValue is one telemetry sample within an update.
type PathValue struct {
	// Path is the dotted telemetry path. An empty path with an object
	// value is the server's shorthand for an update to the context root;
	// those are skipped during dispatch.
	Path string `json:"path"`

	// Value is the raw JSON-decoded payload: number, boolean, string,
	// object, array, or null.
	Value any `json:"value"`
}

// PathMeta is one unit-conversion declaration within an update.
type PathMeta struct {
	// Path is the dotted telemetry path the descriptor applies to.
	Path string `json:"path"`

	// Value is the conversion descriptor. Unknown fields are ignored.
	Value units.MetaDescriptor `json:"value"`
}

// SourceLabel returns the update's source label, preferring the compact
// $source form over the expanded block. Empty when the update carries
// neither.
func (u *Update) SourceLabel() string {
	if u.SourceRef != "" {
		return u.SourceRef
	}
	if u.Source != nil {
		return u.Source.Label
	}
	return ""
}

// ParseDelta decodes a stream frame as a delta message.
//
// Parameters:
//   - data: Raw frame payload
//
// Returns:
//   - *Delta: Decoded delta with at least one update
//   - error: ErrInvalidDelta when the frame is not JSON or has no updates
func ParseDelta(data []byte) (*Delta, error) {
	var delta Delta
	if err := json.Unmarshal(data, &delta); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDelta, err)
	}
	if len(delta.Updates) == 0 {
		return nil, fmt.Errorf("%w: no updates", ErrInvalidDelta)
	}
	return &delta, nil
}

// ParseHello decodes a stream frame as the server greeting. The boolean
// is false when the frame is not a hello.
func ParseHello(data []byte) (*Hello, bool) {
	var hello Hello
	if err := json.Unmarshal(data, &hello); err != nil {
		return nil, false
	}
	if hello.Self == "" && hello.Version == "" {
		return nil, false
	}
	return &hello, true
}

// isPutResponse reports whether a frame carries a PUT response envelope.
// Used by the read loop to route frames before full decoding.
func isPutResponse(data []byte) bool {
	var probe struct {
		RequestID string `json:"requestId"`
		State     string `json:"state"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.RequestID != "" && probe.State != ""
}
