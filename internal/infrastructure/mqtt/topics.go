package mqtt

import "strings"

// Topic prefixes for the Pelorus MQTT surface.
//
// SignalK paths use dots as separators ("navigation.speedOverGround");
// MQTT topics use slashes. The builders below translate between the two,
// so the path navigation.speedOverGround is published on
// pelorus/telemetry/navigation/speedOverGround.
const (
	// TopicPrefix is the base for all Pelorus topics.
	TopicPrefix = "pelorus"

	// TopicPrefixTelemetry is the base for republished readings.
	TopicPrefixTelemetry = "pelorus/telemetry"

	// TopicPrefixCommand is the base for inbound command requests.
	TopicPrefixCommand = "pelorus/command"

	// TopicPrefixMeta is the base for republished unit metadata.
	TopicPrefixMeta = "pelorus/meta"
)

// Topics provides builders for Pelorus MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	t := topics.Telemetry("navigation.speedOverGround")
//	// Returns: "pelorus/telemetry/navigation/speedOverGround"
type Topics struct{}

// =============================================================================
// Publish Topics
// =============================================================================

// Telemetry returns the topic for republished readings of a path.
//
// Example: pelorus/telemetry/navigation/speedOverGround
func (Topics) Telemetry(path string) string {
	return TopicPrefixTelemetry + "/" + pathToTopic(path)
}

// Command returns the topic on which command requests for a path arrive.
//
// Example: pelorus/command/steering/autopilot/target/headingMagnetic
func (Topics) Command(path string) string {
	return TopicPrefixCommand + "/" + pathToTopic(path)
}

// Meta returns the topic for republished unit metadata of a path.
//
// Example: pelorus/meta/environment/water/temperature
func (Topics) Meta(path string) string {
	return TopicPrefixMeta + "/" + pathToTopic(path)
}

// Status returns the panel status topic used for LWT and online messages.
//
// Example: pelorus/status
func (Topics) Status() string {
	return TopicPrefix + "/status"
}

// UpstreamStatus returns the topic for upstream connection state changes.
//
// Example: pelorus/upstream/status
func (Topics) UpstreamStatus() string {
	return TopicPrefix + "/upstream/status"
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllCommands returns a pattern matching all command request topics.
//
// Pattern: pelorus/command/#
func (Topics) AllCommands() string {
	return TopicPrefixCommand + "/#"
}

// AllTelemetry returns a pattern matching all republished readings.
//
// Pattern: pelorus/telemetry/#
func (Topics) AllTelemetry() string {
	return TopicPrefixTelemetry + "/#"
}

// AllTopics returns a pattern matching all Pelorus topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: pelorus/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// =============================================================================
// Path <-> Topic Translation
// =============================================================================

// PathFromTopic extracts the SignalK path from a topic under the given prefix.
//
// Returns the path with dots restored and ok=false when the topic is not
// under the prefix or has no path segment.
//
// Example:
//
//	path, ok := mqtt.PathFromTopic("pelorus/command/navigation/lights", mqtt.TopicPrefixCommand)
//	// path = "navigation.lights", ok = true
func PathFromTopic(topic, prefix string) (string, bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found || rest == "" {
		return "", false
	}
	return strings.ReplaceAll(rest, "/", "."), true
}

// pathToTopic converts a dotted SignalK path to topic segments.
func pathToTopic(path string) string {
	return strings.ReplaceAll(path, ".", "/")
}
