package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSample writes a single telemetry sample to InfluxDB.
//
// This is the primary method for recording vessel data. Values are
// recorded in SI units exactly as they arrived from upstream; unit
// conversion happens at read time, never at storage time.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - path: SignalK path (e.g., "navigation.speedOverGround")
//   - source: Source label (e.g., "gps.0"), may be empty
//   - value: The numeric SI value to record
//   - timestamp: Sample timestamp from the upstream delta
//
// Example:
//
//	client.WriteSample("navigation.speedOverGround", "gps.0", 5.14, ts)
//	client.WriteSample("environment.wind.speedApparent", "wind.1", 8.2, ts)
func (c *Client) WriteSample(path string, source string, value float64, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"path": path,
	}
	if source != "" {
		tags["source"] = source
	}

	point := write.NewPoint(
		"telemetry",
		tags,
		map[string]interface{}{
			"value": value,
		},
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WriteUpstreamEvent records an upstream connection state transition.
//
// Used to correlate gaps in telemetry with connectivity, not for
// alerting. Events are recorded against the current wall clock.
//
// Parameters:
//   - event: Event name (e.g., "connected", "disconnected", "reconnecting")
//   - detail: Free-form detail (e.g., the server URL or close reason)
func (c *Client) WriteUpstreamEvent(event string, detail string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"upstream_events",
		map[string]string{
			"event": event,
		},
		map[string]interface{}{
			"detail": detail,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "helm-panel"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
