package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/halyard-io/pelorus/internal/audit"
	"github.com/halyard-io/pelorus/internal/bridges/signalk"
	"github.com/halyard-io/pelorus/internal/infrastructure/influxdb"
	"github.com/halyard-io/pelorus/internal/infrastructure/mqtt"
	"github.com/halyard-io/pelorus/internal/infrastructure/tsdb"
	"github.com/halyard-io/pelorus/internal/telemetry"
)

// upstreamCommander forwards SI writes to the upstream bridge once it
// exists. The MQTT bridge is constructed before the upstream bridge (it
// must be in the upstream's sink list), so it gets this indirection as
// its Commander instead of the bridge itself.
type upstreamCommander struct {
	mu     sync.RWMutex
	bridge *signalk.Bridge
}

// set points the commander at the upstream bridge. Called once during
// startup, before either bridge starts.
func (c *upstreamCommander) set(bridge *signalk.Bridge) {
	c.mu.Lock()
	c.bridge = bridge
	c.mu.Unlock()
}

// Put implements mqttbridge.Commander.
func (c *upstreamCommander) Put(ctx context.Context, path string, value any) error {
	c.mu.RLock()
	bridge := c.bridge
	c.mu.RUnlock()

	if bridge == nil {
		return fmt.Errorf("upstream bridge not ready: %w", signalk.ErrNotConnected)
	}
	return bridge.Put(ctx, path, value)
}

// pubSubAdapter adapts the infrastructure MQTT client to the bridge's
// PubSubClient interface. The signatures match; only the named
// MessageHandler type keeps the client from satisfying it directly.
type pubSubAdapter struct {
	client *mqtt.Client
}

// Publish implements mqttbridge.PubSubClient.
func (a *pubSubAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements mqttbridge.PubSubClient.
func (a *pubSubAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	return a.client.Subscribe(topic, qos, handler)
}

// Unsubscribe implements mqttbridge.PubSubClient.
func (a *pubSubAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}

// IsConnected implements mqttbridge.PubSubClient.
func (a *pubSubAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// commandAuditor records MQTT-originated command outcomes in the audit
// log.
type commandAuditor struct {
	repo audit.Repository
}

// RecordCommand implements mqttbridge.CommandAuditor.
func (a *commandAuditor) RecordCommand(ctx context.Context, path string, value any, result error) {
	details := map[string]any{"value": value}
	if result != nil {
		details["error"] = result.Error()
	}
	// Best effort: a failed audit write must not fail the command.
	_ = a.repo.Create(ctx, &audit.AuditLog{
		Action:     audit.ActionCommand,
		EntityType: "path",
		EntityID:   path,
		Source:     audit.SourceMQTT,
		Details:    details,
	})
}

// recorderSink feeds resolved readings into the history recorder.
type recorderSink struct {
	recorder *telemetry.Recorder
}

// OnReading implements signalk.ReadingSink.
func (s *recorderSink) OnReading(reading telemetry.Reading) {
	s.recorder.Record(context.Background(), reading.Path, reading.Source, reading.Value, reading.Timestamp)
}

// influxSink writes numeric readings and upstream connection events to
// InfluxDB. Non-numeric values (positions, attitude, notifications) are
// skipped; the write API is asynchronous so OnReading never blocks the
// dispatch path.
type influxSink struct {
	client *influxdb.Client
}

// OnReading implements signalk.ReadingSink.
func (s *influxSink) OnReading(reading telemetry.Reading) {
	if num, ok := reading.Value.Number(); ok {
		s.client.WriteSample(reading.Path, reading.Source, num, reading.Timestamp)
	}
}

// OnUpstreamStatus implements signalk.StatusSink.
func (s *influxSink) OnUpstreamStatus(connected bool) {
	event := "disconnected"
	if connected {
		event = "connected"
	}
	s.client.WriteUpstreamEvent(event, "")
}

// tsdbSink writes numeric readings and upstream connection events to
// VictoriaMetrics.
type tsdbSink struct {
	client *tsdb.Client
}

// OnReading implements signalk.ReadingSink.
func (s *tsdbSink) OnReading(reading telemetry.Reading) {
	if num, ok := reading.Value.Number(); ok {
		ts := reading.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		s.client.WriteSample(reading.Path, reading.Source, num, ts)
	}
}

// OnUpstreamStatus implements signalk.StatusSink.
func (s *tsdbSink) OnUpstreamStatus(connected bool) {
	event := "disconnected"
	if connected {
		event = "connected"
	}
	s.client.WriteUpstreamEvent(event)
}
