package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	inframqtt "github.com/halyard-io/pelorus/internal/infrastructure/mqtt"
	"github.com/halyard-io/pelorus/internal/telemetry"
	"github.com/halyard-io/pelorus/internal/units"
)

const (
	// commandTimeout bounds a single upstream write.
	commandTimeout = 10 * time.Second

	// commandQueueSize bounds commands waiting on the upstream.
	commandQueueSize = 16

	// maxTrackedStates caps the publish dedupe map.
	maxTrackedStates = 4096
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// PubSubClient is the interface for broker operations used by the
// bridge. Satisfied by the infrastructure MQTT client through a small
// adapter in the composition root.
type PubSubClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Commander forwards SI-unit writes to the upstream server. Satisfied
// by the SignalK bridge.
type Commander interface {
	Put(ctx context.Context, path string, value any) error
}

// CommandAuditor records the outcome of forwarded commands. Optional;
// when nil, outcomes are only logged.
type CommandAuditor interface {
	RecordCommand(ctx context.Context, path string, value any, result error)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Client is the broker connection.
	Client PubSubClient

	// Commander receives validated SI writes.
	Commander Commander

	// Resolver converts display-unit command values back to SI.
	Resolver *telemetry.Resolver

	// Store provides rule snapshots for the meta topics.
	Store *units.Store

	// QoS applies to the command subscription and all publishes.
	QoS byte

	// Auditor records command outcomes. Optional.
	Auditor CommandAuditor

	// Logger is optional structured logger.
	Logger Logger
}

// Bridge republishes resolved readings and unit metadata onto the
// broker and forwards inbound command requests to the upstream.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	client    PubSubClient
	commander Commander
	resolver  *telemetry.Resolver
	store     *units.Store
	auditor   CommandAuditor
	qos       byte

	// Last published state per path, for suppressing republishes of
	// unchanged readings. Forgotten when the upstream disconnects.
	published map[string]string
	stateMu   sync.Mutex

	// Inbound commands, drained by a single worker so writes reach the
	// upstream in arrival order.
	commands chan pendingCommand

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Metrics
	readingsPublished  atomic.Uint64
	readingsSuppressed atomic.Uint64
	metaPublished      atomic.Uint64
	publishErrors      atomic.Uint64
	commandsReceived   atomic.Uint64
	commandsForwarded  atomic.Uint64
	commandsFailed     atomic.Uint64

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("mqtt client is required")
	}
	if opts.Commander == nil {
		return nil, fmt.Errorf("commander is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("metadata store is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	return &Bridge{
		client:    opts.Client,
		commander: opts.Commander,
		resolver:  opts.Resolver,
		store:     opts.Store,
		auditor:   opts.Auditor,
		qos:       opts.QoS,
		published: make(map[string]string),
		commands:  make(chan pendingCommand, commandQueueSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}, nil
}

// Start subscribes to the command topics and starts the forwarding
// worker.
func (b *Bridge) Start(_ context.Context) error {
	topic := inframqtt.Topics{}.AllCommands()
	if err := b.client.Subscribe(topic, b.qos, b.handleCommandMessage); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	b.wg.Add(1)
	go b.commandWorker()

	b.logInfo("mqtt bridge started", "command_topic", topic, "qos", b.qos)
	return nil
}

// Stop gracefully shuts down the bridge. In-flight upstream writes are
// cancelled; queued commands are dropped.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		//nolint:errcheck // Best-effort during shutdown
		b.client.Unsubscribe(inframqtt.Topics{}.AllCommands())

		close(b.done)
		b.ctxCancel()
		b.wg.Wait()

		b.logInfo("mqtt bridge stopped")
	})
}

// ===== Outbound: readings, metadata, upstream status =====

// OnReading republishes a resolved reading as a retained message on the
// path's telemetry topic. Readings whose rendered state is unchanged
// are suppressed; the retained payload keeps the timestamp of the last
// change.
//
// Runs on the upstream dispatch path, so the broker publish timeout
// back-pressures ingest rather than queueing without bound.
func (b *Bridge) OnReading(reading telemetry.Reading) {
	if !b.client.IsConnected() {
		return
	}

	state, err := readingState(reading)
	if err != nil {
		b.publishErrors.Add(1)
		b.logError("reading state encode failed", fmt.Errorf("%s: %w", reading.Path, err))
		return
	}

	b.stateMu.Lock()
	last, tracked := b.published[reading.Path]
	b.stateMu.Unlock()
	if tracked && last == state {
		b.readingsSuppressed.Add(1)
		return
	}

	payload, err := json.Marshal(reading)
	if err != nil {
		b.publishErrors.Add(1)
		b.logError("reading encode failed", fmt.Errorf("%s: %w", reading.Path, err))
		return
	}

	topic := inframqtt.Topics{}.Telemetry(reading.Path)
	if err := b.client.Publish(topic, payload, b.qos, true); err != nil {
		b.publishErrors.Add(1)
		b.logError("reading publish failed", fmt.Errorf("%s: %w", reading.Path, err))

		// Forget the tracked state so the next sample retries.
		b.stateMu.Lock()
		delete(b.published, reading.Path)
		b.stateMu.Unlock()
		return
	}

	b.trackPublished(reading.Path, state)
	b.readingsPublished.Add(1)
}

// OnMetaUpdated republishes a path's conversion rule as a retained
// message on its meta topic.
func (b *Bridge) OnMetaUpdated(path string) {
	if !b.client.IsConnected() {
		return
	}

	rule := b.store.Get(path)
	if rule == nil {
		return
	}

	payload, err := json.Marshal(rule)
	if err != nil {
		b.publishErrors.Add(1)
		b.logError("rule encode failed", fmt.Errorf("%s: %w", path, err))
		return
	}

	if err := b.client.Publish(inframqtt.Topics{}.Meta(path), payload, b.qos, true); err != nil {
		b.publishErrors.Add(1)
		b.logError("rule publish failed", fmt.Errorf("%s: %w", path, err))
		return
	}

	b.metaPublished.Add(1)
}

// upstreamStatusMessage is the retained payload on the upstream status
// topic.
type upstreamStatusMessage struct {
	Connected bool      `json:"connected"`
	Timestamp time.Time `json:"timestamp"`
}

// OnUpstreamStatus publishes upstream connection changes. On disconnect
// the published states are forgotten: the stores were cleared, so every
// path republishes once the next connection's readings arrive.
func (b *Bridge) OnUpstreamStatus(connected bool) {
	if !connected {
		b.stateMu.Lock()
		b.published = make(map[string]string)
		b.stateMu.Unlock()
	}

	if !b.client.IsConnected() {
		return
	}

	payload, err := json.Marshal(upstreamStatusMessage{
		Connected: connected,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		b.publishErrors.Add(1)
		b.logError("status encode failed", err)
		return
	}

	if err := b.client.Publish(inframqtt.Topics{}.UpstreamStatus(), payload, b.qos, true); err != nil {
		b.publishErrors.Add(1)
		b.logError("upstream status publish failed", err)
	}
}

// readingState renders the fields of a reading consumers can observe
// change, excluding the sample timestamp. Object values marshal with
// sorted keys, so equal values always produce equal states.
func readingState(reading telemetry.Reading) (string, error) {
	value, err := json.Marshal(reading.Value)
	if err != nil {
		return "", err
	}
	return reading.Source + "|" + reading.Formatted + "|" +
		strconv.FormatBool(reading.Fresh) + "|" + string(value), nil
}

// trackPublished records the last published state for a path. The map
// is capped; overflow paths simply publish every sample.
func (b *Bridge) trackPublished(path, state string) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	if _, tracked := b.published[path]; !tracked && len(b.published) >= maxTrackedStates {
		return
	}
	b.published[path] = state
}

// ===== Health and metrics =====

// IsConnected reports whether the broker connection is up.
func (b *Bridge) IsConnected() bool {
	return b.client.IsConnected()
}

// HealthCheck verifies the broker connection is up.
func (b *Bridge) HealthCheck(_ context.Context) error {
	if !b.client.IsConnected() {
		return ErrBrokerUnavailable
	}
	return nil
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Connected          bool
	ReadingsPublished  uint64
	ReadingsSuppressed uint64
	MetaPublished      uint64
	PublishErrors      uint64
	CommandsReceived   uint64
	CommandsForwarded  uint64
	CommandsFailed     uint64
	QueuedCommands     int
}

// GetMetrics returns current bridge metrics for the API metrics endpoint.
func (b *Bridge) GetMetrics() BridgeMetrics {
	return BridgeMetrics{
		Connected:          b.client.IsConnected(),
		ReadingsPublished:  b.readingsPublished.Load(),
		ReadingsSuppressed: b.readingsSuppressed.Load(),
		MetaPublished:      b.metaPublished.Load(),
		PublishErrors:      b.publishErrors.Load(),
		CommandsReceived:   b.commandsReceived.Load(),
		CommandsForwarded:  b.commandsForwarded.Load(),
		CommandsFailed:     b.commandsFailed.Load(),
		QueuedCommands:     len(b.commands),
	}
}

// ===== Logging =====

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
