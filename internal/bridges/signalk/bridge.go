package signalk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/halyard-io/pelorus/internal/infrastructure/config"
	"github.com/halyard-io/pelorus/internal/telemetry"
	"github.com/halyard-io/pelorus/internal/units"
)

const (
	// metadataFetchTimeout bounds the bulk conversions fetch.
	metadataFetchTimeout = 15 * time.Second

	// maxMetadataSize caps the bulk conversions response body (4MB).
	maxMetadataSize = 4 * 1024 * 1024
)

// ReadingSink receives every resolved reading as it is cached. Sinks must
// be fast or hand off internally; they run on the stream dispatch path.
type ReadingSink interface {
	OnReading(reading telemetry.Reading)
}

// MetaSink is notified when a path's conversion rule changes.
type MetaSink interface {
	OnMetaUpdated(path string)
}

// StatusSink is notified when the upstream connection state changes.
type StatusSink interface {
	OnUpstreamStatus(connected bool)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the upstream server configuration.
	Config config.UpstreamConfig

	// Store receives metadata deltas and bulk conversion descriptors.
	Store *units.Store

	// Cache receives value deltas.
	Cache *telemetry.Cache

	// Resolver builds the readings fanned out to sinks.
	Resolver *telemetry.Resolver

	// Logger is optional structured logger.
	Logger Logger

	// ReadingSinks receive resolved readings. Optional.
	ReadingSinks []ReadingSink

	// MetaSinks receive rule-change notifications. Optional.
	MetaSinks []MetaSink

	// StatusSinks receive upstream connection state changes. Optional.
	StatusSinks []StatusSink
}

// Bridge owns the upstream SignalK connection and feeds the stores.
//
// It discovers the server's endpoints, maintains the stream through the
// reconnecting client, clears both stores before a new connection's
// deltas apply, fetches bulk conversion metadata at connect time, and
// fans resolved readings out to the registered sinks.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg      config.UpstreamConfig
	store    *units.Store
	cache    *telemetry.Cache
	resolver *telemetry.Resolver

	readingSinks []ReadingSink
	metaSinks    []MetaSink
	statusSinks  []StatusSink

	// Stream client; nil until the first connection succeeds.
	client   *Client
	clientMu sync.RWMutex

	// Resolved endpoints; set during Start.
	streamURL string
	httpURL   string

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("sample cache is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if opts.Config.Host == "" {
		return nil, fmt.Errorf("upstream host is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	return &Bridge{
		cfg:          opts.Config,
		store:        opts.Store,
		cache:        opts.Cache,
		resolver:     opts.Resolver,
		readingSinks: opts.ReadingSinks,
		metaSinks:    opts.MetaSinks,
		statusSinks:  opts.StatusSinks,
		done:         make(chan struct{}),
		ctx:          ctx,
		ctxCancel:    ctxCancel,
		logger:       opts.Logger,
	}, nil
}

// Start resolves the server's endpoints and brings up the stream.
//
// When the server is unreachable, Start logs the failure, schedules
// connection attempts in the background, and returns nil: the panel
// keeps serving dashboards from its stores while the upstream is down.
// Only configuration errors fail Start.
func (b *Bridge) Start(ctx context.Context) error {
	b.resolveEndpoints(ctx)

	streamURL, err := b.buildStreamURL()
	if err != nil {
		return fmt.Errorf("build stream url: %w", err)
	}
	b.streamURL = streamURL

	// A fresh session starts from empty stores; nothing from a previous
	// run may survive into this connection's data.
	b.store.Reset()
	b.cache.Clear()

	if err := b.connectOnce(); err != nil {
		b.logError("initial connection failed, retrying in background", err)
		b.wg.Add(1)
		go b.connectLoop()
	}

	b.logInfo("bridge started", "stream_url", b.streamURL)
	return nil
}

// Stop gracefully shuts down the bridge and the stream.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight fetches and puts
		b.ctxCancel()

		b.clientMu.Lock()
		client := b.client
		b.client = nil
		b.clientMu.Unlock()

		if client != nil {
			//nolint:errcheck // Best-effort during shutdown
			client.Close()
		}

		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// stopped reports whether Stop has been called.
func (b *Bridge) stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// resolveEndpoints runs REST discovery, falling back to the conventional
// endpoint layout when the document is unreachable.
func (b *Bridge) resolveEndpoints(ctx context.Context) {
	scheme := "http"
	if b.cfg.TLS {
		scheme = "https"
	}
	base := fmt.Sprintf("%s://%s:%d", scheme, b.cfg.Host, b.cfg.Port)

	endpoints, err := Discover(ctx, base, b.cfg.Token)
	if err != nil {
		endpoints = DefaultEndpoints(b.cfg.Host, b.cfg.Port, b.cfg.TLS)
		b.logInfo("endpoint discovery failed, using conventional endpoints",
			"error", err.Error(),
			"stream_url", endpoints.StreamURL)
	} else {
		b.logInfo("endpoints discovered",
			"server", endpoints.ServerID,
			"version", endpoints.Version,
			"stream_url", endpoints.StreamURL)
	}

	b.streamURL = endpoints.StreamURL
	b.httpURL = endpoints.HTTPURL
}

// buildStreamURL appends the subscription mode to the stream endpoint.
func (b *Bridge) buildStreamURL() (string, error) {
	subscribe := b.cfg.Subscribe
	if subscribe == "" {
		subscribe = "self"
	}

	u, err := url.Parse(b.streamURL)
	if err != nil {
		return "", fmt.Errorf("parse stream url %q: %w", b.streamURL, err)
	}
	q := u.Query()
	q.Set("subscribe", subscribe)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connectOnce makes a single connection attempt and wires the client.
func (b *Bridge) connectOnce() error {
	client, err := Connect(b.ctx, b.streamConfig())
	if err != nil {
		return err
	}

	client.SetLogger(b.getLogger())
	client.SetOnDelta(b.handleDelta)
	client.SetOnConnect(b.handleReconnected)
	client.SetOnDisconnect(b.handleStreamLost)

	b.clientMu.Lock()
	if b.stopped() {
		// Stop ran while the dial was in flight; it cannot have seen
		// this client, so close it here.
		b.clientMu.Unlock()
		//nolint:errcheck // Best-effort during shutdown
		client.Close()
		return nil
	}
	b.client = client
	b.clientMu.Unlock()

	// The stores were cleared before this attempt; bring in the bulk
	// conversions without stalling the read loop.
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.fetchBulkMetadata(b.ctx)
	}()

	b.notifyStatus(true)
	return nil
}

// connectLoop retries the initial connection until it succeeds or the
// bridge stops. The client handles all later reconnections itself.
func (b *Bridge) connectLoop() {
	defer b.wg.Done()

	backoff := time.Duration(b.cfg.Reconnect.InitialDelay) * time.Second
	if backoff <= 0 {
		backoff = defaultReconnectInterval
	}
	maxBackoff := time.Duration(b.cfg.Reconnect.MaxDelay) * time.Second
	if maxBackoff <= 0 {
		maxBackoff = maxReconnectInterval
	}

	for {
		select {
		case <-b.done:
			return
		case <-time.After(backoff):
		}

		err := b.connectOnce()
		if err == nil {
			return
		}
		b.logError("connection attempt failed", err)

		backoff = time.Duration(float64(backoff) * 1.5)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// streamConfig maps the upstream configuration onto the client.
func (b *Bridge) streamConfig() StreamConfig {
	return StreamConfig{
		URL:               b.streamURL,
		Token:             b.cfg.Token,
		ReconnectInterval: time.Duration(b.cfg.Reconnect.InitialDelay) * time.Second,
		ReconnectMax:      time.Duration(b.cfg.Reconnect.MaxDelay) * time.Second,
		MaxAttempts:       b.cfg.Reconnect.MaxAttempts,
	}
}

// handleReconnected runs after the client re-establishes a dropped
// stream, before any frame from the new connection is dispatched. The
// server may have restarted with different unit semantics, so both
// stores are cleared rather than trusted.
func (b *Bridge) handleReconnected() {
	b.store.Reset()
	b.cache.Clear()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.fetchBulkMetadata(b.ctx)
	}()

	b.notifyStatus(true)
}

// handleStreamLost runs when the stream drops. Both stores clear
// immediately so a dead connection's rules and samples never render as
// live; they clear again before the next connection's deltas apply.
func (b *Bridge) handleStreamLost(err error) {
	b.store.Reset()
	b.cache.Clear()

	b.logInfo("upstream stream lost", "error", err.Error())
	b.notifyStatus(false)
}

// handleDelta dispatches one delta into the stores. Runs on the stream
// read goroutine, so per-path arrival order is preserved end to end.
func (b *Bridge) handleDelta(delta *Delta) {
	for i := range delta.Updates {
		update := &delta.Updates[i]
		source := update.SourceLabel()

		for _, meta := range update.Meta {
			if meta.Path == "" {
				continue
			}
			if err := b.store.Update(meta.Path, meta.Value); err != nil {
				// Malformed descriptors are contained per path; the
				// store already logged the reason.
				continue
			}
			b.notifyMeta(meta.Path)
		}

		for _, pv := range update.Values {
			if pv.Path == "" {
				// Context-root shorthand; nothing to key a sample on.
				continue
			}
			b.cache.Put(pv.Path, source, telemetry.FromAny(pv.Value), time.Now())
			b.fanOut(pv.Path, source)
		}
	}
}

// fanOut resolves the fresh sample into a Reading and delivers it to
// every reading sink.
func (b *Bridge) fanOut(path, source string) {
	if len(b.readingSinks) == 0 {
		return
	}
	reading := b.resolver.Reading(path, source)
	for _, sink := range b.readingSinks {
		sink.OnReading(reading)
	}
}

// notifyMeta tells the meta sinks a path's rule changed.
func (b *Bridge) notifyMeta(path string) {
	for _, sink := range b.metaSinks {
		sink.OnMetaUpdated(path)
	}
}

// notifyStatus tells the status sinks the upstream state changed.
func (b *Bridge) notifyStatus(connected bool) {
	for _, sink := range b.statusSinks {
		sink.OnUpstreamStatus(connected)
	}
}

// fetchBulkMetadata pulls the server's bulk conversions document and
// feeds each entry through the store, the same ingestion path streamed
// meta deltas use. Disabled when no metadata path is configured.
func (b *Bridge) fetchBulkMetadata(ctx context.Context) {
	if b.cfg.MetadataPath == "" || b.httpURL == "" {
		return
	}

	fetchURL := strings.TrimSuffix(b.httpURL, "/") + "/" + strings.TrimPrefix(b.cfg.MetadataPath, "/")

	ctx, cancel := context.WithTimeout(ctx, metadataFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		b.logError("bulk metadata request failed", err)
		return
	}
	if b.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		b.logError("bulk metadata fetch failed", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// The server simply doesn't expose the document; streamed meta
		// deltas remain the metadata source.
		b.logInfo("bulk metadata not available", "url", fetchURL)
		return
	}
	if resp.StatusCode != http.StatusOK {
		b.logError("bulk metadata fetch failed", fmt.Errorf("status %d", resp.StatusCode))
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if err != nil {
		b.logError("bulk metadata read failed", err)
		return
	}

	var descriptors map[string]units.MetaDescriptor
	if err := json.Unmarshal(body, &descriptors); err != nil {
		b.logError("bulk metadata parse failed", err)
		return
	}

	installed := 0
	for path, desc := range descriptors {
		if err := b.store.Update(path, desc); err != nil {
			continue
		}
		b.notifyMeta(path)
		installed++
	}

	b.logInfo("bulk metadata loaded", "rules_installed", installed, "entries", len(descriptors))
}

// Put sends an SI value to the server for a path. Callers convert
// display input through the resolver before reaching here.
//
// Parameters:
//   - ctx: Context for cancellation (the configured put timeout applies
//     when it carries no deadline)
//   - path: Dotted telemetry path to write
//   - value: New value in SI units
//
// Returns:
//   - error: ErrNotConnected when the stream is down, otherwise the
//     client's put result
func (b *Bridge) Put(ctx context.Context, path string, value any) error {
	b.clientMu.RLock()
	client := b.client
	b.clientMu.RUnlock()

	if client == nil {
		return ErrNotConnected
	}

	if b.cfg.PutTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(b.cfg.PutTimeout)*time.Second)
			defer cancel()
		}
	}

	return client.Put(ctx, path, value)
}

// IsConnected reports whether the upstream stream is up.
func (b *Bridge) IsConnected() bool {
	b.clientMu.RLock()
	defer b.clientMu.RUnlock()
	return b.client != nil && b.client.IsConnected()
}

// HealthCheck verifies the upstream stream is up.
func (b *Bridge) HealthCheck(_ context.Context) error {
	if !b.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Connected       bool
	Status          string
	DeltasRx        uint64
	PutsTx          uint64
	ReconnectsTotal uint64
	RuleCount       int
	CachedPaths     int
	CachedSamples   int
}

// GetMetrics returns current bridge metrics for the API metrics endpoint.
func (b *Bridge) GetMetrics() BridgeMetrics {
	metrics := BridgeMetrics{
		Status:        "disconnected",
		RuleCount:     b.store.RuleCount(),
		CachedPaths:   b.cache.Stats().Paths,
		CachedSamples: b.cache.Stats().Samples,
	}

	b.clientMu.RLock()
	client := b.client
	b.clientMu.RUnlock()

	if client != nil {
		stats := client.Stats()
		metrics.Connected = stats.Connected
		metrics.DeltasRx = stats.DeltasRx
		metrics.PutsTx = stats.PutsTx
		metrics.ReconnectsTotal = stats.ReconnectsTotal
		if stats.Connected {
			metrics.Status = "healthy"
		} else if stats.Reconnecting {
			metrics.Status = "reconnecting"
		}
	}

	return metrics
}

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
