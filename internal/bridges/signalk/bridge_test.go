package signalk

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/halyard-io/pelorus/internal/infrastructure/config"
	"github.com/halyard-io/pelorus/internal/telemetry"
	"github.com/halyard-io/pelorus/internal/units"
)

// ===== Test Sinks =====

type captureReadingSink struct {
	mu       sync.Mutex
	readings []telemetry.Reading
}

func (s *captureReadingSink) OnReading(r telemetry.Reading) {
	s.mu.Lock()
	s.readings = append(s.readings, r)
	s.mu.Unlock()
}

func (s *captureReadingSink) all() []telemetry.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.Reading(nil), s.readings...)
}

type captureMetaSink struct {
	mu    sync.Mutex
	paths []string
}

func (s *captureMetaSink) OnMetaUpdated(path string) {
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
}

func (s *captureMetaSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

type captureStatusSink struct {
	mu     sync.Mutex
	states []bool
}

func (s *captureStatusSink) OnUpstreamStatus(connected bool) {
	s.mu.Lock()
	s.states = append(s.states, connected)
	s.mu.Unlock()
}

// ===== Test Helpers =====

func knotsDescriptor() units.MetaDescriptor {
	one := 1
	return units.MetaDescriptor{
		BaseUnit:   "m/s",
		Category:   "speed",
		TargetUnit: "knots",
		Conversions: map[string]units.ConversionSpec{
			"knots": {
				Formula:        "value * 1.94384",
				InverseFormula: "value / 1.94384",
				Symbol:         "kn",
				Decimals:       &one,
			},
		},
	}
}

type bridgeFixture struct {
	bridge   *Bridge
	store    *units.Store
	cache    *telemetry.Cache
	readings *captureReadingSink
	metas    *captureMetaSink
	statuses *captureStatusSink
}

func newBridgeFixture(t *testing.T, cfg config.UpstreamConfig) *bridgeFixture {
	t.Helper()

	if cfg.Host == "" {
		cfg.Host = "skserver.local"
		cfg.Port = 3000
	}

	store := units.NewStore()
	cache := telemetry.NewCache()
	readings := &captureReadingSink{}
	metas := &captureMetaSink{}
	statuses := &captureStatusSink{}

	bridge, err := NewBridge(BridgeOptions{
		Config:       cfg,
		Store:        store,
		Cache:        cache,
		Resolver:     telemetry.NewResolver(store, cache),
		ReadingSinks: []ReadingSink{readings},
		MetaSinks:    []MetaSink{metas},
		StatusSinks:  []StatusSink{statuses},
	})
	if err != nil {
		t.Fatalf("NewBridge() error: %v", err)
	}
	t.Cleanup(bridge.Stop)

	return &bridgeFixture{
		bridge:   bridge,
		store:    store,
		cache:    cache,
		readings: readings,
		metas:    metas,
		statuses: statuses,
	}
}

// ===== Constructor Tests =====

func TestNewBridge_Validation(t *testing.T) {
	store := units.NewStore()
	cache := telemetry.NewCache()
	resolver := telemetry.NewResolver(store, cache)
	cfg := config.UpstreamConfig{Host: "skserver.local", Port: 3000}

	tests := []struct {
		name string
		opts BridgeOptions
	}{
		{
			name: "missing store",
			opts: BridgeOptions{Config: cfg, Cache: cache, Resolver: resolver},
		},
		{
			name: "missing cache",
			opts: BridgeOptions{Config: cfg, Store: store, Resolver: resolver},
		},
		{
			name: "missing resolver",
			opts: BridgeOptions{Config: cfg, Store: store, Cache: cache},
		},
		{
			name: "missing host",
			opts: BridgeOptions{Store: store, Cache: cache, Resolver: resolver},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBridge(tt.opts); err == nil {
				t.Error("NewBridge() expected error, got nil")
			}
		})
	}
}

func TestStop_Idempotent(t *testing.T) {
	fix := newBridgeFixture(t, config.UpstreamConfig{})
	fix.bridge.Stop()
	fix.bridge.Stop()
}

// ===== Stream URL Tests =====

func TestBuildStreamURL(t *testing.T) {
	tests := []struct {
		name      string
		streamURL string
		subscribe string
		want      string
	}{
		{
			name:      "default subscription",
			streamURL: "ws://skserver.local:3000/signalk/v1/stream",
			subscribe: "",
			want:      "ws://skserver.local:3000/signalk/v1/stream?subscribe=self",
		},
		{
			name:      "all subscription",
			streamURL: "ws://skserver.local:3000/signalk/v1/stream",
			subscribe: "all",
			want:      "ws://skserver.local:3000/signalk/v1/stream?subscribe=all",
		},
		{
			name:      "advertised query overridden",
			streamURL: "ws://skserver.local:3000/signalk/v1/stream?subscribe=none",
			subscribe: "self",
			want:      "ws://skserver.local:3000/signalk/v1/stream?subscribe=self",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix := newBridgeFixture(t, config.UpstreamConfig{
				Host:      "skserver.local",
				Port:      3000,
				Subscribe: tt.subscribe,
			})
			fix.bridge.streamURL = tt.streamURL

			got, err := fix.bridge.buildStreamURL()
			if err != nil {
				t.Fatalf("buildStreamURL() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("buildStreamURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ===== Delta Dispatch Tests =====

func TestHandleDelta_Values(t *testing.T) {
	fix := newBridgeFixture(t, config.UpstreamConfig{})

	delta, err := ParseDelta([]byte(speedDeltaFrame))
	if err != nil {
		t.Fatalf("ParseDelta() error: %v", err)
	}
	fix.bridge.handleDelta(delta)

	dp, ok := fix.cache.Get("navigation.speedOverGround", "gps.0")
	if !ok {
		t.Fatal("sample not cached")
	}
	if v, ok := dp.Value.Number(); !ok || v != 5.14 {
		t.Errorf("cached value = %v, want 5.14", dp.Value)
	}

	readings := fix.readings.all()
	if len(readings) != 1 {
		t.Fatalf("len(readings) = %d, want 1", len(readings))
	}
	if readings[0].Path != "navigation.speedOverGround" {
		t.Errorf("reading path = %q", readings[0].Path)
	}
	if readings[0].Source != "gps.0" {
		t.Errorf("reading source = %q, want gps.0", readings[0].Source)
	}
	if !readings[0].Fresh {
		t.Error("reading not fresh immediately after dispatch")
	}
}

func TestHandleDelta_MetaThenValue(t *testing.T) {
	fix := newBridgeFixture(t, config.UpstreamConfig{})

	fix.bridge.handleDelta(&Delta{
		Context: "vessels.self",
		Updates: []Update{{
			SourceRef: "defaults",
			Meta: []PathMeta{{
				Path:  "navigation.speedOverGround",
				Value: knotsDescriptor(),
			}},
		}},
	})

	if got := fix.store.RuleCount(); got != 1 {
		t.Fatalf("RuleCount() = %d, want 1", got)
	}
	metaPaths := fix.metas.all()
	if len(metaPaths) != 1 || metaPaths[0] != "navigation.speedOverGround" {
		t.Errorf("meta notifications = %v, want [navigation.speedOverGround]", metaPaths)
	}

	delta, err := ParseDelta([]byte(speedDeltaFrame))
	if err != nil {
		t.Fatalf("ParseDelta() error: %v", err)
	}
	fix.bridge.handleDelta(delta)

	readings := fix.readings.all()
	if len(readings) != 1 {
		t.Fatalf("len(readings) = %d, want 1", len(readings))
	}

	reading := readings[0]
	if reading.Display == nil {
		t.Fatal("reading display is nil with a rule installed")
	}
	if math.Abs(*reading.Display-9.9913) > 0.001 {
		t.Errorf("display = %v, want ~9.9913 knots", *reading.Display)
	}
	if reading.Formatted != "10.0 kn" {
		t.Errorf("formatted = %q, want %q", reading.Formatted, "10.0 kn")
	}
	if reading.Symbol != "kn" {
		t.Errorf("symbol = %q, want kn", reading.Symbol)
	}
}

func TestHandleDelta_SkipsContextRootShorthand(t *testing.T) {
	fix := newBridgeFixture(t, config.UpstreamConfig{})

	fix.bridge.handleDelta(&Delta{
		Updates: []Update{{
			SourceRef: "gps.0",
			Values: []PathValue{{
				Path:  "",
				Value: map[string]any{"name": "Vessel"},
			}},
		}},
	})

	if got := fix.cache.Stats().Paths; got != 0 {
		t.Errorf("cached paths = %d, want 0", got)
	}
	if got := len(fix.readings.all()); got != 0 {
		t.Errorf("len(readings) = %d, want 0", got)
	}
}

func TestHandleDelta_MalformedMetaContained(t *testing.T) {
	fix := newBridgeFixture(t, config.UpstreamConfig{})

	fix.bridge.handleDelta(&Delta{
		Updates: []Update{{
			Meta: []PathMeta{
				{
					// Unparseable formula; the store rejects it.
					Path: "environment.depth.belowTransducer",
					Value: units.MetaDescriptor{
						BaseUnit: "m",
						Conversions: map[string]units.ConversionSpec{
							"feet": {Formula: "(value * 3.28084", InverseFormula: "value / 3.28084"},
						},
					},
				},
				{
					Path:  "navigation.speedOverGround",
					Value: knotsDescriptor(),
				},
			},
		}},
	})

	if got := fix.store.RuleCount(); got != 1 {
		t.Errorf("RuleCount() = %d, want 1 (malformed entry dropped)", got)
	}
	metaPaths := fix.metas.all()
	if len(metaPaths) != 1 || metaPaths[0] != "navigation.speedOverGround" {
		t.Errorf("meta notifications = %v, want only the valid path", metaPaths)
	}
}

func TestHandleReconnected_ClearsStores(t *testing.T) {
	fix := newBridgeFixture(t, config.UpstreamConfig{})

	if err := fix.store.Update("navigation.speedOverGround", knotsDescriptor()); err != nil {
		t.Fatalf("store seed: %v", err)
	}
	fix.cache.Put("navigation.speedOverGround", "gps.0", telemetry.FromAny(5.14), time.Now())

	fix.bridge.handleReconnected()
	fix.bridge.wg.Wait()

	if got := fix.store.RuleCount(); got != 0 {
		t.Errorf("RuleCount() after reconnect = %d, want 0", got)
	}
	if got := fix.cache.Stats().Paths; got != 0 {
		t.Errorf("cached paths after reconnect = %d, want 0", got)
	}

	fix.statuses.mu.Lock()
	states := append([]bool(nil), fix.statuses.states...)
	fix.statuses.mu.Unlock()
	if len(states) != 1 || !states[0] {
		t.Errorf("status notifications = %v, want [true]", states)
	}
}

func TestHandleStreamLost_ClearsStores(t *testing.T) {
	fix := newBridgeFixture(t, config.UpstreamConfig{})

	if err := fix.store.Update("navigation.speedOverGround", knotsDescriptor()); err != nil {
		t.Fatalf("store seed: %v", err)
	}
	fix.cache.Put("navigation.speedOverGround", "gps.0", telemetry.FromAny(5.14), time.Now())

	fix.bridge.handleStreamLost(errors.New("read: connection reset"))

	if got := fix.store.RuleCount(); got != 0 {
		t.Errorf("RuleCount() after stream loss = %d, want 0", got)
	}
	if got := fix.cache.Stats().Paths; got != 0 {
		t.Errorf("cached paths after stream loss = %d, want 0", got)
	}

	fix.statuses.mu.Lock()
	states := append([]bool(nil), fix.statuses.states...)
	fix.statuses.mu.Unlock()
	if len(states) != 1 || states[0] {
		t.Errorf("status notifications = %v, want [false]", states)
	}
}

// ===== Bulk Metadata Tests =====

func TestFetchBulkMetadata(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck // Test server write
		w.Write([]byte(`{
			"navigation.speedOverGround": {
				"baseUnit": "m/s",
				"targetUnit": "knots",
				"conversions": {"knots": {"formula": "value * 1.94384", "inverseFormula": "value / 1.94384", "symbol": "kn"}}
			},
			"environment.water.temperature": {
				"baseUnit": "K",
				"conversions": {"celsius": {"formula": "value - 273.15", "inverseFormula": "value + 273.15", "symbol": "°C"}}
			}
		}`))
	}))
	defer srv.Close()

	fix := newBridgeFixture(t, config.UpstreamConfig{
		Host:         "skserver.local",
		Port:         3000,
		Token:        "secret-token",
		MetadataPath: "pelorus/conversions",
	})
	fix.bridge.httpURL = srv.URL + "/signalk/v1/api/"

	fix.bridge.fetchBulkMetadata(context.Background())

	if gotPath != "/signalk/v1/api/pelorus/conversions" {
		t.Errorf("request path = %q, want /signalk/v1/api/pelorus/conversions", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if got := fix.store.RuleCount(); got != 2 {
		t.Errorf("RuleCount() = %d, want 2", got)
	}
	if got := len(fix.metas.all()); got != 2 {
		t.Errorf("meta notifications = %d, want 2", got)
	}
}

func TestFetchBulkMetadata_Disabled(t *testing.T) {
	fix := newBridgeFixture(t, config.UpstreamConfig{})
	fix.bridge.httpURL = "http://127.0.0.1:1/"

	// No metadata path configured; no request is attempted.
	fix.bridge.fetchBulkMetadata(context.Background())

	if got := fix.store.RuleCount(); got != 0 {
		t.Errorf("RuleCount() = %d, want 0", got)
	}
}

func TestFetchBulkMetadata_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	fix := newBridgeFixture(t, config.UpstreamConfig{
		Host:         "skserver.local",
		Port:         3000,
		MetadataPath: "pelorus/conversions",
	})
	fix.bridge.httpURL = srv.URL

	fix.bridge.fetchBulkMetadata(context.Background())

	if got := fix.store.RuleCount(); got != 0 {
		t.Errorf("RuleCount() = %d, want 0 after 404", got)
	}
}

func TestFetchBulkMetadata_Malformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		//nolint:errcheck // Test server write
		w.Write([]byte(`{"navigation.speedOverGround": `))
	}))
	defer srv.Close()

	fix := newBridgeFixture(t, config.UpstreamConfig{
		Host:         "skserver.local",
		Port:         3000,
		MetadataPath: "pelorus/conversions",
	})
	fix.bridge.httpURL = srv.URL

	fix.bridge.fetchBulkMetadata(context.Background())

	if got := fix.store.RuleCount(); got != 0 {
		t.Errorf("RuleCount() = %d, want 0 after parse failure", got)
	}
}

// ===== Lifecycle Tests =====

func TestBridgePut_NotConnected(t *testing.T) {
	fix := newBridgeFixture(t, config.UpstreamConfig{})

	err := fix.bridge.Put(context.Background(), "steering.autopilot.target.headingMagnetic", 1.5708)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Put() error = %v, want ErrNotConnected", err)
	}
}

func TestGetMetrics_Disconnected(t *testing.T) {
	fix := newBridgeFixture(t, config.UpstreamConfig{})

	if err := fix.store.Update("navigation.speedOverGround", knotsDescriptor()); err != nil {
		t.Fatalf("store seed: %v", err)
	}
	fix.cache.Put("navigation.speedOverGround", "gps.0", telemetry.FromAny(5.14), time.Now())

	metrics := fix.bridge.GetMetrics()
	if metrics.Connected {
		t.Error("Connected = true without a client")
	}
	if metrics.Status != "disconnected" {
		t.Errorf("Status = %q, want disconnected", metrics.Status)
	}
	if metrics.RuleCount != 1 {
		t.Errorf("RuleCount = %d, want 1", metrics.RuleCount)
	}
	if metrics.CachedPaths != 1 {
		t.Errorf("CachedPaths = %d, want 1", metrics.CachedPaths)
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	fix := newBridgeFixture(t, config.UpstreamConfig{})

	if err := fix.bridge.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
	if fix.bridge.IsConnected() {
		t.Error("IsConnected() = true without a client")
	}
}
