// Pelorus - Marine Instrument Panel Server
//
// This is the main entry point for the Pelorus application. Pelorus sits
// between a SignalK server and the helm displays:
//   - Subscribes to the upstream telemetry stream
//   - Converts SI values into the display units the server's metadata asks for
//   - Serves dashboards, history, and live values over HTTP and WebSocket
//   - Optionally republishes readings onto MQTT for cockpit hardware
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/halyard-io/pelorus/migrations"

	"github.com/halyard-io/pelorus/internal/api"
	"github.com/halyard-io/pelorus/internal/audit"
	mqttbridge "github.com/halyard-io/pelorus/internal/bridges/mqtt"
	"github.com/halyard-io/pelorus/internal/bridges/signalk"
	"github.com/halyard-io/pelorus/internal/dashboard"
	"github.com/halyard-io/pelorus/internal/infrastructure/config"
	"github.com/halyard-io/pelorus/internal/infrastructure/database"
	"github.com/halyard-io/pelorus/internal/infrastructure/influxdb"
	"github.com/halyard-io/pelorus/internal/infrastructure/logging"
	"github.com/halyard-io/pelorus/internal/infrastructure/mqtt"
	"github.com/halyard-io/pelorus/internal/infrastructure/tsdb"
	"github.com/halyard-io/pelorus/internal/telemetry"
	"github.com/halyard-io/pelorus/internal/units"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Pelorus",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// The telemetry trio: conversion rules, live samples, and the
	// resolver that joins them into display readings.
	store := units.NewStore()
	store.SetLogger(log)

	cache := telemetry.NewCache()
	cache.SetLogger(log)
	cache.SetDefaultTTL(cfg.GetFreshnessTTL())

	resolver := telemetry.NewResolver(store, cache)

	// Local sample history (optional)
	var historyRepo telemetry.HistoryRepository
	var recorder *telemetry.Recorder
	if cfg.History.Enabled {
		historyRepo = telemetry.NewSQLiteHistoryRepository(db.DB)
		recorder = telemetry.NewRecorder(telemetry.RecorderConfig{
			Repository:    historyRepo,
			MinInterval:   time.Duration(cfg.History.MinInterval) * time.Second,
			Retention:     time.Duration(cfg.History.RetentionDays) * 24 * time.Hour,
			PruneInterval: time.Duration(cfg.History.PruneInterval) * time.Hour,
		})
		recorder.SetLogger(log)
		recorder.Start(ctx)
		defer func() {
			log.Info("stopping history recorder")
			recorder.Stop()
		}()
		log.Info("history recorder started",
			"min_interval", cfg.History.MinInterval,
			"retention_days", cfg.History.RetentionDays,
		)
	} else {
		log.Info("local history disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to VictoriaMetrics (optional)
	var tsdbClient *tsdb.Client
	if cfg.TSDB.Enabled {
		tsdbClient, err = tsdb.Connect(ctx, cfg.TSDB)
		if err != nil {
			return fmt.Errorf("connecting to tsdb: %w", err)
		}
		defer func() {
			log.Info("closing tsdb connection")
			if closeErr := tsdbClient.Close(); closeErr != nil {
				log.Error("error closing tsdb", "error", closeErr)
			}
		}()
		tsdbClient.SetOnError(func(err error) {
			log.Error("tsdb write error", "error", err)
		})
		log.Info("tsdb connected", "url", cfg.TSDB.URL)
	} else {
		log.Info("tsdb disabled")
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT bridge disabled")
	}

	// Audit log
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Dashboard registry
	dashboardRepo := dashboard.NewSQLiteRepository(db.DB)
	dashboards := dashboard.NewRegistry(dashboardRepo)
	dashboards.SetLogger(log)
	if refreshErr := dashboards.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading dashboard registry: %w", refreshErr)
	}
	log.Info("dashboard registry initialised", "dashboards", dashboards.Count())

	// WebSocket hub is created here rather than inside the API server so
	// the upstream bridge can fan readings into it from the start.
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	// The MQTT bridge needs the upstream bridge for commands, and the
	// upstream bridge needs the MQTT bridge as a sink. The commander
	// indirection breaks the construction cycle: the MQTT bridge is
	// built against it first, and it is pointed at the upstream bridge
	// before either side starts.
	commander := &upstreamCommander{}

	var mqttBridge *mqttbridge.Bridge
	if mqttClient != nil {
		mqttBridge, err = mqttbridge.NewBridge(mqttbridge.BridgeOptions{
			Client:    &pubSubAdapter{client: mqttClient},
			Commander: commander,
			Resolver:  resolver,
			Store:     store,
			QoS:       byte(cfg.MQTT.QoS),
			Auditor:   &commandAuditor{repo: auditRepo},
			Logger:    log,
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
	}

	// Upstream SignalK bridge: fan readings out to the hub, the history
	// recorder, the time-series writers, and the MQTT republisher.
	readingSinks := []signalk.ReadingSink{hub}
	metaSinks := []signalk.MetaSink{hub}
	statusSinks := []signalk.StatusSink{hub}

	if recorder != nil {
		readingSinks = append(readingSinks, &recorderSink{recorder: recorder})
	}
	if influxClient != nil {
		sink := &influxSink{client: influxClient}
		readingSinks = append(readingSinks, sink)
		statusSinks = append(statusSinks, sink)
	}
	if tsdbClient != nil {
		sink := &tsdbSink{client: tsdbClient}
		readingSinks = append(readingSinks, sink)
		statusSinks = append(statusSinks, sink)
	}
	if mqttBridge != nil {
		readingSinks = append(readingSinks, mqttBridge)
		metaSinks = append(metaSinks, mqttBridge)
		statusSinks = append(statusSinks, mqttBridge)
	}

	upstream, err := signalk.NewBridge(signalk.BridgeOptions{
		Config:       cfg.Upstream,
		Store:        store,
		Cache:        cache,
		Resolver:     resolver,
		Logger:       log,
		ReadingSinks: readingSinks,
		MetaSinks:    metaSinks,
		StatusSinks:  statusSinks,
	})
	if err != nil {
		return fmt.Errorf("creating upstream bridge: %w", err)
	}
	commander.set(upstream)

	if startErr := upstream.Start(ctx); startErr != nil {
		return fmt.Errorf("starting upstream bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping upstream bridge")
		upstream.Stop()
	}()
	log.Info("upstream bridge started",
		"host", cfg.Upstream.Host,
		"port", cfg.Upstream.Port,
		"subscribe", cfg.Upstream.Subscribe,
	)

	if mqttBridge != nil {
		if startErr := mqttBridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			mqttBridge.Stop()
		}()
		log.Info("MQTT bridge started", "qos", cfg.MQTT.QoS)
	}

	// HTTP API server
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Store:       store,
		Cache:       cache,
		Resolver:    resolver,
		Upstream:    upstream,
		Dashboards:  dashboards,
		AuditRepo:   auditRepo,
		History:     historyRepo,
		TSDB:        tsdbClient,
		MQTT:        mqttBridge,
		DB:          db,
		ExternalHub: hub,
		PanelDir:    cfg.API.PanelDir,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, tsdbClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API server, MQTT
	// bridge, upstream bridge, MQTT, tsdb, InfluxDB, recorder, database.

	log.Info("Pelorus stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PELORUS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PELORUS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - tsdbClient: VictoriaMetrics client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, tsdbClient *tsdb.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT (if enabled)
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Check VictoriaMetrics (if enabled)
	if tsdbClient != nil {
		if err := tsdbClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("tsdb: %w", err)
		}
	}

	// Upstream bridge health is deliberately not checked here: the panel
	// must come up and serve its stores even when the SignalK server is
	// unreachable. The bridge reconnects in the background.

	return nil
}
