package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/halyard-io/pelorus/internal/audit"
	mqttbridge "github.com/halyard-io/pelorus/internal/bridges/mqtt"
	"github.com/halyard-io/pelorus/internal/bridges/signalk"
	"github.com/halyard-io/pelorus/internal/dashboard"
	"github.com/halyard-io/pelorus/internal/infrastructure/config"
	"github.com/halyard-io/pelorus/internal/infrastructure/database"
	"github.com/halyard-io/pelorus/internal/infrastructure/logging"
	"github.com/halyard-io/pelorus/internal/infrastructure/tsdb"
	"github.com/halyard-io/pelorus/internal/telemetry"
	"github.com/halyard-io/pelorus/internal/units"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	// Store, Cache, and Resolver are the telemetry trio every read
	// endpoint serves from. All three are required.
	Store    *units.Store
	Cache    *telemetry.Cache
	Resolver *telemetry.Resolver

	// Upstream submits command PUTs and reports connection state.
	// Optional; commands fail with 503 when absent.
	Upstream *signalk.Bridge

	// Dashboards backs the dashboard CRUD endpoints. Optional.
	Dashboards *dashboard.Registry

	// AuditRepo records command and dashboard mutations. Optional.
	AuditRepo audit.Repository

	// History answers local sample queries. Optional.
	History telemetry.HistoryRepository

	// TSDB proxies PromQL range queries for chart widgets. Optional.
	TSDB *tsdb.Client

	// MQTT contributes broker metrics to the metrics endpoint. Optional.
	MQTT *mqttbridge.Bridge

	// DB contributes connection pool stats to the metrics endpoint. Optional.
	DB *database.DB

	// ExternalHub lets main create the hub early so the upstream bridge
	// can register it as a sink before the server starts.
	ExternalHub *Hub

	// PanelDir overrides the embedded panel assets with a filesystem
	// directory (dev mode). Empty serves the embedded build.
	PanelDir string

	Version string
}

// Server is the HTTP API server for Pelorus.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	store      *units.Store
	cache      *telemetry.Cache
	resolver   *telemetry.Resolver
	upstream   *signalk.Bridge
	dashboards *dashboard.Registry
	auditRepo  audit.Repository
	history    telemetry.HistoryRepository
	tsdb       *tsdb.Client
	mqtt       *mqttbridge.Bridge
	db         *database.DB
	panelDir   string
	version    string

	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()

	tickets     *ticketStore
	loginLimits *loginLimiter // nil when rate limiting is disabled
	auditCh     chan *audit.AuditLog
	startTime   time.Time
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, stores, resolver)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("sample cache is required")
	}
	if deps.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	// Everything else is optional — endpoints without a backing
	// collaborator answer 503 rather than blocking startup.

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		store:      deps.Store,
		cache:      deps.Cache,
		resolver:   deps.Resolver,
		upstream:   deps.Upstream,
		dashboards: deps.Dashboards,
		auditRepo:  deps.AuditRepo,
		history:    deps.History,
		tsdb:       deps.TSDB,
		mqtt:       deps.MQTT,
		db:         deps.DB,
		panelDir:   deps.PanelDir,
		version:    deps.Version,
		tickets:    newTicketStore(),
		auditCh:    make(chan *audit.AuditLog, auditChanSize),
		startTime:  time.Now(),
	}

	if deps.Security.RateLimit.Enabled {
		s.loginLimits = newLoginLimiter(deps.Security.RateLimit.RequestsPerMinute)
	}

	// Use externally-provided hub if available (needed when the upstream
	// bridge registers the hub as a sink before the server starts).
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub and ticket cleanup, runs
// the audit log writer, and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	// Create WebSocket hub (unless one was injected externally)
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	// Periodic cleanup of expired tickets and stale rate-limit buckets
	go s.cleanTicketsLoop(srvCtx)

	// Serial audit log writer
	if s.auditRepo != nil {
		go s.drainAuditLog(srvCtx)
	}

	// Build router
	router := s.buildRouter()

	// Create HTTP server
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	// Start listening in background
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, ticket cleanup, audit drain)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
