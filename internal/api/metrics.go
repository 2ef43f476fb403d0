package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Runtime       RuntimeMetrics     `json:"runtime"`
	WebSocket     WSMetrics          `json:"websocket"`
	Upstream      *UpstreamMetrics   `json:"upstream,omitempty"`
	MQTTBridge    *MQTTBridgeMetrics `json:"mqtt_bridge,omitempty"`
	Telemetry     TelemetryMetrics   `json:"telemetry"`
	Database      DatabaseMetrics    `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// UpstreamMetrics contains SignalK bridge statistics.
type UpstreamMetrics struct {
	Connected       bool   `json:"connected"`
	Status          string `json:"status"`
	DeltasRx        uint64 `json:"deltas_rx"`
	PutsTx          uint64 `json:"puts_tx"`
	ReconnectsTotal uint64 `json:"reconnects_total"`
}

// MQTTBridgeMetrics contains local-bus republish bridge statistics.
type MQTTBridgeMetrics struct {
	Connected          bool   `json:"connected"`
	ReadingsPublished  uint64 `json:"readings_published"`
	ReadingsSuppressed uint64 `json:"readings_suppressed"`
	MetaPublished      uint64 `json:"meta_published"`
	PublishErrors      uint64 `json:"publish_errors"`
	CommandsReceived   uint64 `json:"commands_received"`
	CommandsForwarded  uint64 `json:"commands_forwarded"`
	CommandsFailed     uint64 `json:"commands_failed"`
}

// TelemetryMetrics contains store and cache statistics.
type TelemetryMetrics struct {
	Rules         int `json:"rules"`
	CachedPaths   int `json:"cached_paths"`
	CachedSamples int `json:"cached_samples"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	cacheStats := s.cache.Stats()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Telemetry: TelemetryMetrics{
			Rules:         s.store.RuleCount(),
			CachedPaths:   cacheStats.Paths,
			CachedSamples: cacheStats.Samples,
		},
	}

	if s.hub != nil {
		metrics.WebSocket = WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		}
	}

	if s.upstream != nil {
		stats := s.upstream.GetMetrics()
		metrics.Upstream = &UpstreamMetrics{
			Connected:       stats.Connected,
			Status:          stats.Status,
			DeltasRx:        stats.DeltasRx,
			PutsTx:          stats.PutsTx,
			ReconnectsTotal: stats.ReconnectsTotal,
		}
	}

	if s.mqtt != nil {
		stats := s.mqtt.GetMetrics()
		metrics.MQTTBridge = &MQTTBridgeMetrics{
			Connected:          stats.Connected,
			ReadingsPublished:  stats.ReadingsPublished,
			ReadingsSuppressed: stats.ReadingsSuppressed,
			MetaPublished:      stats.MetaPublished,
			PublishErrors:      stats.PublishErrors,
			CommandsReceived:   stats.CommandsReceived,
			CommandsForwarded:  stats.CommandsForwarded,
			CommandsFailed:     stats.CommandsFailed,
		}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
