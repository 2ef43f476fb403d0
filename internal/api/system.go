package api

import (
	"net/http"
	"time"
)

// StatusResponse is the authenticated status summary for the panel's
// header bar: what is connected, how much data is flowing, and how long
// the server has been up.
type StatusResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	UpstreamConnected bool   `json:"upstream_connected"`
	MQTTConnected     *bool  `json:"mqtt_connected,omitempty"`
	Rules             int    `json:"rules"`
	CachedPaths       int    `json:"cached_paths"`
	WSClients         int    `json:"ws_clients"`
}

// handleStatus returns a condensed health/status summary.
//
// "degraded" means the server itself is fine but the upstream stream is
// down — dashboards still render from cached data, marked stale.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Rules:         s.store.RuleCount(),
		CachedPaths:   s.cache.Stats().Paths,
	}

	if s.upstream != nil {
		resp.UpstreamConnected = s.upstream.IsConnected()
	}
	if !resp.UpstreamConnected {
		resp.Status = "degraded"
	}

	if s.mqtt != nil {
		connected := s.mqtt.IsConnected()
		resp.MQTTConnected = &connected
	}

	if s.hub != nil {
		resp.WSClients = s.hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, resp)
}
