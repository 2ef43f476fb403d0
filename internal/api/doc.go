// Package api implements the HTTP REST API and WebSocket server for Pelorus.
//
// This package provides:
//   - REST endpoints for resolved values, unit metadata, dashboards,
//     history, command PUTs, and the audit log
//   - WebSocket hub broadcasting telemetry.updated, meta.updated, and
//     upstream.status events to subscribed clients
//   - JWT operator authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for deployments exposed beyond the vessel network
//
// # Architecture
//
// The API server sits between display clients (the embedded panel UI,
// chartplotter browsers, phones at anchor) and the telemetry stores fed by
// the SignalK bridge. Reads go through the value resolution façade so every
// surface renders the same converted numbers. Command PUTs travel the other
// way: the façade converts display values back to SI, and the upstream
// bridge submits them to the SignalK server.
//
// The WebSocket hub doubles as a bridge sink: it implements the signalk
// OnReading, OnMetaUpdated, and OnUpstreamStatus callbacks, so main can
// register the hub directly and every cached reading fans out to connected
// clients without polling.
//
// # Security
//
// Authentication is a single operator account verified against an Argon2id
// hash from the config file; sessions use short-lived HS256 JWTs. WebSocket
// connections use single-use tickets to keep tokens out of URLs. Login
// attempts are rate limited per client address.
//
// # Graceful Degradation
//
// The server operates with the upstream down — values, metadata, and
// dashboards keep serving from the stores; only command PUTs fail. History
// endpoints answer 503 when their backing store is not configured.
package api
