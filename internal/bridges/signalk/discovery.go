package signalk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// discoveryTimeout bounds the discovery request.
	discoveryTimeout = 10 * time.Second

	// maxDiscoverySize caps the discovery response body (1MB).
	maxDiscoverySize = 1024 * 1024
)

// Endpoints is the result of SignalK endpoint discovery: where the stream
// and the REST API live for the preferred protocol version.
type Endpoints struct {
	// StreamURL is the WebSocket stream endpoint (ws:// or wss://).
	StreamURL string

	// HTTPURL is the REST API root (http:// or https://), with a
	// trailing slash.
	HTTPURL string

	// Version is the server's reported protocol version.
	Version string

	// ServerID identifies the server implementation.
	ServerID string
}

// discoveryDocument mirrors the GET /signalk response shape.
type discoveryDocument struct {
	Endpoints map[string]struct {
		Version   string `json:"version"`
		SignalKWS string `json:"signalk-ws"`
		HTTP      string `json:"signalk-http"`
	} `json:"endpoints"`
	Server struct {
		ID      string `json:"id"`
		Version string `json:"version"`
	} `json:"server"`
}

// Discover fetches the server's endpoint document from GET /signalk.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - baseURL: Server root ("http://host:port"), no trailing slash
//   - token: Optional bearer token for protected servers
//
// Returns:
//   - Endpoints: Stream and HTTP endpoints for the v1 protocol
//   - error: ErrDiscoveryFailed when the document cannot be fetched,
//     parsed, or lacks a v1 stream endpoint
func Discover(ctx context.Context, baseURL, token string) (Endpoints, error) {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/signalk", nil)
	if err != nil {
		return Endpoints{}, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Endpoints{}, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Endpoints{}, fmt.Errorf("%w: status %d", ErrDiscoveryFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoverySize))
	if err != nil {
		return Endpoints{}, fmt.Errorf("%w: read body: %w", ErrDiscoveryFailed, err)
	}

	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return Endpoints{}, fmt.Errorf("%w: parse document: %w", ErrDiscoveryFailed, err)
	}

	v1, ok := doc.Endpoints["v1"]
	if !ok || v1.SignalKWS == "" {
		return Endpoints{}, fmt.Errorf("%w: no v1 stream endpoint", ErrDiscoveryFailed)
	}

	return Endpoints{
		StreamURL: v1.SignalKWS,
		HTTPURL:   v1.HTTP,
		Version:   v1.Version,
		ServerID:  doc.Server.ID,
	}, nil
}

// DefaultEndpoints returns the conventional endpoint layout for servers
// whose discovery document is unreachable. Most installations serve the
// stream at /signalk/v1/stream.
//
// Parameters:
//   - host: Server hostname or address
//   - port: Server port
//   - tls: Whether to use wss/https schemes
//
// Returns:
//   - Endpoints: Conventional v1 endpoints for the address
func DefaultEndpoints(host string, port int, tls bool) Endpoints {
	wsScheme := "ws"
	httpScheme := "http"
	if tls {
		wsScheme = "wss"
		httpScheme = "https"
	}
	return Endpoints{
		StreamURL: fmt.Sprintf("%s://%s:%d/signalk/v1/stream", wsScheme, host, port),
		HTTPURL:   fmt.Sprintf("%s://%s:%d/signalk/v1/api/", httpScheme, host, port),
	}
}
