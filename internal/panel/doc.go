// Package panel serves the instrument-panel web UI as an embedded asset.
//
// The panel web build is embedded into the Go binary using the go:embed
// directive, eliminating any runtime dependency on external files — the
// binary dropped onto a vessel computer is the whole deployment. The
// Handler function returns an http.Handler that serves these assets with
// SPA (Single Page Application) fallback routing: if a requested file
// does not exist, index.html is served so that client-side dashboard
// routes work correctly.
//
// Cache-control headers are set to no-cache for mutable assets
// (index.html, JS bootstrap). Content-hashed chunk files in the web
// build ensure proper cache-busting for immutable assets.
package panel
