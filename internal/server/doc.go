// Package server exposes the attribute store over HTTP.
//
// It serves a JSON snapshot at "/api/attributes", per-entity views at
// "/api/attributes/{entity}", a Server-Sent Events stream of attribute
// writes at "/api/sse", Prometheus metrics at "/metrics" and a liveness probe
// at "/healthz".
//
// The server shuts down gracefully when its context is cancelled, with a
// 5-second timeout for in-flight requests. It is started by
// [pulsefeed.Fleet.Run]; library users should not need it directly.
package server
