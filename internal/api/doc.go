// Package api implements the HTTP REST API for the switch bridge.
//
// This package provides:
//   - Read endpoints for the switch state, bridge health and state history
//   - Command endpoints to switch on, off and force a status refresh
//   - Optional JWT bearer authentication on the switch routes
//   - Middleware: request ID, access log, panic recovery, CORS and a body cap
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/switch
//	POST /api/v1/switch/on
//	POST /api/v1/switch/off
//	POST /api/v1/switch/refresh
//	GET  /api/v1/switch/history?limit=N
//
// # Graceful Degradation
//
// Commands never fail with an HTTP error when the device is unreachable:
// the response carries the resulting state and "connected": false, and the
// failure is visible in the health endpoint. History returns 503 when no
// database is configured.
package api
