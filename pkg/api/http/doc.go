// Package http provides the HTTP REST API of the studio.
//
// The HTTP server exposes endpoints for:
//   - Workflow validation, planning and persistence
//   - Starting and controlling the current execution
//   - Backend connection status
//   - Health checks
//   - Prometheus metrics
package http
