// Package websocket streams studio events to GUI clients.
//
// Clients connect to /api/v1/ws and receive every execution and connection
// event as a JSON text frame tagged with its topic.
package websocket
