// Package server implements the HTTP and WebSocket surface using Echo.
//
// Routes: auth (username login, opaque session token), stress (submit,
// superstress, cooldown, own stats), summary, live updates (/ws identified,
// /ws/public anonymous), health, metrics and version.
// Handlers split by concern: handlers_auth.go, handlers_stress.go,
// handlers_ws.go, handlers_health.go.
package server
