// Package server exposes the platform's HTTP API: CRUD routes for
// schedule items and dependency edges, the timeline resolution endpoint,
// a health check, and a reverse proxy to the external analytics backend.
package server
