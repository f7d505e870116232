// Package api serves the dashboard's read-only REST endpoints.
//
// Endpoints:
//
//	GET /api/v1/snapshot  latest published Snapshot; 404 when none or stale
//	GET /api/v1/health    relay status: mode, connected clients, snapshot age
package api
