// Package api implements the agent's local HTTP status API.
//
// New(src, alerts) returns an http.Handler that serves:
//
//	GET /api/v1/status   connection state, target, queue depths, counters,
//	                     last flush, collector certificate and diagnostic
//	                     hints (StatusResponse)
//	GET /api/v1/health   200 when connected, 503 otherwise (HealthResponse)
//	GET /api/v1/alerts   firing and recently resolved alerts
//
// All endpoints respond with Content-Type: application/json and return 405
// for non-GET methods. The agent mounts /metrics and /ws/stream next to it.
package api
