// Package server implements the read-only status server.
//
// Endpoints:
//   - GET /health: liveness and the configured environments
//   - GET /status: deployment mode, emergency stop and recent deployments
//   - GET /status/{environment}: latest and recent deployments of one environment
//   - GET /metrics: Prometheus metrics
//
// Requests are rate limited per client IP. The server never mutates state;
// deployments run from the CLI only.
package server
