// Package api hosts the HTTP server, middleware, and REST handlers for the
// mirror service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to start a run, POST /v1/crawls/{run_id}/cancel to stop it.
//   - GET /v1/crawls, /v1/crawls/{run_id} and /v1/crawls/{run_id}/logs for
//     run history and the collected run log.
package api
