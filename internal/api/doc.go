// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/entities/... for tracked entity and owned-domain management.
//   - POST /v1/search/{entity_id} for an on-demand crawl of one entity.
//   - /v1/scheduler/... to start, stop and inspect recurring batch passes.
package api
