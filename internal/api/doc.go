// Package api hosts the HTTP server, middleware, and REST handlers.
// Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/artifacts/discover and /v1/artifacts/extract for synchronous
//     artifact discovery.
//   - POST /v1/jobs/... for asynchronous job submission and cancellation.
//   - GET and PUT /v1/flags/{name} for boolean client flags.
package api
