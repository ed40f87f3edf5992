// Package api hosts the operator HTTP server. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawl/{class} to run one crawl cycle.
//   - POST /v1/documents/ingest (and /ingest/async) to build a document namespace.
//   - POST /v1/documents/{identifier}/search for similarity search over a namespace.
package api
