// Package api hosts the HTTP status server for a running crawl. Routes:
//   - GET /healthz and /readyz for liveness and frontier reachability.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/frontier for per-state counts and the article total.
//   - GET /v1/frontier/{state}?limit=N for the oldest N URLs in a state.
//   - GET /v1/articles?url=... for one stored article.
package api
