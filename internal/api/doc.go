// Package api hosts the HTTP surface of the evaluator. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/evaluations/page and /v1/evaluations/site run an evaluation
//     synchronously and return the report.
//   - POST /v1/jobs queues a page or site evaluation and answers 202 with
//     the run id; workers process it in the background.
//   - GET /v1/runs and /v1/runs/{run_id} read run progress through
//     store.RunRepository when one is configured.
package api
