// Command serpwatch tracks how many of an entity's owned domains appear on
// the first page of search results.
//
// Architecture overview:
//   - HTTP API: internal/api.Server manages entities and owned domains, runs on-demand searches and controls the
//     batch scheduler. Probes (/healthz, /readyz) and /metrics stay outside API key auth.
//   - Crawl pipeline: every search opens an isolated headless Chrome session (internal/fetcher/headless) behind a
//     single process-wide rate limiter. Raw candidates are filtered and deduplicated by internal/serp and classified
//     against the entity's canonical owned domains by internal/crawler.Orchestrator, with bounded retries.
//   - Scheduler: internal/scheduler runs one pass immediately on start and then every interval. Passes never
//     overlap; entities are processed sequentially with jitter and a cooldown after captcha blocks.
//   - Persistence & fanout: entities live in Postgres when a DSN is configured and in memory otherwise. SERP
//     snapshots go to the configured BlobStore (memory/local/GCS) and each stored run is published to Pub/Sub when a
//     topic is set.
//
// Quick checklist:
//   - Configure env vars with the CRAWLER_ prefix, e.g. CRAWLER_DB_DSN, CRAWLER_STORAGE_BACKEND,
//     CRAWLER_PUBSUB_TOPIC_NAME, CRAWLER_SCHEDULER_AUTOSTART.
//   - Run locally: go run ./cmd/serpwatch serve --config config.yaml
//   - One-off search: go run ./cmd/serpwatch crawl 3
package main
