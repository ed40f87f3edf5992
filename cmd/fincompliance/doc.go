// Package main hosts the FinCompliance service entrypoint.
//
// Architecture overview:
//   - Discovery: internal/discovery.Runner fetches the press-release listing or walks the
//     circular category sidebar, turns rows into DocumentRecords and persists the new ones
//     through the configured DocumentStore (memory, sqlite or Postgres). New records are
//     announced through the log, Slack and Pub/Sub notifiers.
//   - Ingestion: internal/ingest.Pipeline downloads a record's PDF, extracts text and tables,
//     splits the text into overlapping chunks, embeds them through an OpenAI-compatible API
//     and writes one namespace per document to the VectorStore (memory or pgvector).
//   - Operation: `serve` runs the HTTP API, the cron scheduler that triggers crawl cycles and
//     the ingestion worker pool. `crawl`, `ingest` and `search` run one operation and exit.
//
// Configuration comes from an optional YAML file plus FINCOMPLIANCE_* environment variables,
// for example FINCOMPLIANCE_DB_DRIVER=postgres or FINCOMPLIANCE_EMBEDDING_API_KEY.
package main
