// Package crawler holds the domain model shared by the crawl and ingestion
// subsystems: document records, the link normalizer, fetch retry policy, the
// error taxonomy, and the interfaces each adapter package implements.
package crawler
