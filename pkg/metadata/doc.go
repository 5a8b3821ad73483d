// Package metadata records a manifest for each crawl run: its queries, counters,
// skipped pages and output files, stored as run-<id>.json in the output directory.
package metadata
