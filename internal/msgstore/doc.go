// Package msgstore is the persistent message store backing an IRC
// bouncer's chat history.
//
// It combines four coupled concerns on a single embedded SQLite database:
//
//   - content-addressed dedup of message payloads, with an in-memory LRU
//     accelerator (dedup.go, cache.go);
//   - a serialized single-writer ingest pipeline (ingest.go);
//   - incremental background retention GC that cooperates with the writer
//     on a connection that permits only one write transaction at a time
//     (retention.go, orphan.go);
//   - five range-query forms over msgid/time cursors returning
//     time-ordered, stable results (query.go).
//
// The database is opened with SetMaxOpenConns(1): SQLite itself only
// tolerates one writer, and pinning the pool to a single connection is
// what actually enforces the "at most one write transaction at a time"
// invariant the rest of the package depends on (spec §5).
package msgstore
