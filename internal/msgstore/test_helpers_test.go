package msgstore

import (
	"testing"
	"time"
)

// waitIngestIdle polls until the ingest queue has drained and no
// transaction is in flight, or fails the test after a timeout. Ingest is
// asynchronous by design (spec §4.3), so tests that assert on persisted
// state need a synchronization point.
func waitIngestIdle(t *testing.T, s *Store) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.queue.len() == 0 && !s.queue.busy.Load() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for ingest queue to drain")
}
