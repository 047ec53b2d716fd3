package msgstore

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// batchSize bounds each retention delete batch. Five payload ids are
// collected per deleted event for the subsequent orphan sweep, so
// batchSize*5 must stay under SQLite's default 999-variable bind limit
// (spec §4.5, §9 "param-limit cliff"). The reference implementation uses
// 150; we keep the same margin.
const batchSize = 150

// busyRetryInterval and busyMaxRetries implement the bounded busy-wait
// retention uses when ingest holds the write connection (spec §4.5, §5):
// up to 50 retries of 100ms, i.e. 5 seconds, before giving up on a cycle.
const (
	busyRetryInterval = 100 * time.Millisecond
	busyMaxRetries     = 50
)

type bufferClass int

const (
	classChannel bufferClass = iota
	classPM
)

// runRetentionLoop runs retention once at startup and then on
// opts.RetentionCleanupInterval, until the store is shut down.
func (s *Store) runRetentionLoop() {
	defer s.wg.Done()

	s.runRetentionCycle()

	ticker := time.NewTicker(s.opts.RetentionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runRetentionCycle()
		}
	}
}

// runRetentionCycle runs one retention pass over both buffer classes
// (spec §4.5). Overlapping ticks are dropped by retentionMu: if a cycle
// somehow runs long, the next tick is a no-op rather than stacking.
func (s *Store) runRetentionCycle() {
	if !s.retentionMu.TryLock() {
		return
	}
	defer s.retentionMu.Unlock()

	start := time.Now()
	s.metrics.IncRetentionRuns()

	total := 0
	if s.opts.RetentionDaysChannel > 0 {
		n, err := s.retentionSweepClass(classChannel, s.opts.RetentionDaysChannel)
		if err != nil {
			s.metrics.IncRetentionErrors()
			s.logger.Error("msgstore: retention cycle failed", "class", "channel", "error", err)
		}
		total += n
	}
	if s.opts.RetentionDaysPM > 0 {
		n, err := s.retentionSweepClass(classPM, s.opts.RetentionDaysPM)
		if err != nil {
			s.metrics.IncRetentionErrors()
			s.logger.Error("msgstore: retention cycle failed", "class", "pm", "error", err)
		}
		total += n
	}

	s.metrics.SetRetentionRowsDeleted(total)
	s.metrics.SetRetentionDurationMS(time.Since(start).Milliseconds())
}

// retentionSweepClass deletes expired events for one buffer class in
// bounded batches, running an orphan sweep after each non-empty batch
// (spec §4.5 algorithm, verbatim).
func (s *Store) retentionSweepClass(class bufferClass, days int) (int, error) {
	ctx := context.Background()
	cutoffMillis := s.clock.Now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()

	deleted := 0
	for {
		if !s.awaitWriterFree() {
			s.logger.Warn("msgstore: retention gave up waiting for writer", "class", class)
			break
		}

		freed, n, err := s.deleteExpiredBatch(ctx, class, cutoffMillis)
		if err != nil {
			return deleted, fmt.Errorf("delete expired batch: %w", err)
		}
		deleted += n

		if len(freed) > 0 {
			if err := s.sweepOrphans(ctx, freed); err != nil {
				// Orphan sweep failure never aborts retention (spec §4.6,
				// §7): the orphans are retried on the next cycle.
				s.logger.Warn("msgstore: orphan sweep failed", "error", err)
			}
			runtime.Gosched()
		}

		if n < batchSize {
			break
		}
	}

	return deleted, nil
}

// awaitWriterFree implements the bounded busy-wait retention uses before
// starting a batch: it defers to an in-flight ingest transaction for up to
// busyMaxRetries*busyRetryInterval before giving up on this cycle.
func (s *Store) awaitWriterFree() bool {
	for i := 0; i < busyMaxRetries; i++ {
		if !s.ingestBusy() {
			return true
		}
		time.Sleep(busyRetryInterval)
	}
	return !s.ingestBusy()
}

const classFilterChannel = `EXISTS (
		SELECT 1 FROM payloads p WHERE p.id = events.buffer_ref
		AND (substr(CAST(p.bytes AS TEXT), 1, 1) = '#' OR substr(CAST(p.bytes AS TEXT), 1, 1) = '&')
	)`

const classFilterPM = `NOT ` + classFilterChannel

// deleteExpiredBatch deletes up to batchSize expired events of the given
// class in one write transaction, returning the distinct payload ids the
// deleted rows freed (spec §4.5).
func (s *Store) deleteExpiredBatch(ctx context.Context, class bufferClass, cutoffMillis int64) ([]int64, int, error) {
	filter := classFilterChannel
	if class == classPM {
		filter = classFilterPM
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin retention tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, `
		DELETE FROM events
		WHERE rowid IN (
			SELECT rowid FROM events
			WHERE time < ? AND `+filter+`
			LIMIT ?
		)
		RETURNING buffer_ref, tags_ref, data_ref, prefix_ref, params_ref
	`, cutoffMillis, batchSize)
	if err != nil {
		return nil, 0, fmt.Errorf("delete expired: %w", err)
	}

	seen := make(map[int64]struct{})
	var freed []int64
	count := 0
	for rows.Next() {
		var bufferRef, tagsRef, dataRef, prefixRef, paramsRef int64
		if err := rows.Scan(&bufferRef, &tagsRef, &dataRef, &prefixRef, &paramsRef); err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("scan deleted row: %w", err)
		}
		count++
		for _, id := range [...]int64{bufferRef, tagsRef, dataRef, prefixRef, paramsRef} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				freed = append(freed, id)
			}
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, fmt.Errorf("iterate deleted rows: %w", err)
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit retention batch: %w", err)
	}

	return freed, count, nil
}
