package msgstore

import (
	"context"
	"fmt"
	"strings"
)

// sweepOrphans is C7: given a set of payload ids freshly dereferenced by
// the most recent retention batch, deletes whichever of them are no longer
// referenced by any event, in a single write transaction (spec §4.6).
//
// The NOT EXISTS check is written as a UNION ALL of five per-column scans
// each LIMIT 1, rather than a single OR'd predicate, so the query planner
// can use each of the five per-*_ref indexes (spec §4.2, §4.6) instead of
// falling back to a full table scan.
func (s *Store) sweepOrphans(ctx context.Context, candidates []int64) error {
	if len(candidates) == 0 {
		return nil
	}

	placeholders := make([]string, len(candidates))
	args := make([]any, len(candidates))
	for i, id := range candidates {
		placeholders[i] = "?"
		args[i] = id
	}
	inClause := strings.Join(placeholders, ",")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin orphan sweep tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `
		DELETE FROM payloads
		WHERE id IN (` + inClause + `)
		AND NOT EXISTS (
			SELECT 1 FROM (SELECT 1 FROM events WHERE buffer_ref = payloads.id LIMIT 1)
			UNION ALL
			SELECT 1 FROM (SELECT 1 FROM events WHERE tags_ref   = payloads.id LIMIT 1)
			UNION ALL
			SELECT 1 FROM (SELECT 1 FROM events WHERE data_ref   = payloads.id LIMIT 1)
			UNION ALL
			SELECT 1 FROM (SELECT 1 FROM events WHERE prefix_ref = payloads.id LIMIT 1)
			UNION ALL
			SELECT 1 FROM (SELECT 1 FROM events WHERE params_ref = payloads.id LIMIT 1)
		)
	`

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete orphaned payloads: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("orphan sweep rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit orphan sweep: %w", err)
	}

	// Any deletion invalidates the dedup cache wholesale: a cached
	// bytes->id entry might now point at a row that no longer exists
	// (spec §9 "Cache invalidation across GC").
	if n > 0 {
		s.cache.clear()
	}

	return nil
}
