package msgstore

import (
	"context"
	"database/sql"
	"fmt"
)

// execer is satisfied by both *sql.DB and *sql.Tx, letting intern() run
// either standalone or as part of an enclosing write transaction (C4
// requires all five interns plus the event insert to share one
// transaction).
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// intern implements C1+C2's public contract: assign or retrieve a stable id
// for content-addressed bytes. Repeated calls with equal bytes return the
// same id for the lifetime of the underlying row (spec §4.1).
func (s *Store) intern(ctx context.Context, q execer, data []byte) (int64, error) {
	key := string(data)

	if id, ok := s.cache.get(key); ok {
		return id, nil
	}

	// INSERT ... ON CONFLICT DO NOTHING: duplicate bytes are a signalling
	// no-op, not an error (spec §4.1 step 2, §7).
	res, err := q.ExecContext(ctx, `
		INSERT INTO payloads (bytes) VALUES (?)
		ON CONFLICT(bytes) DO NOTHING
	`, data)
	if err != nil {
		return 0, fmt.Errorf("intern: insert payload: %w", err)
	}

	var id int64
	if n, _ := res.RowsAffected(); n > 0 {
		id, err = res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("intern: last insert id: %w", err)
		}
	} else {
		// Bytes already existed; read back the id.
		err = q.QueryRowContext(ctx, `SELECT id FROM payloads WHERE bytes = ?`, data).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("intern: read back payload id: %w", err)
		}
	}

	s.cache.put(key, id)
	return id, nil
}
