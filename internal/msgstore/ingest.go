package msgstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatlogd/chatlogd/internal/ircmsg"
)

// ingestItem is one qualifying message waiting to be persisted. Derivation
// (qualification, CTCP filtering, field computation) has already happened
// by the time an item reaches the queue — the queue only ever holds
// events that will become exactly one Event row.
type ingestItem struct {
	userID    uint64
	networkID uint64
	fields    ircmsg.Fields
}

// ingestQueue is C4's FIFO: an unbounded single-writer queue that
// serializes store() calls into one transaction per event (spec §4.3,
// §5). Modeled on the teacher's event-queue/signal-channel idiom.
type ingestQueue struct {
	mu     sync.Mutex
	items  []ingestItem
	closed bool
	signal chan struct{}

	busy atomic.Bool
}

func newIngestQueue() *ingestQueue {
	return &ingestQueue{
		items:  make([]ingestItem, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

func (q *ingestQueue) enqueue(it ingestItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, it)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *ingestQueue) tryDequeue() (ingestItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return ingestItem{}, false
	}
	it := q.items[0]
	q.items[0] = ingestItem{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return it, true
}

func (q *ingestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *ingestQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Store enqueues message for persistence and returns immediately (spec
// §4.3, §6). Qualification and field derivation happen synchronously here
// so non-qualifying messages (wrong command, CTCP non-ACTION, missing
// target/body) never touch the queue; the single background worker then
// drains qualifying items one transaction at a time.
//
// No error is ever surfaced to the caller: storage is best-effort from the
// producer's point of view (spec §7).
func (s *Store) Store(msg ircmsg.Inbound, ircCtx ircmsg.Context, userID, networkID uint64) {
	fields, ok := ircmsg.Derive(msg, ircCtx, s.clock.Now())
	if !ok {
		return
	}

	if !s.queue.enqueue(ingestItem{userID: userID, networkID: networkID, fields: fields}) {
		s.logger.Warn("msgstore: dropped message, ingest queue closed", "user_id", userID, "network_id", networkID)
	}
}

// runIngestLoop is the single worker draining the ingest queue. It yields
// to the scheduler between events (spec §4.3 "yielding... so that other
// work progresses") via the same TryDequeue/Wait pattern the teacher's
// engine event loop uses.
func (s *Store) runIngestLoop() {
	defer s.wg.Done()

	for {
		item, ok := s.queue.tryDequeue()
		if ok {
			s.processIngest(item)
			continue
		}

		select {
		case <-s.stopCh:
			s.drainRemaining()
			return
		case <-s.queue.signal:
			if s.queue.len() == 0 {
				select {
				case <-s.stopCh:
					return
				default:
				}
			}
		}
	}
}

// drainRemaining persists every item still queued at shutdown before the
// ingest loop exits (spec §5 "Ingest queue is drained to completion").
func (s *Store) drainRemaining() {
	for {
		item, ok := s.queue.tryDequeue()
		if !ok {
			return
		}
		s.processIngest(item)
	}
}

func (s *Store) processIngest(item ingestItem) {
	s.queue.busy.Store(true)
	defer s.queue.busy.Store(false)

	start := time.Now()
	ctx := context.Background()

	if err := s.storeEvent(ctx, item); err != nil {
		s.logger.Error("msgstore: failed to persist event",
			"error", err,
			"user_id", item.userID,
			"network_id", item.networkID,
		)
		return
	}

	s.metrics.ObserveStoreTime(time.Since(start))
}

// storeEvent runs the five interns and the Event insert inside one write
// transaction (spec §4.3 "Transactionality"). Using the database/sql
// tracked transaction (tx.Commit/tx.Rollback) rather than raw BEGIN/COMMIT
// statements is what keeps GC's busy-check (§4.5, §9) meaningful.
func (s *Store) storeEvent(ctx context.Context, item ingestItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ingest tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	f := item.fields

	bufferRef, err := s.intern(ctx, tx, []byte(f.Buffer))
	if err != nil {
		return fmt.Errorf("intern buffer: %w", err)
	}
	tagsRef, err := s.intern(ctx, tx, f.Tags)
	if err != nil {
		return fmt.Errorf("intern tags: %w", err)
	}
	dataRef, err := s.intern(ctx, tx, []byte(f.Data))
	if err != nil {
		return fmt.Errorf("intern data: %w", err)
	}
	prefixRef, err := s.intern(ctx, tx, []byte(f.Prefix))
	if err != nil {
		return fmt.Errorf("intern prefix: %w", err)
	}
	paramsRef, err := s.intern(ctx, tx, []byte(f.Params))
	if err != nil {
		return fmt.Errorf("intern params: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events
		(user_id, network_id, buffer_ref, time, kind, msgid, tags_ref, data_ref, prefix_ref, params_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.userID, item.networkID, bufferRef, f.Time.UnixMilli(), int(f.Kind), f.Msgid,
		tagsRef, dataRef, prefixRef, paramsRef,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	return tx.Commit()
}
