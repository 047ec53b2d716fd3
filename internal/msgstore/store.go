package msgstore

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"database/sql"

	"github.com/chatlogd/chatlogd/internal/clock"
	"github.com/chatlogd/chatlogd/internal/metrics"
)

//go:embed schema.sql
var schemaSQL string

// Options configures a Store. Field names mirror the configuration keys
// in spec §6.
type Options struct {
	// Path is the SQLite database file path.
	Path string

	// RetentionDaysChannel and RetentionDaysPM are retention windows in
	// days for channel and PM buffers respectively. 0 disables retention
	// for that class.
	RetentionDaysChannel int
	RetentionDaysPM      int

	// RetentionCleanupInterval is how often the retention ticker fires.
	// Defaults to 1440 minutes (24h) if zero.
	RetentionCleanupInterval time.Duration

	// CacheSizeKB sets SQLite's negative cache_size pragma (KB of page
	// cache). Defaults to 2000 if zero.
	CacheSizeKB int

	// MmapSizeBytes sets SQLite's mmap_size pragma. 0 disables mmap.
	MmapSizeBytes int64

	// DedupCacheBytes bounds the in-memory dedup cache (C2) by summed key
	// byte length. Defaults to 50MB if zero.
	DedupCacheBytes int
}

func (o *Options) setDefaults() {
	if o.RetentionCleanupInterval == 0 {
		o.RetentionCleanupInterval = 1440 * time.Minute
	}
	if o.CacheSizeKB == 0 {
		o.CacheSizeKB = 2000
	}
}

// Store is the persistent message store (spec §1-§6). It exposes Store,
// five Query* methods, and Init/Shutdown (via Open/Shutdown) as its public
// contract; everything else is internal plumbing.
type Store struct {
	db      *sql.DB
	cache   *dedupCache
	clock   clock.Clock
	metrics metrics.Recorder
	logger  *slog.Logger

	opts Options

	queue *ingestQueue

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	retentionMu sync.Mutex // single-writer discipline for GC (§4.5)
}

// SupportsRead and SupportsWrite are capability flags surrounding code
// queries (spec §6).
const (
	SupportsRead  = true
	SupportsWrite = true
)

// Open opens or creates the database at opts.Path, applies PRAGMAs, creates
// the schema, and starts the ingest worker and retention ticker. This is
// the store's "init" operation (spec §6).
func Open(opts Options, clk clock.Clock, rec metrics.Recorder, logger *slog.Logger) (*Store, error) {
	opts.setDefaults()
	if clk == nil {
		clk = clock.Real{}
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("msgstore: open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("msgstore: connect to database: %w", err)
	}

	// SQLite tolerates exactly one writer. Pinning the pool to a single
	// connection is the mechanism that enforces the write-transaction
	// invariant in spec §5: it makes overlapping writers impossible at
	// the driver level rather than relying on application-level locking.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, opts); err != nil {
		db.Close()
		return nil, fmt.Errorf("msgstore: apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("msgstore: apply schema: %w", err)
	}

	s := &Store{
		db:      db,
		cache:   newDedupCache(opts.DedupCacheBytes),
		clock:   clk,
		metrics: rec,
		logger:  logger,
		opts:    opts,
		stopCh:  make(chan struct{}),
	}
	s.queue = newIngestQueue()

	s.wg.Add(2)
	go s.runIngestLoop()
	go s.runRetentionLoop()

	return s, nil
}

func applyPragmas(db *sql.DB, opts Options) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
		fmt.Sprintf("PRAGMA cache_size = -%d", opts.CacheSizeKB),
	}
	if opts.MmapSizeBytes > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA mmap_size = %d", opts.MmapSizeBytes))
	}

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("execute %q: %w", p, err)
		}
	}
	return nil
}

// Shutdown drains the ingest queue to completion, lets any in-flight GC
// batch finish, stops the background loops, and closes the database.
func (s *Store) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.queue.close()
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.cache.clear()
	return s.db.Close()
}

// ingestBusy polls whether another writer currently holds the
// database's single connection checked out for a write (used by
// retention's defer-and-retry logic in §4.5). We approximate the engine's
// "tracked transaction" primitive with the ingest queue's own busy flag,
// since SetMaxOpenConns(1) means a checked-out connection during an
// in-flight ingest transaction would otherwise make this call block rather
// than report contention.
func (s *Store) ingestBusy() bool {
	return s.queue.busy.Load()
}

// Stats is a snapshot of store-level counters, useful for operational
// inspection (exposed via the CLI's "stats" command).
type Stats struct {
	Events       int64
	Payloads     int64
	CacheEntries int
	QueueDepth   int
}

// Stats reports current row counts and cache occupancy.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&st.Events); err != nil {
		return Stats{}, fmt.Errorf("msgstore: count events: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payloads`).Scan(&st.Payloads); err != nil {
		return Stats{}, fmt.Errorf("msgstore: count payloads: %w", err)
	}
	st.CacheEntries = s.cache.len()
	st.QueueDepth = s.queue.len()
	return st, nil
}

// RunRetentionOnce forces a synchronous retention cycle, outside the
// regular ticker. Used by operational tooling ("gc now"). A cycle already
// in progress (e.g. the startup cycle) is waited out first, so the call
// runs a cycle of its own instead of being dropped as an overlapping tick.
func (s *Store) RunRetentionOnce() {
	s.retentionMu.Lock()
	s.retentionMu.Unlock() //nolint:staticcheck // wait for an in-flight cycle
	s.runRetentionCycle()
}
