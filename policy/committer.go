package policy

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog/log"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pgstrict/pgstrict/telemetry"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS strict_modes (
	setting    TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

type pendingWrite struct {
	mode    Mode
	promise *future.Promise[error]
}

// Committer journals mode changes to a SQLite file so they survive restarts.
// Writes are batched: rapid flips of the same setting collapse to the last
// value seen before a flush. Enqueue returns a future that resolves once the
// write is durable; callers that do not care simply drop it.
type Committer struct {
	dbPath string
	db     *sql.DB

	mu      sync.Mutex
	pending map[string]*pendingWrite

	maxWaitTime time.Duration

	stopCh  chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// NewCommitter creates a journal writing to dbPath. maxWaitTime bounds how
// long a mode change stays memory-only before the flush loop persists it.
func NewCommitter(dbPath string, maxWaitTime time.Duration) *Committer {
	return &Committer{
		dbPath:      dbPath,
		pending:     make(map[string]*pendingWrite),
		maxWaitTime: maxWaitTime,
		stopCh:      make(chan struct{}),
	}
}

// Start opens the journal and begins the flush loop.
func (c *Committer) Start() error {
	db, err := c.openConnection()
	if err != nil {
		return fmt.Errorf("failed to open mode journal: %w", err)
	}

	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return fmt.Errorf("failed to create mode journal schema: %w", err)
	}
	c.db = db

	c.wg.Add(1)
	go c.flushLoop()
	return nil
}

func (c *Committer) openConnection() (*sql.DB, error) {
	// WAL keeps the journal readable while a flush is in flight.
	dsn := c.dbPath
	if !strings.Contains(dsn, ":memory:") {
		if strings.Contains(dsn, "?") {
			dsn += "&_journal_mode=WAL&_busy_timeout=5000"
		} else {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}

	return db, nil
}

// Stop flushes outstanding writes and closes the journal.
func (c *Committer) Stop() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	close(c.stopCh)
	c.wg.Wait()

	if c.db != nil {
		c.db.Close()
	}
}

// Enqueue schedules a durable write of mode under setting. A later Enqueue
// for the same setting before the next flush supersedes this one; the
// superseded future still resolves with the flush outcome.
func (c *Committer) Enqueue(setting string, mode Mode) *future.Future[error] {
	p := future.NewPromise[error]()

	c.mu.Lock()
	if prev, ok := c.pending[setting]; ok {
		// Chain the superseded promise onto the new one.
		go func(prev *future.Promise[error], next *future.Future[error]) {
			_, err := next.Get()
			prev.Set(nil, err)
		}(prev.promise, p.Future())
	}
	c.pending[setting] = &pendingWrite{mode: mode, promise: p}
	c.mu.Unlock()

	return p.Future()
}

// Restore reads the journaled modes. Unknown settings and unparseable
// tokens are skipped; only valid rows are returned.
func (c *Committer) Restore() (map[string]Mode, error) {
	rows, err := c.db.Query("SELECT setting, mode FROM strict_modes")
	if err != nil {
		return nil, fmt.Errorf("failed to read mode journal: %w", err)
	}
	defer rows.Close()

	restored := make(map[string]Mode)
	for rows.Next() {
		var setting, token string
		if err := rows.Scan(&setting, &token); err != nil {
			return nil, fmt.Errorf("failed to scan mode journal row: %w", err)
		}
		mode, ok := ParseMode(token)
		if !ok {
			log.Warn().Str("setting", setting).Str("token", token).
				Msg("Skipping unparseable journaled mode")
			continue
		}
		restored[setting] = mode
	}

	return restored, rows.Err()
}

func (c *Committer) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.maxWaitTime)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.tryFlush()
		case <-c.stopCh:
			c.tryFlush()
			return
		}
	}
}

func (c *Committer) tryFlush() {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.pending
	c.pending = make(map[string]*pendingWrite)
	c.mu.Unlock()

	c.flush(batch)
}

func (c *Committer) flush(batch map[string]*pendingWrite) {
	tx, err := c.db.Begin()
	if err != nil {
		telemetry.JournalFlushesTotal.With("error").Inc()
		for _, pw := range batch {
			pw.promise.Set(nil, err)
		}
		return
	}

	now := time.Now().UnixMilli()
	for setting, pw := range batch {
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO strict_modes (setting, mode, updated_at) VALUES (?, ?, ?)",
			setting, pw.mode.String(), now,
		)
		if err != nil {
			tx.Rollback()
			telemetry.JournalFlushesTotal.With("error").Inc()
			for _, p := range batch {
				p.promise.Set(nil, err)
			}
			return
		}
	}

	// Single fsync for the entire batch.
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		telemetry.JournalFlushesTotal.With("error").Inc()
		for _, pw := range batch {
			pw.promise.Set(nil, err)
		}
		return
	}

	telemetry.JournalFlushesTotal.With("success").Inc()
	for _, pw := range batch {
		pw.promise.Set(nil, nil)
	}
}
