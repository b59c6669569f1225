// Package store implements the columnar store pool (spec.md §4.2): a
// pool of query/execution handles over an in-process SQL engine, plus
// parquet read/write helpers. The pool's acquire/release/markFailed/
// shutdown contract and its idle reaper are grounded on the teacher's
// pgxpool-based connection lifecycle (internal/database/postgres_client.go,
// internal/graph/pool_monitor.go, internal/graph/timeout_monitor.go) even
// though the engine underneath is SQLite rather than Postgres — the
// pooling idiom is what's reused, not the driver.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	devacerrors "github.com/devac/devac/internal/errors"
	"github.com/devac/devac/internal/logging"
)

// Config configures pool sizing and timeouts (spec.md §4.2 defaults).
type Config struct {
	Path             string        // SQLite file backing the pool's engine
	MemoryLimitBytes int64         // default 512 MiB; applied as a SQLite pragma
	TempDir          string        // spill/scratch directory
	MaxConnections   int           // default 4
	AcquireTimeout   time.Duration // default 30s
	IdleTimeout      time.Duration // default 30s; also the reaper period
	Threads          int           // default 2
}

func (c Config) withDefaults() Config {
	if c.MaxConnections == 0 {
		c.MaxConnections = 4
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.MemoryLimitBytes == 0 {
		c.MemoryLimitBytes = 512 * 1024 * 1024
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.Threads == 0 {
		c.Threads = 2
	}
	return c
}

// Handle is one pooled connection against the in-process engine.
type Handle struct {
	conn      *sqlx.DB
	createdAt time.Time
	lastUsed  time.Time
	pool      *Pool
}

// DB exposes the underlying *sqlx.DB for read/write operations.
func (h *Handle) DB() *sqlx.DB { return h.conn }

// Pool manages a bounded set of Handles against one engine instance.
type Pool struct {
	cfg    Config
	logger *logging.Logger

	mu       sync.Mutex
	idle     []*Handle
	numOpen  int
	waiters  []chan *Handle
	shutdown bool

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// Initialize creates the pool and starts its idle reaper. Matches
// spec.md §4.2's initialize() contract: one shared in-process instance
// configured with a memory limit, thread count, and scratch directory.
func Initialize(cfg Config) (*Pool, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	if err := os.MkdirAll(cfg.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	p := &Pool{
		cfg:        cfg,
		logger:     logging.Default().With("component", "store.pool"),
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}

	go p.reapLoop()

	return p, nil
}

func (p *Pool) newHandle() (*Handle, error) {
	conn, err := sqlx.Connect("sqlite3", p.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open store handle: %w", err)
	}
	conn.Exec("PRAGMA foreign_keys = ON")
	conn.Exec("PRAGMA journal_mode = WAL")
	conn.Exec(fmt.Sprintf("PRAGMA cache_size = -%d", p.cfg.MemoryLimitBytes/1024))
	conn.Exec(fmt.Sprintf("PRAGMA temp_store_directory = '%s'", p.cfg.TempDir))
	conn.Exec(fmt.Sprintf("PRAGMA threads = %d", p.cfg.Threads))

	now := time.Now()
	return &Handle{conn: conn, createdAt: now, lastUsed: now, pool: p}, nil
}

// Acquire returns an idle handle or opens a new one up to MaxConnections;
// otherwise blocks up to AcquireTimeout before failing.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil, devacerrors.PoolShutdown()
	}

	if n := len(p.idle); n > 0 {
		h := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		h.lastUsed = time.Now()
		return h, nil
	}

	if p.numOpen < p.cfg.MaxConnections {
		p.numOpen++
		p.mu.Unlock()
		h, err := p.newHandle()
		if err != nil {
			p.mu.Lock()
			p.numOpen--
			p.mu.Unlock()
			return nil, devacerrors.FatalStoreError(err)
		}
		return h, nil
	}

	wait := make(chan *Handle, 1)
	p.waiters = append(p.waiters, wait)
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case h := <-wait:
		if h == nil {
			return nil, devacerrors.PoolShutdown()
		}
		h.lastUsed = time.Now()
		return h, nil
	case <-timer.C:
		return nil, devacerrors.AcquireTimeout()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns h to the pool, feeding any waiter first.
func (p *Pool) Release(h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		h.conn.Close()
		return
	}

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w <- h
		return
	}

	h.lastUsed = time.Now()
	p.idle = append(p.idle, h)
}

// MarkFailed closes and discards h without returning it to the pool.
func (p *Pool) MarkFailed(h *Handle) {
	h.conn.Close()
	p.mu.Lock()
	p.numOpen--
	p.mu.Unlock()
}

// Shutdown rejects all waiters and closes every idle handle; handles
// still checked out are closed when they are released.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	for _, w := range p.waiters {
		close(w)
	}
	p.waiters = nil
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, h := range idle {
		h.conn.Close()
	}

	close(p.reaperStop)
	<-p.reaperDone
}

func (p *Pool) reapLoop() {
	defer close(p.reaperDone)
	ticker := time.NewTicker(p.cfg.IdleTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-p.reaperStop:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

// reapIdle closes all-but-one idle handle that has been idle past
// IdleTimeout, matching spec.md §4.2's "closes all-but-one idle handle".
func (p *Pool) reapIdle() {
	p.mu.Lock()
	if len(p.idle) <= 1 {
		p.mu.Unlock()
		return
	}

	cutoff := time.Now().Add(-p.cfg.IdleTimeout)
	var keep []*Handle
	var reap []*Handle
	keep = append(keep, p.idle[len(p.idle)-1]) // always keep the most recently used
	for _, h := range p.idle[:len(p.idle)-1] {
		if h.lastUsed.Before(cutoff) {
			reap = append(reap, h)
		} else {
			keep = append(keep, h)
		}
	}
	p.idle = keep
	p.numOpen -= len(reap)
	p.mu.Unlock()

	for _, h := range reap {
		h.conn.Close()
	}
}

// fatalSubstrings are matched case-insensitively against an error's text
// to classify it as fatal (spec.md §4.2's executeWithRecovery).
var fatalSubstrings = []string{
	"fatal", "out of memory", "database is locked", "connection closed",
}

func isFatalError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range fatalSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// ExecuteWithRecovery acquires a handle, runs op, and on a fatal-class
// error discards the handle and retries once on a fresh handle.
// Non-fatal errors propagate without a retry.
func ExecuteWithRecovery[T any](ctx context.Context, p *Pool, op func(*Handle) (T, error)) (T, error) {
	var zero T

	h, err := p.Acquire(ctx)
	if err != nil {
		return zero, err
	}

	result, err := op(h)
	if err == nil {
		p.Release(h)
		return result, nil
	}

	if !isFatalError(err) {
		p.Release(h)
		return zero, err
	}

	p.MarkFailed(h)
	h2, acqErr := p.Acquire(ctx)
	if acqErr != nil {
		return zero, devacerrors.FatalStoreError(err)
	}
	defer p.Release(h2)

	result, err = op(h2)
	if err != nil {
		return zero, devacerrors.FatalStoreError(err)
	}
	return result, nil
}
