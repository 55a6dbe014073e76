// Package engine wires the storage, catalog, index, table, and
// transaction layers into a single open database file. None of the
// wired components are package-level singletons: every field here is
// owned by one *Engine instance, so a process can open more than one
// database file at once.
package engine

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/minisql/minisql/internal/catalog"
	"github.com/minisql/minisql/internal/executor"
	"github.com/minisql/minisql/internal/index"
	"github.com/minisql/minisql/internal/storage/btree"
	"github.com/minisql/minisql/internal/storage/buffer"
	"github.com/minisql/minisql/internal/storage/heap"
	"github.com/minisql/minisql/internal/storage/page"
	"github.com/minisql/minisql/internal/storage/pager"
	"github.com/minisql/minisql/internal/table"
	"github.com/minisql/minisql/internal/txn"
)

// catalogPageID is the fixed page the system catalog lives at. Page 0
// belongs to the pager's file header, so the catalog takes the first
// page ever allocated.
const catalogPageID = page.ID(1)

// DefaultBufferPoolCapacity is the number of resident pages kept by a
// freshly opened Engine when Options.BufferPoolCapacity is left zero.
const DefaultBufferPoolCapacity = 256

// Options configures Open.
type Options struct {
	// BufferPoolCapacity is the number of pages the buffer pool keeps
	// resident. Zero selects DefaultBufferPoolCapacity.
	BufferPoolCapacity int

	// Meter, if non-nil, wires buffer pool and transaction manager
	// instruments into it.
	Meter metric.Meter

	// Logger receives CorruptPage and similar warn-and-continue
	// diagnostics. Defaults to slog.Default() when nil.
	Logger *slog.Logger

	// DefaultIsolation is the isolation level every session created by
	// NewSession starts at. Zero value is txn.ReadUncommitted, which is
	// NOT the engine's actual default - leave this unset and let
	// internal/config's default_isolation("READ COMMITTED") resolve it
	// instead of relying on the zero value.
	DefaultIsolation txn.IsolationLevel
	// HasDefaultIsolation distinguishes "caller set ReadUncommitted on
	// purpose" from "caller left DefaultIsolation unset."
	HasDefaultIsolation bool
}

// Engine owns every component backing one open database file.
type Engine struct {
	Path    string
	Pager   *pager.Pager
	Pool    *buffer.Pool
	Catalog *catalog.Catalog
	Heap    *heap.Manager
	Indexes *index.Registry
	Tables  *table.Manager
	Txns    *txn.Manager
	Exec    *executor.Executor

	log *slog.Logger

	defaultIsolation    txn.IsolationLevel
	hasDefaultIsolation bool
}

// Open opens (creating if necessary) the database file at path and
// wires every layer above it, in this order: page manager, buffer manager, catalog, record
// manager, index manager, table manager, transaction manager, SQL
// executor.
func Open(path string, opts Options) (*Engine, error) {
	capacity := opts.BufferPoolCapacity
	if capacity <= 0 {
		capacity = DefaultBufferPoolCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pg, err := pager.Open(path)
	if err != nil {
		return nil, err
	}

	var poolOpts []buffer.Option
	if opts.Meter != nil {
		poolOpts = append(poolOpts, buffer.WithMeter(opts.Meter))
	}
	pool := buffer.New(pg, capacity, poolOpts...)

	if pg.PageCount() == 0 {
		guard, err := pool.AllocateNew()
		if err != nil {
			pg.Close()
			return nil, err
		}
		guard.UnpinDirty()
	}

	cat, err := catalog.Open(pool, catalogPageID)
	if err != nil {
		pg.Close()
		return nil, err
	}

	hm := heap.New(pool)
	idx := index.New(pool, cat, hm)
	tables := table.New(cat, hm, idx)

	var txnOpts []txn.Option
	if opts.Meter != nil {
		txnOpts = append(txnOpts, txn.WithMeter(opts.Meter))
	}
	txns := txn.New(txnOpts...)

	ex := executor.New(cat, tables, idx, txns)

	return &Engine{
		Path:                path,
		Pager:               pg,
		Pool:                pool,
		Catalog:             cat,
		Heap:                hm,
		Indexes:             idx,
		Tables:              tables,
		Txns:                txns,
		Exec:                ex,
		log:                 logger,
		defaultIsolation:    opts.DefaultIsolation,
		hasDefaultIsolation: opts.HasDefaultIsolation,
	}, nil
}

// NewSession opens a new client session against the engine, with
// autocommit on and the engine's configured default isolation level
// (READ COMMITTED unless Options.DefaultIsolation overrode it).
func (e *Engine) NewSession() *executor.Session {
	s := executor.NewSession(e.Exec)
	if e.hasDefaultIsolation {
		s.SetDefaultIsolation(e.defaultIsolation)
	}
	return s
}

// Close flushes every dirty page and releases the file lock.
func (e *Engine) Close() error {
	if err := e.Pool.FlushAll(); err != nil {
		return err
	}
	return e.Pager.Close()
}

// Stats reports the buffer pool's cumulative hit/miss/eviction counts,
// the `\stats` shell meta-command's data source.
func (e *Engine) Stats() buffer.Stats {
	return e.Pool.Stats()
}

// ActiveTransactions reports how many transactions are currently open
// against this engine, printed by the `\stats` shell meta-command.
func (e *Engine) ActiveTransactions() int {
	return e.Txns.ActiveCount()
}

// DumpIndex returns every key/RID pair in a named index, the shell's
// `\dtree <index>` meta-command's data source.
func (e *Engine) DumpIndex(name string) ([]btree.Pair, error) {
	return e.Indexes.Dump(name)
}

// DumpPendingChanges returns the in-flight undo/visibility log for an
// open transaction, the shell's `\dtxn` meta-command's data source.
func (e *Engine) DumpPendingChanges(s *executor.Session) []txn.Change {
	return s.PendingChanges()
}
