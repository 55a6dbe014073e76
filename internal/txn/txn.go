// Package txn implements transaction state tracking, per-isolation
// visibility, and undo-log rollback. A Manager is an explicit field on
// internal/engine.Session, not a package-level global, and real writes
// go straight to the heap/index (there is no in-memory shadow copy of
// committed rows to maintain), so visibility for other sessions is
// computed from the pending-change log alone.
package txn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"

	"github.com/minisql/minisql/internal/dberrors"
	"github.com/minisql/minisql/internal/storage/heap"
)

// IsolationLevel is one of the four standard SQL isolation levels.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ UNCOMMITTED"
	case ReadCommitted:
		return "READ COMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "UNKNOWN"
	}
}

// ChangeType classifies one entry in a transaction's pending-change
// log.
type ChangeType int

const (
	ChangeInsert ChangeType = iota
	ChangeUpdate
	ChangeDelete
)

// Change is one write a transaction has made, kept both for
// cross-transaction visibility decisions and as an undo-log entry for
// Rollback.
type Change struct {
	Type       ChangeType
	Table      string
	RID        heap.RID
	OldPayload []byte // nil for ChangeInsert
	NewPayload []byte // nil for ChangeDelete
}

// Transaction is a single session's in-flight unit of work.
type Transaction struct {
	ID        int64
	Isolation IsolationLevel
	Changes   []Change
}

// LockMode is a table-level lock granted under SERIALIZABLE.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// lockTable grants table-level S/X locks with no blocking: a conflict
// is reported immediately as LockConflict rather than queued. There is
// no deadlock detection because nothing ever waits.
type lockTable struct {
	mu    sync.Mutex
	holds map[string]map[int64]LockMode
}

func newLockTable() *lockTable {
	return &lockTable{holds: make(map[string]map[int64]LockMode)}
}

func (lt *lockTable) acquire(table string, txnID int64, mode LockMode) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	holders := lt.holds[table]
	for holder, held := range holders {
		if holder == txnID {
			continue
		}
		if mode == LockExclusive || held == LockExclusive {
			return dberrors.New(dberrors.KindLockConflict, "table %q", table)
		}
	}
	if holders == nil {
		holders = make(map[int64]LockMode)
		lt.holds[table] = holders
	}
	if existing, ok := holders[txnID]; !ok || (mode == LockExclusive && existing == LockShared) {
		holders[txnID] = mode
	}
	return nil
}

func (lt *lockTable) releaseAll(txnID int64) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	for table, holders := range lt.holds {
		delete(holders, txnID)
		if len(holders) == 0 {
			delete(lt.holds, table)
		}
	}
}

// Manager tracks every active transaction for one engine instance.
// Not a singleton: internal/engine constructs one Manager per Engine
// (shared by every Session opened against it, the way a real database
// process has exactly one transaction manager, never one per
// connection) and passes it explicitly.
type Manager struct {
	mu     sync.Mutex
	nextID int64
	active map[int64]*Transaction
	locks  *lockTable

	activeGauge     metric.Int64UpDownCounter
	conflictCounter metric.Int64Counter
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithMeter wires an active-transaction gauge and lock-conflict
// counter into the given OTel meter.
func WithMeter(meter metric.Meter) Option {
	return func(m *Manager) {
		m.activeGauge, _ = meter.Int64UpDownCounter("minisql.txn.active")
		m.conflictCounter, _ = meter.Int64Counter("minisql.txn.lock_conflicts")
	}
}

// New creates an empty Manager.
func New(opts ...Option) *Manager {
	m := &Manager{active: make(map[int64]*Transaction), locks: newLockTable()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin starts a new transaction at the given isolation level.
func (m *Manager) Begin(isolation IsolationLevel) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := atomic.AddInt64(&m.nextID, 1)
	t := &Transaction{ID: id, Isolation: isolation}
	m.active[id] = t
	if m.activeGauge != nil {
		m.activeGauge.Add(context.Background(), 1)
	}
	return t
}

// RecordChange appends a write to txn's pending-change/undo log. The
// write has already been applied to the heap/index by the time this
// is called; this only affects visibility for other readers and
// Rollback's undo order.
func (m *Manager) RecordChange(t *Transaction, c Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Changes = append(t.Changes, c)
}

// AcquireTableLock takes a table-level lock for t. Only SERIALIZABLE
// sessions call this; lower isolation levels never lock.
func (m *Manager) AcquireTableLock(t *Transaction, table string, mode LockMode) error {
	if err := m.locks.acquire(table, t.ID, mode); err != nil {
		if m.conflictCounter != nil {
			m.conflictCounter.Add(context.Background(), 1)
		}
		return err
	}
	return nil
}

// Commit finalizes t: its changes become visible to every other
// transaction and its locks are released.
func (m *Manager) Commit(t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[t.ID]; !ok {
		return dberrors.ErrTxnNotActive
	}
	delete(m.active, t.ID)
	m.locks.releaseAll(t.ID)
	if m.activeGauge != nil {
		m.activeGauge.Add(context.Background(), -1)
	}
	return nil
}

// UndoFunc applies the inverse of one Change to real storage. Supplied
// by internal/executor, which has the heap.Manager/index.Registry
// handles the txn package deliberately does not depend on.
type UndoFunc func(Change) error

// Rollback undoes every change t made, most recent first, then
// discards the transaction and releases its locks.
func (m *Manager) Rollback(t *Transaction, undo UndoFunc) error {
	m.mu.Lock()
	_, ok := m.active[t.ID]
	m.mu.Unlock()
	if !ok {
		return dberrors.ErrTxnNotActive
	}

	for i := len(t.Changes) - 1; i >= 0; i-- {
		if err := undo(t.Changes[i]); err != nil {
			return fmt.Errorf("txn: rollback of change %d failed: %w", i, err)
		}
	}

	m.mu.Lock()
	delete(m.active, t.ID)
	m.locks.releaseAll(t.ID)
	if m.activeGauge != nil {
		m.activeGauge.Add(context.Background(), -1)
	}
	m.mu.Unlock()
	return nil
}

// lastChangeFor returns the most recent pending change any other
// active transaction has made to (table, rid), if any.
func (m *Manager) lastChangeFor(readerTxnID int64, table string, rid heap.RID) (writerID int64, change Change, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.active {
		if id == readerTxnID {
			continue
		}
		for i := len(t.Changes) - 1; i >= 0; i-- {
			c := t.Changes[i]
			if c.Table == table && c.RID == rid {
				return id, c, true
			}
		}
	}
	return 0, Change{}, false
}

// VisibleVersion decides what reader (running at readerIsolation as
// transaction readerTxnID) should see for a row currently holding
// currentPayload at rid. It returns the payload to show and whether
// the row is visible at all.
func (m *Manager) VisibleVersion(readerTxnID int64, readerIsolation IsolationLevel, table string, rid heap.RID, currentPayload []byte) (payload []byte, visible bool) {
	writerID, change, found := m.lastChangeFor(readerTxnID, table, rid)
	if !found {
		return currentPayload, true
	}
	if writerID == readerTxnID {
		return currentPayload, true
	}
	if readerIsolation == ReadUncommitted {
		return currentPayload, true
	}

	// Reader requires committed data only: fall back to the
	// pre-transaction version of this row. READ COMMITTED and
	// stricter never observe another transaction's pending writes.
	switch change.Type {
	case ChangeInsert:
		return nil, false
	case ChangeUpdate, ChangeDelete:
		if change.OldPayload == nil {
			return nil, false
		}
		return change.OldPayload, true
	default:
		return currentPayload, true
	}
}

// ReadContext identifies the reader a visibility decision is made for:
// its transaction ID (0 for no open transaction), its isolation level,
// and the Manager to consult. internal/index and internal/table take
// this instead of a bare *Manager so a uniqueness probe can apply the
// same per-isolation masking VisibleVersion applies to ordinary row
// reads. A zero-value ReadContext (Manager nil) disables visibility
// filtering entirely - every index hit found live is a real collision
// - for callers with no transaction context to offer.
type ReadContext struct {
	TxnID     int64
	Isolation IsolationLevel
	Manager   *Manager
}

// PendingDeletes returns every ChangeDelete another active transaction
// has recorded against table, for readers stricter than READ
// UNCOMMITTED that need to keep showing a tombstoned-but-uncommitted
// row until its deleting transaction commits or rolls back. The heap's
// immediate physical tombstone would otherwise make the row vanish for
// every reader the instant DELETE runs, not just after commit.
func (m *Manager) PendingDeletes(readerTxnID int64, table string) []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Change
	for id, t := range m.active {
		if id == readerTxnID {
			continue
		}
		for _, c := range t.Changes {
			if c.Type == ChangeDelete && c.Table == table {
				out = append(out, c)
			}
		}
	}
	return out
}

// ActiveCount returns the number of currently open transactions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
