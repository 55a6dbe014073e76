// Package executor binds the sqlfront statement/expression AST to the
// catalog, table, index, and txn layers.
package executor

import (
	"fmt"

	"github.com/minisql/minisql/internal/catalog"
	"github.com/minisql/minisql/internal/dberrors"
	"github.com/minisql/minisql/internal/index"
	"github.com/minisql/minisql/internal/sqlfront"
	"github.com/minisql/minisql/internal/table"
	"github.com/minisql/minisql/internal/txn"
	"github.com/minisql/minisql/internal/types"
)

// maxTriggerDepth bounds trigger-fired-statement recursion: a trigger
// whose statement fires itself (directly or through a chain) errors
// out with TriggerRecursion instead of looping forever.
const maxTriggerDepth = 8

// Result is the outcome of executing one statement.
type Result struct {
	Columns      []string
	Rows         [][]types.Value
	RowsAffected int
	Message      string
}

// Executor holds the engine-wide handles every Session shares.
type Executor struct {
	Catalog *catalog.Catalog
	Tables  *table.Manager
	Indexes *index.Registry
	Txns    *txn.Manager
}

// New creates an Executor over the given component handles.
func New(cat *catalog.Catalog, tables *table.Manager, indexes *index.Registry, txns *txn.Manager) *Executor {
	return &Executor{Catalog: cat, Tables: tables, Indexes: indexes, Txns: txns}
}

// Session is one client connection's transaction and isolation state.
type Session struct {
	ex         *Executor
	tx         *txn.Transaction
	autocommit bool
	isolation  txn.IsolationLevel

	// rrSnapshots holds each table's frozen first-read result for the
	// current REPEATABLE READ / SERIALIZABLE transaction; cleared
	// whenever a transaction starts, commits, or rolls back.
	rrSnapshots map[string][]table.Row
}

// NewSession opens a session against ex with autocommit on and READ
// COMMITTED isolation, the engine's default.
func NewSession(ex *Executor) *Session {
	return &Session{ex: ex, autocommit: true, isolation: txn.ReadCommitted}
}

// SetDefaultIsolation overrides the isolation level a session starts
// sessions at before any BEGIN/SET statement runs, used by
// internal/engine to apply a configured default_isolation.
func (s *Session) SetDefaultIsolation(level txn.IsolationLevel) {
	s.isolation = level
}

// Exec parses and executes a single SQL statement.
func (s *Session) Exec(sql string) (*Result, error) {
	stmt, err := sqlfront.ParseStatement(sql)
	if err != nil {
		return nil, err
	}
	return s.Execute(stmt)
}

// Execute runs an already-parsed statement.
func (s *Session) Execute(stmt sqlfront.Statement) (*Result, error) {
	switch st := stmt.(type) {
	case *sqlfront.Begin:
		return s.execBegin(st)
	case *sqlfront.Commit:
		return s.execCommit()
	case *sqlfront.Rollback:
		return s.execRollback()
	case *sqlfront.SetAutocommit:
		return s.execSetAutocommit(st)
	case *sqlfront.SetIsolationLevel:
		return s.execSetIsolationLevel(st)
	case *sqlfront.ShowAutocommit:
		return s.execShowAutocommit()
	case *sqlfront.ShowIsolationLevel:
		return s.execShowIsolationLevel()

	case *sqlfront.CreateTable:
		return s.execCreateTable(st)
	case *sqlfront.DropTable:
		return s.execDropTable(st)
	case *sqlfront.TruncateTable:
		return s.execTruncateTable(st)
	case *sqlfront.AlterTable:
		return s.execAlterTable(st)
	case *sqlfront.CreateIndex:
		return s.execCreateIndex(st)
	case *sqlfront.DropIndex:
		return s.execDropIndex(st)
	case *sqlfront.CreateView:
		return s.execCreateView(st)
	case *sqlfront.DropView:
		return s.execDropView(st)
	case *sqlfront.CreateUser:
		return s.execCreateUser(st)
	case *sqlfront.DropUser:
		return s.execDropUser(st)
	case *sqlfront.CreateTrigger:
		return s.execCreateTrigger(st)
	case *sqlfront.DropTrigger:
		return s.execDropTrigger(st)
	case *sqlfront.Grant:
		return s.execGrant(st)
	case *sqlfront.Revoke:
		return s.execRevoke(st)

	case *sqlfront.Insert:
		return s.withImplicitTxn(func() (*Result, error) { return s.execInsert(st, 0) })
	case *sqlfront.Update:
		return s.withImplicitTxn(func() (*Result, error) { return s.execUpdate(st, 0) })
	case *sqlfront.Delete:
		return s.withImplicitTxn(func() (*Result, error) { return s.execDelete(st, 0) })
	case *sqlfront.Select:
		return s.execSelect(st)

	default:
		return nil, dberrors.New(dberrors.KindUnsupportedStatement, "%T", stmt)
	}
}

// withImplicitTxn runs fn under s.tx if a transaction is already open,
// else opens one at s.isolation, runs fn, and commits or rolls it back
// immediately. INSERT, UPDATE, and DELETE go through here; SELECT and
// DDL statements do not.
func (s *Session) withImplicitTxn(fn func() (*Result, error)) (*Result, error) {
	if s.tx != nil {
		return fn()
	}
	t := s.ex.Txns.Begin(s.isolation)
	s.tx = t
	s.rrSnapshots = nil
	res, err := fn()
	s.tx = nil
	s.rrSnapshots = nil
	if err != nil {
		_ = s.ex.Txns.Rollback(t, s.undoFunc())
		return nil, err
	}
	if cerr := s.ex.Txns.Commit(t); cerr != nil {
		return nil, cerr
	}
	return res, nil
}

// undoFunc builds the txn.UndoFunc that reverses one Change by calling
// back into internal/table, closing the gap internal/txn deliberately
// leaves open (see txn.UndoFunc's doc comment).
func (s *Session) undoFunc() txn.UndoFunc {
	return func(c txn.Change) error {
		switch c.Type {
		case txn.ChangeInsert:
			return s.ex.Tables.UndoInsert(c.RID)
		case txn.ChangeUpdate:
			return s.ex.Tables.UndoUpdate(c.RID, c.OldPayload)
		case txn.ChangeDelete:
			return s.ex.Tables.UndoDelete(c.RID, c.OldPayload)
		default:
			return fmt.Errorf("executor: unknown change type %d", c.Type)
		}
	}
}

// --- transaction control ---

func (s *Session) execBegin(st *sqlfront.Begin) (*Result, error) {
	if s.tx != nil {
		return nil, dberrors.Wrap(dberrors.KindTransactionState, dberrors.ErrTxnAlreadyOpen, "BEGIN")
	}
	isolation := s.isolation
	if st.HasIsolation {
		lvl, err := parseIsolationLevel(st.Isolation)
		if err != nil {
			return nil, err
		}
		isolation = lvl
	}
	s.tx = s.ex.Txns.Begin(isolation)
	s.rrSnapshots = nil
	return &Result{Message: "transaction started"}, nil
}

func (s *Session) execCommit() (*Result, error) {
	if s.tx == nil {
		return nil, dberrors.Wrap(dberrors.KindTransactionState, dberrors.ErrTxnNotActive, "COMMIT")
	}
	t := s.tx
	s.tx = nil
	s.rrSnapshots = nil
	if err := s.ex.Txns.Commit(t); err != nil {
		return nil, err
	}
	return &Result{Message: "commit"}, nil
}

func (s *Session) execRollback() (*Result, error) {
	if s.tx == nil {
		return nil, dberrors.Wrap(dberrors.KindTransactionState, dberrors.ErrTxnNotActive, "ROLLBACK")
	}
	t := s.tx
	s.tx = nil
	s.rrSnapshots = nil
	if err := s.ex.Txns.Rollback(t, s.undoFunc()); err != nil {
		return nil, err
	}
	return &Result{Message: "rollback"}, nil
}

// execSetAutocommit implements SET AUTOCOMMIT = 0|1. Turning autocommit
// back on while a transaction is open performs an implicit commit.
func (s *Session) execSetAutocommit(st *sqlfront.SetAutocommit) (*Result, error) {
	if st.On && !s.autocommit && s.tx != nil {
		if _, err := s.execCommit(); err != nil {
			return nil, err
		}
	}
	s.autocommit = st.On
	return &Result{Message: "autocommit set"}, nil
}

func (s *Session) execSetIsolationLevel(st *sqlfront.SetIsolationLevel) (*Result, error) {
	lvl, err := parseIsolationLevel(st.Level)
	if err != nil {
		return nil, err
	}
	s.isolation = lvl
	return &Result{Message: "isolation level set"}, nil
}

func (s *Session) execShowAutocommit() (*Result, error) {
	val := "OFF"
	if s.autocommit {
		val = "ON"
	}
	return &Result{Columns: []string{"autocommit"}, Rows: [][]types.Value{{types.NewVarchar(val, len(val))}}}, nil
}

func (s *Session) execShowIsolationLevel() (*Result, error) {
	val := s.isolation.String()
	return &Result{Columns: []string{"isolation_level"}, Rows: [][]types.Value{{types.NewVarchar(val, len(val))}}}, nil
}

// PendingChanges returns the current transaction's undo/visibility
// log, or nil if no transaction is open. Exposed for
// internal/engine's DumpPendingChanges introspection call.
func (s *Session) PendingChanges() []txn.Change {
	if s.tx == nil {
		return nil
	}
	return s.tx.Changes
}

func parseIsolationLevel(s string) (txn.IsolationLevel, error) {
	switch s {
	case "READ UNCOMMITTED":
		return txn.ReadUncommitted, nil
	case "READ COMMITTED":
		return txn.ReadCommitted, nil
	case "REPEATABLE READ":
		return txn.RepeatableRead, nil
	case "SERIALIZABLE":
		return txn.Serializable, nil
	default:
		return 0, dberrors.New(dberrors.KindUnsupportedStatement, "unknown isolation level %q", s)
	}
}
