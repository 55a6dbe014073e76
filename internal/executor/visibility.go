package executor

import (
	"github.com/minisql/minisql/internal/dberrors"
	"github.com/minisql/minisql/internal/table"
	"github.com/minisql/minisql/internal/txn"
	"github.com/minisql/minisql/internal/types"
)

// readerTxnID returns the transaction ID a visibility decision should
// be made as, or 0 (never a real transaction ID - txn.Manager hands
// out IDs starting at 1) when the session has no open transaction.
func (s *Session) readerTxnID() int64 {
	if s.tx == nil {
		return 0
	}
	return s.tx.ID
}

// readerIsolation returns the isolation level governing the current
// read: the open transaction's, if any, else the session default set
// by SET SESSION TRANSACTION ISOLATION LEVEL.
func (s *Session) readerIsolation() txn.IsolationLevel {
	if s.tx != nil {
		return s.tx.Isolation
	}
	return s.isolation
}

// acquireLock takes a table-level lock for the session's current
// transaction. It is a no-op below SERIALIZABLE and when no
// transaction is open: only an active SERIALIZABLE transaction can
// hold a lock.
func (s *Session) acquireLock(tableName string, mode txn.LockMode) error {
	if s.tx == nil || s.readerIsolation() != txn.Serializable {
		return nil
	}
	return s.ex.Txns.AcquireTableLock(s.tx, tableName, mode)
}

// visibleRows returns the rows of tableName this session should see:
// every other active
// transaction's pending change against a candidate row is compared at
// the reader's isolation level, with self-writes always visible and
// READ UNCOMMITTED the only level that reveals another transaction's
// uncommitted work. Under REPEATABLE READ and SERIALIZABLE, the first
// read of a table within a transaction freezes the result as a
// snapshot that subsequent reads of the same table in the same
// transaction reuse.
//
// DELETE tombstones its heap slot immediately, so a row another still-
// open transaction deleted is missing from the raw scan below before
// that transaction commits. s.ex.Txns.PendingDeletes closes that gap:
// for every such delete not made by this reader, the row is re-added from the
// change's OldPayload unless the reader is itself at READ UNCOMMITTED,
// where the physical absence is already the correct answer (READ
// UNCOMMITTED sees the delete as having happened).
func (s *Session) visibleRows(tableName string) ([]table.Row, error) {
	if err := s.acquireLock(tableName, txn.LockShared); err != nil {
		return nil, err
	}

	if s.tx != nil && s.tx.Isolation >= txn.RepeatableRead {
		if rows, ok := s.rrSnapshots[tableName]; ok {
			return rows, nil
		}
	}

	schema, ok := s.ex.Catalog.TableSchema(tableName)
	if !ok {
		return nil, dberrors.New(dberrors.KindTableNotFound, "table %q does not exist", tableName)
	}
	raw, err := s.ex.Tables.Scan(tableName, nil)
	if err != nil {
		return nil, err
	}

	readerID := s.readerTxnID()
	isolation := s.readerIsolation()
	out := make([]table.Row, 0, len(raw))
	for _, row := range raw {
		current := row.Record.Encode()
		payload, visible := s.ex.Txns.VisibleVersion(readerID, isolation, tableName, row.RID, current)
		if !visible {
			continue
		}
		rec := row.Record
		if string(payload) != string(current) {
			decoded, derr := types.DecodeRecord(payload, len(schema.Columns))
			if derr != nil {
				return nil, derr
			}
			rec = decoded
		}
		out = append(out, table.Row{RID: row.RID, Record: rec})
	}

	if isolation != txn.ReadUncommitted {
		for _, c := range s.ex.Txns.PendingDeletes(readerID, tableName) {
			rec, derr := types.DecodeRecord(c.OldPayload, len(schema.Columns))
			if derr != nil {
				return nil, derr
			}
			out = append(out, table.Row{RID: c.RID, Record: rec})
		}
	}

	if s.tx != nil && s.tx.Isolation >= txn.RepeatableRead {
		if s.rrSnapshots == nil {
			s.rrSnapshots = make(map[string][]table.Row)
		}
		s.rrSnapshots[tableName] = out
	}
	return out, nil
}
