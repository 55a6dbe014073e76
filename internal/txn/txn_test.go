package txn

import (
	"testing"

	"github.com/minisql/minisql/internal/dberrors"
	"github.com/minisql/minisql/internal/storage/heap"
)

func TestBeginAssignsIncreasingIDs(t *testing.T) {
	m := New()
	a := m.Begin(ReadCommitted)
	b := m.Begin(ReadCommitted)
	if b.ID <= a.ID {
		t.Fatalf("second txn ID %d not greater than first %d", b.ID, a.ID)
	}
	if m.ActiveCount() != 2 {
		t.Fatalf("ActiveCount() = %d, want 2", m.ActiveCount())
	}
}

func TestCommitReleasesAndRejectsDoubleCommit(t *testing.T) {
	m := New()
	tx := m.Begin(ReadCommitted)
	if err := m.Commit(tx); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0 after commit", m.ActiveCount())
	}
	if err := m.Commit(tx); err == nil {
		t.Fatalf("second Commit() on same txn succeeded, want error")
	}
}

func TestRollbackReplaysUndoInReverseOrder(t *testing.T) {
	m := New()
	tx := m.Begin(ReadCommitted)
	rid := heap.RID{PageID: 1, Slot: 0}
	m.RecordChange(tx, Change{Type: ChangeInsert, Table: "t", RID: rid})
	m.RecordChange(tx, Change{Type: ChangeUpdate, Table: "t", RID: rid, OldPayload: []byte("old")})

	var order []ChangeType
	err := m.Rollback(tx, func(c Change) error {
		order = append(order, c.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}
	if len(order) != 2 || order[0] != ChangeUpdate || order[1] != ChangeInsert {
		t.Fatalf("undo order = %v, want [Update, Insert] (most recent first)", order)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0 after rollback", m.ActiveCount())
	}
}

func TestRollbackOnInactiveTxnFails(t *testing.T) {
	m := New()
	tx := m.Begin(ReadCommitted)
	if err := m.Commit(tx); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	if err := m.Rollback(tx, func(Change) error { return nil }); err == nil {
		t.Fatalf("Rollback() on committed txn succeeded, want error")
	}
}

func TestVisibleVersionSelfWritesAlwaysVisible(t *testing.T) {
	m := New()
	writer := m.Begin(ReadCommitted)
	rid := heap.RID{PageID: 1, Slot: 0}
	m.RecordChange(writer, Change{Type: ChangeUpdate, Table: "t", RID: rid, OldPayload: []byte("old"), NewPayload: []byte("new")})

	payload, visible := m.VisibleVersion(writer.ID, ReadCommitted, "t", rid, []byte("new"))
	if !visible || string(payload) != "new" {
		t.Fatalf("VisibleVersion(self) = (%q, %v), want (\"new\", true)", payload, visible)
	}
}

func TestVisibleVersionReadUncommittedSeesDirtyWrite(t *testing.T) {
	m := New()
	writer := m.Begin(ReadCommitted)
	reader := m.Begin(ReadUncommitted)
	rid := heap.RID{PageID: 1, Slot: 0}
	m.RecordChange(writer, Change{Type: ChangeUpdate, Table: "t", RID: rid, OldPayload: []byte("old"), NewPayload: []byte("new")})

	payload, visible := m.VisibleVersion(reader.ID, ReadUncommitted, "t", rid, []byte("new"))
	if !visible || string(payload) != "new" {
		t.Fatalf("VisibleVersion(read uncommitted) = (%q, %v), want (\"new\", true)", payload, visible)
	}
}

func TestVisibleVersionReadCommittedHidesDirtyWrite(t *testing.T) {
	m := New()
	writer := m.Begin(ReadCommitted)
	reader := m.Begin(ReadCommitted)
	rid := heap.RID{PageID: 1, Slot: 0}
	m.RecordChange(writer, Change{Type: ChangeUpdate, Table: "t", RID: rid, OldPayload: []byte("old"), NewPayload: []byte("new")})

	payload, visible := m.VisibleVersion(reader.ID, ReadCommitted, "t", rid, []byte("new"))
	if !visible || string(payload) != "old" {
		t.Fatalf("VisibleVersion(read committed) = (%q, %v), want (\"old\", true) - dirty write must be hidden", payload, visible)
	}
}

func TestVisibleVersionReadCommittedHidesUncommittedInsert(t *testing.T) {
	m := New()
	writer := m.Begin(ReadCommitted)
	reader := m.Begin(ReadCommitted)
	rid := heap.RID{PageID: 1, Slot: 0}
	m.RecordChange(writer, Change{Type: ChangeInsert, Table: "t", RID: rid, NewPayload: []byte("new")})

	_, visible := m.VisibleVersion(reader.ID, ReadCommitted, "t", rid, []byte("new"))
	if visible {
		t.Fatalf("VisibleVersion(read committed) saw an uncommitted INSERT, want invisible")
	}
}

func TestLockTableConflictUnderSerializable(t *testing.T) {
	m := New()
	a := m.Begin(Serializable)
	b := m.Begin(Serializable)

	if err := m.AcquireTableLock(a, "t", LockExclusive); err != nil {
		t.Fatalf("first AcquireTableLock() failed: %v", err)
	}
	err := m.AcquireTableLock(b, "t", LockShared)
	if err == nil {
		t.Fatalf("conflicting AcquireTableLock() succeeded, want LockConflict")
	}
	if !dberrors.Is(err, dberrors.KindLockConflict) {
		t.Fatalf("err = %v, want KindLockConflict", err)
	}

	if err := m.Commit(a); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	if err := m.AcquireTableLock(b, "t", LockShared); err != nil {
		t.Fatalf("AcquireTableLock() after releasing lock failed: %v", err)
	}
}

func TestLockTableSharedLocksCoexist(t *testing.T) {
	m := New()
	a := m.Begin(Serializable)
	b := m.Begin(Serializable)

	if err := m.AcquireTableLock(a, "t", LockShared); err != nil {
		t.Fatalf("first AcquireTableLock() failed: %v", err)
	}
	if err := m.AcquireTableLock(b, "t", LockShared); err != nil {
		t.Fatalf("second shared AcquireTableLock() failed: %v", err)
	}
}
