package table

import (
	"path/filepath"
	"testing"

	"github.com/minisql/minisql/internal/catalog"
	"github.com/minisql/minisql/internal/dberrors"
	"github.com/minisql/minisql/internal/index"
	"github.com/minisql/minisql/internal/storage/buffer"
	"github.com/minisql/minisql/internal/storage/heap"
	"github.com/minisql/minisql/internal/storage/pager"
	"github.com/minisql/minisql/internal/txn"
	"github.com/minisql/minisql/internal/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table.db")
	pg, err := pager.Open(path)
	if err != nil {
		t.Fatalf("pager.Open() failed: %v", err)
	}
	t.Cleanup(func() { pg.Close() })
	pool := buffer.New(pg, 64)

	guard, err := pool.AllocateNew()
	if err != nil {
		t.Fatalf("AllocateNew() failed: %v", err)
	}
	pageID := guard.Page().ID
	guard.UnpinDirty()

	cat, err := catalog.Open(pool, pageID)
	if err != nil {
		t.Fatalf("catalog.Open() failed: %v", err)
	}
	hm := heap.New(pool)
	idx := index.New(pool, cat, hm)
	return New(cat, hm, idx)
}

func testSchema(name string) *types.Schema {
	return types.NewSchema(name, []types.Column{
		{Name: "id", Kind: types.KindInt, PrimaryKey: true},
		{Name: "label", Kind: types.KindVarchar, Len: 32, Unique: true},
	}, nil, nil)
}

func TestInsertScanDelete(t *testing.T) {
	m := newTestManager(t)
	schema := testSchema("t")
	if err := m.CreateTable(schema); err != nil {
		t.Fatalf("CreateTable() failed: %v", err)
	}

	rids := make([]heap.RID, 0, 3)
	for i, label := range []string{"A", "B", "C"} {
		rec := types.NewRecord(types.NewInt(int64(i+1)), types.NewVarchar(label, 32))
		rid, err := m.Insert("t", rec, txn.ReadContext{})
		if err != nil {
			t.Fatalf("Insert(%d) failed: %v", i, err)
		}
		rids = append(rids, rid)
	}

	rows, err := m.Scan("t", nil)
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Scan() returned %d rows, want 3", len(rows))
	}

	if err := m.Delete("t", rids[1]); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	count, err := m.Count("t")
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("Count() = %d, want 2", count)
	}
}

func TestPrimaryKeyUniqueness(t *testing.T) {
	m := newTestManager(t)
	schema := testSchema("t")
	if err := m.CreateTable(schema); err != nil {
		t.Fatalf("CreateTable() failed: %v", err)
	}
	if _, err := m.Insert("t", types.NewRecord(types.NewInt(1), types.NewVarchar("A", 32)), txn.ReadContext{}); err != nil {
		t.Fatalf("first Insert() failed: %v", err)
	}
	_, err := m.Insert("t", types.NewRecord(types.NewInt(1), types.NewVarchar("B", 32)), txn.ReadContext{})
	if err == nil {
		t.Fatalf("duplicate primary key insert succeeded, want error")
	}
	if !dberrors.Is(err, dberrors.KindPrimaryKeyViolation) {
		t.Fatalf("err = %v, want KindPrimaryKeyViolation", err)
	}
}

func TestUniqueColumnEnforcement(t *testing.T) {
	m := newTestManager(t)
	schema := testSchema("t")
	if err := m.CreateTable(schema); err != nil {
		t.Fatalf("CreateTable() failed: %v", err)
	}
	if _, err := m.Insert("t", types.NewRecord(types.NewInt(1), types.NewVarchar("dup", 32)), txn.ReadContext{}); err != nil {
		t.Fatalf("first Insert() failed: %v", err)
	}
	_, err := m.Insert("t", types.NewRecord(types.NewInt(2), types.NewVarchar("dup", 32)), txn.ReadContext{})
	if err == nil {
		t.Fatalf("duplicate UNIQUE column insert succeeded, want error")
	}
	if !dberrors.Is(err, dberrors.KindUniqueViolation) {
		t.Fatalf("err = %v, want KindUniqueViolation", err)
	}
}

func TestUpdateInPlaceAndUndo(t *testing.T) {
	m := newTestManager(t)
	schema := testSchema("t")
	if err := m.CreateTable(schema); err != nil {
		t.Fatalf("CreateTable() failed: %v", err)
	}
	old := types.NewRecord(types.NewInt(1), types.NewVarchar("A", 32))
	rid, err := m.Insert("t", old, txn.ReadContext{})
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	updated := types.NewRecord(types.NewInt(1), types.NewVarchar("Z", 32))
	if err := m.Update("t", rid, old, updated); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	rows, err := m.Scan("t", nil)
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Record.Values[1].Str != "Z" {
		t.Fatalf("after update, rows = %v, want label Z", rows)
	}

	if err := m.UndoUpdate(rid, old.Encode()); err != nil {
		t.Fatalf("UndoUpdate() failed: %v", err)
	}
	rows, err = m.Scan("t", nil)
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Record.Values[1].Str != "A" {
		t.Fatalf("after undo, rows = %v, want label A", rows)
	}
}

func TestUndoInsertAndUndoDelete(t *testing.T) {
	m := newTestManager(t)
	schema := testSchema("t")
	if err := m.CreateTable(schema); err != nil {
		t.Fatalf("CreateTable() failed: %v", err)
	}

	rec := types.NewRecord(types.NewInt(1), types.NewVarchar("A", 32))
	rid, err := m.Insert("t", rec, txn.ReadContext{})
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if err := m.UndoInsert(rid); err != nil {
		t.Fatalf("UndoInsert() failed: %v", err)
	}
	rows, err := m.Scan("t", nil)
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("after UndoInsert, rows = %v, want none", rows)
	}

	rec2 := types.NewRecord(types.NewInt(2), types.NewVarchar("B", 32))
	rid2, err := m.Insert("t", rec2, txn.ReadContext{})
	if err != nil {
		t.Fatalf("second Insert() failed: %v", err)
	}
	if err := m.Delete("t", rid2); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := m.UndoDelete(rid2, rec2.Encode()); err != nil {
		t.Fatalf("UndoDelete() failed: %v", err)
	}
	rows, err = m.Scan("t", nil)
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Record.Values[0].Int != 2 {
		t.Fatalf("after UndoDelete, rows = %v, want row id=2", rows)
	}
}

func TestUndoInsertAllowsKeyReuse(t *testing.T) {
	m := newTestManager(t)
	schema := testSchema("t")
	if err := m.CreateTable(schema); err != nil {
		t.Fatalf("CreateTable() failed: %v", err)
	}

	rec := types.NewRecord(types.NewInt(10), types.NewVarchar("X", 32))
	rid, err := m.Insert("t", rec, txn.ReadContext{})
	if err != nil {
		t.Fatalf("first Insert() failed: %v", err)
	}
	if err := m.UndoInsert(rid); err != nil {
		t.Fatalf("UndoInsert() failed: %v", err)
	}

	if _, err := m.Insert("t", rec, txn.ReadContext{}); err != nil {
		t.Fatalf("reinserting key 10 after rollback failed: %v", err)
	}
}
