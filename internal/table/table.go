// Package table provides the row-level CRUD interface atop the heap
// record manager and index registry.
package table

import (
	"errors"

	"github.com/minisql/minisql/internal/catalog"
	"github.com/minisql/minisql/internal/dberrors"
	"github.com/minisql/minisql/internal/index"
	"github.com/minisql/minisql/internal/storage/heap"
	"github.com/minisql/minisql/internal/txn"
	"github.com/minisql/minisql/internal/types"
)

// wrapValidateErr maps a Schema.Validate failure onto its error kind:
// a NOT NULL/primary-key NULL is KindNullInNotNull, anything else
// (column-count mismatch) is KindTypeMismatch.
func wrapValidateErr(err error, tableName string) error {
	var nn *types.NotNullError
	if errors.As(err, &nn) {
		return dberrors.Wrap(dberrors.KindNullInNotNull, err, "%q", tableName)
	}
	return dberrors.Wrap(dberrors.KindTypeMismatch, err, "%q", tableName)
}

// Row pairs a decoded record with the RID it lives at, so callers
// (the executor's UPDATE/DELETE paths) can address it again.
type Row struct {
	RID    heap.RID
	Record types.Record
}

// Manager is the table-level operation surface: create/insert/scan/
// update/delete, with constraint enforcement delegated to the index
// registry and primary-key uniqueness also backstopped by a full scan
// that runs before the index check on every insert.
type Manager struct {
	catalog *catalog.Catalog
	heap    *heap.Manager
	indexes *index.Registry
}

// New creates a Manager over the given catalog, heap, and index
// registry.
func New(cat *catalog.Catalog, hm *heap.Manager, idx *index.Registry) *Manager {
	return &Manager{catalog: cat, heap: hm, indexes: idx}
}

// CreateTable registers schema in the catalog and synthesizes a
// unique index for its primary key and any UNIQUE columns, built
// eagerly rather than derived on demand since index root pages are
// catalog-resident.
func (m *Manager) CreateTable(schema *types.Schema) error {
	if err := m.catalog.CreateTable(schema); err != nil {
		return err
	}
	if pk := schema.PrimaryKeyColumns(); len(pk) > 0 {
		name := schema.TableName + "_pkey"
		if err := m.indexes.CreateIndex(name, schema.TableName, pk, true); err != nil {
			return err
		}
	}
	for _, col := range schema.UniqueColumns() {
		name := schema.TableName + "_" + col + "_key"
		if err := m.indexes.CreateIndex(name, schema.TableName, []string{col}, true); err != nil {
			return err
		}
	}
	return nil
}

// DropTable removes a table and its synthesized/explicit indexes.
func (m *Manager) DropTable(name string) error {
	for _, im := range m.catalog.IndexesForTable(name) {
		if err := m.indexes.DropIndex(im.Name); err != nil {
			return err
		}
	}
	return m.catalog.DropTable(name)
}

// Insert validates rec against schema, enforces primary-key
// uniqueness, writes it to the first heap page with room (allocating a
// new one if none has space), and updates every index over the table.
// rc identifies the inserting reader for the uniqueness checks'
// visibility filtering; pass txn.ReadContext{} outside an
// executor session (tests, tooling) to check against every index hit
// unconditionally.
func (m *Manager) Insert(tableName string, rec types.Record, rc txn.ReadContext) (heap.RID, error) {
	schema, ok := m.catalog.TableSchema(tableName)
	if !ok {
		return heap.RID{}, dberrors.New(dberrors.KindTableNotFound, "table %q does not exist", tableName)
	}
	if err := schema.Validate(rec); err != nil {
		return heap.RID{}, wrapValidateErr(err, tableName)
	}

	if err := m.checkPrimaryKeyBackstop(schema, tableName, rec, rc); err != nil {
		return heap.RID{}, err
	}
	if err := m.indexes.CheckUnique(schema, tableName, rec, rc); err != nil {
		return heap.RID{}, err
	}

	payload := rec.Encode()
	pages, err := m.catalog.TablePages(tableName)
	if err != nil {
		return heap.RID{}, err
	}

	for _, pid := range pages {
		rid, ok, err := m.heap.Insert(pid, payload)
		if err != nil {
			return heap.RID{}, err
		}
		if ok {
			if err := m.indexes.InsertIntoIndexes(schema, tableName, rec, rid); err != nil {
				return heap.RID{}, err
			}
			return rid, nil
		}
	}

	newPage, err := m.catalog.AllocatePageForTable(tableName)
	if err != nil {
		return heap.RID{}, err
	}
	if err := m.heap.InitializePage(newPage); err != nil {
		return heap.RID{}, err
	}
	rid, ok, err := m.heap.Insert(newPage, payload)
	if err != nil {
		return heap.RID{}, err
	}
	if !ok {
		return heap.RID{}, dberrors.New(dberrors.KindIoError, "insert into %q: record too large for an empty page", tableName)
	}
	if err := m.indexes.InsertIntoIndexes(schema, tableName, rec, rid); err != nil {
		return heap.RID{}, err
	}
	return rid, nil
}

// checkPrimaryKeyBackstop performs an O(N) scan for a conflicting
// primary key when the table has one. The synthesized PK index (see
// CreateTable) is the real enforcement path via InsertIntoIndexes;
// this backstop catches a PK collision before any page is touched,
// covering tables whose index has not been built yet.
// rc filters out a match belonging to a row rc's
// reader should not see yet, the same visibility rc.Manager applies in
// index.Registry.checkUnique, so this raw scan does not re-introduce
// the false-positive-on-another-transaction's-pending-row bug that
// fix closes.
func (m *Manager) checkPrimaryKeyBackstop(schema *types.Schema, tableName string, rec types.Record, rc txn.ReadContext) error {
	pk := schema.PrimaryKeyColumns()
	if len(pk) == 0 {
		return nil
	}
	rows, err := m.Scan(tableName, nil)
	if err != nil {
		return err
	}
	for _, row := range rows {
		match := true
		for _, col := range pk {
			i := schema.ColumnIndex(col)
			existing, err := row.Record.Get(i)
			if err != nil {
				return err
			}
			candidate, err := rec.Get(i)
			if err != nil {
				return err
			}
			if !existing.Equal(candidate) {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		if rc.Manager != nil {
			if _, visible := rc.Manager.VisibleVersion(rc.TxnID, rc.Isolation, tableName, row.RID, row.Record.Encode()); !visible {
				continue
			}
		}
		return dberrors.New(dberrors.KindPrimaryKeyViolation, "duplicate primary key on table %q", tableName)
	}
	return nil
}

// Scan returns every live row in tableName. onCorrupt, if non-nil, is
// invoked for any record that fails to decode instead of aborting the
// whole scan.
func (m *Manager) Scan(tableName string, onCorrupt func(rid heap.RID, err error)) ([]Row, error) {
	schema, ok := m.catalog.TableSchema(tableName)
	if !ok {
		return nil, dberrors.New(dberrors.KindTableNotFound, "table %q does not exist", tableName)
	}
	pages, err := m.catalog.TablePages(tableName)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for _, pid := range pages {
		rids, payloads, err := m.heap.Scan(pid, onCorrupt)
		if err != nil {
			return nil, err
		}
		for i, payload := range payloads {
			rec, err := types.DecodeRecord(payload, len(schema.Columns))
			if err != nil {
				if onCorrupt != nil {
					onCorrupt(rids[i], err)
				}
				continue
			}
			rows = append(rows, Row{RID: rids[i], Record: rec})
		}
	}
	return rows, nil
}

// Count returns the number of live rows in tableName.
func (m *Manager) Count(tableName string) (int, error) {
	rows, err := m.Scan(tableName, nil)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Update overwrites the row at rid with updated, re-keying every
// index that covers a changed column.
func (m *Manager) Update(tableName string, rid heap.RID, old, updated types.Record) error {
	schema, ok := m.catalog.TableSchema(tableName)
	if !ok {
		return dberrors.New(dberrors.KindTableNotFound, "table %q does not exist", tableName)
	}
	if err := schema.Validate(updated); err != nil {
		return wrapValidateErr(err, tableName)
	}
	ok2, err := m.heap.UpdateAt(rid, updated.Encode())
	if err != nil {
		return err
	}
	if !ok2 {
		return dberrors.New(dberrors.KindIoError, "update %q: record %s no longer present", tableName, rid)
	}
	return m.indexes.UpdateIndexForRecord(schema, tableName, old, updated, rid)
}

// Delete tombstones the row at rid. Callers (internal/executor)
// supply the already-matched RIDs instead of a predicate function so
// WHERE evaluation lives in one place.
func (m *Manager) Delete(tableName string, rid heap.RID) error {
	ok, err := m.heap.Delete(rid)
	if err != nil {
		return err
	}
	if !ok {
		return dberrors.New(dberrors.KindIoError, "delete %q: record %s not found", tableName, rid)
	}
	return nil
}

// UndoInsert reverses an INSERT by tombstoning rid directly, without
// touching any index: the rolled-back row's index entries are left
// pointing at a now-tombstoned slot rather than reclaimed (btree.Tree
// exposes no Delete), but index.Registry.checkUnique treats a found
// entry as a real collision only after confirming via heap.Get that
// its RID is still live, so a stale entry here does not block a later,
// legitimate reuse of the same key. Used as internal/txn's UndoFunc
// for a ChangeInsert entry.
func (m *Manager) UndoInsert(rid heap.RID) error {
	_, err := m.heap.Delete(rid)
	return err
}

// UndoDelete reverses a DELETE by restoring payload at rid. Used as
// internal/txn's UndoFunc for a ChangeDelete entry.
func (m *Manager) UndoDelete(rid heap.RID, payload []byte) error {
	ok, err := m.heap.Undelete(rid, payload)
	if err != nil {
		return err
	}
	if !ok {
		return dberrors.New(dberrors.KindIoError, "undo delete: record %s could not be restored", rid)
	}
	return nil
}

// UndoUpdate reverses an UPDATE by overwriting rid with the prior
// payload. Used as internal/txn's UndoFunc for a ChangeUpdate entry.
func (m *Manager) UndoUpdate(rid heap.RID, payload []byte) error {
	ok, err := m.heap.UpdateAt(rid, payload)
	if err != nil {
		return err
	}
	if !ok {
		return dberrors.New(dberrors.KindIoError, "undo update: record %s no longer present", rid)
	}
	return nil
}
