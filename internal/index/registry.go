// Package index maintains the B+ tree backing every index declared
// against a table: explicit CREATE INDEX entries and the indexes
// synthesized for PRIMARY KEY / UNIQUE columns.
package index

import (
	"fmt"
	"sync"

	"github.com/minisql/minisql/internal/catalog"
	"github.com/minisql/minisql/internal/dberrors"
	"github.com/minisql/minisql/internal/storage/btree"
	"github.com/minisql/minisql/internal/storage/buffer"
	"github.com/minisql/minisql/internal/storage/heap"
	"github.com/minisql/minisql/internal/storage/page"
	"github.com/minisql/minisql/internal/txn"
	"github.com/minisql/minisql/internal/types"
)

// Registry opens and keeps live *btree.Tree handles for every index
// registered in the catalog, so a table write touches each affected
// tree without reopening it from its root page every time.
type Registry struct {
	mu      sync.Mutex
	pool    *buffer.Pool
	catalog *catalog.Catalog
	heap    *heap.Manager
	trees   map[string]*btree.Tree
}

// New creates an empty registry over cat, opening trees lazily as
// they are first used. hm is consulted by checkUnique to verify a
// found index entry still points at a live heap row (see
// checkUnique's doc comment).
func New(pool *buffer.Pool, cat *catalog.Catalog, hm *heap.Manager) *Registry {
	return &Registry{pool: pool, catalog: cat, heap: hm, trees: make(map[string]*btree.Tree)}
}

func (r *Registry) tree(meta catalog.IndexMeta) (*btree.Tree, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trees[meta.Name]; ok {
		return t, nil
	}
	t, err := btree.New(r.pool, btree.DefaultOrder, meta.RootPageID, meta.Unique)
	if err != nil {
		return nil, err
	}
	if meta.RootPageID == page.None {
		meta.RootPageID = t.RootPageID()
		if err := r.catalog.RegisterIndex(meta); err != nil {
			return nil, err
		}
	}
	r.trees[meta.Name] = t
	return t, nil
}

// CreateIndex opens a fresh B+ tree for an explicit CREATE INDEX
// statement, records its root page in the catalog, and bulk-builds the
// tree from the table's existing rows.
func (r *Registry) CreateIndex(name, table string, columns []string, unique bool) error {
	if _, exists := r.catalog.Index(name); exists {
		return dberrors.New(dberrors.KindTableExists, "index %q already exists", name)
	}
	schema, ok := r.catalog.TableSchema(table)
	if !ok {
		return dberrors.New(dberrors.KindTableNotFound, "table %q does not exist", table)
	}
	for _, col := range columns {
		if schema.ColumnIndex(col) < 0 {
			return dberrors.New(dberrors.KindColumnNotFound, "column %q not found on table %q", col, table)
		}
	}

	meta := catalog.IndexMeta{Name: name, Table: table, Columns: columns, Unique: unique, RootPageID: page.None}
	t, err := r.tree(meta)
	if err != nil {
		return err
	}

	pages, err := r.catalog.TablePages(table)
	if err != nil {
		return err
	}
	for _, pid := range pages {
		rids, payloads, err := r.heap.Scan(pid, nil)
		if err != nil {
			return err
		}
		for i, rid := range rids {
			rec, err := types.DecodeRecord(payloads[i], len(schema.Columns))
			if err != nil {
				continue
			}
			key, err := keyFor(schema, rec, columns)
			if err != nil || key.IsNull() {
				continue
			}
			if err := r.insertAndPersistRoot(meta, t, key, rid); err != nil {
				return err
			}
		}
	}
	return nil
}

// DropIndex discards the registry's handle and removes the catalog
// entry. The backing pages are abandoned, matching the rest of the
// engine's no-free-list approach.
func (r *Registry) DropIndex(name string) error {
	r.mu.Lock()
	delete(r.trees, name)
	r.mu.Unlock()
	return r.catalog.DropIndex(name)
}

// UniqueIndexesForTable returns every index over table that enforces
// uniqueness - explicit UNIQUE indexes plus the PK/UNIQUE-column
// indexes synthesized at CreateTable time.
func (r *Registry) UniqueIndexesForTable(table string) []catalog.IndexMeta {
	var out []catalog.IndexMeta
	for _, im := range r.catalog.IndexesForTable(table) {
		if im.Unique {
			out = append(out, im)
		}
	}
	return out
}

// keyFor builds the composite index key for a record, given the
// column positions the index covers. Multi-column indexes concatenate
// each column's tagged encoding into one opaque VARCHAR key so the
// B+ tree never needs composite-key awareness.
func keyFor(schema *types.Schema, rec types.Record, columns []string) (types.Value, error) {
	if len(columns) == 1 {
		i := schema.ColumnIndex(columns[0])
		if i < 0 {
			return types.Value{}, fmt.Errorf("index: column %q not found in table %q", columns[0], schema.TableName)
		}
		return rec.Get(i)
	}
	var buf []byte
	for _, col := range columns {
		i := schema.ColumnIndex(col)
		if i < 0 {
			return types.Value{}, fmt.Errorf("index: column %q not found in table %q", col, schema.TableName)
		}
		v, err := rec.Get(i)
		if err != nil {
			return types.Value{}, err
		}
		buf = v.Encode(buf)
	}
	return types.NewVarchar(string(buf), len(buf)), nil
}

// insertAndPersistRoot performs one tree insert and, if the insert
// split the root, writes the new root page id back to the catalog.
// The cached tree handle masks a root change within one process, but
// a reopened engine rematerializes every tree from the persisted
// IndexMeta, so a stale RootPageID would root the tree at a non-root
// node holding only part of the keyspace.
func (r *Registry) insertAndPersistRoot(im catalog.IndexMeta, t *btree.Tree, key types.Value, rid heap.RID) error {
	before := t.RootPageID()
	if err := t.Insert(key, rid); err != nil {
		return err
	}
	if root := t.RootPageID(); root != before {
		return r.catalog.UpdateIndexRoot(im.Name, root)
	}
	return nil
}

// CheckUnique probes every unique index on table against rec without
// inserting anything, so a collision is reported before any page is
// physically written; a bare tree.Insert failure would only be
// detected after the row already existed on disk. rc supplies the probing
// reader's transaction identity so a found key belonging to another
// still-open transaction's not-yet-visible write is not reported as a
// collision; pass txn.ReadContext{} to disable that filtering.
func (r *Registry) CheckUnique(schema *types.Schema, table string, rec types.Record, rc txn.ReadContext) error {
	return r.checkUnique(schema, table, rec, nil, rc)
}

// CheckUniqueExcluding is CheckUnique for an UPDATE: a key that already
// exists in the index is only a collision when it belongs to a row
// other than exclude (the row being updated), since the row's own
// unchanged key must not be reported as a duplicate of itself.
func (r *Registry) CheckUniqueExcluding(schema *types.Schema, table string, rec types.Record, exclude heap.RID, rc txn.ReadContext) error {
	return r.checkUnique(schema, table, rec, &exclude, rc)
}

// checkUnique probes for key collisions, filtering out three kinds of
// hit that are not real conflicts: a stale entry left pointing at a
// heap slot that a rolled-back INSERT (table.Manager.UndoInsert) has
// since tombstoned - detected by the live check against r.heap.Get;
// an entry whose row has since been re-keyed by an UPDATE
// (UpdateIndexForRecord cannot remove the old key), detected by
// decoding the live payload and confirming it still holds the probe
// key; and, when rc names a reader, an entry belonging to a row that
// reader's isolation level should not see yet, detected via
// rc.Manager.VisibleVersion the same way internal/executor's
// visibleRows masks ordinary reads.
func (r *Registry) checkUnique(schema *types.Schema, table string, rec types.Record, exclude *heap.RID, rc txn.ReadContext) error {
	for _, im := range r.catalog.IndexesForTable(table) {
		if !im.Unique {
			continue
		}
		key, err := keyFor(schema, rec, im.Columns)
		if err != nil {
			return err
		}
		if key.IsNull() {
			continue
		}
		t, err := r.tree(im)
		if err != nil {
			return err
		}
		rid, found, err := t.Search(key)
		if err != nil {
			return err
		}
		if !found || (exclude != nil && rid == *exclude) {
			continue
		}
		stale, payload, err := r.entryIsStale(schema, im.Columns, key, rid)
		if err != nil {
			return err
		}
		if stale {
			continue
		}
		if rc.Manager != nil {
			if _, visible := rc.Manager.VisibleVersion(rc.TxnID, rc.Isolation, table, rid, payload); !visible {
				continue
			}
		}
		if schemaIsPrimaryKey(schema, im.Columns) {
			return dberrors.New(dberrors.KindPrimaryKeyViolation, "duplicate primary key on table %q", table)
		}
		return dberrors.New(dberrors.KindUniqueViolation, "duplicate value for unique index %q on table %q", im.Name, table)
	}
	return nil
}

// entryIsStale reports whether an index entry no longer describes a
// live row holding key: the slot was tombstoned, or an UPDATE re-keyed
// the row and the old key's entry (which the tree cannot delete) is
// left behind. Returns the slot's payload alongside, for callers that
// go on to apply visibility filtering.
func (r *Registry) entryIsStale(schema *types.Schema, columns []string, key types.Value, rid heap.RID) (bool, []byte, error) {
	payload, live, err := r.heap.Get(rid)
	if err != nil {
		return false, nil, err
	}
	if !live {
		return true, nil, nil
	}
	rec, err := types.DecodeRecord(payload, len(schema.Columns))
	if err != nil {
		return true, nil, nil
	}
	k, err := keyFor(schema, rec, columns)
	if err != nil {
		return true, nil, nil
	}
	return !k.Equal(key), payload, nil
}

// putIndexEntry writes (key, rid) into one index tree. On a unique
// tree, a key whose existing entry has gone stale is re-pointed in
// place; a key still held by a live row is a genuine duplicate.
func (r *Registry) putIndexEntry(schema *types.Schema, im catalog.IndexMeta, t *btree.Tree, key types.Value, rid heap.RID) error {
	if im.Unique {
		existing, found, err := t.Search(key)
		if err != nil {
			return err
		}
		if found {
			if existing == rid {
				return nil
			}
			stale, _, err := r.entryIsStale(schema, im.Columns, key, existing)
			if err != nil {
				return err
			}
			if !stale {
				return dberrors.New(dberrors.KindUniqueViolation, "duplicate key in unique index %q", im.Name)
			}
			_, err = t.Replace(key, rid)
			return err
		}
	}
	return r.insertAndPersistRoot(im, t, key, rid)
}

// InsertIntoIndexes inserts rid under rec's key into every index
// registered for table, once per index.
func (r *Registry) InsertIntoIndexes(schema *types.Schema, table string, rec types.Record, rid heap.RID) error {
	for _, im := range r.catalog.IndexesForTable(table) {
		key, err := keyFor(schema, rec, im.Columns)
		if err != nil {
			return err
		}
		t, err := r.tree(im)
		if err != nil {
			return err
		}
		if err := r.putIndexEntry(schema, im, t, key, rid); err != nil {
			if dberrors.Is(err, dberrors.KindUniqueViolation) {
				if schemaIsPrimaryKey(schema, im.Columns) {
					return dberrors.New(dberrors.KindPrimaryKeyViolation, "duplicate primary key on table %q", table)
				}
				return dberrors.New(dberrors.KindUniqueViolation, "duplicate value for unique index %q on table %q", im.Name, table)
			}
			return err
		}
	}
	return nil
}

func schemaIsPrimaryKey(schema *types.Schema, columns []string) bool {
	pk := schema.PrimaryKeyColumns()
	if len(pk) != len(columns) {
		return false
	}
	for i, c := range columns {
		if pk[i] != c {
			return false
		}
	}
	return true
}

// UpdateIndexForRecord re-keys every index entry for rid after an
// update changes old to new.
func (r *Registry) UpdateIndexForRecord(schema *types.Schema, table string, old, updated types.Record, rid heap.RID) error {
	for _, im := range r.catalog.IndexesForTable(table) {
		oldKey, err := keyFor(schema, old, im.Columns)
		if err != nil {
			return err
		}
		newKey, err := keyFor(schema, updated, im.Columns)
		if err != nil {
			return err
		}
		if oldKey.Equal(newKey) {
			continue
		}
		t, err := r.tree(im)
		if err != nil {
			return err
		}
		if err := r.putIndexEntry(schema, im, t, newKey, rid); err != nil {
			return err
		}
		// btree.Tree exposes no Delete, so the old key's entry is
		// never reclaimed; checkUnique and putIndexEntry filter it
		// out by decoding the live payload and confirming the row
		// still holds that key.
	}
	return nil
}

// DeleteFromIndexes is intentionally a no-op: entries simply go stale
// once their RID is deleted from the heap, and checkUnique and
// putIndexEntry filter stale hits by re-checking the live record.
func (r *Registry) DeleteFromIndexes(table string, rec types.Record, rid heap.RID) error {
	return nil
}

// Lookup performs a point lookup on a named index.
func (r *Registry) Lookup(indexName string, key types.Value) (heap.RID, bool, error) {
	im, ok := r.catalog.Index(indexName)
	if !ok {
		return heap.RID{}, false, dberrors.New(dberrors.KindTableNotFound, "index %q does not exist", indexName)
	}
	t, err := r.tree(im)
	if err != nil {
		return heap.RID{}, false, err
	}
	return t.Search(key)
}

// Dump returns every key/RID pair currently stored in a named index,
// the data source for the shell's \dtree meta-command.
func (r *Registry) Dump(indexName string) ([]btree.Pair, error) {
	im, ok := r.catalog.Index(indexName)
	if !ok {
		return nil, dberrors.New(dberrors.KindTableNotFound, "index %q does not exist", indexName)
	}
	t, err := r.tree(im)
	if err != nil {
		return nil, err
	}
	return t.AllPairs()
}

// RangeLookup performs a range scan on a named index.
func (r *Registry) RangeLookup(indexName string, start, end types.Value) ([]btree.Pair, error) {
	im, ok := r.catalog.Index(indexName)
	if !ok {
		return nil, dberrors.New(dberrors.KindTableNotFound, "index %q does not exist", indexName)
	}
	t, err := r.tree(im)
	if err != nil {
		return nil, err
	}
	return t.RangeSearch(start, end)
}
