// Package btree implements a disk-resident B+ tree index over the
// buffer pool. Node links use page IDs (parent_id, child page IDs,
// next_leaf_id) rather than in-memory pointers, since a node's parent
// may not be resident.
package btree

import (
	"github.com/minisql/minisql/internal/dberrors"
	"github.com/minisql/minisql/internal/storage/buffer"
	"github.com/minisql/minisql/internal/storage/heap"
	"github.com/minisql/minisql/internal/storage/page"
	"github.com/minisql/minisql/internal/types"
)

// DefaultOrder is the maximum key count per node; a node splits when
// it exceeds DefaultOrder-1 keys.
const DefaultOrder = 50

// Node header layout. page.None (0) is the no-parent sentinel; page
// ID 0 is never a real node, since the pager reserves it:
//
//	offset 0:  is_leaf (i32, 1/0)
//	offset 4:  parent_id (page.ID, 0 = none)
//	offset 8:  key_count (i32)
//	leaf:      offset 12: next_leaf_id (page.ID, 0 = none)
//	           offset 16: repeated key/value entries
//	internal:  offset 12: repeated key entries, then key_count+1 child page IDs
const (
	hdrIsLeaf   = 0
	hdrParentID = 4
	hdrKeyCount = 8
	leafHdrNext = 12
	leafEntries = 16
	intHdrKeys  = 12
)

// Pair is one key/RID entry, returned by RangeSearch.
type Pair struct {
	Key types.Value
	RID heap.RID
}

// node is the in-memory view of one tree page, valid only for the
// duration of the operation that loaded it.
type node struct {
	id       page.ID
	isLeaf   bool
	parentID page.ID
	keys     []types.Value

	// leaf-only
	values   []heap.RID
	nextLeaf page.ID

	// internal-only
	children []page.ID
}

// Tree is a B+ tree index over a single column's values. Its root page
// changes when the root splits; RootPageID reports the current one.
type Tree struct {
	pool     *buffer.Pool
	order    int
	rootID   page.ID
	isUnique bool
}

// New opens a tree rooted at rootID, or creates a fresh empty root if
// rootID is page.None.
func New(pool *buffer.Pool, order int, rootID page.ID, isUnique bool) (*Tree, error) {
	if order < 3 {
		order = DefaultOrder
	}
	t := &Tree{pool: pool, order: order, isUnique: isUnique}
	if rootID == page.None {
		id, err := t.createRoot()
		if err != nil {
			return nil, err
		}
		t.rootID = id
	} else {
		t.rootID = rootID
	}
	return t, nil
}

// RootPageID returns the tree's current root page, which the index
// registry persists in the catalog as the index's entry point.
func (t *Tree) RootPageID() page.ID {
	return t.rootID
}

func (t *Tree) createRoot() (page.ID, error) {
	guard, err := t.pool.AllocateNew()
	if err != nil {
		return page.None, err
	}
	n := &node{id: guard.Page().ID, isLeaf: true, parentID: page.None, nextLeaf: page.None}
	writeNode(guard.Page(), n)
	guard.UnpinDirty()
	return n.id, nil
}

func (t *Tree) loadNode(id page.ID) (*node, error) {
	guard, err := t.pool.Fetch(id)
	if err != nil {
		return nil, err
	}
	defer guard.Unpin()
	return readNode(id, guard.Page())
}

func (t *Tree) saveNode(n *node) error {
	guard, err := t.pool.Fetch(n.id)
	if err != nil {
		return err
	}
	defer guard.UnpinDirty()
	writeNode(guard.Page(), n)
	return nil
}

func readNode(id page.ID, pg *page.Page) (*node, error) {
	isLeaf := pg.ReadInt32(hdrIsLeaf) == 1
	parentID := page.ID(pg.ReadUint32(hdrParentID))
	keyCount := int(pg.ReadInt32(hdrKeyCount))
	if keyCount < 0 {
		return nil, dberrors.Wrap(dberrors.KindCorruptPage, dberrors.ErrCorruptPage, "btree: node %d has negative key count", id)
	}

	n := &node{id: id, isLeaf: isLeaf, parentID: parentID}

	if isLeaf {
		n.nextLeaf = page.ID(pg.ReadUint32(leafHdrNext))
		offset := leafEntries
		for i := 0; i < keyCount; i++ {
			key, consumed, err := decodeKey(pg, offset, id)
			if err != nil {
				return nil, err
			}
			offset += consumed
			rid, consumed := decodeRID(pg, offset)
			offset += consumed
			n.keys = append(n.keys, key)
			n.values = append(n.values, rid)
		}
		return n, nil
	}

	offset := intHdrKeys
	for i := 0; i < keyCount; i++ {
		key, consumed, err := decodeKey(pg, offset, id)
		if err != nil {
			return nil, err
		}
		offset += consumed
		n.keys = append(n.keys, key)
	}
	for i := 0; i < keyCount+1; i++ {
		n.children = append(n.children, page.ID(pg.ReadUint32(offset)))
		offset += 4
	}
	return n, nil
}

func writeNode(pg *page.Page, n *node) {
	if n.isLeaf {
		pg.WriteInt32(hdrIsLeaf, 1)
	} else {
		pg.WriteInt32(hdrIsLeaf, 0)
	}
	pg.WriteUint32(hdrParentID, uint32(n.parentID))
	pg.WriteInt32(hdrKeyCount, int32(len(n.keys)))

	if n.isLeaf {
		pg.WriteUint32(leafHdrNext, uint32(n.nextLeaf))
		offset := leafEntries
		for i, key := range n.keys {
			offset += encodeKey(pg, offset, key)
			offset += encodeRID(pg, offset, n.values[i])
		}
		return
	}

	offset := intHdrKeys
	for _, key := range n.keys {
		offset += encodeKey(pg, offset, key)
	}
	for _, child := range n.children {
		pg.WriteUint32(offset, uint32(child))
		offset += 4
	}
}

func encodeKey(pg *page.Page, offset int, key types.Value) int {
	data := key.Encode(nil)
	pg.WriteInt32(offset, int32(len(data)))
	pg.WriteBytes(offset+4, data)
	return 4 + len(data)
}

func decodeKey(pg *page.Page, offset int, id page.ID) (types.Value, int, error) {
	size := int(pg.ReadInt32(offset))
	if size < 0 {
		return types.Value{}, 0, dberrors.Wrap(dberrors.KindCorruptPage, dberrors.ErrCorruptPage, "btree: node %d has negative key size", id)
	}
	data := pg.ReadBytes(offset+4, size)
	key, _, err := types.Decode(data)
	if err != nil {
		return types.Value{}, 0, dberrors.Wrap(dberrors.KindCorruptPage, err, "btree: node %d key decode failed", id)
	}
	return key, 4 + size, nil
}

func encodeRID(pg *page.Page, offset int, rid heap.RID) int {
	pg.WriteInt32(offset, 8)
	pg.WriteUint32(offset+4, uint32(rid.PageID))
	pg.WriteInt32(offset+8, int32(rid.Slot))
	return 4 + 8
}

func decodeRID(pg *page.Page, offset int) (heap.RID, int) {
	size := int(pg.ReadInt32(offset))
	rid := heap.RID{
		PageID: page.ID(pg.ReadUint32(offset + 4)),
		Slot:   int(pg.ReadInt32(offset + 8)),
	}
	return rid, 4 + size
}

// Search returns the RID stored under key, if any.
func (t *Tree) Search(key types.Value) (heap.RID, bool, error) {
	leaf, err := t.findLeaf(key)
	if err != nil {
		return heap.RID{}, false, err
	}
	for i, k := range leaf.keys {
		if k.Equal(key) {
			return leaf.values[i], true, nil
		}
	}
	return heap.RID{}, false, nil
}

// Replace overwrites the RID stored under an existing key, reporting
// whether the key was found. The key count never changes, so no split
// can occur; on a unique tree this is the only way to re-point a key
// whose previous row is gone.
func (t *Tree) Replace(key types.Value, rid heap.RID) (bool, error) {
	leaf, err := t.findLeaf(key)
	if err != nil {
		return false, err
	}
	for i, k := range leaf.keys {
		if k.Equal(key) {
			leaf.values[i] = rid
			return true, t.saveNode(leaf)
		}
	}
	return false, nil
}

// RangeSearch returns every key/RID pair with start <= key <= end, in
// ascending key order, following leaf next-pointers.
func (t *Tree) RangeSearch(start, end types.Value) ([]Pair, error) {
	var out []Pair
	leaf, err := t.findLeaf(start)
	if err != nil {
		return nil, err
	}
	for {
		for i, k := range leaf.keys {
			if !k.Less(start) && !end.Less(k) {
				out = append(out, Pair{Key: k, RID: leaf.values[i]})
			} else if end.Less(k) {
				return out, nil
			}
		}
		if leaf.nextLeaf == page.None {
			return out, nil
		}
		leaf, err = t.loadNode(leaf.nextLeaf)
		if err != nil {
			return nil, err
		}
	}
}

// AllPairs walks every leaf via next-leaf pointers from the leftmost
// leaf and returns every key/RID pair in ascending order, the data
// source for the shell's \dtree introspection command.
func (t *Tree) AllPairs() ([]Pair, error) {
	leaf, err := t.leftmostLeaf()
	if err != nil {
		return nil, err
	}
	var out []Pair
	for {
		for i, k := range leaf.keys {
			out = append(out, Pair{Key: k, RID: leaf.values[i]})
		}
		if leaf.nextLeaf == page.None {
			return out, nil
		}
		leaf, err = t.loadNode(leaf.nextLeaf)
		if err != nil {
			return nil, err
		}
	}
}

func (t *Tree) leftmostLeaf() (*node, error) {
	current, err := t.loadNode(t.rootID)
	if err != nil {
		return nil, err
	}
	for !current.isLeaf {
		current, err = t.loadNode(current.children[0])
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

func (t *Tree) findLeaf(key types.Value) (*node, error) {
	current, err := t.loadNode(t.rootID)
	if err != nil {
		return nil, err
	}
	for !current.isLeaf {
		idx := findChildIndex(current, key)
		current, err = t.loadNode(current.children[idx])
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

func findChildIndex(n *node, key types.Value) int {
	for i, k := range n.keys {
		if key.Less(k) {
			return i
		}
	}
	return len(n.keys)
}

// Insert adds key/rid to the tree. For a unique tree, inserting an
// existing key returns a KindUniqueViolation error instead of
// overwriting it.
func (t *Tree) Insert(key types.Value, rid heap.RID) error {
	if t.isUnique {
		_, found, err := t.Search(key)
		if err != nil {
			return err
		}
		if found {
			return dberrors.New(dberrors.KindUniqueViolation, "key %s already exists", key.String())
		}
	}

	leaf, err := t.findLeaf(key)
	if err != nil {
		return err
	}

	full, err := t.insertIntoLeaf(leaf, key, rid)
	if err != nil {
		return err
	}
	if !full {
		return nil
	}
	return t.splitLeaf(leaf)
}

// insertIntoLeaf inserts key/rid in sorted order, updating the value
// in place for a duplicate key on a non-unique tree. Returns true if
// the leaf now exceeds order-1 keys and needs to split.
func (t *Tree) insertIntoLeaf(leaf *node, key types.Value, rid heap.RID) (needsSplit bool, err error) {
	pos := len(leaf.keys)
	for i, k := range leaf.keys {
		if k.Equal(key) {
			if t.isUnique {
				return false, dberrors.New(dberrors.KindUniqueViolation, "key %s already exists", key.String())
			}
			leaf.values[i] = rid
			return false, t.saveNode(leaf)
		}
		if key.Less(k) {
			pos = i
			break
		}
	}

	leaf.keys = append(leaf.keys, types.Value{})
	copy(leaf.keys[pos+1:], leaf.keys[pos:])
	leaf.keys[pos] = key

	leaf.values = append(leaf.values, heap.RID{})
	copy(leaf.values[pos+1:], leaf.values[pos:])
	leaf.values[pos] = rid

	if len(leaf.keys) <= t.order-1 {
		return false, t.saveNode(leaf)
	}
	return true, nil
}

func (t *Tree) splitLeaf(leaf *node) error {
	guard, err := t.pool.AllocateNew()
	if err != nil {
		return err
	}
	newLeaf := &node{id: guard.Page().ID, isLeaf: true, parentID: leaf.parentID}
	guard.UnpinDirty()

	mid := len(leaf.keys) / 2
	newLeaf.keys = append(newLeaf.keys, leaf.keys[mid:]...)
	newLeaf.values = append(newLeaf.values, leaf.values[mid:]...)
	newLeaf.nextLeaf = leaf.nextLeaf

	leaf.keys = leaf.keys[:mid]
	leaf.values = leaf.values[:mid]
	leaf.nextLeaf = newLeaf.id

	if err := t.saveNode(leaf); err != nil {
		return err
	}
	if err := t.saveNode(newLeaf); err != nil {
		return err
	}

	return t.insertIntoParent(leaf.id, leaf.parentID, newLeaf.keys[0], newLeaf.id)
}

// insertIntoParent propagates a promoted key up to leftID's parent,
// creating a new root if leftID has none.
func (t *Tree) insertIntoParent(leftID, parentID page.ID, key types.Value, rightID page.ID) error {
	if parentID == page.None {
		return t.createNewRoot(leftID, key, rightID)
	}
	parent, err := t.loadNode(parentID)
	if err != nil {
		return err
	}
	return t.insertIntoInternal(parent, key, rightID)
}

func (t *Tree) createNewRoot(leftID page.ID, key types.Value, rightID page.ID) error {
	guard, err := t.pool.AllocateNew()
	if err != nil {
		return err
	}
	newRoot := &node{
		id:       guard.Page().ID,
		isLeaf:   false,
		parentID: page.None,
		keys:     []types.Value{key},
		children: []page.ID{leftID, rightID},
	}
	writeNode(guard.Page(), newRoot)
	guard.UnpinDirty()

	left, err := t.loadNode(leftID)
	if err != nil {
		return err
	}
	left.parentID = newRoot.id
	if err := t.saveNode(left); err != nil {
		return err
	}
	right, err := t.loadNode(rightID)
	if err != nil {
		return err
	}
	right.parentID = newRoot.id
	if err := t.saveNode(right); err != nil {
		return err
	}

	t.rootID = newRoot.id
	return nil
}

func (t *Tree) insertIntoInternal(n *node, key types.Value, childID page.ID) error {
	pos := len(n.keys)
	for i, k := range n.keys {
		if key.Less(k) {
			pos = i
			break
		}
	}

	n.keys = append(n.keys, types.Value{})
	copy(n.keys[pos+1:], n.keys[pos:])
	n.keys[pos] = key

	n.children = append(n.children, page.None)
	copy(n.children[pos+2:], n.children[pos+1:])
	n.children[pos+1] = childID

	if len(n.keys) <= t.order-1 {
		return t.saveNode(n)
	}
	return t.splitInternal(n)
}

func (t *Tree) splitInternal(n *node) error {
	guard, err := t.pool.AllocateNew()
	if err != nil {
		return err
	}
	newInternal := &node{id: guard.Page().ID, isLeaf: false, parentID: n.parentID}
	guard.UnpinDirty()

	mid := len(n.keys) / 2
	promote := n.keys[mid]

	newInternal.keys = append(newInternal.keys, n.keys[mid+1:]...)
	newInternal.children = append(newInternal.children, n.children[mid+1:]...)

	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]

	for _, childID := range n.children {
		child, err := t.loadNode(childID)
		if err != nil {
			return err
		}
		child.parentID = n.id
		if err := t.saveNode(child); err != nil {
			return err
		}
	}
	for _, childID := range newInternal.children {
		child, err := t.loadNode(childID)
		if err != nil {
			return err
		}
		child.parentID = newInternal.id
		if err := t.saveNode(child); err != nil {
			return err
		}
	}

	if err := t.saveNode(n); err != nil {
		return err
	}
	if err := t.saveNode(newInternal); err != nil {
		return err
	}

	return t.insertIntoParent(n.id, n.parentID, promote, newInternal.id)
}
