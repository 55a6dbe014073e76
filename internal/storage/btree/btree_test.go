package btree

import (
	"path/filepath"
	"testing"

	"github.com/minisql/minisql/internal/storage/buffer"
	"github.com/minisql/minisql/internal/storage/heap"
	"github.com/minisql/minisql/internal/storage/page"
	"github.com/minisql/minisql/internal/storage/pager"
	"github.com/minisql/minisql/internal/types"
)

func newTestTree(t *testing.T, order int, unique bool) *Tree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "btree.db")
	pg, err := pager.Open(path)
	if err != nil {
		t.Fatalf("pager.Open() failed: %v", err)
	}
	t.Cleanup(func() { pg.Close() })
	pool := buffer.New(pg, 64)
	tree, err := New(pool, order, page.None, unique)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return tree
}

func TestInsertAndSearch(t *testing.T) {
	tree := newTestTree(t, DefaultOrder, false)
	rid := heap.RID{PageID: 5, Slot: 2}
	if err := tree.Insert(types.NewInt(42), rid); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	got, found, err := tree.Search(types.NewInt(42))
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if !found || got != rid {
		t.Fatalf("Search() = (%v, %v), want (%v, true)", got, found, rid)
	}

	_, found, err = tree.Search(types.NewInt(99))
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if found {
		t.Fatalf("Search() for absent key reported found=true")
	}
}

func TestUniqueTreeRejectsDuplicateKey(t *testing.T) {
	tree := newTestTree(t, DefaultOrder, true)
	if err := tree.Insert(types.NewInt(1), heap.RID{PageID: 1, Slot: 0}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	err := tree.Insert(types.NewInt(1), heap.RID{PageID: 2, Slot: 0})
	if err == nil {
		t.Fatalf("Insert() of a duplicate key on a unique tree succeeded, want an error")
	}
}

func TestNonUniqueTreeOverwritesValueOnDuplicateKey(t *testing.T) {
	tree := newTestTree(t, DefaultOrder, false)
	if err := tree.Insert(types.NewInt(1), heap.RID{PageID: 1, Slot: 0}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if err := tree.Insert(types.NewInt(1), heap.RID{PageID: 9, Slot: 9}); err != nil {
		t.Fatalf("Insert() of duplicate key on non-unique tree failed: %v", err)
	}
	got, found, err := tree.Search(types.NewInt(1))
	if err != nil || !found {
		t.Fatalf("Search() = (%v, %v, %v), want found", got, found, err)
	}
	if got != (heap.RID{PageID: 9, Slot: 9}) {
		t.Fatalf("Search() = %v, want the most recently inserted RID", got)
	}
}

func TestRangeSearchReturnsAscendingOrder(t *testing.T) {
	tree := newTestTree(t, DefaultOrder, false)
	for _, k := range []int64{5, 1, 3, 4, 2} {
		if err := tree.Insert(types.NewInt(k), heap.RID{PageID: page.ID(k), Slot: 0}); err != nil {
			t.Fatalf("Insert(%d) failed: %v", k, err)
		}
	}

	pairs, err := tree.RangeSearch(types.NewInt(2), types.NewInt(4))
	if err != nil {
		t.Fatalf("RangeSearch() failed: %v", err)
	}
	want := []int64{2, 3, 4}
	if len(pairs) != len(want) {
		t.Fatalf("RangeSearch() returned %d pairs, want %d", len(pairs), len(want))
	}
	for i, p := range pairs {
		if p.Key.Int != want[i] {
			t.Fatalf("RangeSearch()[%d] = %d, want %d", i, p.Key.Int, want[i])
		}
	}
}

func TestInsertManyKeysForcesSplitAndStaysSearchable(t *testing.T) {
	// A small order forces a leaf split well before 100 keys, exercising
	// insertIntoParent / createNewRoot / splitInternal.
	tree := newTestTree(t, 4, false)
	const n = 100
	for i := 0; i < n; i++ {
		if err := tree.Insert(types.NewInt(int64(i)), heap.RID{PageID: page.ID(i + 1), Slot: 0}); err != nil {
			t.Fatalf("Insert(%d) failed: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		rid, found, err := tree.Search(types.NewInt(int64(i)))
		if err != nil {
			t.Fatalf("Search(%d) failed: %v", i, err)
		}
		if !found {
			t.Fatalf("Search(%d) not found after %d inserts with splitting", i, n)
		}
		if rid.PageID != page.ID(i+1) {
			t.Fatalf("Search(%d) = %v, want PageID %d", i, rid, i+1)
		}
	}
}

func TestAllPairsWalksEveryLeafInOrder(t *testing.T) {
	tree := newTestTree(t, 4, false)
	const n = 50
	for i := n - 1; i >= 0; i-- {
		if err := tree.Insert(types.NewInt(int64(i)), heap.RID{PageID: page.ID(i + 1), Slot: 0}); err != nil {
			t.Fatalf("Insert(%d) failed: %v", i, err)
		}
	}

	pairs, err := tree.AllPairs()
	if err != nil {
		t.Fatalf("AllPairs() failed: %v", err)
	}
	if len(pairs) != n {
		t.Fatalf("AllPairs() returned %d pairs, want %d", len(pairs), n)
	}
	for i, p := range pairs {
		if p.Key.Int != int64(i) {
			t.Fatalf("AllPairs()[%d].Key = %d, want %d (must be ascending across leaves)", i, p.Key.Int, i)
		}
	}
}
