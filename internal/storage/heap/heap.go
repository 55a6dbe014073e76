// Package heap implements the slotted-page record manager. It stores
// and retrieves raw record payloads; the caller (internal/table) is
// responsible for encoding records to bytes via internal/types and
// decoding them back.
package heap

import (
	"fmt"

	"github.com/minisql/minisql/internal/dberrors"
	"github.com/minisql/minisql/internal/storage/buffer"
	"github.com/minisql/minisql/internal/storage/page"
)

// Fixed slotted-page layout:
//
//	bytes 0-3:   record count (i32)
//	bytes 4-7:   free space offset (i32)
//	bytes 8-807: 200 fixed 4-byte slot directory entries (offset, or -1 tombstone)
//	bytes 808+:  record region: length:i32 || payload bytes
const (
	MaxRecordsPerPage = 200
	slotTableStart    = 8
	slotTableSize     = MaxRecordsPerPage * 4
	DataStart         = slotTableStart + slotTableSize // 808
	tombstone         = -1
)

// RID identifies a record by the page it lives on and its slot index
// within that page's slot directory.
type RID struct {
	PageID page.ID
	Slot   int
}

func (r RID) String() string {
	return fmt.Sprintf("(%d,%d)", r.PageID, r.Slot)
}

// Manager inserts, scans, updates, and deletes records within
// individual heap pages.
type Manager struct {
	pool *buffer.Pool
}

// New creates a Manager over the given buffer pool.
func New(pool *buffer.Pool) *Manager {
	return &Manager{pool: pool}
}

// InitializePage resets a page to an empty heap page.
func (m *Manager) InitializePage(id page.ID) error {
	guard, err := m.pool.Fetch(id)
	if err != nil {
		return err
	}
	defer guard.UnpinDirty()
	pg := guard.Page()
	pg.WriteInt32(0, 0)
	pg.WriteInt32(4, DataStart)
	return nil
}

func ensureInitialized(pg *page.Page) {
	count := pg.ReadInt32(0)
	free := pg.ReadInt32(4)
	if count < 0 || count > MaxRecordsPerPage || free < DataStart || int(free) > page.Size {
		pg.WriteInt32(0, 0)
		pg.WriteInt32(4, DataStart)
	}
}

// Insert appends payload to pageID's record region and returns its
// RID. A full page is reported by the boolean return, not an error;
// the table manager responds by allocating a new page.
func (m *Manager) Insert(pageID page.ID, payload []byte) (RID, bool, error) {
	guard, err := m.pool.Fetch(pageID)
	if err != nil {
		return RID{}, false, err
	}
	defer guard.UnpinDirty()
	pg := guard.Page()
	ensureInitialized(pg)

	count := int(pg.ReadInt32(0))
	free := int(pg.ReadInt32(4))

	if count >= MaxRecordsPerPage {
		return RID{}, false, nil
	}
	if free+4+len(payload) > page.Size {
		return RID{}, false, nil
	}

	pg.WriteInt32(free, int32(len(payload)))
	pg.WriteBytes(free+4, payload)

	slotPos := slotTableStart + count*4
	pg.WriteInt32(slotPos, int32(free))

	pg.WriteInt32(0, int32(count+1))
	pg.WriteInt32(4, int32(free+4+len(payload)))

	return RID{PageID: pageID, Slot: count}, true, nil
}

// Get reads the record at rid. Returns ok=false if the slot is a
// tombstone (deleted) or out of range.
func (m *Manager) Get(rid RID) (payload []byte, ok bool, err error) {
	guard, err := m.pool.Fetch(rid.PageID)
	if err != nil {
		return nil, false, err
	}
	defer guard.Unpin()
	pg := guard.Page()
	ensureInitialized(pg)

	count := int(pg.ReadInt32(0))
	if rid.Slot < 0 || rid.Slot >= count {
		return nil, false, nil
	}
	offset := int(pg.ReadInt32(slotTableStart + rid.Slot*4))
	if offset == tombstone {
		return nil, false, nil
	}
	return m.readAt(pg, offset)
}

func (m *Manager) readAt(pg *page.Page, offset int) ([]byte, bool, error) {
	size := int(pg.ReadInt32(offset))
	if size <= 0 || size > page.Size {
		return nil, false, dberrors.Wrap(dberrors.KindCorruptPage, dberrors.ErrCorruptPage,
			"heap: record at offset %d has invalid size %d", offset, size)
	}
	if offset < DataStart || offset+4+size > page.Size {
		return nil, false, dberrors.Wrap(dberrors.KindCorruptPage, dberrors.ErrCorruptPage,
			"heap: record at offset %d has invalid bounds (size %d)", offset, size)
	}
	return pg.ReadBytes(offset+4, size), true, nil
}

// Scan returns every live (non-tombstoned) record on pageID along with
// its RID. Corrupt individual records are skipped, not fatal; each is
// surfaced through the onCorrupt callback so the caller can log it.
func (m *Manager) Scan(pageID page.ID, onCorrupt func(rid RID, err error)) ([]RID, [][]byte, error) {
	guard, err := m.pool.Fetch(pageID)
	if err != nil {
		return nil, nil, err
	}
	defer guard.Unpin()
	pg := guard.Page()
	ensureInitialized(pg)

	count := int(pg.ReadInt32(0))
	var rids []RID
	var payloads [][]byte

	for i := 0; i < count; i++ {
		offset := int(pg.ReadInt32(slotTableStart + i*4))
		if offset == tombstone {
			continue
		}
		payload, ok, err := m.readAt(pg, offset)
		rid := RID{PageID: pageID, Slot: i}
		if err != nil {
			if onCorrupt != nil {
				onCorrupt(rid, err)
			}
			continue
		}
		if !ok {
			continue
		}
		rids = append(rids, rid)
		payloads = append(payloads, payload)
	}
	return rids, payloads, nil
}

// Delete tombstones the slot at rid.
func (m *Manager) Delete(rid RID) (bool, error) {
	guard, err := m.pool.Fetch(rid.PageID)
	if err != nil {
		return false, err
	}
	defer guard.UnpinDirty()
	pg := guard.Page()

	count := int(pg.ReadInt32(0))
	if rid.Slot < 0 || rid.Slot >= count {
		return false, nil
	}
	pg.WriteInt32(slotTableStart+rid.Slot*4, tombstone)
	return true, nil
}

// Undelete reverses a prior Delete by appending payload to the record
// region and repointing rid's slot at it, regardless of whether the
// slot currently holds a tombstone. Used by internal/table's
// UndoDelete to undo a DELETE on rollback.
func (m *Manager) Undelete(rid RID, payload []byte) (bool, error) {
	guard, err := m.pool.Fetch(rid.PageID)
	if err != nil {
		return false, err
	}
	defer guard.UnpinDirty()
	pg := guard.Page()
	ensureInitialized(pg)

	count := int(pg.ReadInt32(0))
	if rid.Slot < 0 || rid.Slot >= count {
		return false, nil
	}
	free := int(pg.ReadInt32(4))
	if free+4+len(payload) > page.Size {
		return false, nil
	}
	slotPos := slotTableStart + rid.Slot*4
	pg.WriteInt32(free, int32(len(payload)))
	pg.WriteBytes(free+4, payload)
	pg.WriteInt32(slotPos, int32(free))
	pg.WriteInt32(4, int32(free+4+len(payload)))
	return true, nil
}

// UpdateAt overwrites the record at rid with newPayload, in place when
// it fits in the old record's reserved length, or by appending a fresh
// copy to the record region and repointing the same slot entry when it
// does not. RID stability is preserved either way, since the slot
// index never changes, only its offset.
func (m *Manager) UpdateAt(rid RID, newPayload []byte) (bool, error) {
	guard, err := m.pool.Fetch(rid.PageID)
	if err != nil {
		return false, err
	}
	defer guard.UnpinDirty()
	pg := guard.Page()
	ensureInitialized(pg)

	count := int(pg.ReadInt32(0))
	if rid.Slot < 0 || rid.Slot >= count {
		return false, nil
	}
	slotPos := slotTableStart + rid.Slot*4
	offset := int(pg.ReadInt32(slotPos))
	if offset == tombstone {
		return false, nil
	}

	oldSize := int(pg.ReadInt32(offset))
	if len(newPayload) <= oldSize {
		pg.WriteInt32(offset, int32(len(newPayload)))
		pg.WriteBytes(offset+4, newPayload)
		return true, nil
	}

	free := int(pg.ReadInt32(4))
	if free+4+len(newPayload) > page.Size {
		return false, nil
	}
	pg.WriteInt32(free, int32(len(newPayload)))
	pg.WriteBytes(free+4, newPayload)
	pg.WriteInt32(slotPos, int32(free))
	pg.WriteInt32(4, int32(free+4+len(newPayload)))
	return true, nil
}
