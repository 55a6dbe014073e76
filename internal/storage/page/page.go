// Package page defines the fixed-size unit of storage every layer
// above the pager reads and writes.
package page

import "fmt"

// Size is the fixed page size in bytes. Every page on disk, in the
// buffer pool, and in the B+ tree is exactly this many bytes.
const Size = 4096

// ID identifies a page within a database file. ID 0 is reserved for
// the pager's own file header and is never handed out by Allocate.
type ID uint32

// None is the sentinel used for "no page" (e.g. a B+ tree root's
// parent_id before it has one).
const None ID = 0

// Page is a single fixed-size page of raw bytes plus the page ID it
// was read from. It carries no pin/dirty bookkeeping of its own; that
// lives in the buffer pool's frame wrapper.
type Page struct {
	ID   ID
	Data [Size]byte
}

// New returns a zeroed page with the given ID.
func New(id ID) *Page {
	return &Page{ID: id}
}

// ReadBytes returns a copy of length bytes starting at offset.
func (p *Page) ReadBytes(offset, length int) []byte {
	out := make([]byte, length)
	copy(out, p.Data[offset:offset+length])
	return out
}

// WriteBytes copies data into the page starting at offset.
func (p *Page) WriteBytes(offset int, data []byte) {
	copy(p.Data[offset:], data)
}

// WriteInt32 writes a 4-byte big-endian signed integer at offset.
func (p *Page) WriteInt32(offset int, v int32) {
	p.Data[offset] = byte(v >> 24)
	p.Data[offset+1] = byte(v >> 16)
	p.Data[offset+2] = byte(v >> 8)
	p.Data[offset+3] = byte(v)
}

// ReadInt32 reads a 4-byte big-endian signed integer at offset.
func (p *Page) ReadInt32(offset int) int32 {
	return int32(uint32(p.Data[offset])<<24 | uint32(p.Data[offset+1])<<16 |
		uint32(p.Data[offset+2])<<8 | uint32(p.Data[offset+3]))
}

// WriteUint32 writes a 4-byte big-endian unsigned integer at offset.
func (p *Page) WriteUint32(offset int, v uint32) {
	p.WriteInt32(offset, int32(v))
}

// ReadUint32 reads a 4-byte big-endian unsigned integer at offset.
func (p *Page) ReadUint32(offset int) uint32 {
	return uint32(p.ReadInt32(offset))
}

func (p *Page) String() string {
	return fmt.Sprintf("Page{ID: %d}", p.ID)
}
