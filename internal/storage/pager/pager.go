// Package pager manages allocation and raw disk I/O for fixed-size
// pages backing a single database file.
package pager

import (
	"fmt"
	"os"
	"sync"

	"github.com/minisql/minisql/internal/dberrors"
	"github.com/minisql/minisql/internal/storage/filelock"
	"github.com/minisql/minisql/internal/storage/page"
)

// Pager owns the database file and hands out fixed-size pages by ID.
// File offset 0 is reserved for the header (a watermark of the next
// page ID to allocate); page IDs handed out by Allocate start at 1 and
// map to file offset id*page.Size, so the header and the first
// allocated page never collide.
//
// A single exclusive advisory lock is held on the file for the
// lifetime of the Pager; one process owns a database file at a time.
type Pager struct {
	mu          sync.Mutex
	file        *os.File
	nextPageID  page.ID
}

// Open opens (creating if necessary) the database file at path, takes
// an exclusive advisory lock on it, and loads the allocation watermark
// from the header.
func Open(path string) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, dberrors.WrapIo("pager.Open", err)
	}

	if err := filelock.AcquireExclusive(f, false); err != nil {
		f.Close()
		if filelock.IsLocked(err) {
			return nil, err
		}
		return nil, dberrors.WrapIo("pager.Open: lock", err)
	}

	p := &Pager{file: f}
	if err := p.ensureHeader(); err != nil {
		f.Close()
		return nil, err
	}
	if err := p.loadHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pager) ensureHeader() error {
	fi, err := p.file.Stat()
	if err != nil {
		return dberrors.WrapIo("pager.ensureHeader: stat", err)
	}
	if fi.Size() > 0 {
		return nil
	}
	var header [page.Size]byte
	header[3] = 1 // next_page_id = 1, big-endian uint32
	if _, err := p.file.WriteAt(header[:], 0); err != nil {
		return dberrors.WrapIo("pager.ensureHeader: write", err)
	}
	return nil
}

func (p *Pager) loadHeader() error {
	var header [page.Size]byte
	if _, err := p.file.ReadAt(header[:], 0); err != nil {
		return dberrors.WrapIo("pager.loadHeader: read", err)
	}
	p.nextPageID = page.ID(uint32(header[0])<<24 | uint32(header[1])<<16 | uint32(header[2])<<8 | uint32(header[3]))
	return nil
}

func (p *Pager) saveHeader() error {
	var header [page.Size]byte
	v := uint32(p.nextPageID)
	header[0] = byte(v >> 24)
	header[1] = byte(v >> 16)
	header[2] = byte(v >> 8)
	header[3] = byte(v)
	if _, err := p.file.WriteAt(header[:], 0); err != nil {
		return dberrors.WrapIo("pager.saveHeader", err)
	}
	return nil
}

// Allocate reserves a new page ID, initializes it to zeroes, writes it
// to disk, and returns it.
func (p *Pager) Allocate() (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextPageID
	p.nextPageID++
	if err := p.saveHeader(); err != nil {
		return nil, err
	}

	pg := page.New(id)
	if err := p.writePageLocked(pg); err != nil {
		return nil, err
	}
	return pg, nil
}

// Read loads the page with the given ID from disk.
func (p *Pager) Read(id page.ID) (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pg := page.New(id)
	n, err := p.file.ReadAt(pg.Data[:], int64(id)*page.Size)
	if err != nil {
		return nil, dberrors.WrapIo(fmt.Sprintf("pager.Read(%d)", id), err)
	}
	if n != page.Size {
		return nil, dberrors.Wrap(dberrors.KindCorruptPage, dberrors.ErrCorruptPage, "pager.Read(%d): short read of %d bytes", id, n)
	}
	return pg, nil
}

// Write persists pg to its page ID's location on disk.
func (p *Pager) Write(pg *page.Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writePageLocked(pg)
}

func (p *Pager) writePageLocked(pg *page.Page) error {
	if _, err := p.file.WriteAt(pg.Data[:], int64(pg.ID)*page.Size); err != nil {
		return dberrors.WrapIo(fmt.Sprintf("pager.Write(%d)", pg.ID), err)
	}
	return nil
}

// PageCount returns the number of page IDs allocated so far (not
// counting the reserved header).
func (p *Pager) PageCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.nextPageID) - 1
}

// Close flushes the header and releases the file lock.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.saveHeader(); err != nil {
		return err
	}
	if err := filelock.Release(p.file); err != nil {
		return dberrors.WrapIo("pager.Close: unlock", err)
	}
	return p.file.Close()
}
