// Package buffer implements an LRU buffer pool over the pager. Pages
// are handed out through a pin-scoped PageGuard rather than a bare
// pointer, so the pin/unpin discipline is enforced by the type system
// rather than by convention.
package buffer

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/metric"

	"github.com/minisql/minisql/internal/dberrors"
	"github.com/minisql/minisql/internal/storage/page"
	"github.com/minisql/minisql/internal/storage/pager"
)

// frame is one resident page plus its bookkeeping.
type frame struct {
	page     *page.Page
	pinCount int
	dirty    bool
	elem     *list.Element // position in the LRU list
}

// Pool is an LRU cache of pages backed by a Pager.
type Pool struct {
	mu       sync.Mutex
	pager    *pager.Pager
	capacity int
	frames   map[page.ID]*frame
	lru      *list.List // front = most recently used

	hits      int64
	misses    int64
	evictions int64

	hitCounter   metric.Int64Counter
	missCounter  metric.Int64Counter
	evictCounter metric.Int64Counter
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithMeter wires buffer pool hit/miss/eviction counters into the
// given OTel meter.
func WithMeter(meter metric.Meter) Option {
	return func(p *Pool) {
		p.hitCounter, _ = meter.Int64Counter("minisql.buffer_pool.hits")
		p.missCounter, _ = meter.Int64Counter("minisql.buffer_pool.misses")
		p.evictCounter, _ = meter.Int64Counter("minisql.buffer_pool.evictions")
	}
}

// New creates a Pool with room for capacity resident pages.
func New(pg *pager.Pager, capacity int, opts ...Option) *Pool {
	p := &Pool{
		pager:    pg,
		capacity: capacity,
		frames:   make(map[page.ID]*frame),
		lru:      list.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PageGuard is a pinned reference to a page. Callers must call Unpin
// or UnpinDirty exactly once to release the pin; the type carries no
// way to read the page's bytes without first holding a guard.
type PageGuard struct {
	pool *Pool
	id   page.ID
	pg   *page.Page
}

// Page returns the underlying page for reading/writing its bytes.
func (g *PageGuard) Page() *page.Page { return g.pg }

// Unpin releases the pin without marking the page dirty.
func (g *PageGuard) Unpin() {
	g.pool.unpin(g.id, false)
}

// UnpinDirty releases the pin and marks the page dirty so it will be
// written back on eviction or flush.
func (g *PageGuard) UnpinDirty() {
	g.pool.unpin(g.id, true)
}

// Fetch returns a pinned guard for the given page, loading it from the
// pager on a cache miss.
func (p *Pool) Fetch(id page.ID) (*PageGuard, error) {
	p.mu.Lock()
	if fr, ok := p.frames[id]; ok {
		fr.pinCount++
		p.lru.MoveToFront(fr.elem)
		p.hits++
		if p.hitCounter != nil {
			p.hitCounter.Add(context.Background(), 1)
		}
		p.mu.Unlock()
		return &PageGuard{pool: p, id: id, pg: fr.page}, nil
	}
	p.misses++
	if p.missCounter != nil {
		p.missCounter.Add(context.Background(), 1)
	}
	p.mu.Unlock()

	pg, err := p.pager.Read(id)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Another goroutine may have loaded it while we read from disk.
	if fr, ok := p.frames[id]; ok {
		fr.pinCount++
		p.lru.MoveToFront(fr.elem)
		return &PageGuard{pool: p, id: id, pg: fr.page}, nil
	}
	if err := p.makeRoomLocked(); err != nil {
		return nil, err
	}
	fr := &frame{page: pg, pinCount: 1}
	fr.elem = p.lru.PushFront(id)
	p.frames[id] = fr
	return &PageGuard{pool: p, id: id, pg: pg}, nil
}

// AllocateNew allocates a fresh page via the pager and returns it
// pinned, already resident in the pool.
func (p *Pool) AllocateNew() (*PageGuard, error) {
	pg, err := p.pager.Allocate()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.makeRoomLocked(); err != nil {
		return nil, err
	}
	fr := &frame{page: pg, pinCount: 1}
	fr.elem = p.lru.PushFront(pg.ID)
	p.frames[pg.ID] = fr
	return &PageGuard{pool: p, id: pg.ID, pg: pg}, nil
}

func (p *Pool) unpin(id page.ID, dirty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fr, ok := p.frames[id]
	if !ok {
		return
	}
	if fr.pinCount > 0 {
		fr.pinCount--
	}
	if dirty {
		fr.dirty = true
	}
}

// makeRoomLocked evicts the least-recently-used unpinned frame if the
// pool is at capacity. Caller must hold p.mu.
func (p *Pool) makeRoomLocked() error {
	if len(p.frames) < p.capacity {
		return nil
	}
	for e := p.lru.Back(); e != nil; e = e.Prev() {
		id := e.Value.(page.ID)
		fr := p.frames[id]
		if fr.pinCount > 0 {
			continue
		}
		if fr.dirty {
			if err := p.flushFrameWithRetry(id, fr); err != nil {
				return err
			}
		}
		p.lru.Remove(e)
		delete(p.frames, id)
		p.evictions++
		if p.evictCounter != nil {
			p.evictCounter.Add(context.Background(), 1)
		}
		return nil
	}
	return dberrors.Wrap(dberrors.KindAllPagesPinned, dberrors.ErrAllPagesPinned, "buffer pool: all %d frames pinned", p.capacity)
}

// flushFrameWithRetry writes a dirty frame back to disk, retrying
// transient IoErrors with bounded backoff.
func (p *Pool) flushFrameWithRetry(id page.ID, fr *frame) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second

	err := backoff.Retry(func() error {
		err := p.pager.Write(fr.page)
		if err != nil && dberrors.Is(err, dberrors.KindIoError) {
			return err // retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, b)
	if err != nil {
		return err
	}
	fr.dirty = false
	return nil
}

// FlushPage writes a single resident dirty page back to disk.
func (p *Pool) FlushPage(id page.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	fr, ok := p.frames[id]
	if !ok || !fr.dirty {
		return nil
	}
	return p.flushFrameWithRetry(id, fr)
}

// FlushAll writes every resident dirty page back to disk.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, fr := range p.frames {
		if fr.dirty {
			if err := p.flushFrameWithRetry(id, fr); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stats returns the pool's cumulative hit/miss/eviction counts.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Hits: p.hits, Misses: p.misses, Evictions: p.evictions}
}
