// Package catalog implements the system catalog: the durable record
// of every table's schema, its data pages, and its view/user/trigger/
// grant metadata, all persisted as a single blob on a fixed page.
package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/minisql/minisql/internal/dberrors"
	"github.com/minisql/minisql/internal/storage/buffer"
	"github.com/minisql/minisql/internal/storage/page"
	"github.com/minisql/minisql/internal/types"
)

// View is a stored SELECT definition, keyed by name.
type View struct {
	Name       string
	Definition string // raw SELECT text, reparsed by internal/executor on use
}

// User is an authentication/authorization entry managed by
// CREATE USER / DROP USER and consulted by GRANT/REVOKE.
type User struct {
	Name     string
	Password string // stored as given; no auth transport in this engine, so no hashing scheme to ground on
}

// Grant records one privilege granted to a user on a table.
type Grant struct {
	User      string
	Table     string
	Privilege string // SELECT, INSERT, UPDATE, DELETE, ALL
}

// Trigger is a stored BEFORE/AFTER INSERT/UPDATE/DELETE action.
type Trigger struct {
	Name      string
	Table     string
	Timing    string // BEFORE | AFTER
	Event     string // INSERT | UPDATE | DELETE
	Statement string // raw SQL statement text, parsed and executed by internal/executor
}

// IndexMeta describes one index over a table, including indexes
// synthesized automatically for a PRIMARY KEY or UNIQUE column rather
// than created explicitly.
type IndexMeta struct {
	Name       string
	Table      string
	Columns    []string
	Unique     bool
	RootPageID page.ID
}

// tableEntry is the catalog's persisted record of one table.
type tableEntry struct {
	Schema *types.Schema
	Pages  []page.ID
}

// catalogBlob is the JSON-serializable snapshot written to the fixed
// catalog page.
type catalogBlob struct {
	Tables   map[string]blobTable `json:"tables"`
	Views    map[string]View      `json:"views"`
	Users    map[string]User      `json:"users"`
	Grants   []Grant              `json:"grants"`
	Triggers map[string]Trigger   `json:"triggers"`
	Indexes  map[string]IndexMeta `json:"indexes"`
}

type blobTable struct {
	TableName        string          `json:"table_name"`
	Columns          []types.Column  `json:"columns"`
	CheckConstraints []string        `json:"check_constraints"`
	ForeignKeys      []types.ForeignKey `json:"foreign_keys"`
	Pages            []page.ID       `json:"pages"`
}

// Catalog is the engine's single system catalog, persisted at a fixed
// page established the first time a database file is created (page ID
// 1; page 0 is the pager's file header).
type Catalog struct {
	mu   sync.RWMutex
	pool *buffer.Pool

	pageID page.ID

	tables   map[string]*tableEntry
	views    map[string]View
	users    map[string]User
	grants   []Grant
	triggers map[string]Trigger
	indexes  map[string]IndexMeta
}

// Open loads the catalog from pageID, or initializes an empty one if
// the page is blank (freshly allocated).
func Open(pool *buffer.Pool, pageID page.ID) (*Catalog, error) {
	c := &Catalog{
		pool:     pool,
		pageID:   pageID,
		tables:   make(map[string]*tableEntry),
		views:    make(map[string]View),
		users:    make(map[string]User),
		triggers: make(map[string]Trigger),
		indexes:  make(map[string]IndexMeta),
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) load() error {
	guard, err := c.pool.Fetch(c.pageID)
	if err != nil {
		return err
	}
	defer guard.Unpin()
	pg := guard.Page()

	length := int(pg.ReadUint32(0))
	if length == 0 {
		return nil // freshly allocated page: empty catalog
	}
	if length < 0 || 4+length > page.Size {
		return dberrors.Wrap(dberrors.KindCorruptPage, dberrors.ErrCorruptPage, "catalog: invalid blob length %d", length)
	}
	data := pg.ReadBytes(4, length)

	var blob catalogBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return dberrors.Wrap(dberrors.KindCorruptPage, err, "catalog: failed to decode catalog blob")
	}

	for name, bt := range blob.Tables {
		schema := types.NewSchema(bt.TableName, bt.Columns, bt.CheckConstraints, bt.ForeignKeys)
		c.tables[name] = &tableEntry{Schema: schema, Pages: bt.Pages}
	}
	if blob.Views != nil {
		c.views = blob.Views
	}
	if blob.Users != nil {
		c.users = blob.Users
	}
	c.grants = blob.Grants
	if blob.Triggers != nil {
		c.triggers = blob.Triggers
	}
	if blob.Indexes != nil {
		c.indexes = blob.Indexes
	}
	return nil
}

// save persists the in-memory catalog to its fixed page. Caller must
// hold c.mu.
func (c *Catalog) save() error {
	blob := catalogBlob{
		Tables:   make(map[string]blobTable, len(c.tables)),
		Views:    c.views,
		Users:    c.users,
		Grants:   c.grants,
		Triggers: c.triggers,
		Indexes:  c.indexes,
	}
	for name, te := range c.tables {
		blob.Tables[name] = blobTable{
			TableName:        te.Schema.TableName,
			Columns:          te.Schema.Columns,
			CheckConstraints: te.Schema.CheckConstraints,
			ForeignKeys:      te.Schema.ForeignKeys,
			Pages:            te.Pages,
		}
	}

	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("catalog: failed to encode catalog blob: %w", err)
	}
	if 4+len(data) > page.Size {
		return dberrors.New(dberrors.KindIoError, "catalog: blob of %d bytes exceeds page capacity", len(data))
	}

	guard, err := c.pool.Fetch(c.pageID)
	if err != nil {
		return err
	}
	defer guard.UnpinDirty()
	pg := guard.Page()
	pg.WriteUint32(0, uint32(len(data)))
	pg.WriteBytes(4, data)
	return nil
}

// CreateTable registers a new table's schema with no data pages yet.
func (c *Catalog) CreateTable(schema *types.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tables[schema.TableName]; exists {
		return dberrors.New(dberrors.KindTableExists, "table %q already exists", schema.TableName)
	}
	c.tables[schema.TableName] = &tableEntry{Schema: schema}
	return c.save()
}

// DropTable removes a table's schema and page list. The caller is
// responsible for reclaiming its data pages and any indexes.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tables[name]; !exists {
		return dberrors.New(dberrors.KindTableNotFound, "table %q does not exist", name)
	}
	delete(c.tables, name)
	for iname, im := range c.indexes {
		if im.Table == name {
			delete(c.indexes, iname)
		}
	}
	return c.save()
}

// TruncateTable clears a table's page list, leaving its schema intact.
// Page space is append-only with no free list, so the dropped pages
// are simply abandoned.
func (c *Catalog) TruncateTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	te, ok := c.tables[name]
	if !ok {
		return dberrors.New(dberrors.KindTableNotFound, "table %q does not exist", name)
	}
	te.Pages = nil
	return c.save()
}

// AlterTableSchema replaces name's column layout (e.g. for ADD/DROP
// COLUMN) while keeping its existing data pages.
func (c *Catalog) AlterTableSchema(name string, newSchema *types.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	te, ok := c.tables[name]
	if !ok {
		return dberrors.New(dberrors.KindTableNotFound, "table %q does not exist", name)
	}
	te.Schema = newSchema
	return c.save()
}

// TableSchema returns the schema for name.
func (c *Catalog) TableSchema(name string) (*types.Schema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	te, ok := c.tables[name]
	if !ok {
		return nil, false
	}
	return te.Schema, true
}

// ListTables returns every table name, sorted for deterministic
// display.
func (c *Catalog) ListTables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.tables))
	for name := range c.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// TablePages returns the data pages belonging to table name.
func (c *Catalog) TablePages(name string) ([]page.ID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	te, ok := c.tables[name]
	if !ok {
		return nil, dberrors.New(dberrors.KindTableNotFound, "table %q does not exist", name)
	}
	out := make([]page.ID, len(te.Pages))
	copy(out, te.Pages)
	return out, nil
}

// AllocatePageForTable allocates a fresh heap page and appends it to
// table name's page list.
func (c *Catalog) AllocatePageForTable(name string) (page.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	te, ok := c.tables[name]
	if !ok {
		return page.None, dberrors.New(dberrors.KindTableNotFound, "table %q does not exist", name)
	}
	guard, err := c.pool.AllocateNew()
	if err != nil {
		return page.None, err
	}
	id := guard.Page().ID
	guard.UnpinDirty()
	te.Pages = append(te.Pages, id)
	if err := c.save(); err != nil {
		return page.None, err
	}
	return id, nil
}

// RegisterIndex records root page and column list for a new index
// (explicit or synthesized for a PK/UNIQUE column).
func (c *Catalog) RegisterIndex(meta IndexMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.indexes[meta.Name]; exists {
		return dberrors.New(dberrors.KindTableExists, "index %q already exists", meta.Name)
	}
	c.indexes[meta.Name] = meta
	return c.save()
}

// UpdateIndexRoot records an index's new root page after a root
// split, so a reopened database rematerializes the tree at the right
// page.
func (c *Catalog) UpdateIndexRoot(name string, root page.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	im, ok := c.indexes[name]
	if !ok {
		return dberrors.New(dberrors.KindTableNotFound, "index %q does not exist", name)
	}
	im.RootPageID = root
	c.indexes[name] = im
	return c.save()
}

// DropIndex removes an index's catalog entry.
func (c *Catalog) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.indexes[name]; !exists {
		return dberrors.New(dberrors.KindTableNotFound, "index %q does not exist", name)
	}
	delete(c.indexes, name)
	return c.save()
}

// Index returns metadata for a single named index.
func (c *Catalog) Index(name string) (IndexMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	im, ok := c.indexes[name]
	return im, ok
}

// IndexesForTable returns every index (explicit and synthesized)
// registered against table.
func (c *Catalog) IndexesForTable(table string) []IndexMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []IndexMeta
	for _, im := range c.indexes {
		if im.Table == table {
			out = append(out, im)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CreateView stores a named view definition.
func (c *Catalog) CreateView(v View) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.views[v.Name]; exists {
		return dberrors.New(dberrors.KindTableExists, "view %q already exists", v.Name)
	}
	c.views[v.Name] = v
	return c.save()
}

// DropView removes a named view definition.
func (c *Catalog) DropView(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.views[name]; !exists {
		return dberrors.New(dberrors.KindTableNotFound, "view %q does not exist", name)
	}
	delete(c.views, name)
	return c.save()
}

// View returns a view's definition by name.
func (c *Catalog) View(name string) (View, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.views[name]
	return v, ok
}

// CreateUser registers a user entry.
func (c *Catalog) CreateUser(u User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.users[u.Name]; exists {
		return dberrors.New(dberrors.KindTableExists, "user %q already exists", u.Name)
	}
	c.users[u.Name] = u
	return c.save()
}

// DropUser removes a user entry and its grants.
func (c *Catalog) DropUser(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.users[name]; !exists {
		return dberrors.New(dberrors.KindTableNotFound, "user %q does not exist", name)
	}
	delete(c.users, name)
	kept := c.grants[:0]
	for _, g := range c.grants {
		if g.User != name {
			kept = append(kept, g)
		}
	}
	c.grants = kept
	return c.save()
}

// Grant records a privilege grant.
func (c *Catalog) Grant(g Grant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grants = append(c.grants, g)
	return c.save()
}

// Revoke removes a matching privilege grant, if present.
func (c *Catalog) Revoke(g Grant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.grants {
		if existing == g {
			c.grants = append(c.grants[:i], c.grants[i+1:]...)
			break
		}
	}
	return c.save()
}

// GrantsForUser returns every privilege grant held by user.
func (c *Catalog) GrantsForUser(user string) []Grant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Grant
	for _, g := range c.grants {
		if g.User == user {
			out = append(out, g)
		}
	}
	return out
}

// CreateTrigger registers a trigger definition.
func (c *Catalog) CreateTrigger(t Trigger) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.triggers[t.Name]; exists {
		return dberrors.New(dberrors.KindTableExists, "trigger %q already exists", t.Name)
	}
	c.triggers[t.Name] = t
	return c.save()
}

// DropTrigger removes a trigger definition.
func (c *Catalog) DropTrigger(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.triggers[name]; !exists {
		return dberrors.New(dberrors.KindTableNotFound, "trigger %q does not exist", name)
	}
	delete(c.triggers, name)
	return c.save()
}

// TriggersFor returns every trigger registered for table at the given
// timing/event pair (e.g. BEFORE/INSERT), in name order for
// deterministic firing.
func (c *Catalog) TriggersFor(table, timing, event string) []Trigger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Trigger
	for _, t := range c.triggers {
		if t.Table == table && t.Timing == timing && t.Event == event {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
