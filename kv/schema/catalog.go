package schema

import (
	"sync"

	"github.com/pingcap/errors"
)

// Catalog holds the table definitions produced by the schema compiler. Tables are registered once at load time and
// never change afterwards.
type Catalog struct {
	mu     sync.RWMutex
	byID   map[TableID]*Table
	byName map[string]*Table
}

func NewCatalog() *Catalog {
	return &Catalog{
		byID:   make(map[TableID]*Table),
		byName: make(map[string]*Table),
	}
}

// Register adds a table. Registering the same id or name twice is an error.
func (c *Catalog) Register(t *Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[t.ID]; ok {
		return errors.Errorf("schema: table id %d already registered", t.ID)
	}
	if _, ok := c.byName[t.Name]; ok {
		return errors.Errorf("schema: table %s already registered", t.Name)
	}
	c.byID[t.ID] = t
	c.byName[t.Name] = t
	return nil
}

func (c *Catalog) Table(id TableID) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byID[id]
	return t, ok
}

func (c *Catalog) TableByName(name string) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byName[name]
	return t, ok
}

// Tables returns every registered table in no particular order.
func (c *Catalog) Tables() []*Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tables := make([]*Table, 0, len(c.byID))
	for _, t := range c.byID {
		tables = append(tables, t)
	}
	return tables
}
