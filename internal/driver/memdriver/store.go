// Package memdriver is an in-memory reference implementation of
// internal/driver.Conn, grounded in the same database_client.h interface
// the MySQL/PostgreSQL clients in _examples/original_source/src implement.
// No real SQL driver is wired into the core (spec.md places database
// drivers out of scope); this package exists so the core's own property
// tests (convergence, idempotence, subdivision) have a concrete table to
// synchronize against.
package memdriver

import (
	"sort"
	"sync"

	"github.com/willbryant/kitchen-sync/internal/schema"
)

type table struct {
	def  *schema.Table
	rows []schema.Row // sorted by primary key
}

func (t *table) indexOfKey(key schema.Row) (int, bool) {
	i := sort.Search(len(t.rows), func(i int) bool {
		return schema.CompareKeys(t.def.ExtractKey(t.rows[i]), key) >= 0
	})
	if i < len(t.rows) && schema.EqualKeys(t.def.ExtractKey(t.rows[i]), key) {
		return i, true
	}
	return i, false
}

// Store is the shared, mutex-guarded backing state for a set of in-memory
// tables, analogous to one database instance. Multiple memdriver.Conn
// values can share a Store the way multiple worker connections share one
// underlying database.
type Store struct {
	mu        sync.RWMutex
	tables    map[string]*table
	snapshots map[string]map[string][]schema.Row
	nextToken int
}

func NewStore() *Store {
	return &Store{
		tables:    make(map[string]*table),
		snapshots: make(map[string]map[string][]schema.Row),
	}
}

// CreateTable registers a table definition with no rows.
func (s *Store) CreateTable(def *schema.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[def.Name] = &table{def: def}
}

// SetRows replaces a table's contents for test setup, sorting by primary
// key the way a real table's clustered index would already order them.
func (s *Store) SetRows(tableName string, rows []schema.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[tableName]
	cp := append([]schema.Row(nil), rows...)
	sort.Slice(cp, func(i, j int) bool {
		return schema.CompareKeys(t.def.ExtractKey(cp[i]), t.def.ExtractKey(cp[j])) < 0
	})
	t.rows = cp
}

// Rows returns a snapshot copy of a table's current contents, for test
// assertions.
func (s *Store) Rows(tableName string) []schema.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.tables[tableName]
	return append([]schema.Row(nil), t.rows...)
}

func copyTables(tables map[string]*table) map[string][]schema.Row {
	snap := make(map[string][]schema.Row, len(tables))
	for name, t := range tables {
		snap[name] = append([]schema.Row(nil), t.rows...)
	}
	return snap
}
