package record

import (
	"sort"

	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/pingcap/errors"
)

// LoadSpec is the set of columns a record must hold after a read. It starts out full (every non-obsolete column).
// SetFields replaces it wholesale; only JIT loads and force-widening grow it afterwards. The primary key and the
// timestamp column are always part of it.
type LoadSpec struct {
	table *schema.Table
	cols  map[schema.ColumnID]struct{}
}

func NewLoadSpec(table *schema.Table) *LoadSpec {
	s := &LoadSpec{table: table}
	s.WidenAll()
	return s
}

// SetFields replaces the spec with cols plus the mandatory columns. No columns resets the spec to full.
func (s *LoadSpec) SetFields(cols ...schema.ColumnID) error {
	if len(cols) == 0 {
		s.WidenAll()
		return nil
	}
	next := make(map[schema.ColumnID]struct{}, len(cols)+len(s.table.PrimaryKey)+1)
	for _, col := range cols {
		c, ok := s.table.Column(col)
		if !ok || c.Obsolete {
			return errors.Errorf("record: table %s has no loadable column %d", s.table.Name, col)
		}
		next[col] = struct{}{}
	}
	next[schema.TimestampColumn] = struct{}{}
	for _, col := range s.table.PrimaryKey {
		next[col] = struct{}{}
	}
	s.cols = next
	return nil
}

func (s *LoadSpec) Contains(col schema.ColumnID) bool {
	_, ok := s.cols[col]
	return ok
}

// Widen adds cols to the spec.
func (s *LoadSpec) Widen(cols ...schema.ColumnID) {
	for _, col := range cols {
		if c, ok := s.table.Column(col); ok && !c.Obsolete {
			s.cols[col] = struct{}{}
		}
	}
}

// WidenAll makes the spec full.
func (s *LoadSpec) WidenAll() {
	all := s.table.NonObsolete()
	s.cols = make(map[schema.ColumnID]struct{}, len(all))
	for _, col := range all {
		s.cols[col] = struct{}{}
	}
}

// IsFull reports whether every non-obsolete column is in the spec.
func (s *LoadSpec) IsFull() bool {
	for _, col := range s.table.NonObsolete() {
		if !s.Contains(col) {
			return false
		}
	}
	return true
}

// Columns returns the columns of the spec in ascending order.
func (s *LoadSpec) Columns() []schema.ColumnID {
	cols := make([]schema.ColumnID, 0, len(s.cols))
	for col := range s.cols {
		cols = append(cols, col)
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i] < cols[j] })
	return cols
}

func (s *LoadSpec) Clone() *LoadSpec {
	c := &LoadSpec{table: s.table, cols: make(map[schema.ColumnID]struct{}, len(s.cols))}
	for col := range s.cols {
		c.cols[col] = struct{}{}
	}
	return c
}
