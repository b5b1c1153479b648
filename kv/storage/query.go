package storage

import (
	"sort"

	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
)

type FilterKind int

const (
	FilterEqual FilterKind = iota
	FilterRange
)

// Filter restricts a query to rows whose column equals Value (FilterEqual) or lies within [From, To]
// (FilterRange). A nil range bound is open.
type Filter struct {
	Column schema.ColumnID
	Kind   FilterKind
	Value  interface{}
	From   interface{}
	To     interface{}
}

// Match reports whether the value v satisfies the filter.
func (f Filter) Match(v interface{}) bool {
	switch f.Kind {
	case FilterEqual:
		return schema.CompareValues(v, f.Value) == 0
	case FilterRange:
		if f.From != nil && schema.CompareValues(v, f.From) < 0 {
			return false
		}
		if f.To != nil && schema.CompareValues(v, f.To) > 0 {
			return false
		}
		return true
	}
	return false
}

// SortKey orders query results. The primary key always breaks ties, so every ordering is total.
type SortKey struct {
	Columns    []schema.ColumnID
	Descending bool
}

// Reverse returns the same key ordered the other way.
func (s SortKey) Reverse() SortKey {
	return SortKey{Columns: s.Columns, Descending: !s.Descending}
}

// Query describes one read of a table.
type Query struct {
	Table   *schema.Table
	Filters []Filter
	Sort    SortKey
	// Columns to return. Nil returns every non-obsolete column.
	Columns []schema.ColumnID
	Hint    lock.Strength
	// After, when set, restricts the result to rows ordered strictly after this row. It must hold the sort
	// columns and the primary key.
	After schema.Row
	// Limit bounds the number of rows returned. Zero means no bound.
	Limit int
}

// Match reports whether row satisfies every filter.
func Match(row schema.Row, filters []Filter) bool {
	for _, f := range filters {
		if !f.Match(row[f.Column]) {
			return false
		}
	}
	return true
}

// OrderColumns returns the columns that define the order of s on table: the sort columns followed by the primary
// key columns not already listed.
func OrderColumns(table *schema.Table, s SortKey) []schema.ColumnID {
	cols := make([]schema.ColumnID, 0, len(s.Columns)+len(table.PrimaryKey))
	seen := make(map[schema.ColumnID]bool, cap(cols))
	for _, c := range s.Columns {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	for _, c := range table.PrimaryKey {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	return cols
}

// CompareRows orders a and b by s on table.
func CompareRows(table *schema.Table, s SortKey, a, b schema.Row) int {
	for _, col := range OrderColumns(table, s) {
		if c := schema.CompareValues(a[col], b[col]); c != 0 {
			if s.Descending {
				return -c
			}
			return c
		}
	}
	return 0
}

// SortRows sorts rows in place by s.
func SortRows(table *schema.Table, s SortKey, rows []schema.Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return CompareRows(table, s, rows[i], rows[j]) < 0
	})
}

// Position returns the part of row that identifies its place in the order of s, suitable for Query.After.
func Position(table *schema.Table, s SortKey, row schema.Row) schema.Row {
	pos := make(schema.Row)
	for _, col := range OrderColumns(table, s) {
		pos[col] = row[col]
	}
	return pos
}

// Project returns the subset of row named by columns. Nil columns return a copy of the whole row.
func Project(row schema.Row, columns []schema.ColumnID) schema.Row {
	if columns == nil {
		return row.Clone()
	}
	out := make(schema.Row, len(columns))
	for _, col := range columns {
		if v, ok := row[col]; ok {
			out[col] = v
		}
	}
	return out
}

// Normalize checks every value of row against table and fills in missing non-obsolete columns with zero values.
func Normalize(table *schema.Table, row schema.Row) (schema.Row, error) {
	out := table.ZeroRow()
	for col, v := range row {
		c, ok := table.Column(col)
		if !ok || c.Obsolete {
			continue
		}
		nv, err := schema.CheckValue(c, v)
		if err != nil {
			if fae, ok := err.(*schema.ErrInvalidFieldAccess); ok {
				fae.Table = table.Name
			}
			return nil, err
		}
		out[col] = nv
	}
	return out, nil
}
