package schema

import (
	"fmt"
	"time"

	"github.com/pingcap/errors"
)

// TableID identifies a table and its schema. It is immutable once the schema is loaded.
type TableID uint32

// ColumnID identifies a column within a table.
type ColumnID uint32

// TimestampColumn is the bookkeeping column every table carries. The store keeps the row's version in it and bumps
// it on every successful write, so a writer can tell whether a row changed since it was read.
const TimestampColumn ColumnID = 0

// Row maps column ids to values. Values are always one of the Go types listed by ColumnType.
type Row map[ColumnID]interface{}

// Key is the ordered tuple of primary key values of a row.
type Key []interface{}

// Clone returns a shallow copy of the row. Values are immutable so a shallow copy is enough.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	c := make(Row, len(r))
	for col, v := range r {
		c[col] = v
	}
	return c
}

// Version returns the row's bookkeeping version, or 0 if the row has none.
func (r Row) Version() int64 {
	v, _ := r[TimestampColumn].(int64)
	return v
}

type ColumnType int

const (
	TypeInt ColumnType = iota
	TypeDecimal
	TypeText
	TypeBool
	TypeDateTime
)

func (t ColumnType) String() string {
	switch t {
	case TypeInt:
		return "Integer"
	case TypeDecimal:
		return "Decimal"
	case TypeText:
		return "Text"
	case TypeBool:
		return "Boolean"
	case TypeDateTime:
		return "DateTime"
	}
	return fmt.Sprintf("ColumnType(%d)", int(t))
}

// Zero returns the value a freshly initialized record holds for a column of this type.
func (t ColumnType) Zero() interface{} {
	switch t {
	case TypeInt:
		return int64(0)
	case TypeDecimal:
		return float64(0)
	case TypeText:
		return ""
	case TypeBool:
		return false
	case TypeDateTime:
		return time.Time{}
	}
	return nil
}

type Column struct {
	ID   ColumnID
	Name string
	Type ColumnType
	// Obsolete columns are kept in the schema for compatibility but are never loaded, read or written.
	Obsolete bool
}

// Table describes one relational table.
type Table struct {
	ID         TableID
	Name       string
	Columns    []Column
	PrimaryKey []ColumnID

	byID map[ColumnID]int
}

// NewTable builds a table and adds the bookkeeping timestamp column if the caller did not declare it.
func NewTable(id TableID, name string, pk []ColumnID, columns ...Column) (*Table, error) {
	t := &Table{ID: id, Name: name, PrimaryKey: pk}
	hasTimestamp := false
	for _, c := range columns {
		if c.ID == TimestampColumn {
			hasTimestamp = true
		}
	}
	if !hasTimestamp {
		t.Columns = append(t.Columns, Column{ID: TimestampColumn, Name: "timestamp", Type: TypeInt})
	}
	t.Columns = append(t.Columns, columns...)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// MustNewTable is like NewTable but panics on an invalid definition. Intended for tests and static catalogs.
func MustNewTable(id TableID, name string, pk []ColumnID, columns ...Column) *Table {
	t, err := NewTable(id, name, pk, columns...)
	if err != nil {
		panic(err)
	}
	return t
}

// Validate checks the table definition and builds its column index.
func (t *Table) Validate() error {
	t.byID = make(map[ColumnID]int, len(t.Columns))
	for i, c := range t.Columns {
		if _, ok := t.byID[c.ID]; ok {
			return errors.Errorf("schema: table %s declares column %d twice", t.Name, c.ID)
		}
		t.byID[c.ID] = i
	}
	if ts, ok := t.byID[TimestampColumn]; !ok || t.Columns[ts].Type != TypeInt {
		return errors.Errorf("schema: table %s has no integer timestamp column", t.Name)
	}
	if len(t.PrimaryKey) == 0 {
		return errors.Errorf("schema: table %s has no primary key", t.Name)
	}
	for _, col := range t.PrimaryKey {
		c, ok := t.Column(col)
		if !ok {
			return errors.Errorf("schema: primary key column %d of table %s does not exist", col, t.Name)
		}
		if c.Obsolete || col == TimestampColumn {
			return errors.Errorf("schema: column %s cannot be part of the primary key of %s", c.Name, t.Name)
		}
	}
	return nil
}

// Column looks up a column by id.
func (t *Table) Column(id ColumnID) (Column, bool) {
	i, ok := t.byID[id]
	if !ok {
		return Column{}, false
	}
	return t.Columns[i], true
}

// NonObsolete returns the ids of all columns that may be loaded, in declaration order.
func (t *Table) NonObsolete() []ColumnID {
	cols := make([]ColumnID, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !c.Obsolete {
			cols = append(cols, c.ID)
		}
	}
	return cols
}

// IsKey reports whether col is part of the primary key.
func (t *Table) IsKey(col ColumnID) bool {
	for _, k := range t.PrimaryKey {
		if k == col {
			return true
		}
	}
	return false
}

// KeyOf extracts the primary key of row.
func (t *Table) KeyOf(row Row) Key {
	key := make(Key, len(t.PrimaryKey))
	for i, col := range t.PrimaryKey {
		key[i] = row[col]
	}
	return key
}

// KeyRow returns a row holding only the primary key columns set to key.
func (t *Table) KeyRow(key Key) (Row, error) {
	if len(key) != len(t.PrimaryKey) {
		return nil, errors.Errorf("schema: table %s expects %d key values, got %d", t.Name, len(t.PrimaryKey), len(key))
	}
	row := make(Row, len(key))
	for i, col := range t.PrimaryKey {
		c, _ := t.Column(col)
		v, err := CheckValue(c, key[i])
		if err != nil {
			return nil, err
		}
		row[col] = v
	}
	return row, nil
}

// ZeroRow returns a row with every non-obsolete column set to its type's zero value.
func (t *Table) ZeroRow() Row {
	row := make(Row, len(t.Columns))
	for _, c := range t.Columns {
		if !c.Obsolete {
			row[c.ID] = c.Type.Zero()
		}
	}
	return row
}
