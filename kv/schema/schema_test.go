package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable() *Table {
	return MustNewTable(18, "Customer", []ColumnID{1},
		Column{ID: 1, Name: "No", Type: TypeText},
		Column{ID: 2, Name: "Name", Type: TypeText},
		Column{ID: 3, Name: "Balance", Type: TypeDecimal},
		Column{ID: 4, Name: "Fax", Type: TypeText, Obsolete: true},
	)
}

func TestNewTableAddsTimestamp(t *testing.T) {
	tbl := testTable()
	c, ok := tbl.Column(TimestampColumn)
	require.True(t, ok)
	assert.Equal(t, TypeInt, c.Type)
	assert.Equal(t, []ColumnID{TimestampColumn, 1, 2, 3}, tbl.NonObsolete())
}

func TestTableValidate(t *testing.T) {
	_, err := NewTable(1, "NoKey", nil, Column{ID: 1, Name: "A", Type: TypeInt})
	assert.NotNil(t, err)

	_, err = NewTable(1, "Dup", []ColumnID{1}, Column{ID: 1, Name: "A", Type: TypeInt}, Column{ID: 1, Name: "B", Type: TypeInt})
	assert.NotNil(t, err)

	_, err = NewTable(1, "ObsoleteKey", []ColumnID{1}, Column{ID: 1, Name: "A", Type: TypeInt, Obsolete: true})
	assert.NotNil(t, err)
}

func TestCheckValue(t *testing.T) {
	tbl := testTable()
	name, _ := tbl.Column(2)
	balance, _ := tbl.Column(3)

	v, err := CheckValue(balance, 12)
	assert.Nil(t, err)
	assert.Equal(t, float64(12), v)

	_, err = CheckValue(name, 12)
	require.NotNil(t, err)
	fae, ok := err.(*ErrInvalidFieldAccess)
	require.True(t, ok)
	assert.Equal(t, TypeText, fae.Want)
	assert.Equal(t, "int", fae.Got)
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, -1, CompareValues(int64(1), int64(2)))
	assert.Equal(t, 1, CompareValues("b", "a"))
	assert.Equal(t, 0, CompareValues(true, true))
	assert.Equal(t, -1, CompareValues(nil, "a"))
	now := time.Now()
	assert.Equal(t, 1, CompareValues(now.Add(time.Second), now))
}

func TestKeyRow(t *testing.T) {
	tbl := testTable()
	row, err := tbl.KeyRow(Key{"C001"})
	require.Nil(t, err)
	assert.Equal(t, Row{1: "C001"}, row)
	assert.Equal(t, Key{"C001"}, tbl.KeyOf(row))

	_, err = tbl.KeyRow(Key{"a", "b"})
	assert.NotNil(t, err)
}

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	require.Nil(t, c.Register(testTable()))
	assert.NotNil(t, c.Register(testTable()))
	tbl, ok := c.TableByName("Customer")
	require.True(t, ok)
	assert.Equal(t, TableID(18), tbl.ID)
	_, ok = c.Table(99)
	assert.False(t, ok)
}
