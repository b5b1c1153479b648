package sql_storage

import (
	"database/sql"
	"testing"
	"time"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/pingcap-incubator/tinyrecord/kv/storage"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	colNo schema.ColumnID = iota + 1
	colName
	colCity
	colBalance
	colFax
)

func customerTable() *schema.Table {
	return schema.MustNewTable(18, "Customer", []schema.ColumnID{colNo},
		schema.Column{ID: colNo, Name: "No", Type: schema.TypeText},
		schema.Column{ID: colName, Name: "Name", Type: schema.TypeText},
		schema.Column{ID: colCity, Name: "City", Type: schema.TypeText},
		schema.Column{ID: colBalance, Name: "Balance", Type: schema.TypeDecimal},
		schema.Column{ID: colFax, Name: "Fax", Type: schema.TypeText, Obsolete: true},
	)
}

func TestTableHints(t *testing.T) {
	assert.Equal(t, "WITH(READUNCOMMITTED)", tableHint(lock.None))
	assert.Equal(t, "WITH(READCOMMITTED, READCOMMITTEDLOCK)", tableHint(lock.Shared))
	assert.Equal(t, "WITH(UPDLOCK)", tableHint(lock.Update))
	assert.Equal(t, "WITH(UPDLOCK, HOLDLOCK)", tableHint(lock.Exclusive))
}

func TestRenderSelect(t *testing.T) {
	tbl := customerTable()
	st, cols := renderSelect(storage.Query{
		Table:   tbl,
		Columns: []schema.ColumnID{schema.TimestampColumn, colNo, colName},
		Filters: []storage.Filter{
			{Column: colCity, Kind: storage.FilterEqual, Value: "Oslo"},
			{Column: colBalance, Kind: storage.FilterRange, From: 10.0},
		},
		Sort: storage.SortKey{Columns: []schema.ColumnID{colBalance}, Descending: true},
		Hint: lock.Update,
	})
	assert.Equal(t, "SELECT CONVERT(BIGINT, [timestamp]) AS [timestamp], [No] AS [No], [Name] AS [Name] "+
		"FROM [Customer] WITH(UPDLOCK) WHERE [City] = @p1 AND [Balance] >= @p2 "+
		"ORDER BY [Balance] DESC, [No] DESC", st.String())
	assert.Equal(t, []interface{}{"Oslo", 10.0}, st.args)
	assert.Len(t, cols, 3)

	// Obsolete columns are never selected.
	st, cols = renderSelect(storage.Query{Table: tbl, Limit: 1})
	assert.Equal(t, "SELECT TOP (1) CONVERT(BIGINT, [timestamp]) AS [timestamp], [No] AS [No], [Name] AS [Name], "+
		"[City] AS [City], [Balance] AS [Balance] FROM [Customer] WITH(READUNCOMMITTED) ORDER BY [No] ASC", st.String())
	assert.Len(t, cols, 5)
}

func TestRenderSelectAfter(t *testing.T) {
	tbl := customerTable()
	st, _ := renderSelect(storage.Query{
		Table:   tbl,
		Columns: []schema.ColumnID{colNo},
		Filters: []storage.Filter{{Column: colBalance, Kind: storage.FilterRange, From: 1.0, To: 9.0}},
		Sort:    storage.SortKey{Columns: []schema.ColumnID{colCity}},
		After:   schema.Row{colCity: "Oslo", colNo: "C3"},
		Hint:    lock.Shared,
	})
	assert.Equal(t, "SELECT [No] AS [No] FROM [Customer] WITH(READCOMMITTED, READCOMMITTEDLOCK) "+
		"WHERE [Balance] BETWEEN @p1 AND @p2 AND (([City] > @p3) OR ([City] = @p4 AND [No] > @p5)) "+
		"ORDER BY [City] ASC, [No] ASC", st.String())
	assert.Equal(t, []interface{}{1.0, 9.0, "Oslo", "Oslo", "C3"}, st.args)
}

func TestRenderWrites(t *testing.T) {
	tbl := customerTable()
	row := schema.Row{schema.TimestampColumn: int64(42), colNo: "C1", colName: "Adatum", colCity: "Oslo", colBalance: 1.5}

	st := renderInsert(tbl, row)
	assert.Equal(t, "INSERT INTO [Customer] ([No], [Name], [City], [Balance]) "+
		"OUTPUT CONVERT(BIGINT, INSERTED.[timestamp]) VALUES (@p1, @p2, @p3, @p4)", st.String())
	assert.Equal(t, []interface{}{"C1", "Adatum", "Oslo", 1.5}, st.args)

	st = renderUpdate(tbl, row)
	assert.Equal(t, "UPDATE [Customer] SET [Name] = @p1, [City] = @p2, [Balance] = @p3 "+
		"OUTPUT CONVERT(BIGINT, INSERTED.[timestamp]) WHERE [No] = @p4 AND CONVERT(BIGINT, [timestamp]) = @p5", st.String())
	assert.Equal(t, []interface{}{"Adatum", "Oslo", 1.5, "C1", int64(42)}, st.args)

	st = renderDelete(tbl, row)
	assert.Equal(t, "DELETE FROM [Customer] WHERE [No] = @p1 AND CONVERT(BIGINT, [timestamp]) = @p2", st.String())

	keyOnly := schema.MustNewTable(5, "Tag", []schema.ColumnID{1}, schema.Column{ID: 1, Name: "Code", Type: schema.TypeText})
	st = renderUpdate(keyOnly, schema.Row{1: "X"})
	assert.Equal(t, "UPDATE [Tag] SET [Code] = [Code] OUTPUT CONVERT(BIGINT, INSERTED.[timestamp]) "+
		"WHERE [Code] = @p1 AND CONVERT(BIGINT, [timestamp]) = @p2", st.String())
}

func TestRenderFetchQuotesNames(t *testing.T) {
	tbl := schema.MustNewTable(7, "Sales Line]", []schema.ColumnID{1},
		schema.Column{ID: 1, Name: "Document No.", Type: schema.TypeText})
	st, _ := renderFetch(tbl, schema.Key{"D1"}, []schema.ColumnID{1}, lock.None)
	assert.Equal(t, "SELECT [Document No.] AS [Document No.] FROM [Sales Line]]] WITH(READUNCOMMITTED) "+
		"WHERE [Document No.] = @p1", st.String())
}

func TestLockTimeoutStatement(t *testing.T) {
	assert.Equal(t, "SET LOCK_TIMEOUT 250", lockTimeoutStatement(250*time.Millisecond))
	assert.Equal(t, "SET LOCK_TIMEOUT -1", lockTimeoutStatement(0))
}

func TestConvertError(t *testing.T) {
	tbl := customerTable()
	key := schema.Key{"C1"}

	err := convertError(tbl, key, lock.Update, mssql.Error{Number: 1222, Message: "Lock request time out period exceeded."})
	timeout, ok := err.(*storage.ErrLockTimeout)
	require.True(t, ok, "%v", err)
	assert.Equal(t, lock.Update, timeout.Strength)
	assert.Equal(t, "Customer", timeout.Table)

	for _, n := range []int32{2627, 2601} {
		err = convertError(tbl, key, lock.Exclusive, errors.Trace(mssql.Error{Number: n}))
		exists, ok := err.(*storage.ErrKeyExists)
		require.True(t, ok, "%v", err)
		assert.Equal(t, key, exists.Key)
	}

	err = convertError(tbl, key, lock.None, mssql.Error{Number: 208})
	_, ok = errors.Cause(err).(mssql.Error)
	assert.True(t, ok)
	assert.Equal(t, sql.ErrConnDone, errors.Cause(convertError(tbl, key, lock.None, sql.ErrConnDone)))
}

type fakeRow []interface{}

func (r fakeRow) Scan(dest ...interface{}) error {
	for i, d := range dest {
		if r[i] == nil {
			continue
		}
		switch x := d.(type) {
		case *sql.NullInt64:
			*x = sql.NullInt64{Int64: r[i].(int64), Valid: true}
		case *sql.NullFloat64:
			*x = sql.NullFloat64{Float64: r[i].(float64), Valid: true}
		case *sql.NullString:
			*x = sql.NullString{String: r[i].(string), Valid: true}
		}
	}
	return nil
}

func TestScanRow(t *testing.T) {
	tbl := customerTable()
	cols := selectColumns(tbl, []schema.ColumnID{schema.TimestampColumn, colNo, colCity, colBalance})
	row, err := scanRow(fakeRow{int64(3), "C1", nil, 2.5}, cols)
	require.Nil(t, err)
	assert.Equal(t, schema.Row{schema.TimestampColumn: int64(3), colNo: "C1", colCity: "", colBalance: 2.5}, row)
}
