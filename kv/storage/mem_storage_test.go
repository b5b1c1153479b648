package storage

import (
	"context"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	colNo schema.ColumnID = iota + 1
	colName
	colCity
	colBalance
)

func customerTable() *schema.Table {
	return schema.MustNewTable(18, "Customer", []schema.ColumnID{colNo},
		schema.Column{ID: colNo, Name: "No", Type: schema.TypeText},
		schema.Column{ID: colName, Name: "Name", Type: schema.TypeText},
		schema.Column{ID: colCity, Name: "City", Type: schema.TypeText},
		schema.Column{ID: colBalance, Name: "Balance", Type: schema.TypeDecimal},
	)
}

func seeded(t *testing.T) (*MemStorage, *schema.Table) {
	ms := NewMemStorage()
	ms.LockTimeout = 20 * time.Millisecond
	tbl := customerTable()
	for _, r := range []schema.Row{
		{colNo: "C1", colName: "Adatum", colCity: "Oslo", colBalance: 10.0},
		{colNo: "C2", colName: "Trey", colCity: "Bergen", colBalance: 20.0},
		{colNo: "C3", colName: "Fabrikam", colCity: "Oslo", colBalance: 30.0},
		{colNo: "C4", colName: "Contoso", colCity: "Oslo", colBalance: 5.0},
	} {
		require.Nil(t, ms.Put(tbl, r))
	}
	return ms, tbl
}

func collect(t *testing.T, c Cursor) []string {
	var keys []string
	for {
		row, ok, err := c.Next(context.Background())
		require.Nil(t, err)
		if !ok {
			return keys
		}
		keys = append(keys, row[colNo].(string))
	}
}

func TestQueryOrderAndFilters(t *testing.T) {
	ms, tbl := seeded(t)
	s := ms.NewSession()
	ctx := context.Background()

	c, err := s.Query(ctx, Query{Table: tbl})
	require.Nil(t, err)
	assert.Equal(t, []string{"C1", "C2", "C3", "C4"}, collect(t, c))

	c, err = s.Query(ctx, Query{Table: tbl, Filters: []Filter{{Column: colCity, Kind: FilterEqual, Value: "Oslo"}}, Sort: SortKey{Columns: []schema.ColumnID{colBalance}}})
	require.Nil(t, err)
	assert.Equal(t, []string{"C4", "C1", "C3"}, collect(t, c))

	c, err = s.Query(ctx, Query{Table: tbl, Filters: []Filter{{Column: colBalance, Kind: FilterRange, From: 10.0, To: 20.0}}, Sort: SortKey{Descending: true}})
	require.Nil(t, err)
	assert.Equal(t, []string{"C2", "C1"}, collect(t, c))

	c, err = s.Query(ctx, Query{Table: tbl, Limit: 2, After: schema.Row{colNo: "C1"}})
	require.Nil(t, err)
	assert.Equal(t, []string{"C2", "C3"}, collect(t, c))
}

func TestQueryProjectsColumns(t *testing.T) {
	ms, tbl := seeded(t)
	s := ms.NewSession()
	c, err := s.Query(context.Background(), Query{Table: tbl, Columns: []schema.ColumnID{colNo, colName}})
	require.Nil(t, err)
	row, ok, err := c.Next(context.Background())
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, schema.Row{colNo: "C1", colName: "Adatum"}, row)
}

func TestWriteVersionCheck(t *testing.T) {
	ms, tbl := seeded(t)
	s := ms.NewSession()
	ctx := context.Background()

	row, err := s.FetchByKey(ctx, tbl, schema.Key{"C1"}, nil, lock.None)
	require.Nil(t, err)
	stale := row.Clone()

	row[colName] = "Adatum Corp"
	written, err := s.Write(ctx, tbl, OpModify, row)
	require.Nil(t, err)
	assert.NotEqual(t, row.Version(), written.Version())

	stale[colName] = "Lost update"
	_, err = s.Write(ctx, tbl, OpModify, stale)
	conflict, ok := err.(*ErrVersionConflict)
	require.True(t, ok, "%v", err)
	assert.Equal(t, written.Version(), conflict.Actual)

	_, err = s.Write(ctx, tbl, OpInsert, schema.Row{colNo: "C1"})
	_, ok = err.(*ErrKeyExists)
	assert.True(t, ok)

	_, err = s.Write(ctx, tbl, OpDelete, schema.Row{colNo: "C9"})
	assert.True(t, IsNotFound(err))

	_, err = s.FetchByKey(ctx, tbl, schema.Key{"C9"}, nil, lock.None)
	assert.True(t, IsNotFound(err))
}

func TestRollbackRestoresRows(t *testing.T) {
	ms, tbl := seeded(t)
	s := ms.NewSession()
	ctx := context.Background()

	row, err := s.FetchByKey(ctx, tbl, schema.Key{"C2"}, nil, lock.None)
	require.Nil(t, err)
	_, err = s.Write(ctx, tbl, OpDelete, row)
	require.Nil(t, err)
	_, err = s.Write(ctx, tbl, OpInsert, schema.Row{colNo: "C5", colName: "New"})
	require.Nil(t, err)
	assert.Equal(t, 4, ms.Len(tbl.ID))

	require.Nil(t, s.Rollback(ctx))
	assert.Equal(t, 4, ms.Len(tbl.ID))
	assert.Nil(t, ms.Get(tbl, schema.Key{"C5"}))
	assert.Equal(t, "Trey", ms.Get(tbl, schema.Key{"C2"})[colName])
}

func TestUncommittedWritesAndLocks(t *testing.T) {
	ms, tbl := seeded(t)
	a, b := ms.NewSession(), ms.NewSession()
	ctx := context.Background()

	row, err := a.FetchByKey(ctx, tbl, schema.Key{"C1"}, nil, lock.None)
	require.Nil(t, err)
	row[colName] = "Dirty"
	_, err = a.Write(ctx, tbl, OpModify, row)
	require.Nil(t, err)

	// A None read sees the uncommitted value and does not wait.
	dirty, err := b.FetchByKey(ctx, tbl, schema.Key{"C1"}, nil, lock.None)
	require.Nil(t, err)
	assert.Equal(t, "Dirty", dirty[colName])

	// A Shared read waits for the exclusive lock and times out.
	_, err = b.FetchByKey(ctx, tbl, schema.Key{"C1"}, nil, lock.Shared)
	timeout, ok := err.(*ErrLockTimeout)
	require.True(t, ok, "%v", err)
	assert.Equal(t, schema.Key{"C1"}, timeout.Key)
	assert.Equal(t, lock.Shared, timeout.Strength)

	require.Nil(t, a.Commit(ctx))
	committed, err := b.FetchByKey(ctx, tbl, schema.Key{"C1"}, nil, lock.Shared)
	require.Nil(t, err)
	assert.Equal(t, "Dirty", committed[colName])
}

func TestSharedAndUpdateReads(t *testing.T) {
	ms, tbl := seeded(t)
	a, b := ms.NewSession(), ms.NewSession()
	ctx := context.Background()

	_, err := a.FetchByKey(ctx, tbl, schema.Key{"C3"}, nil, lock.Shared)
	require.Nil(t, err)
	_, err = b.FetchByKey(ctx, tbl, schema.Key{"C3"}, nil, lock.Shared)
	require.Nil(t, err)

	_, err = a.FetchByKey(ctx, tbl, schema.Key{"C3"}, nil, lock.Update)
	require.Nil(t, err)
	_, err = b.FetchByKey(ctx, tbl, schema.Key{"C3"}, nil, lock.Shared)
	_, ok := err.(*ErrLockTimeout)
	assert.True(t, ok)
	_, err = b.FetchByKey(ctx, tbl, schema.Key{"C3"}, nil, lock.Update)
	_, ok = err.(*ErrLockTimeout)
	assert.True(t, ok)

	ms.LockTimeout = 0
	done := make(chan error, 1)
	go func() {
		_, err := b.FetchByKey(ctx, tbl, schema.Key{"C3"}, nil, lock.Update)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.Nil(t, a.Commit(ctx))
	assert.Nil(t, <-done)
}

func TestCursorSkipsRowsDeletedAfterOpen(t *testing.T) {
	ms, tbl := seeded(t)
	a, b := ms.NewSession(), ms.NewSession()
	ctx := context.Background()

	c, err := a.Query(ctx, Query{Table: tbl})
	require.Nil(t, err)
	row, err := b.FetchByKey(ctx, tbl, schema.Key{"C2"}, nil, lock.None)
	require.Nil(t, err)
	_, err = b.Write(ctx, tbl, OpDelete, row)
	require.Nil(t, err)
	require.Nil(t, b.Commit(ctx))

	assert.Equal(t, []string{"C1", "C3", "C4"}, collect(t, c))
}
