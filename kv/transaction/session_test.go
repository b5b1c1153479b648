package transaction

import (
	"context"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/pingcap-incubator/tinyrecord/kv/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	colID schema.ColumnID = iota + 1
	colName
)

func itemTable() *schema.Table {
	return schema.MustNewTable(27, "Item", []schema.ColumnID{colID},
		schema.Column{ID: colID, Name: "No", Type: schema.TypeText},
		schema.Column{ID: colName, Name: "Description", Type: schema.TypeText},
	)
}

func TestContextIsCreatedLazily(t *testing.T) {
	s := NewSession(storage.NewMemStorage(), lock.TriState)
	ctx := context.Background()
	assert.Nil(t, s.Current())

	tx, err := s.Context(ctx)
	require.Nil(t, err)
	again, err := s.Context(ctx)
	require.Nil(t, err)
	assert.Equal(t, tx, again)
	assert.Equal(t, tx, s.Current())

	require.Nil(t, s.Commit(ctx))
	assert.True(t, tx.Ended())
	assert.Nil(t, s.Current())

	next, err := s.Context(ctx)
	require.Nil(t, err)
	assert.NotEqual(t, tx.ID(), next.ID())
	assert.False(t, next.Ended())
}

func TestTransactionEndResetsTableStates(t *testing.T) {
	for _, end := range []func(*Session, context.Context) error{(*Session).Commit, (*Session).Rollback} {
		s := NewSession(storage.NewMemStorage(), lock.TriState)
		ctx := context.Background()
		tx, err := s.Context(ctx)
		require.Nil(t, err)

		assert.Equal(t, lock.None, tx.ReadHint(27))
		tx.OnWrite(27)
		assert.True(t, tx.Written())
		assert.Equal(t, lock.Shared, tx.ReadHint(27))
		assert.Equal(t, lock.None, tx.ReadHint(18))
		tx.LockTable(18)
		assert.Equal(t, lock.Update, tx.ReadHint(18))

		require.Nil(t, end(s, ctx))
		tx, err = s.Context(ctx)
		require.Nil(t, err)
		assert.False(t, tx.Written())
		assert.Equal(t, lock.Unlocked, tx.State(27))
		assert.Equal(t, lock.Unlocked, tx.State(18))
		assert.Equal(t, lock.None, tx.ReadHint(27))
	}
}

func TestTwoStateSession(t *testing.T) {
	s := NewSession(storage.NewMemStorage(), lock.TwoState)
	tx, err := s.Context(context.Background())
	require.Nil(t, err)
	assert.Equal(t, lock.TwoState, tx.Mode())
	tx.OnWrite(27)
	assert.Equal(t, lock.WrittenOrLocked, tx.State(27))
	assert.Equal(t, lock.Update, tx.ReadHint(27))
}

func TestEndWithoutTransaction(t *testing.T) {
	s := NewSession(storage.NewMemStorage(), lock.TriState)
	assert.Nil(t, s.Commit(context.Background()))
	assert.Nil(t, s.Rollback(context.Background()))
	assert.Nil(t, s.Close())
}

func TestRollbackDiscardsStoreWrites(t *testing.T) {
	ms := storage.NewMemStorage()
	tbl := itemTable()
	s := NewSession(ms, lock.TriState)
	ctx := context.Background()

	tx, err := s.Context(ctx)
	require.Nil(t, err)
	tx.OnWrite(tbl.ID)
	_, err = tx.Store().Write(ctx, tbl, storage.OpInsert, schema.Row{colID: "1000", colName: "Bicycle"})
	require.Nil(t, err)
	assert.Equal(t, 1, ms.Len(tbl.ID))

	require.Nil(t, s.Rollback(ctx))
	assert.Equal(t, 0, ms.Len(tbl.ID))

	tx, err = s.Context(ctx)
	require.Nil(t, err)
	tx.OnWrite(tbl.ID)
	_, err = tx.Store().Write(ctx, tbl, storage.OpInsert, schema.Row{colID: "1000", colName: "Bicycle"})
	require.Nil(t, err)
	require.Nil(t, s.Commit(ctx))
	assert.Equal(t, "Bicycle", ms.Get(tbl, schema.Key{"1000"})[colName])
}

func TestEndedContextKeepsItsOwnStates(t *testing.T) {
	s := NewSession(storage.NewMemStorage(), lock.TriState)
	ctx := context.Background()
	first, err := s.Context(ctx)
	require.Nil(t, err)
	first.LockTable(27)
	require.Nil(t, s.Commit(ctx))
	assert.Equal(t, lock.Unlocked, first.State(27))

	second, err := s.Context(ctx)
	require.Nil(t, err)
	second.OnWrite(18)
	assert.Equal(t, lock.Written, second.State(18))
	assert.Equal(t, lock.Unlocked, first.State(18))
	assert.False(t, first.Written())
}

func TestReadOnlyCommitReleasesLocks(t *testing.T) {
	ms := storage.NewMemStorage()
	ms.LockTimeout = 20 * time.Millisecond
	tbl := itemTable()
	require.Nil(t, ms.Put(tbl, schema.Row{colID: "1000", colName: "Bicycle"}))
	ctx := context.Background()

	reader := NewSession(ms, lock.TriState)
	tx, err := reader.Context(ctx)
	require.Nil(t, err)
	_, err = tx.Store().FetchByKey(ctx, tbl, schema.Key{"1000"}, nil, lock.Update)
	require.Nil(t, err)
	assert.False(t, tx.Written())

	writer := NewSession(ms, lock.TriState)
	wtx, err := writer.Context(ctx)
	require.Nil(t, err)
	_, err = wtx.Store().FetchByKey(ctx, tbl, schema.Key{"1000"}, nil, lock.Update)
	_, timeout := err.(*storage.ErrLockTimeout)
	require.True(t, timeout, "%v", err)

	require.Nil(t, reader.Commit(ctx))
	_, err = wtx.Store().FetchByKey(ctx, tbl, schema.Key{"1000"}, nil, lock.Update)
	assert.Nil(t, err)
}
