package record

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/pingcap-incubator/tinyrecord/kv/storage"
	"github.com/pingcap-incubator/tinyrecord/kv/transaction"
	"github.com/stretchr/testify/require"
)

const (
	colNo schema.ColumnID = iota + 1
	colName
	colCity
	colBalance
	colCredit
	colBlocked
	colCreated
	colFax
)

func customerTable() *schema.Table {
	return schema.MustNewTable(18, "Customer", []schema.ColumnID{colNo},
		schema.Column{ID: colNo, Name: "No", Type: schema.TypeText},
		schema.Column{ID: colName, Name: "Name", Type: schema.TypeText},
		schema.Column{ID: colCity, Name: "City", Type: schema.TypeText},
		schema.Column{ID: colBalance, Name: "Balance", Type: schema.TypeDecimal},
		schema.Column{ID: colCredit, Name: "Credit Limit", Type: schema.TypeInt},
		schema.Column{ID: colBlocked, Name: "Blocked", Type: schema.TypeBool},
		schema.Column{ID: colCreated, Name: "Created", Type: schema.TypeDateTime},
		schema.Column{ID: colFax, Name: "Fax No", Type: schema.TypeText, Obsolete: true},
	)
}

var created = time.Date(2019, 7, 1, 9, 30, 0, 0, time.UTC)

// recordingStorage remembers the hint of every read its sessions make.
type recordingStorage struct {
	*storage.MemStorage

	mu      sync.Mutex
	hints   []lock.Strength
	fetches int
	queries int
}

func (r *recordingStorage) NewSession() storage.Session {
	return &recordingSession{Session: r.MemStorage.NewSession(), rec: r}
}

func (r *recordingStorage) lastHint() lock.Strength {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hints[len(r.hints)-1]
}

func (r *recordingStorage) counts() (fetches, queries int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches, r.queries
}

type recordingSession struct {
	storage.Session
	rec *recordingStorage
}

func (s *recordingSession) FetchByKey(ctx context.Context, table *schema.Table, key schema.Key, columns []schema.ColumnID, hint lock.Strength) (schema.Row, error) {
	s.rec.mu.Lock()
	s.rec.hints = append(s.rec.hints, hint)
	s.rec.fetches++
	s.rec.mu.Unlock()
	return s.Session.FetchByKey(ctx, table, key, columns, hint)
}

func (s *recordingSession) Query(ctx context.Context, q storage.Query) (storage.Cursor, error) {
	s.rec.mu.Lock()
	s.rec.hints = append(s.rec.hints, q.Hint)
	s.rec.queries++
	s.rec.mu.Unlock()
	return s.Session.Query(ctx, q)
}

type testEnv struct {
	t     *testing.T
	ctx   context.Context
	store *recordingStorage
	table *schema.Table
	mode  lock.Mode
	opts  Options
}

func newTestEnv(t *testing.T, mode lock.Mode) *testEnv {
	ms := storage.NewMemStorage()
	ms.LockTimeout = 20 * time.Millisecond
	env := &testEnv{
		t:     t,
		ctx:   context.Background(),
		store: &recordingStorage{MemStorage: ms},
		table: customerTable(),
		mode:  mode,
	}
	for _, r := range []schema.Row{
		{colNo: "C1", colName: "Adatum", colCity: "Oslo", colBalance: 10.0, colCredit: int64(1000), colCreated: created},
		{colNo: "C2", colName: "Trey", colCity: "Bergen", colBalance: 20.0, colCredit: int64(2000), colCreated: created},
		{colNo: "C3", colName: "Fabrikam", colCity: "Oslo", colBalance: 30.0, colCredit: int64(3000), colCreated: created},
		{colNo: "C4", colName: "Contoso", colCity: "Oslo", colBalance: 5.0, colCredit: int64(4000), colCreated: created},
		{colNo: "C5", colName: "Litware", colCity: "Bergen", colBalance: 25.0, colCredit: int64(5000), colCreated: created},
	} {
		require.Nil(t, ms.Put(env.table, r))
	}
	return env
}

func (env *testEnv) session() *transaction.Session {
	return transaction.NewSession(env.store, env.mode)
}

func (env *testEnv) handle(s *transaction.Session) *Handle {
	return NewHandle(s, env.table, env.opts)
}

// modify changes one column of row key in its own session and commits.
func (env *testEnv) modify(key string, col schema.ColumnID, v interface{}) {
	s := env.session()
	defer s.Close()
	h := env.handle(s)
	ok, err := h.Get(env.ctx, key)
	require.Nil(env.t, err)
	require.True(env.t, ok)
	require.Nil(env.t, h.SetValue(col, v))
	require.Nil(env.t, h.Modify(env.ctx))
	require.Nil(env.t, s.Commit(env.ctx))
}

// remove deletes row key in its own session and commits.
func (env *testEnv) remove(key string) {
	s := env.session()
	defer s.Close()
	h := env.handle(s)
	ok, err := h.Get(env.ctx, key)
	require.Nil(env.t, err)
	require.True(env.t, ok)
	require.Nil(env.t, h.Delete(env.ctx))
	require.Nil(env.t, s.Commit(env.ctx))
}

func (env *testEnv) text(h *Handle, col schema.ColumnID) string {
	v, err := h.Text(env.ctx, col)
	require.Nil(env.t, err)
	return v
}

// iterate collects the primary keys of the remaining rows of h's iteration.
func (env *testEnv) iterate(h *Handle, ok bool, err error) []string {
	var keys []string
	for {
		require.Nil(env.t, err)
		if !ok {
			return keys
		}
		keys = append(keys, h.Key()[0].(string))
		ok, err = h.Next(env.ctx)
	}
}
