package storage

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/pingcap-incubator/tinyrecord/kv/util/codec"
	"github.com/pingcap-incubator/tinyrecord/kv/util/lockwaiter"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// DefaultLockTimeout bounds every lock wait unless the store is configured otherwise.
const DefaultLockTimeout = 10 * time.Second

// MemStorage is a Storage backed by memory. Writes are applied in place as soon as they are made, so a None read
// observes uncommitted data exactly like READUNCOMMITTED on a relational backend. Exclusive row locks keep other
// locking readers and writers away until the writer's transaction ends, and an undo log restores rows on rollback.
// Data is not written to disk.
type MemStorage struct {
	// LockTimeout bounds lock waits. Zero waits as long as the request context allows.
	LockTimeout time.Duration

	mu      sync.RWMutex
	tables  map[schema.TableID]*btree.BTree
	locks   *lockwaiter.Manager
	session atomic.Uint64
	version atomic.Int64
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		LockTimeout: DefaultLockTimeout,
		tables:      make(map[schema.TableID]*btree.BTree),
		locks:       lockwaiter.NewManager(),
	}
}

func (ms *MemStorage) Start() error {
	return nil
}

func (ms *MemStorage) Stop() error {
	return nil
}

func (ms *MemStorage) NewSession() Session {
	return &memSession{id: ms.session.Inc(), inner: ms}
}

// Put stores row directly, outside of any transaction and without locks. Missing columns get zero values and a
// missing timestamp gets a fresh version. Intended for seeding tests.
func (ms *MemStorage) Put(table *schema.Table, row schema.Row) error {
	full, err := Normalize(table, row)
	if err != nil {
		return err
	}
	if row.Version() == 0 {
		full[schema.TimestampColumn] = ms.version.Inc()
	}
	key, err := EncodeRowKey(table, table.KeyOf(full))
	if err != nil {
		return err
	}
	ms.mu.Lock()
	ms.tree(table.ID).ReplaceOrInsert(memItem{key: key, row: full})
	ms.mu.Unlock()
	return nil
}

// Get returns the stored row for key, or nil.
func (ms *MemStorage) Get(table *schema.Table, key schema.Key) schema.Row {
	enc, err := EncodeRowKey(table, key)
	if err != nil {
		return nil
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	row := ms.get(table.ID, enc)
	return row.Clone()
}

// Len returns the number of rows in table.
func (ms *MemStorage) Len(table schema.TableID) int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if t, ok := ms.tables[table]; ok {
		return t.Len()
	}
	return 0
}

// tree should be used under write lock protection.
func (ms *MemStorage) tree(table schema.TableID) *btree.BTree {
	t, ok := ms.tables[table]
	if !ok {
		t = btree.New(32)
		ms.tables[table] = t
	}
	return t
}

// get should be used under lock protection.
func (ms *MemStorage) get(table schema.TableID, key []byte) schema.Row {
	t, ok := ms.tables[table]
	if !ok {
		return nil
	}
	item := t.Get(memItem{key: key})
	if item == nil {
		return nil
	}
	return item.(memItem).row
}

// EncodeRowKey encodes the primary key of a row of table into its memcomparable form.
func EncodeRowKey(table *schema.Table, key schema.Key) ([]byte, error) {
	row, err := table.KeyRow(key)
	if err != nil {
		return nil, err
	}
	values := make([]interface{}, len(table.PrimaryKey))
	for i, col := range table.PrimaryKey {
		values[i] = row[col]
	}
	return codec.EncodeKey(nil, values...)
}

// LockKey names the row lock of an encoded row key.
func LockKey(table schema.TableID, encodedKey []byte) string {
	return string(codec.EncodeInt(nil, int64(table))) + string(encodedKey)
}

// AcquireRowLock takes strength on a row through locks, translating a wait timeout into ErrLockTimeout. It
// returns the strength the owner held before, so statement-duration locks can be given back with ReleaseTo.
func AcquireRowLock(ctx context.Context, locks *lockwaiter.Manager, owner uint64, table *schema.Table, encodedKey []byte, strength lock.Strength, timeout time.Duration) (lock.Strength, error) {
	lk := LockKey(table.ID, encodedKey)
	prev := locks.Held(owner, lk)
	if err := locks.Acquire(ctx, owner, lk, strength, timeout); err != nil {
		if err == lockwaiter.ErrWaitTimeout {
			values, _ := codec.DecodeKey(encodedKey)
			return prev, &ErrLockTimeout{Table: table.Name, Key: schema.Key(values), Strength: strength}
		}
		return prev, err
	}
	return prev, nil
}

// ReleaseStatementLock gives back a Shared lock taken for a single read.
func ReleaseStatementLock(locks *lockwaiter.Manager, owner uint64, table schema.TableID, encodedKey []byte, strength, prev lock.Strength) {
	if strength == lock.Shared && prev < lock.Shared {
		locks.ReleaseTo(owner, LockKey(table, encodedKey), prev)
	}
}

type undoEntry struct {
	table schema.TableID
	key   []byte
	// prev is nil if the row did not exist before the write.
	prev schema.Row
}

type memSession struct {
	id    uint64
	inner *MemStorage
	undo  []undoEntry
}

func (s *memSession) ID() uint64 {
	return s.id
}

func (s *memSession) Begin(ctx context.Context) error {
	return nil
}

func (s *memSession) Commit(ctx context.Context) error {
	log.Debugf("mem session %d: commit, %d writes", s.id, len(s.undo))
	s.undo = nil
	s.inner.locks.ReleaseAll(s.id)
	return nil
}

func (s *memSession) Rollback(ctx context.Context) error {
	log.Debugf("mem session %d: rollback, %d writes", s.id, len(s.undo))
	s.inner.mu.Lock()
	for i := len(s.undo) - 1; i >= 0; i-- {
		u := s.undo[i]
		t := s.inner.tree(u.table)
		if u.prev == nil {
			t.Delete(memItem{key: u.key})
		} else {
			t.ReplaceOrInsert(memItem{key: u.key, row: u.prev})
		}
	}
	s.inner.mu.Unlock()
	s.undo = nil
	s.inner.locks.ReleaseAll(s.id)
	return nil
}

func (s *memSession) Close() error {
	return s.Rollback(context.Background())
}

// readRow reads the row at key under hint. It returns nil if the row does not exist.
func (s *memSession) readRow(ctx context.Context, table *schema.Table, key []byte, hint lock.Strength) (schema.Row, error) {
	prev, err := AcquireRowLock(ctx, s.inner.locks, s.id, table, key, hint, s.inner.LockTimeout)
	if err != nil {
		return nil, err
	}
	s.inner.mu.RLock()
	row := s.inner.get(table.ID, key)
	s.inner.mu.RUnlock()
	ReleaseStatementLock(s.inner.locks, s.id, table.ID, key, hint, prev)
	return row, nil
}

func (s *memSession) FetchByKey(ctx context.Context, table *schema.Table, key schema.Key, columns []schema.ColumnID, hint lock.Strength) (schema.Row, error) {
	enc, err := EncodeRowKey(table, key)
	if err != nil {
		return nil, err
	}
	row, err := s.readRow(ctx, table, enc, hint)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return Project(row, columns), nil
}

func (s *memSession) Query(ctx context.Context, q Query) (Cursor, error) {
	if q.Table == nil {
		return nil, errors.New("storage: query without table")
	}
	type candidate struct {
		key []byte
		row schema.Row
	}
	var candidates []candidate
	s.inner.mu.RLock()
	if t, ok := s.inner.tables[q.Table.ID]; ok {
		t.Ascend(func(i btree.Item) bool {
			item := i.(memItem)
			if !Match(item.row, q.Filters) {
				return true
			}
			if q.After != nil && CompareRows(q.Table, q.Sort, item.row, q.After) <= 0 {
				return true
			}
			candidates = append(candidates, candidate{key: item.key, row: item.row})
			return true
		})
	}
	s.inner.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return CompareRows(q.Table, q.Sort, candidates[i].row, candidates[j].row) < 0
	})
	keys := make([][]byte, len(candidates))
	for i, c := range candidates {
		keys[i] = c.key
	}
	return &memCursor{session: s, query: q, keys: keys}, nil
}

func (s *memSession) Write(ctx context.Context, table *schema.Table, op Op, row schema.Row) (schema.Row, error) {
	key := table.KeyOf(row)
	enc, err := EncodeRowKey(table, key)
	if err != nil {
		return nil, err
	}
	var full schema.Row
	if op != OpDelete {
		if full, err = Normalize(table, row); err != nil {
			return nil, err
		}
	}
	if _, err = AcquireRowLock(ctx, s.inner.locks, s.id, table, enc, lock.Exclusive, s.inner.LockTimeout); err != nil {
		return nil, err
	}

	s.inner.mu.Lock()
	defer s.inner.mu.Unlock()
	existing := s.inner.get(table.ID, enc)
	switch op {
	case OpInsert:
		if existing != nil {
			return nil, &ErrKeyExists{Table: table.Name, Key: key}
		}
	case OpModify, OpDelete:
		if existing == nil {
			return nil, ErrNotFound
		}
		if existing.Version() != row.Version() {
			return nil, &ErrVersionConflict{Table: table.Name, Key: key, Expected: row.Version(), Actual: existing.Version()}
		}
	default:
		return nil, errors.Errorf("storage: unknown write op %d", op)
	}
	s.undo = append(s.undo, undoEntry{table: table.ID, key: enc, prev: existing})

	t := s.inner.tree(table.ID)
	if op == OpDelete {
		t.Delete(memItem{key: enc})
		return nil, nil
	}
	full[schema.TimestampColumn] = s.inner.version.Inc()
	t.ReplaceOrInsert(memItem{key: enc, row: full})
	return full.Clone(), nil
}

type memCursor struct {
	session  *memSession
	query    Query
	keys     [][]byte
	pos      int
	returned int
}

func (c *memCursor) Next(ctx context.Context) (schema.Row, bool, error) {
	for c.pos < len(c.keys) {
		if c.query.Limit > 0 && c.returned >= c.query.Limit {
			return nil, false, nil
		}
		key := c.keys[c.pos]
		row, err := c.session.readRow(ctx, c.query.Table, key, c.query.Hint)
		if err != nil {
			return nil, false, err
		}
		c.pos++
		// The row may have been deleted or changed since the cursor was opened.
		if row == nil || !Match(row, c.query.Filters) {
			continue
		}
		c.returned++
		return Project(row, c.query.Columns), true, nil
	}
	return nil, false, nil
}

func (c *memCursor) Close() {
	c.pos = len(c.keys)
}

type memItem struct {
	key []byte
	row schema.Row
}

func (it memItem) Less(than btree.Item) bool {
	other := than.(memItem)
	return bytes.Compare(it.key, other.key) < 0
}
