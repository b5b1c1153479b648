package badger_storage

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/coocood/badger"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyrecord/kv/config"
	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/pingcap-incubator/tinyrecord/kv/storage"
	"github.com/pingcap-incubator/tinyrecord/kv/transaction/latches"
	"github.com/pingcap-incubator/tinyrecord/kv/util/codec"
	"github.com/pingcap-incubator/tinyrecord/kv/util/engine_util"
	"github.com/pingcap-incubator/tinyrecord/kv/util/lockwaiter"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

var versionKey = engine_util.MetaKey("version")

// BadgerStorage is a Storage for a single process, with all data stored locally in badger.
//
// A session stages its writes in memory and flushes them in one badger update on commit, so other sessions never
// observe uncommitted rows: a None read returns the last committed version of a row. Writers hold Exclusive row
// locks until commit, so a Shared or Update read of a row being written waits for the writer to finish.
type BadgerStorage struct {
	// LockTimeout bounds lock waits. Zero waits as long as the request context allows.
	LockTimeout time.Duration

	conf    config.Config
	db      *badger.DB
	locks   *lockwaiter.Manager
	latches *latches.Latches
	session atomic.Uint64
	version atomic.Int64
}

func NewBadgerStorage(conf *config.Config) *BadgerStorage {
	return &BadgerStorage{
		LockTimeout: time.Duration(conf.LockTimeout),
		conf:        *conf,
		locks:       lockwaiter.NewManager(),
		latches:     latches.NewLatches(),
	}
}

func (bs *BadgerStorage) Start() error {
	db, err := engine_util.CreateDB(bs.conf.DBPath, bs.conf.SyncWrites)
	if err != nil {
		return err
	}
	val, err := engine_util.Get(db, versionKey)
	switch {
	case err == badger.ErrKeyNotFound:
	case err != nil:
		db.Close()
		return errors.Trace(err)
	default:
		_, v, err := codec.DecodeInt(val)
		if err != nil {
			db.Close()
			return errors.Annotate(err, "decode row version")
		}
		bs.version.Store(v)
	}
	bs.db = db
	log.Infof("badger storage started at %s, row version %d", bs.conf.DBPath, bs.version.Load())
	return nil
}

func (bs *BadgerStorage) Stop() error {
	if bs.db == nil {
		return nil
	}
	err := bs.db.Close()
	bs.db = nil
	return errors.Trace(err)
}

func (bs *BadgerStorage) NewSession() storage.Session {
	return &badgerSession{id: bs.session.Inc(), inner: bs}
}

// Put stores row directly, outside of any transaction and without row locks. Missing columns get zero values and
// a missing timestamp gets a fresh version.
func (bs *BadgerStorage) Put(table *schema.Table, row schema.Row) error {
	full, err := storage.Normalize(table, row)
	if err != nil {
		return err
	}
	if row.Version() == 0 {
		full[schema.TimestampColumn] = bs.version.Inc()
	}
	key, err := storage.EncodeRowKey(table, table.KeyOf(full))
	if err != nil {
		return err
	}
	val, err := encodeRow(full)
	if err != nil {
		return err
	}
	ek := engine_util.RowKey(uint32(table.ID), key)
	return bs.latches.Run([][]byte{ek, versionKey}, func() error {
		batch := new(engine_util.WriteBatch)
		batch.Set(ek, val)
		batch.Set(versionKey, codec.EncodeInt(nil, bs.version.Load()))
		return batch.WriteToDB(bs.db)
	})
}

// Get returns the committed row for key, or nil.
func (bs *BadgerStorage) Get(table *schema.Table, key schema.Key) schema.Row {
	enc, err := storage.EncodeRowKey(table, key)
	if err != nil {
		return nil
	}
	row, err := bs.committed(table, engine_util.RowKey(uint32(table.ID), enc))
	if err != nil {
		log.Warnf("badger storage: read %s %v: %v", table.Name, key, err)
		return nil
	}
	return row
}

// committed reads the committed row at engine key ek. It returns nil if the row does not exist.
func (bs *BadgerStorage) committed(table *schema.Table, ek []byte) (schema.Row, error) {
	val, err := engine_util.Get(bs.db, ek)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return decodeRow(table, val)
}

type badgerSession struct {
	id    uint64
	inner *BadgerStorage
	// pending holds the rows written by the current transaction, by engine key. A nil row is a delete.
	pending map[string]schema.Row
}

func (s *badgerSession) ID() uint64 {
	return s.id
}

func (s *badgerSession) Begin(ctx context.Context) error {
	return nil
}

func (s *badgerSession) Commit(ctx context.Context) error {
	defer s.end()
	if len(s.pending) == 0 {
		return nil
	}
	log.Debugf("badger session %d: commit, %d writes", s.id, len(s.pending))
	batch := new(engine_util.WriteBatch)
	keys := make([][]byte, 0, len(s.pending)+1)
	for k, row := range s.pending {
		ek := []byte(k)
		keys = append(keys, ek)
		if row == nil {
			batch.Delete(ek)
			continue
		}
		val, err := encodeRow(row)
		if err != nil {
			return err
		}
		batch.Set(ek, val)
	}
	keys = append(keys, versionKey)
	return s.inner.latches.Run(keys, func() error {
		batch.Set(versionKey, codec.EncodeInt(nil, s.inner.version.Load()))
		return batch.WriteToDB(s.inner.db)
	})
}

func (s *badgerSession) Rollback(ctx context.Context) error {
	if len(s.pending) > 0 {
		log.Debugf("badger session %d: rollback, %d writes", s.id, len(s.pending))
	}
	s.end()
	return nil
}

func (s *badgerSession) end() {
	s.pending = nil
	s.inner.locks.ReleaseAll(s.id)
}

func (s *badgerSession) Close() error {
	return s.Rollback(context.Background())
}

// lookup returns the row at ek as this session sees it: its own staged write, or the committed row.
func (s *badgerSession) lookup(table *schema.Table, ek []byte) (schema.Row, error) {
	if row, ok := s.pending[string(ek)]; ok {
		return row, nil
	}
	return s.inner.committed(table, ek)
}

// readRow reads the row with encoded primary key key under hint. It returns nil if the row does not exist.
func (s *badgerSession) readRow(ctx context.Context, table *schema.Table, key []byte, hint lock.Strength) (schema.Row, error) {
	prev, err := storage.AcquireRowLock(ctx, s.inner.locks, s.id, table, key, hint, s.inner.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer storage.ReleaseStatementLock(s.inner.locks, s.id, table.ID, key, hint, prev)
	return s.lookup(table, engine_util.RowKey(uint32(table.ID), key))
}

func (s *badgerSession) FetchByKey(ctx context.Context, table *schema.Table, key schema.Key, columns []schema.ColumnID, hint lock.Strength) (schema.Row, error) {
	enc, err := storage.EncodeRowKey(table, key)
	if err != nil {
		return nil, err
	}
	row, err := s.readRow(ctx, table, enc, hint)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, storage.ErrNotFound
	}
	return storage.Project(row, columns), nil
}

type candidate struct {
	key []byte
	row schema.Row
}

func (s *badgerSession) Query(ctx context.Context, q storage.Query) (storage.Cursor, error) {
	if q.Table == nil {
		return nil, errors.New("storage: query without table")
	}
	prefix := engine_util.TablePrefix(uint32(q.Table.ID))
	keep := func(row schema.Row) bool {
		if !storage.Match(row, q.Filters) {
			return false
		}
		return q.After == nil || storage.CompareRows(q.Table, q.Sort, row, q.After) > 0
	}

	var candidates []candidate
	err := s.inner.db.View(func(txn *badger.Txn) error {
		it := engine_util.NewPrefixIterator(txn, prefix)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.KeyCopy()
			if _, ok := s.pending[string(prefix)+string(key)]; ok {
				continue
			}
			val, err := it.ValueCopy()
			if err != nil {
				return err
			}
			row, err := decodeRow(q.Table, val)
			if err != nil {
				return err
			}
			if keep(row) {
				candidates = append(candidates, candidate{key: key, row: row})
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	for k, row := range s.pending {
		ek := []byte(k)
		if row == nil || !bytes.HasPrefix(ek, prefix) || !keep(row) {
			continue
		}
		candidates = append(candidates, candidate{key: ek[len(prefix):], row: row})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return storage.CompareRows(q.Table, q.Sort, candidates[i].row, candidates[j].row) < 0
	})
	keys := make([][]byte, len(candidates))
	for i, c := range candidates {
		keys[i] = c.key
	}
	return &badgerCursor{session: s, query: q, keys: keys}, nil
}

func (s *badgerSession) Write(ctx context.Context, table *schema.Table, op storage.Op, row schema.Row) (schema.Row, error) {
	key := table.KeyOf(row)
	enc, err := storage.EncodeRowKey(table, key)
	if err != nil {
		return nil, err
	}
	var full schema.Row
	if op != storage.OpDelete {
		if full, err = storage.Normalize(table, row); err != nil {
			return nil, err
		}
	}
	if _, err = storage.AcquireRowLock(ctx, s.inner.locks, s.id, table, enc, lock.Exclusive, s.inner.LockTimeout); err != nil {
		return nil, err
	}

	ek := engine_util.RowKey(uint32(table.ID), enc)
	err = s.inner.latches.Run([][]byte{ek}, func() error {
		existing, err := s.lookup(table, ek)
		if err != nil {
			return err
		}
		switch op {
		case storage.OpInsert:
			if existing != nil {
				return &storage.ErrKeyExists{Table: table.Name, Key: key}
			}
		case storage.OpModify, storage.OpDelete:
			if existing == nil {
				return storage.ErrNotFound
			}
			if existing.Version() != row.Version() {
				return &storage.ErrVersionConflict{Table: table.Name, Key: key, Expected: row.Version(), Actual: existing.Version()}
			}
		default:
			return errors.Errorf("storage: unknown write op %d", op)
		}
		if s.pending == nil {
			s.pending = make(map[string]schema.Row)
		}
		if op == storage.OpDelete {
			s.pending[string(ek)] = nil
			return nil
		}
		full[schema.TimestampColumn] = s.inner.version.Inc()
		s.pending[string(ek)] = full
		return nil
	})
	if err != nil || op == storage.OpDelete {
		return nil, err
	}
	return full.Clone(), nil
}

type badgerCursor struct {
	session  *badgerSession
	query    storage.Query
	keys     [][]byte
	pos      int
	returned int
}

func (c *badgerCursor) Next(ctx context.Context) (schema.Row, bool, error) {
	for c.pos < len(c.keys) {
		if c.query.Limit > 0 && c.returned >= c.query.Limit {
			return nil, false, nil
		}
		row, err := c.session.readRow(ctx, c.query.Table, c.keys[c.pos], c.query.Hint)
		if err != nil {
			return nil, false, err
		}
		c.pos++
		if row == nil || !storage.Match(row, c.query.Filters) {
			continue
		}
		c.returned++
		return storage.Project(row, c.query.Columns), true, nil
	}
	return nil, false, nil
}

func (c *badgerCursor) Close() {
	c.pos = len(c.keys)
}
