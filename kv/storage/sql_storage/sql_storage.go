package sql_storage

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyrecord/kv/config"
	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/pingcap-incubator/tinyrecord/kv/storage"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

const driverName = "sqlserver"

// SQL Server error numbers the store translates.
const (
	errLockTimeout      = 1222
	errDuplicateKey     = 2627
	errDuplicateIndexed = 2601
)

// SQLStorage is a Storage on Microsoft SQL Server. Every table of the schema maps to the SQL table of the same name
// whose columns carry the schema's column names; the bookkeeping timestamp column is a rowversion.
//
// Read hints become table hints on every statement, so the server does all locking; the server's own
// READUNCOMMITTED semantics apply to None reads.
type SQLStorage struct {
	// LockTimeout is applied with SET LOCK_TIMEOUT at the start of every transaction. Zero waits indefinitely.
	LockTimeout time.Duration

	dsn     string
	db      *sql.DB
	session atomic.Uint64
}

func NewSQLStorage(conf *config.Config) *SQLStorage {
	return &SQLStorage{
		LockTimeout: time.Duration(conf.LockTimeout),
		dsn:         conf.DSN,
	}
}

func (ss *SQLStorage) Start() error {
	db, err := sql.Open(driverName, ss.dsn)
	if err != nil {
		return errors.Trace(err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return errors.Annotate(err, "connect to sql server")
	}
	ss.db = db
	return nil
}

func (ss *SQLStorage) Stop() error {
	if ss.db == nil {
		return nil
	}
	err := ss.db.Close()
	ss.db = nil
	return errors.Trace(err)
}

func (ss *SQLStorage) NewSession() storage.Session {
	return &sqlSession{id: ss.session.Inc(), inner: ss}
}

// lockTimeoutStatement returns the statement that bounds lock waits of a connection.
func lockTimeoutStatement(d time.Duration) string {
	ms := int64(-1)
	if d > 0 {
		ms = int64(d / time.Millisecond)
	}
	return "SET LOCK_TIMEOUT " + strconv.FormatInt(ms, 10)
}

type sqlSession struct {
	id    uint64
	inner *SQLStorage
	tx    *sql.Tx
}

func (s *sqlSession) ID() uint64 {
	return s.id
}

func (s *sqlSession) Begin(ctx context.Context) error {
	if s.tx != nil {
		return nil
	}
	tx, err := s.inner.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Trace(err)
	}
	if _, err = tx.ExecContext(ctx, lockTimeoutStatement(s.inner.LockTimeout)); err != nil {
		tx.Rollback()
		return errors.Trace(err)
	}
	s.tx = tx
	return nil
}

func (s *sqlSession) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	return errors.Trace(err)
}

func (s *sqlSession) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	return errors.Trace(err)
}

func (s *sqlSession) Close() error {
	return s.Rollback(context.Background())
}

func (s *sqlSession) FetchByKey(ctx context.Context, table *schema.Table, key schema.Key, columns []schema.ColumnID, hint lock.Strength) (schema.Row, error) {
	keyRow, err := table.KeyRow(key)
	if err != nil {
		return nil, err
	}
	if err = s.Begin(ctx); err != nil {
		return nil, err
	}
	st, cols := renderFetch(table, table.KeyOf(keyRow), columns, hint)
	rows, err := s.tx.QueryContext(ctx, st.String(), st.args...)
	if err != nil {
		return nil, convertError(table, key, hint, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return nil, convertError(table, key, hint, err)
		}
		return nil, storage.ErrNotFound
	}
	row, err := scanRow(rows, cols)
	if err != nil {
		return nil, convertError(table, key, hint, err)
	}
	return row, nil
}

// Query runs q at once and returns a cursor over the buffered result. Locks taken by the statement follow the
// server's rules for the hint.
func (s *sqlSession) Query(ctx context.Context, q storage.Query) (storage.Cursor, error) {
	if q.Table == nil {
		return nil, errors.New("storage: query without table")
	}
	if err := s.Begin(ctx); err != nil {
		return nil, err
	}
	st, cols := renderSelect(q)
	log.Debugf("sql session %d: %s", s.id, st)
	rows, err := s.tx.QueryContext(ctx, st.String(), st.args...)
	if err != nil {
		return nil, convertError(q.Table, nil, q.Hint, err)
	}
	defer rows.Close()
	var result []schema.Row
	for rows.Next() {
		row, err := scanRow(rows, cols)
		if err != nil {
			return nil, convertError(q.Table, nil, q.Hint, err)
		}
		result = append(result, row)
	}
	if err = rows.Err(); err != nil {
		return nil, convertError(q.Table, nil, q.Hint, err)
	}
	return &sliceCursor{rows: result}, nil
}

func (s *sqlSession) Write(ctx context.Context, table *schema.Table, op storage.Op, row schema.Row) (schema.Row, error) {
	key := table.KeyOf(row)
	if _, err := table.KeyRow(key); err != nil {
		return nil, err
	}
	var full schema.Row
	var err error
	if op != storage.OpDelete {
		if full, err = storage.Normalize(table, row); err != nil {
			return nil, err
		}
		full[schema.TimestampColumn] = row.Version()
	}
	if err = s.Begin(ctx); err != nil {
		return nil, err
	}

	var st *statement
	switch op {
	case storage.OpInsert:
		st = renderInsert(table, full)
	case storage.OpModify:
		st = renderUpdate(table, full)
	case storage.OpDelete:
		st = renderDelete(table, row)
	default:
		return nil, errors.Errorf("storage: unknown write op %d", op)
	}

	if op == storage.OpDelete {
		res, err := s.tx.ExecContext(ctx, st.String(), st.args...)
		if err != nil {
			return nil, convertError(table, key, lock.Exclusive, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, errors.Trace(err)
		}
		if n == 0 {
			return nil, s.explainMiss(ctx, table, key, row.Version())
		}
		return nil, nil
	}

	var version int64
	err = s.tx.QueryRowContext(ctx, st.String(), st.args...).Scan(&version)
	if err == sql.ErrNoRows {
		return nil, s.explainMiss(ctx, table, key, row.Version())
	}
	if err != nil {
		return nil, convertError(table, key, lock.Exclusive, err)
	}
	full[schema.TimestampColumn] = version
	return full.Clone(), nil
}

// explainMiss tells apart the two reasons a version-guarded write can match no row.
func (s *sqlSession) explainMiss(ctx context.Context, table *schema.Table, key schema.Key, expected int64) error {
	current, err := s.FetchByKey(ctx, table, key, []schema.ColumnID{schema.TimestampColumn}, lock.Update)
	if err != nil {
		return err
	}
	return &storage.ErrVersionConflict{Table: table.Name, Key: key, Expected: expected, Actual: current.Version()}
}

// convertError translates the SQL Server errors the record layer understands into storage errors.
func convertError(table *schema.Table, key schema.Key, hint lock.Strength, err error) error {
	var number int32
	switch e := errors.Cause(err).(type) {
	case mssql.Error:
		number = e.Number
	case *mssql.Error:
		number = e.Number
	default:
		return errors.Trace(err)
	}
	switch number {
	case errLockTimeout:
		return &storage.ErrLockTimeout{Table: table.Name, Key: key, Strength: hint}
	case errDuplicateKey, errDuplicateIndexed:
		return &storage.ErrKeyExists{Table: table.Name, Key: key}
	}
	return errors.Trace(err)
}

type sliceCursor struct {
	rows []schema.Row
	pos  int
}

func (c *sliceCursor) Next(ctx context.Context) (schema.Row, bool, error) {
	if c.pos >= len(c.rows) {
		return nil, false, nil
	}
	row := c.rows[c.pos]
	c.pos++
	return row, true, nil
}

func (c *sliceCursor) Close() {
	c.pos = len(c.rows)
}
