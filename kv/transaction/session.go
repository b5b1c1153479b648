package transaction

import (
	"context"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap-incubator/tinyrecord/kv/storage"
	"github.com/pingcap/errors"
)

// Session runs the transactions of one logical thread of control against a store. It is not safe for concurrent
// use; concurrency comes from several sessions sharing one store.
type Session struct {
	conn storage.Session
	mode lock.Mode
	cur  *Context
}

// NewSession opens a store connection on store and returns a session whose transactions track table locks in mode.
func NewSession(store storage.Storage, mode lock.Mode) *Session {
	return &Session{
		conn: store.NewSession(),
		mode: mode,
	}
}

// Context returns the active transaction, starting one if there is none.
func (s *Session) Context(ctx context.Context) (*Context, error) {
	if s.cur != nil {
		return s.cur, nil
	}
	if err := s.conn.Begin(ctx); err != nil {
		return nil, errors.Trace(err)
	}
	s.cur = newContext(s.mode, s.conn)
	log.Debugf("session %d: begin transaction %d", s.conn.ID(), s.cur.id)
	return s.cur, nil
}

// Current returns the active transaction, or nil if none was started since the last commit or rollback.
func (s *Session) Current() *Context {
	return s.cur
}

// Mode returns the locking mode of the session's transactions.
func (s *Session) Mode() lock.Mode {
	return s.mode
}

// Commit commits the active transaction. Committing without an active transaction is a no-op. A transaction that
// wrote nothing has nothing to commit; its store transaction is rolled back, which releases its read locks.
func (s *Session) Commit(ctx context.Context) error {
	if s.cur == nil {
		return nil
	}
	var err error
	if s.cur.Written() {
		log.Debugf("session %d: commit transaction %d", s.conn.ID(), s.cur.id)
		err = s.conn.Commit(ctx)
	} else {
		log.Debugf("session %d: end read-only transaction %d", s.conn.ID(), s.cur.id)
		err = s.conn.Rollback(ctx)
	}
	s.end()
	return errors.Trace(err)
}

// Rollback discards the active transaction's writes. Rolling back without an active transaction is a no-op.
func (s *Session) Rollback(ctx context.Context) error {
	if s.cur == nil {
		return nil
	}
	log.Debugf("session %d: rollback transaction %d", s.conn.ID(), s.cur.id)
	err := s.conn.Rollback(ctx)
	s.end()
	return errors.Trace(err)
}

// Close rolls back the active transaction and closes the store connection.
func (s *Session) Close() error {
	if err := s.Rollback(context.Background()); err != nil {
		return err
	}
	return s.conn.Close()
}

func (s *Session) end() {
	s.cur.end()
	s.cur = nil
}
