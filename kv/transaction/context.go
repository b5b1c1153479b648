package transaction

import (
	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/pingcap-incubator/tinyrecord/kv/storage"
	"go.uber.org/atomic"
)

var generation atomic.Uint64

// Context is the state of one active transaction: the lock state of every table it touched, whether it wrote
// anything, and the store connection it runs on. A Context is owned by its Session. Once the transaction ended, its
// tables read as Unlocked again and later transactions of the session never show through it.
type Context struct {
	id      uint64
	tracker *lock.Tracker
	store   storage.Session
	written bool
	ended   bool
}

func newContext(mode lock.Mode, store storage.Session) *Context {
	return &Context{id: generation.Inc(), tracker: lock.NewTracker(mode), store: store}
}

// ID identifies the transaction. IDs are unique within the process.
func (c *Context) ID() uint64 {
	return c.id
}

// Store returns the store connection the transaction runs on.
func (c *Context) Store() storage.Session {
	return c.store
}

func (c *Context) Mode() lock.Mode {
	return c.tracker.Mode()
}

// ReadHint returns the isolation hint for the next read of table.
func (c *Context) ReadHint(table schema.TableID) lock.Strength {
	return c.tracker.OnRead(table)
}

// State returns the lock state of table.
func (c *Context) State(table schema.TableID) lock.TableState {
	return c.tracker.State(table)
}

// OnWrite escalates table before a write is sent to the store. The escalation stands even if the write fails.
func (c *Context) OnWrite(table schema.TableID) {
	c.written = true
	c.tracker.OnWrite(table)
}

// LockTable escalates table on an explicit lock request.
func (c *Context) LockTable(table schema.TableID) {
	c.tracker.OnExplicitLock(table)
}

// Written reports whether any table was written in this transaction.
func (c *Context) Written() bool {
	return c.written
}

// Ended reports whether the transaction was committed or rolled back.
func (c *Context) Ended() bool {
	return c.ended
}

func (c *Context) end() {
	c.tracker.OnTransactionEnd()
	c.ended = true
}
