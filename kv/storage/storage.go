package storage

import (
	"context"

	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
)

// Storage is the relational backend the record layer runs against. It executes row-oriented reads and writes
// honoring the isolation hint of every request, and is the only arbiter of conflicts between sessions. One Storage
// is shared by every session of a process.
type Storage interface {
	Start() error
	Stop() error
	// NewSession opens an independent connection to the store. Sessions are not safe for concurrent use.
	NewSession() Session
}

// Session is one connection to the store. It runs at most one store transaction at a time; the first read or write
// after Begin, Commit or Rollback implicitly starts one. Locks taken with Update or Exclusive strength are held until
// the transaction ends; Shared locks are held only while a row is read.
type Session interface {
	ID() uint64
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Query opens a forward cursor over the rows of q.Table that match q.
	Query(ctx context.Context, q Query) (Cursor, error)
	// FetchByKey reads one row by primary key. It returns ErrNotFound if the row does not exist.
	FetchByKey(ctx context.Context, table *schema.Table, key schema.Key, columns []schema.ColumnID, hint lock.Strength) (schema.Row, error)
	// Write applies op to row and returns the row as stored. Modify and Delete check the row's timestamp column
	// against the stored version.
	Write(ctx context.Context, table *schema.Table, op Op, row schema.Row) (schema.Row, error)

	Close() error
}

// Cursor iterates the rows of a query. Next returns false once the rows are exhausted.
type Cursor interface {
	Next(ctx context.Context) (schema.Row, bool, error)
	Close()
}

type Op int

const (
	OpInsert Op = iota
	OpModify
	OpDelete
)

func (op Op) String() string {
	switch op {
	case OpInsert:
		return "Insert"
	case OpModify:
		return "Modify"
	case OpDelete:
		return "Delete"
	}
	return "Unknown"
}
