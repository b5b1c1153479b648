package record

import (
	"fmt"

	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/pingcap-incubator/tinyrecord/kv/storage"
	"github.com/pingcap/errors"
)

// Errors a store can return through the record layer unchanged.
type (
	ErrLockTimeout        = storage.ErrLockTimeout
	ErrKeyExists          = storage.ErrKeyExists
	ErrInvalidFieldAccess = schema.ErrInvalidFieldAccess
)

// ErrInconsistentRead is returned by a JIT load that finds a column the record had already loaded changed in the
// store. The record is left as it was before the access.
type ErrInconsistentRead struct {
	Table  string
	Key    schema.Key
	Column string
}

func (e *ErrInconsistentRead) Error() string {
	return fmt.Sprintf("inconsistent read: %s %v, column %s changed since the record was read", e.Table, e.Key, e.Column)
}

// ErrStaleRow is returned when the row a record was read from no longer exists, either at a JIT load or at a write.
type ErrStaleRow struct {
	Table string
	Key   schema.Key
}

func (e *ErrStaleRow) Error() string {
	return fmt.Sprintf("stale row: %s %v no longer exists", e.Table, e.Key)
}

// ErrWriteConflict is returned when a write targets a row another session changed since it was read.
type ErrWriteConflict struct {
	Table string
	Key   schema.Key
}

func (e *ErrWriteConflict) Error() string {
	return fmt.Sprintf("write conflict: %s %v was changed by another session since it was read", e.Table, e.Key)
}

var (
	ErrNoRecord  = errors.New("record: no record is loaded")
	ErrTransient = errors.New("record: transient record cannot access the store")
)

// convertStoreError turns an error of a store read or write of row key into the error the caller of the record
// operation sees.
func convertStoreError(table *schema.Table, key schema.Key, err error) error {
	if err == nil {
		return nil
	}
	switch e := errors.Cause(err).(type) {
	case *storage.ErrVersionConflict:
		writeConflictCounter.Inc()
		return &ErrWriteConflict{Table: table.Name, Key: key}
	case *storage.ErrLockTimeout:
		lockTimeoutCounter.Inc()
		return e
	case *storage.ErrKeyExists, *schema.ErrInvalidFieldAccess, *ErrStaleRow, *ErrInconsistentRead:
		return e
	}
	if storage.IsNotFound(err) {
		return &ErrStaleRow{Table: table.Name, Key: key}
	}
	return errors.Trace(err)
}
