package storage

import (
	"fmt"

	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/pingcap/errors"
)

// ErrNotFound is returned when a row addressed by key does not exist.
var ErrNotFound = errors.New("storage: row not found")

// ErrLockTimeout is returned when a lock of the requested strength could not be acquired in time. Nothing was
// changed by the failed call; the caller may retry.
type ErrLockTimeout struct {
	Table    string
	Key      schema.Key
	Strength lock.Strength
}

func (e *ErrLockTimeout) Error() string {
	return fmt.Sprintf("storage: lock timeout, table: %s, key: %v, strength: %v", e.Table, e.Key, e.Strength)
}

// ErrKeyExists is the structured conflict returned when an insert violates the primary key.
type ErrKeyExists struct {
	Table string
	Key   schema.Key
}

func (e *ErrKeyExists) Error() string {
	return fmt.Sprintf("storage: key already exists, table: %s, key: %v", e.Table, e.Key)
}

// ErrVersionConflict is returned when a modify or delete names a row version other than the stored one, i.e. the
// row was changed by someone else since it was read.
type ErrVersionConflict struct {
	Table    string
	Key      schema.Key
	Expected int64
	Actual   int64
}

func (e *ErrVersionConflict) Error() string {
	return fmt.Sprintf("storage: version conflict, table: %s, key: %v, expected: %d, actual: %d", e.Table, e.Key, e.Expected, e.Actual)
}

// IsNotFound reports whether err, or its cause, is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrNotFound
}
