package engine_util

import (
	"os"

	"github.com/coocood/badger"
	"github.com/pingcap/errors"
)

// CreateDB opens the badger database at path, creating the directory if needed.
func CreateDB(path string, syncWrites bool) (*badger.DB, error) {
	opts := badger.DefaultOptions
	opts.Dir = path
	opts.ValueDir = opts.Dir
	opts.SyncWrites = syncWrites
	if err := os.MkdirAll(opts.Dir, os.ModePerm); err != nil {
		return nil, errors.Trace(err)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Annotatef(err, "open badger at %s", path)
	}
	return db, nil
}

// DestroyDB closes db and removes its files.
func DestroyDB(db *badger.DB, path string) error {
	if err := db.Close(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.RemoveAll(path))
}
