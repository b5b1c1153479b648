package engine_util

import (
	"github.com/coocood/badger"
	"github.com/pingcap-incubator/tinyrecord/kv/util/codec"
)

var (
	tablePrefix  = []byte{'t'}
	rowSeparator = []byte{'r'}
	metaPrefix   = []byte{'m'}
)

// TablePrefix returns the prefix shared by every row key of table: t{table}r.
func TablePrefix(table uint32) []byte {
	b := append([]byte{}, tablePrefix...)
	b = codec.EncodeInt(b, int64(table))
	return append(b, rowSeparator...)
}

// RowKey returns the engine key of the row of table whose memcomparable primary key is key.
func RowKey(table uint32, key []byte) []byte {
	return append(TablePrefix(table), key...)
}

// MetaKey returns the engine key of a piece of store metadata.
func MetaKey(name string) []byte {
	return append(append([]byte{}, metaPrefix...), name...)
}

func Get(db *badger.DB, key []byte) (val []byte, err error) {
	err = db.View(func(txn *badger.Txn) error {
		val, err = GetFromTxn(txn, key)
		return err
	})
	return
}

func GetFromTxn(txn *badger.Txn, key []byte) (val []byte, err error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	val, err = item.ValueCopy(val)
	return
}

func Put(db *badger.DB, key []byte, val []byte) error {
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func Delete(db *badger.DB, key []byte) error {
	return db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// DeleteTable removes every row of table.
func DeleteTable(db *badger.DB, table uint32) error {
	batch := new(WriteBatch)
	err := db.View(func(txn *badger.Txn) error {
		it := NewPrefixIterator(txn, TablePrefix(table))
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			batch.Delete(it.FullKeyCopy())
		}
		return nil
	})
	if err != nil {
		return err
	}
	return batch.WriteToDB(db)
}
