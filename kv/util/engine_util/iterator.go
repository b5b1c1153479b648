package engine_util

import (
	"github.com/coocood/badger"
)

// PrefixIterator walks the keys of a badger transaction that share a prefix. Keys are returned without the prefix.
type PrefixIterator struct {
	iter   *badger.Iterator
	prefix []byte
}

func NewPrefixIterator(txn *badger.Txn, prefix []byte) *PrefixIterator {
	return &PrefixIterator{
		iter:   txn.NewIterator(badger.DefaultIteratorOptions),
		prefix: prefix,
	}
}

// Valid returns false when iteration is done.
func (it *PrefixIterator) Valid() bool { return it.iter.ValidForPrefix(it.prefix) }

// Rewind positions the iterator on the first key of the prefix.
func (it *PrefixIterator) Rewind() {
	it.iter.Seek(it.prefix)
}

// Seek positions the iterator on the first key not less than prefix+key.
func (it *PrefixIterator) Seek(key []byte) {
	it.iter.Seek(append(append([]byte{}, it.prefix...), key...))
}

func (it *PrefixIterator) Next() {
	it.iter.Next()
}

// KeyCopy returns the current key without the prefix.
func (it *PrefixIterator) KeyCopy() []byte {
	return it.iter.Item().KeyCopy(nil)[len(it.prefix):]
}

// FullKeyCopy returns the current key including the prefix.
func (it *PrefixIterator) FullKeyCopy() []byte {
	return it.iter.Item().KeyCopy(nil)
}

func (it *PrefixIterator) ValueCopy() ([]byte, error) {
	return it.iter.Item().ValueCopy(nil)
}

func (it *PrefixIterator) Close() {
	it.iter.Close()
}
