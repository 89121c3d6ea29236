package engine_util

import (
	"bytes"

	"github.com/Connor1996/badger"
	"github.com/Connor1996/badger/y"
)

type DBIterator interface {
	// Item returns pointer to the current key-value pair.
	Item() DBItem
	// Valid returns false when iteration is done.
	Valid() bool
	// Next would advance the iterator by one. Always check it.Valid() after a Next()
	// to ensure you have access to a valid it.Item().
	Next()
	// Seek would seek to the provided key if present. If absent, it would seek to the next key in iteration
	// order: the smallest greater key when iterating forward, the largest smaller key in reverse.
	Seek([]byte)
	// Rewind positions the iterator on the first key in iteration order.
	Rewind()
	// Close the iterator
	Close()
}

type DBItem interface {
	// Key returns the key.
	Key() []byte
	// KeyCopy returns a copy of the key of the item, writing it to dst slice.
	// If nil is passed, or capacity of dst isn't sufficient, a new slice would be allocated and
	// returned.
	KeyCopy(dst []byte) []byte
	// Value retrieves the value of the item.
	Value() ([]byte, error)
	// ValueSize returns the size of the value.
	ValueSize() int
	// ValueCopy returns a copy of the value of the item from the value log, writing it to dst slice.
	// If nil is passed, or capacity of dst isn't sufficient, a new slice would be allocated and
	// returned.
	ValueCopy(dst []byte) ([]byte, error)
}

type CFItem struct {
	item      *badger.Item
	prefixLen int
}

// String returns a string representation of Item
func (i *CFItem) String() string {
	return i.item.String()
}

func (i *CFItem) Key() []byte {
	return i.item.Key()[i.prefixLen:]
}

func (i *CFItem) KeyCopy(dst []byte) []byte {
	return y.SafeCopy(dst, i.Key())
}

func (i *CFItem) Version() uint64 {
	return i.item.Version()
}

func (i *CFItem) Value() ([]byte, error) {
	return i.item.Value()
}

func (i *CFItem) ValueSize() int {
	return i.item.ValueSize()
}

func (i *CFItem) ValueCopy(dst []byte) ([]byte, error) {
	return i.item.ValueCopy(dst)
}

// CFIterOptions restricts a column family iterator. LowerBound is inclusive and UpperBound exclusive; both are
// user keys without the column family prefix.
type CFIterOptions struct {
	Reverse    bool
	LowerBound []byte
	UpperBound []byte
}

type BadgerIterator struct {
	iter   *badger.Iterator
	prefix []byte
	upper  []byte
	opts   CFIterOptions
}

func NewCFIterator(cf string, txn *badger.Txn) *BadgerIterator {
	return NewCFIteratorWithOptions(cf, txn, CFIterOptions{})
}

func NewCFIteratorWithOptions(cf string, txn *badger.Txn, opts CFIterOptions) *BadgerIterator {
	iterOpts := badger.DefaultIteratorOptions
	iterOpts.Reverse = opts.Reverse
	return &BadgerIterator{
		iter:   txn.NewIterator(iterOpts),
		prefix: CFPrefix(cf),
		upper:  CFUpperBound(cf),
		opts:   opts,
	}
}

func (it *BadgerIterator) Item() DBItem {
	return &CFItem{
		item:      it.iter.Item(),
		prefixLen: len(it.prefix),
	}
}

func (it *BadgerIterator) Valid() bool {
	if !it.iter.ValidForPrefix(it.prefix) {
		return false
	}
	key := it.iter.Item().Key()[len(it.prefix):]
	if it.opts.Reverse {
		return !BeforeStartKey(key, it.opts.LowerBound)
	}
	return !ExceedEndKey(key, it.opts.UpperBound)
}

func (it *BadgerIterator) Close() {
	it.iter.Close()
}

func (it *BadgerIterator) Next() {
	it.iter.Next()
}

func (it *BadgerIterator) Seek(key []byte) {
	if it.opts.Reverse {
		if len(it.opts.UpperBound) > 0 && bytes.Compare(key, it.opts.UpperBound) >= 0 {
			it.seekBeforeUpperBound()
			return
		}
	} else if BeforeStartKey(key, it.opts.LowerBound) {
		key = it.opts.LowerBound
	}
	it.iter.Seek(KeyWithCFPrefix(it.prefix, key))
}

func (it *BadgerIterator) Rewind() {
	if !it.opts.Reverse {
		it.iter.Seek(KeyWithCFPrefix(it.prefix, it.opts.LowerBound))
		return
	}
	if len(it.opts.UpperBound) > 0 {
		it.seekBeforeUpperBound()
		return
	}
	it.iter.Seek(it.upper)
}

// seekBeforeUpperBound positions a reverse iterator on the largest key below the exclusive upper bound.
func (it *BadgerIterator) seekBeforeUpperBound() {
	bound := KeyWithCFPrefix(it.prefix, it.opts.UpperBound)
	it.iter.Seek(bound)
	if it.iter.Valid() && bytes.Equal(it.iter.Item().Key(), bound) {
		it.iter.Next()
	}
}

// KeyWithCFPrefix is KeyWithCF for an already encoded column family prefix.
func KeyWithCFPrefix(prefix, key []byte) []byte {
	buf := make([]byte, 0, len(prefix)+len(key))
	buf = append(buf, prefix...)
	return append(buf, key...)
}
