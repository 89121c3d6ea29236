package transaction

import (
	"bytes"

	"github.com/Connor1996/badger/y"
	"github.com/google/btree"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
)

// pendingEntry is one uncommitted write. key carries the column family prefix.
type pendingEntry struct {
	key     []byte
	value   []byte
	deleted bool
}

func (e *pendingEntry) Less(than btree.Item) bool {
	return bytes.Compare(e.key, than.(*pendingEntry).key) < 0
}

// pendingWrites indexes a transaction's uncommitted writes in key order. The engine transaction keeps its own copy for
// commit; this index serves reads which put the writes on top of a different base view.
type pendingWrites struct {
	tree *btree.BTree
}

func newPendingWrites() *pendingWrites {
	return &pendingWrites{tree: btree.New(8)}
}

func (p *pendingWrites) put(key, value []byte) {
	p.tree.ReplaceOrInsert(&pendingEntry{key: key, value: value})
}

func (p *pendingWrites) delete(key []byte) {
	p.tree.ReplaceOrInsert(&pendingEntry{key: key, deleted: true})
}

func (p *pendingWrites) get(key []byte) *pendingEntry {
	item := p.tree.Get(&pendingEntry{key: key})
	if item == nil {
		return nil
	}
	return item.(*pendingEntry)
}

func (p *pendingWrites) len() int {
	return p.tree.Len()
}

// scan returns the writes to cf within the bounds of opts, in iteration order.
func (p *pendingWrites) scan(cf *ColumnFamily, opts engine_util.CFIterOptions) []*pendingItem {
	lower := engine_util.KeyWithCFPrefix(cf.prefix, opts.LowerBound)
	upper := cf.upper
	if len(opts.UpperBound) > 0 {
		upper = engine_util.KeyWithCFPrefix(cf.prefix, opts.UpperBound)
	}
	var items []*pendingItem
	p.tree.AscendRange(&pendingEntry{key: lower}, &pendingEntry{key: upper}, func(i btree.Item) bool {
		e := i.(*pendingEntry)
		items = append(items, &pendingItem{
			key:     e.key[len(cf.prefix):],
			value:   e.value,
			deleted: e.deleted,
		})
		return true
	})
	if opts.Reverse {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	return items
}

// pendingItem is a pending write as seen by an iterator, with the column family prefix stripped.
type pendingItem struct {
	key     []byte
	value   []byte
	deleted bool
}

func (i *pendingItem) Key() []byte {
	return i.key
}

func (i *pendingItem) KeyCopy(dst []byte) []byte {
	return y.SafeCopy(dst, i.key)
}

func (i *pendingItem) Value() ([]byte, error) {
	return i.value, nil
}

func (i *pendingItem) ValueSize() int {
	return len(i.value)
}

func (i *pendingItem) ValueCopy(dst []byte) ([]byte, error) {
	return y.SafeCopy(dst, i.value), nil
}

// overlayIterator merges pending writes over a base iterator. On equal keys the pending write wins; pending deletes
// hide the base entry.
type overlayIterator struct {
	base    engine_util.DBIterator
	pending []*pendingItem
	pos     int
	reverse bool
	// onPending is set when the current entry comes from pending rather than base.
	onPending bool
}

func newOverlayIterator(base engine_util.DBIterator, pending []*pendingItem, reverse bool) *overlayIterator {
	return &overlayIterator{
		base:    base,
		pending: pending,
		reverse: reverse,
	}
}

// compare orders a and b in iteration order.
func (o *overlayIterator) compare(a, b []byte) int {
	c := bytes.Compare(a, b)
	if o.reverse {
		return -c
	}
	return c
}

// settle moves past pending deletes and shadowed base entries and picks the source of the current entry.
func (o *overlayIterator) settle() {
	for {
		o.onPending = false
		if o.pos >= len(o.pending) {
			return
		}
		p := o.pending[o.pos]
		if o.base.Valid() {
			c := o.compare(o.base.Item().Key(), p.key)
			if c < 0 {
				return
			}
			if c == 0 {
				o.base.Next()
			}
		}
		if p.deleted {
			o.pos++
			continue
		}
		o.onPending = true
		return
	}
}

func (o *overlayIterator) Item() engine_util.DBItem {
	if o.onPending {
		return o.pending[o.pos]
	}
	return o.base.Item()
}

func (o *overlayIterator) Valid() bool {
	return o.onPending || o.base.Valid()
}

func (o *overlayIterator) Next() {
	if o.onPending {
		o.pos++
	} else {
		o.base.Next()
	}
	o.settle()
}

func (o *overlayIterator) Seek(key []byte) {
	o.base.Seek(key)
	o.pos = 0
	for o.pos < len(o.pending) && o.compare(o.pending[o.pos].key, key) < 0 {
		o.pos++
	}
	o.settle()
}

func (o *overlayIterator) Rewind() {
	o.base.Rewind()
	o.pos = 0
	o.settle()
}

func (o *overlayIterator) Close() {
	o.base.Close()
}
