package transaction

import (
	"sync"

	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
)

// DBIterator is a positioned range scan over one column family in one direction. It is created positioned on the
// first entry in its direction; Seek and Rewind restart it. Keys and values it returns are borrowed from the engine
// and are valid until the iterator moves.
//
// An iterator belongs to the transaction, shared snapshot or database that created it. It is closed automatically
// when that parent finishes, and any use after that panics.
type DBIterator struct {
	iter     engine_util.DBIterator
	cf       *ColumnFamily
	dir      Direction
	parent   owner
	gen      uint64
	registry *cursorSet
	// snap is the read view the iterator holds a reference on, if any.
	snap   *snapshot
	closed bool
}

func newDBIterator(iter engine_util.DBIterator, cf *ColumnFamily, dir Direction, parent owner, registry *cursorSet, snap *snapshot) *DBIterator {
	if snap != nil {
		snap.acquire()
	}
	it := &DBIterator{
		iter:     iter,
		cf:       cf,
		dir:      dir,
		parent:   parent,
		gen:      parent.generation(),
		registry: registry,
		snap:     snap,
	}
	registry.add(it)
	openCursorsGauge.Inc()
	it.iter.Rewind()
	return it
}

func (it *DBIterator) check() {
	if it.closed {
		panic(preconditionf("iterator used after Close"))
	}
	checkLive(it.parent, it.gen, "iterator")
}

func (it *DBIterator) Direction() Direction {
	return it.dir
}

func (it *DBIterator) ColumnFamily() *ColumnFamily {
	return it.cf
}

// Valid returns false when iteration is done.
func (it *DBIterator) Valid() bool {
	it.check()
	return it.iter.Valid()
}

// Next advances to the next key in the iterator's direction.
func (it *DBIterator) Next() {
	it.check()
	it.iter.Next()
}

// Seek positions the iterator on key, or on the next key in the iterator's direction when key is absent.
func (it *DBIterator) Seek(key []byte) {
	it.check()
	it.iter.Seek(key)
}

// Rewind positions the iterator on the first key in its direction.
func (it *DBIterator) Rewind() {
	it.check()
	it.iter.Rewind()
}

// Item returns the current entry. Only valid while Valid returns true.
func (it *DBIterator) Item() engine_util.DBItem {
	it.check()
	if !it.iter.Valid() {
		panic(preconditionf("iterator is not positioned on an entry"))
	}
	return it.iter.Item()
}

func (it *DBIterator) Key() []byte {
	return it.Item().Key()
}

func (it *DBIterator) Value() ([]byte, error) {
	val, err := it.Item().Value()
	if err != nil {
		return nil, intoResult("iterator value", err)
	}
	return val, nil
}

// Close releases the engine iterator. Closing twice, or after the parent finished, is a no-op.
func (it *DBIterator) Close() {
	if it.closed {
		return
	}
	it.registry.remove(it)
	it.release()
}

func (it *DBIterator) release() {
	if it.closed {
		return
	}
	it.closed = true
	it.iter.Close()
	if it.snap != nil {
		it.snap.release()
	}
	openCursorsGauge.Dec()
}

// cursorSet tracks the open iterators of one parent so they can be closed when it finishes.
type cursorSet struct {
	mu   sync.Mutex
	open map[*DBIterator]struct{}
}

func (cs *cursorSet) add(it *DBIterator) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.open == nil {
		cs.open = make(map[*DBIterator]struct{})
	}
	cs.open[it] = struct{}{}
}

func (cs *cursorSet) remove(it *DBIterator) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.open, it)
}

// closeAll closes every iterator still open and returns how many there were.
func (cs *cursorSet) closeAll() int {
	cs.mu.Lock()
	open := cs.open
	cs.open = nil
	cs.mu.Unlock()
	for it := range open {
		it.release()
	}
	return len(open)
}

func (cs *cursorSet) len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.open)
}
