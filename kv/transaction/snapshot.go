package transaction

import (
	"sync"

	"github.com/Connor1996/badger"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"go.uber.org/atomic"
)

// snapshot is a reference counted read-only engine transaction. The last release discards it through the database.
type snapshot struct {
	db   *TransactionDB
	refs atomic.Int32
	// mu serializes point lookups; badger transactions are not safe for concurrent use.
	mu  sync.Mutex
	txn *badger.Txn
}

func (s *snapshot) get(key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.Value()
}

func (s *snapshot) newIterator(cf *ColumnFamily, opts engine_util.CFIterOptions) *engine_util.BadgerIterator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return engine_util.NewCFIteratorWithOptions(cf.Name, s.txn, opts)
}

func (s *snapshot) acquire() {
	s.refs.Inc()
}

func (s *snapshot) release() {
	if s.refs.Dec() == 0 {
		s.db.releaseSnapshot(s)
	}
}

// Snapshot is a read view that can be passed as ReadOptions.Snapshot. It is implemented by *SnapshotRef, which
// borrows from a transaction, and *SharedSnapshot, which does not.
type Snapshot interface {
	view() (*snapshot, owner)
}

// SnapshotRef is the view of the committed state a transaction began on. It is only usable while the transaction is
// live.
type SnapshotRef struct {
	snap *snapshot
	tx   *Transaction
	gen  uint64
}

func (r *SnapshotRef) view() (*snapshot, owner) {
	checkLive(r.tx, r.gen, "snapshot")
	return r.snap, r.tx
}

// Get reads key from the snapshot, ignoring the transaction's pending writes.
func (r *SnapshotRef) Get(col int, key []byte, slot *PinnedSlice) (*PinnedSlice, error) {
	checkLive(r.tx, r.gen, "snapshot")
	return r.tx.GetWithOptions(ReadOptions{Snapshot: r, SkipPendingWrites: true}, col, key, slot)
}

// SharedSnapshot is a read view which stays valid after the transaction that produced it finishes. It pins engine
// resources until Release, or until the database is closed.
type SharedSnapshot struct {
	db       *TransactionDB
	snap     *snapshot
	gen      atomic.Uint64
	mu       sync.Mutex
	released bool
	cursors  cursorSet
}

func newSharedSnapshot(db *TransactionDB, snap *snapshot) *SharedSnapshot {
	s := &SharedSnapshot{db: db, snap: snap}
	db.trackShared(s)
	return s
}

func (s *SharedSnapshot) generation() uint64 {
	return s.gen.Load()
}

func (s *SharedSnapshot) describe() string {
	return "shared snapshot"
}

func (s *SharedSnapshot) registry() *cursorSet {
	return &s.cursors
}

func (s *SharedSnapshot) view() (*snapshot, owner) {
	s.mustLive()
	return s.snap, s
}

func (s *SharedSnapshot) mustLive() {
	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released || s.snap == nil {
		panic(preconditionf("shared snapshot used after Release"))
	}
}

// Get reads key as of the snapshot. A missing key returns (nil, nil). The returned slice, slot when it is non-nil,
// stays valid until the snapshot is released.
func (s *SharedSnapshot) Get(col int, key []byte, slot *PinnedSlice) (*PinnedSlice, error) {
	s.mustLive()
	cf := s.db.mustColumnFamily(col)
	slot = prepareSlot(slot)
	val, err := s.snap.get(cf.key(key))
	if statusOf(err) == StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, intoResult("snapshot get", err)
	}
	slot.pin(val, s, nil)
	return slot, nil
}

func (s *SharedSnapshot) Iter(col int, dir Direction) *DBIterator {
	return s.IterWithOptions(ReadOptions{}, col, dir)
}

// IterWithOptions scans the snapshot. Only the bounds of opts apply; a shared snapshot has no pending writes and is
// its own base view.
func (s *SharedSnapshot) IterWithOptions(opts ReadOptions, col int, dir Direction) *DBIterator {
	s.mustLive()
	cf := s.db.mustColumnFamily(col)
	iter := s.snap.newIterator(cf, opts.cfIterOptions(dir))
	return newDBIterator(iter, cf, dir, s, &s.cursors, s.snap)
}

// Clone returns another handle on the same read view. Each handle is released independently.
func (s *SharedSnapshot) Clone() *SharedSnapshot {
	s.mustLive()
	s.snap.acquire()
	return newSharedSnapshot(s.db, s.snap)
}

// Release closes the snapshot's iterators and gives its engine resources back to the database. Values and iterators
// obtained from it become unusable. Releasing twice is a no-op.
func (s *SharedSnapshot) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.mu.Unlock()
	s.gen.Inc()
	s.cursors.closeAll()
	s.db.untrackShared(s)
	s.snap.release()
}
