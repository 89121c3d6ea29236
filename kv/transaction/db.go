package transaction

import (
	"sync"

	"github.com/Connor1996/badger"
	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap-incubator/txnkv/kv/transaction/latches"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ColumnFamily is an independently ordered keyspace of a TransactionDB. Column families are fixed when the database
// is opened and are addressed by index.
type ColumnFamily struct {
	Name string
	ID   int

	prefix []byte
	upper  []byte
}

func newColumnFamily(name string, id int) *ColumnFamily {
	return &ColumnFamily{
		Name:   name,
		ID:     id,
		prefix: engine_util.CFPrefix(name),
		upper:  engine_util.CFUpperBound(name),
	}
}

func (cf *ColumnFamily) key(key []byte) []byte {
	return engine_util.KeyWithCFPrefix(cf.prefix, key)
}

// TransactionDB is a badger database addressed by column family, which hands out transactions and snapshots. It is
// safe for concurrent use.
type TransactionDB struct {
	conf   *config.Config
	engine *badger.DB
	cfs    []*ColumnFamily

	// commitMu orders commits and direct writes (exclusive) against taking read views (shared), so that a
	// transaction's engine transaction and its base view see the same committed state.
	commitMu sync.RWMutex
	latches  *latches.Latches

	gen       atomic.Uint64
	closed    atomic.Bool
	nextTxnID atomic.Uint64
	cursors   cursorSet

	liveMu sync.Mutex
	txns   map[*Transaction]struct{}
	shared map[*SharedSnapshot]struct{}
}

// Open opens the database described by conf, creating its directory when needed.
func Open(conf *config.Config) (*TransactionDB, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	opts, err := conf.BadgerOptions()
	if err != nil {
		return nil, err
	}
	engine, err := engine_util.CreateDB(opts)
	if err != nil {
		return nil, err
	}
	db := &TransactionDB{
		conf:    conf,
		engine:  engine,
		latches: latches.NewLatches(),
		txns:    make(map[*Transaction]struct{}),
		shared:  make(map[*SharedSnapshot]struct{}),
	}
	for i, name := range conf.ColumnFamilies {
		db.cfs = append(db.cfs, newColumnFamily(name, i))
	}
	log.Info("open transaction db", zap.String("path", conf.DBPath), zap.Strings("column-families", conf.ColumnFamilies))
	return db, nil
}

// Close rolls back live transactions, releases shared snapshots and closes the engine. Every handle obtained from
// the database becomes unusable.
func (db *TransactionDB) Close() error {
	if db.closed.Load() {
		return nil
	}
	db.liveMu.Lock()
	txns := make([]*Transaction, 0, len(db.txns))
	for tx := range db.txns {
		txns = append(txns, tx)
	}
	shared := make([]*SharedSnapshot, 0, len(db.shared))
	for s := range db.shared {
		shared = append(shared, s)
	}
	db.liveMu.Unlock()

	if len(txns) > 0 || len(shared) > 0 {
		log.Info("close transaction db with live handles", zap.Int("transactions", len(txns)), zap.Int("snapshots", len(shared)))
	}
	for _, tx := range txns {
		tx.Discard()
	}
	for _, s := range shared {
		s.Release()
	}
	db.gen.Inc()
	db.cursors.closeAll()
	db.closed.Store(true)
	log.Info("close transaction db", zap.String("path", db.conf.DBPath))
	return errors.WithStack(db.engine.Close())
}

func (db *TransactionDB) generation() uint64 {
	return db.gen.Load()
}

func (db *TransactionDB) describe() string {
	return "database"
}

func (db *TransactionDB) registry() *cursorSet {
	return &db.cursors
}

func (db *TransactionDB) mustOpen() {
	if db == nil || db.engine == nil {
		panic(preconditionf("nil database handle"))
	}
	if db.closed.Load() {
		panic(preconditionf("database used after Close"))
	}
}

// ColumnFamily resolves col to a column family, or returns nil when col is unknown.
func (db *TransactionDB) ColumnFamily(col int) *ColumnFamily {
	if col < 0 || col >= len(db.cfs) {
		return nil
	}
	return db.cfs[col]
}

// ColumnFamilyIndex returns the index of the column family called name, or -1.
func (db *TransactionDB) ColumnFamilyIndex(name string) int {
	for _, cf := range db.cfs {
		if cf.Name == name {
			return cf.ID
		}
	}
	return -1
}

func (db *TransactionDB) ColumnFamilies() []*ColumnFamily {
	return db.cfs
}

func (db *TransactionDB) mustColumnFamily(col int) *ColumnFamily {
	db.mustOpen()
	cf := db.ColumnFamily(col)
	if cf == nil {
		panic(preconditionf("unknown column family %d", col))
	}
	return cf
}

// BeginTransaction starts a transaction on the current committed state.
func (db *TransactionDB) BeginTransaction(opts TransactionOptions) *Transaction {
	db.mustOpen()
	db.commitMu.RLock()
	txn := db.engine.NewTransaction(true)
	base := db.newSnapshotLocked()
	db.commitMu.RUnlock()

	tx := &Transaction{
		db:      db,
		id:      db.nextTxnID.Inc(),
		opts:    opts,
		txn:     txn,
		base:    base,
		pending: newPendingWrites(),
		held:    make(map[string]struct{}),
	}
	db.liveMu.Lock()
	db.txns[tx] = struct{}{}
	db.liveMu.Unlock()
	return tx
}

func (db *TransactionDB) untrackTxn(tx *Transaction) {
	db.liveMu.Lock()
	delete(db.txns, tx)
	db.liveMu.Unlock()
}

func (db *TransactionDB) trackShared(s *SharedSnapshot) {
	db.liveMu.Lock()
	db.shared[s] = struct{}{}
	db.liveMu.Unlock()
}

func (db *TransactionDB) untrackShared(s *SharedSnapshot) {
	db.liveMu.Lock()
	delete(db.shared, s)
	db.liveMu.Unlock()
}

// newSnapshot takes a read view of the current committed state, holding one reference.
func (db *TransactionDB) newSnapshot() *snapshot {
	db.commitMu.RLock()
	defer db.commitMu.RUnlock()
	return db.newSnapshotLocked()
}

func (db *TransactionDB) newSnapshotLocked() *snapshot {
	s := &snapshot{db: db, txn: db.engine.NewTransaction(false)}
	s.refs.Store(1)
	openSnapshotsGauge.Inc()
	return s
}

// releaseSnapshot discards the engine read view of s once nothing references it.
func (db *TransactionDB) releaseSnapshot(s *snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn == nil {
		return
	}
	if !db.closed.Load() {
		s.txn.Discard()
	}
	s.txn = nil
	openSnapshotsGauge.Dec()
}

// Snapshot returns a read view of the current committed state. The caller must Release it.
func (db *TransactionDB) Snapshot() *SharedSnapshot {
	db.mustOpen()
	return newSharedSnapshot(db, db.newSnapshot())
}

// Get reads the latest committed value of key. A missing key returns (nil, nil). The value pins an engine read view
// until slot is Reset or the database is closed.
func (db *TransactionDB) Get(col int, key []byte, slot *PinnedSlice) (*PinnedSlice, error) {
	return db.GetWithOptions(ReadOptions{}, col, key, slot)
}

// GetWithOptions is Get reading from opts.Snapshot when it is set. The database has no pending writes, so
// SkipPendingWrites has no effect.
func (db *TransactionDB) GetWithOptions(opts ReadOptions, col int, key []byte, slot *PinnedSlice) (*PinnedSlice, error) {
	cf := db.mustColumnFamily(col)
	slot = prepareSlot(slot)
	if opts.Snapshot != nil {
		snap, parent := opts.Snapshot.view()
		val, err := snap.get(cf.key(key))
		if statusOf(err) == StatusNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, intoResult("get", err)
		}
		slot.pin(val, parent, nil)
		return slot, nil
	}

	snap := db.newSnapshot()
	val, err := snap.get(cf.key(key))
	if err != nil {
		snap.release()
		if statusOf(err) == StatusNotFound {
			return nil, nil
		}
		return nil, intoResult("get", err)
	}
	slot.pin(val, db, snap.release)
	return slot, nil
}

func (db *TransactionDB) Iter(col int, dir Direction) *DBIterator {
	return db.IterWithOptions(ReadOptions{}, col, dir)
}

// IterWithOptions scans committed data, from opts.Snapshot when it is set or from the current state otherwise. The
// iterator must be closed. An iterator over opts.Snapshot belongs to the snapshot's owner and is closed with it.
func (db *TransactionDB) IterWithOptions(opts ReadOptions, col int, dir Direction) *DBIterator {
	cf := db.mustColumnFamily(col)
	cfOpts := opts.cfIterOptions(dir)
	if opts.Snapshot != nil {
		snap, parent := opts.Snapshot.view()
		return newDBIterator(snap.newIterator(cf, cfOpts), cf, dir, parent, parent.registry(), snap)
	}
	snap := db.newSnapshot()
	defer snap.release()
	return newDBIterator(snap.newIterator(cf, cfOpts), cf, dir, db, &db.cursors, snap)
}

// Put writes key outside of any transaction.
func (db *TransactionDB) Put(col int, key, value []byte) error {
	cf := db.mustColumnFamily(col)
	wb := new(engine_util.WriteBatch)
	wb.SetCF(cf.Name, key, value)
	return db.Write(wb)
}

// Delete removes key outside of any transaction.
func (db *TransactionDB) Delete(col int, key []byte) error {
	cf := db.mustColumnFamily(col)
	wb := new(engine_util.WriteBatch)
	wb.DeleteCF(cf.Name, key)
	return db.Write(wb)
}

// Write applies wb atomically. Transactions which read or wrote any of its keys and began before it fail to commit.
func (db *TransactionDB) Write(wb *engine_util.WriteBatch) error {
	db.mustOpen()
	if wb.Len() == 0 {
		return nil
	}
	db.commitMu.Lock()
	defer db.commitMu.Unlock()
	return intoResult("write", wb.WriteToDB(db.engine))
}

// DeleteRange removes every key of column family col in [start, end). An empty end means the end of the column
// family. Large ranges are written in several engine transactions, so a failure can leave part of the range deleted.
func (db *TransactionDB) DeleteRange(col int, start, end []byte) error {
	cf := db.mustColumnFamily(col)
	db.commitMu.Lock()
	defer db.commitMu.Unlock()
	return intoResult("delete range", engine_util.DeleteRange(db.engine, cf.Name, start, end))
}
