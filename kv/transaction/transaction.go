package transaction

import (
	"time"

	"github.com/Connor1996/badger"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Transaction is one atomic unit of reads and writes against a TransactionDB. Writes are buffered until Commit and
// are visible to the transaction's own reads only. Reads see the committed state at BeginTransaction.
//
// A Transaction is not safe for concurrent use. After Commit or Rollback every operation which can fail returns
// ErrTxnFinished and every operation which cannot panics; pinned slices, iterators and snapshot refs obtained from
// it become unusable. Call Discard when done, which rolls back a transaction that was neither committed nor rolled
// back.
type Transaction struct {
	db   *TransactionDB
	id   uint64
	opts TransactionOptions
	// txn is the engine transaction. It holds the write set and the read set used for conflict detection.
	txn *badger.Txn
	// base is the committed state the transaction began on.
	base    *snapshot
	pending *pendingWrites
	latched [][]byte
	held    map[string]struct{}

	gen      atomic.Uint64
	finished bool
	cursors  cursorSet
}

func (tx *Transaction) generation() uint64 {
	return tx.gen.Load()
}

func (tx *Transaction) describe() string {
	return "transaction"
}

func (tx *Transaction) registry() *cursorSet {
	return &tx.cursors
}

func (tx *Transaction) ID() uint64 {
	return tx.id
}

// Finished reports whether Commit or Rollback has been called.
func (tx *Transaction) Finished() bool {
	return tx.finished
}

func (tx *Transaction) mustLive(op string) {
	if tx.finished {
		panic(preconditionf("%s on a finished transaction", op))
	}
}

// Put writes key to column family col.
func (tx *Transaction) Put(col int, key, value []byte) error {
	cf := tx.db.mustColumnFamily(col)
	if tx.finished {
		return errors.WithStack(ErrTxnFinished)
	}
	k := cf.key(key)
	if err := tx.prepareWrite(k); err != nil {
		return err
	}
	v := append([]byte{}, value...)
	if err := tx.txn.Set(k, v); err != nil {
		return intoResult("put", err)
	}
	tx.pending.put(k, v)
	return nil
}

// Delete removes key from column family col.
func (tx *Transaction) Delete(col int, key []byte) error {
	cf := tx.db.mustColumnFamily(col)
	if tx.finished {
		return errors.WithStack(ErrTxnFinished)
	}
	k := cf.key(key)
	if err := tx.prepareWrite(k); err != nil {
		return err
	}
	if err := tx.txn.Delete(k); err != nil {
		return intoResult("delete", err)
	}
	tx.pending.delete(k)
	return nil
}

// prepareWrite takes the key's latch for pessimistic transactions and puts a first write to key into the engine's
// read set, so that a concurrent commit of the same key is detected as a conflict.
func (tx *Transaction) prepareWrite(key []byte) error {
	if tx.opts.Pessimistic {
		if err := tx.latch(key); err != nil {
			return err
		}
	}
	if tx.pending.get(key) != nil {
		return nil
	}
	if _, err := tx.txn.Get(key); err != nil && statusOf(err) != StatusNotFound {
		return intoResult("write", err)
	}
	return nil
}

func (tx *Transaction) latch(key []byte) error {
	if _, ok := tx.held[string(key)]; ok {
		return nil
	}
	timeout := tx.opts.LockTimeout
	if timeout == 0 {
		timeout = tx.db.conf.LockTimeout.Duration
	}
	start := time.Now()
	ok := tx.db.latches.WaitForLatch(tx.id, key, timeout)
	lockWaitDuration.Observe(time.Since(start).Seconds())
	if !ok {
		log.Warn("lock wait timeout", zap.Uint64("txn", tx.id), zap.Binary("key", key), zap.Duration("timeout", timeout))
		return errors.WithStack(ErrLockTimeout)
	}
	tx.held[string(key)] = struct{}{}
	tx.latched = append(tx.latched, key)
	return nil
}

// Get reads key from column family col through the transaction's own view. A missing key returns (nil, nil).
func (tx *Transaction) Get(col int, key []byte, slot *PinnedSlice) (*PinnedSlice, error) {
	return tx.GetWithOptions(ReadOptions{}, col, key, slot)
}

// GetWithOptions reads key from column family col. The value is placed in slot, which is allocated when nil, and the
// slot is returned. A missing key returns (nil, nil) and leaves slot empty.
//
// The value is owned by the engine. It stays valid while the transaction is live, or while the shared snapshot is
// when opts.Snapshot is a *SharedSnapshot and the value did not come from the transaction's pending writes.
func (tx *Transaction) GetWithOptions(opts ReadOptions, col int, key []byte, slot *PinnedSlice) (*PinnedSlice, error) {
	cf := tx.db.mustColumnFamily(col)
	if tx.finished {
		return nil, errors.WithStack(ErrTxnFinished)
	}
	slot = prepareSlot(slot)
	k := cf.key(key)

	if opts.Snapshot == nil && !opts.SkipPendingWrites {
		item, err := tx.txn.Get(k)
		if statusOf(err) == StatusNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, intoResult("get", err)
		}
		val, err := item.Value()
		if err != nil {
			return nil, intoResult("get", err)
		}
		slot.pin(val, tx, nil)
		return slot, nil
	}

	if !opts.SkipPendingWrites {
		if e := tx.pending.get(k); e != nil {
			if e.deleted {
				return nil, nil
			}
			slot.pin(e.value, tx, nil)
			return slot, nil
		}
	}
	snap, parent := tx.base, owner(tx)
	if opts.Snapshot != nil {
		snap, parent = opts.Snapshot.view()
	}
	val, err := snap.get(k)
	if statusOf(err) == StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, intoResult("get", err)
	}
	slot.pin(val, parent, nil)
	return slot, nil
}

// Snapshot returns the committed state the transaction began on. It panics unless the transaction was begun with
// SetSnapshot.
func (tx *Transaction) Snapshot() *SnapshotRef {
	tx.mustLive("Snapshot")
	if !tx.opts.SetSnapshot {
		panic(preconditionf("Snapshot on a transaction begun without SetSnapshot"))
	}
	return &SnapshotRef{snap: tx.base, tx: tx, gen: tx.generation()}
}

// TimestampedSnapshot returns the committed state the transaction began on as a snapshot which outlives the
// transaction. The caller must Release it. It panics unless the transaction was begun with SetSnapshot.
func (tx *Transaction) TimestampedSnapshot() *SharedSnapshot {
	tx.mustLive("TimestampedSnapshot")
	if !tx.opts.SetSnapshot {
		panic(preconditionf("TimestampedSnapshot on a transaction begun without SetSnapshot"))
	}
	if tx.base == nil || tx.base.txn == nil {
		panic(preconditionf("engine returned a nil snapshot"))
	}
	tx.base.acquire()
	return newSharedSnapshot(tx.db, tx.base)
}

func (tx *Transaction) Iter(col int, dir Direction) *DBIterator {
	return tx.IterWithOptions(ReadOptions{}, col, dir)
}

// IterWithOptions scans column family col in direction dir. The iterator sees the pending writes made before it was
// created, unless opts.SkipPendingWrites is set. It is closed when the transaction finishes.
func (tx *Transaction) IterWithOptions(opts ReadOptions, col int, dir Direction) *DBIterator {
	cf := tx.db.mustColumnFamily(col)
	tx.mustLive("Iter")
	cfOpts := opts.cfIterOptions(dir)

	if opts.Snapshot == nil && !opts.SkipPendingWrites {
		iter := engine_util.NewCFIteratorWithOptions(cf.Name, tx.txn, cfOpts)
		return newDBIterator(iter, cf, dir, tx, &tx.cursors, nil)
	}

	snap := tx.base
	if opts.Snapshot != nil {
		snap, _ = opts.Snapshot.view()
	}
	var iter engine_util.DBIterator = snap.newIterator(cf, cfOpts)
	if !opts.SkipPendingWrites {
		iter = newOverlayIterator(iter, tx.pending.scan(cf, cfOpts), cfOpts.Reverse)
	}
	return newDBIterator(iter, cf, dir, tx, &tx.cursors, snap)
}

// Commit makes the transaction's writes visible atomically. A conflict with a transaction which committed first
// returns an error for which IsRetryable is true. The transaction is finished either way.
func (tx *Transaction) Commit() error {
	if tx.finished {
		return errors.WithStack(ErrTxnFinished)
	}
	span := opentracing.StartSpan("txn.commit")
	span.SetTag("txn.id", tx.id)
	defer span.Finish()

	start := time.Now()
	tx.cursors.closeAll()
	tx.db.commitMu.Lock()
	err := tx.txn.Commit()
	tx.db.commitMu.Unlock()
	tx.finish()
	commitDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		err = intoResult("commit", err)
		ext.Error.Set(span, true)
		span.SetTag("error.kind", errors.Cause(err).Error())
		if IsRetryable(err) {
			txnCounter.WithLabelValues("conflict").Inc()
			log.Warn("commit conflict", zap.Uint64("txn", tx.id), zap.Int("writes", tx.pending.len()))
		} else {
			txnCounter.WithLabelValues("error").Inc()
			log.Error("commit failed", zap.Uint64("txn", tx.id), zap.Error(err))
		}
		return err
	}
	txnCounter.WithLabelValues("commit").Inc()
	return nil
}

// Rollback drops the transaction's writes.
func (tx *Transaction) Rollback() error {
	if tx.finished {
		return errors.WithStack(ErrTxnFinished)
	}
	span := opentracing.StartSpan("txn.rollback")
	span.SetTag("txn.id", tx.id)
	defer span.Finish()

	tx.cursors.closeAll()
	tx.finish()
	txnCounter.WithLabelValues("rollback").Inc()
	return nil
}

// Discard rolls the transaction back unless it already finished. It is meant to be deferred right after
// BeginTransaction.
func (tx *Transaction) Discard() {
	if tx.finished {
		return
	}
	log.Debug("implicit rollback", zap.Uint64("txn", tx.id), zap.Int("writes", tx.pending.len()))
	_ = tx.Rollback()
}

// finish releases everything the transaction holds and invalidates the handles borrowed from it.
func (tx *Transaction) finish() {
	tx.finished = true
	tx.gen.Inc()
	tx.txn.Discard()
	if len(tx.latched) > 0 {
		tx.db.latches.ReleaseLatches(tx.id, tx.latched)
		tx.latched = nil
		tx.held = nil
	}
	tx.base.release()
	tx.db.untrackTxn(tx)
}
