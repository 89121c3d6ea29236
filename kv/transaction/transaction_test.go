package transaction

import (
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	cfDefault = 0
	cfWrite   = 1
)

func newTestDB(t *testing.T) (*TransactionDB, func()) {
	dir, err := ioutil.TempDir("", "txnkv")
	require.Nil(t, err)
	conf := config.NewTestConfig()
	conf.DBPath = dir
	db, err := Open(conf)
	require.Nil(t, err)
	return db, func() {
		db.Close()
		os.RemoveAll(dir)
	}
}

func requirePrecondition(t *testing.T, f func()) {
	defer func() {
		r := recover()
		_, ok := r.(*PreconditionError)
		require.True(t, ok, "expected a precondition panic, got %v", r)
	}()
	f()
}

func mustPut(t *testing.T, db *TransactionDB, col int, kvs ...string) {
	for i := 0; i < len(kvs); i += 2 {
		require.Nil(t, db.Put(col, []byte(kvs[i]), []byte(kvs[i+1])))
	}
}

func getString(t *testing.T, g func(col int, key []byte, slot *PinnedSlice) (*PinnedSlice, error), col int, key string) (string, bool) {
	val, err := g(col, []byte(key), nil)
	require.Nil(t, err)
	if val == nil {
		return "", false
	}
	return string(val.Data()), true
}

func scan(t *testing.T, it *DBIterator) []string {
	defer it.Close()
	var res []string
	for ; it.Valid(); it.Next() {
		val, err := it.Value()
		require.Nil(t, err)
		res = append(res, string(it.Key())+"="+string(val))
	}
	return res
}

func TestGetAbsentKey(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()

	tx := db.BeginTransaction(TransactionOptions{})
	defer tx.Discard()
	val, err := tx.Get(cfDefault, []byte("nope"), nil)
	assert.Nil(t, err)
	assert.Nil(t, val)

	val, err = tx.GetWithOptions(ReadOptions{SkipPendingWrites: true}, cfDefault, []byte("nope"), nil)
	assert.Nil(t, err)
	assert.Nil(t, val)
}

func TestReadYourWritesAndIsolation(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()

	tx1 := db.BeginTransaction(TransactionOptions{})
	defer tx1.Discard()
	tx2 := db.BeginTransaction(TransactionOptions{})
	defer tx2.Discard()

	require.Nil(t, tx1.Put(cfDefault, []byte("k"), []byte("v")))
	val, ok := getString(t, tx1.Get, cfDefault, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	_, ok = getString(t, tx2.Get, cfDefault, "k")
	assert.False(t, ok)

	// Column families are separate keyspaces.
	_, ok = getString(t, tx1.Get, cfWrite, "k")
	assert.False(t, ok)

	require.Nil(t, tx1.Commit())

	// tx2 keeps reading the state it began on.
	_, ok = getString(t, tx2.Get, cfDefault, "k")
	assert.False(t, ok)

	tx3 := db.BeginTransaction(TransactionOptions{})
	defer tx3.Discard()
	val, ok = getString(t, tx3.Get, cfDefault, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", val)
}

func TestDeleteThenGet(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()
	mustPut(t, db, cfDefault, "k", "v")

	tx := db.BeginTransaction(TransactionOptions{})
	defer tx.Discard()
	require.Nil(t, tx.Delete(cfDefault, []byte("k")))
	_, ok := getString(t, tx.Get, cfDefault, "k")
	assert.False(t, ok)

	// The committed value is still there underneath.
	val, err := tx.GetWithOptions(ReadOptions{SkipPendingWrites: true}, cfDefault, []byte("k"), nil)
	require.Nil(t, err)
	assert.Equal(t, []byte("v"), val.Data())

	require.Nil(t, tx.Commit())
	_, ok = getString(t, db.Get, cfDefault, "k")
	assert.False(t, ok)
}

func TestCommitAndRollback(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()
	mustPut(t, db, cfDefault, "a", "1", "b", "2")

	tx := db.BeginTransaction(TransactionOptions{})
	require.Nil(t, tx.Put(cfDefault, []byte("a"), []byte("10")))
	require.Nil(t, tx.Delete(cfDefault, []byte("b")))
	require.Nil(t, tx.Put(cfDefault, []byte("c"), []byte("30")))
	require.Nil(t, tx.Rollback())
	assert.True(t, tx.Finished())

	after := db.BeginTransaction(TransactionOptions{})
	assert.Equal(t, []string{"a=1", "b=2"}, scan(t, after.Iter(cfDefault, Forward)))
	require.Nil(t, after.Rollback())

	tx = db.BeginTransaction(TransactionOptions{})
	require.Nil(t, tx.Put(cfDefault, []byte("a"), []byte("10")))
	require.Nil(t, tx.Delete(cfDefault, []byte("b")))
	require.Nil(t, tx.Put(cfDefault, []byte("c"), []byte("30")))
	require.Nil(t, tx.Commit())

	after = db.BeginTransaction(TransactionOptions{})
	assert.Equal(t, []string{"a=10", "c=30"}, scan(t, after.Iter(cfDefault, Forward)))
	require.Nil(t, after.Commit())
}

func TestIterDirections(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()
	mustPut(t, db, cfDefault, "b", "2", "a", "1", "c", "3")
	mustPut(t, db, cfWrite, "0", "x", "z", "y")

	tx := db.BeginTransaction(TransactionOptions{})
	defer tx.Discard()
	assert.Equal(t, []string{"a=1", "b=2", "c=3"}, scan(t, tx.Iter(cfDefault, Forward)))
	assert.Equal(t, []string{"c=3", "b=2", "a=1"}, scan(t, tx.Iter(cfDefault, Reverse)))

	it := tx.Iter(cfDefault, Reverse)
	assert.Equal(t, Reverse, it.Direction())
	assert.Equal(t, "default", it.ColumnFamily().Name)
	it.Close()
}

func TestIterSeekAndBounds(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()
	mustPut(t, db, cfDefault, "a", "1", "b", "2", "c", "3", "d", "4", "e", "5")

	tx := db.BeginTransaction(TransactionOptions{})
	defer tx.Discard()

	opts := ReadOptions{LowerBound: []byte("b"), UpperBound: []byte("d")}
	assert.Equal(t, []string{"b=2", "c=3"}, scan(t, tx.IterWithOptions(opts, cfDefault, Forward)))
	assert.Equal(t, []string{"c=3", "b=2"}, scan(t, tx.IterWithOptions(opts, cfDefault, Reverse)))

	it := tx.Iter(cfDefault, Forward)
	it.Seek([]byte("bb"))
	require.True(t, it.Valid())
	assert.Equal(t, []byte("c"), it.Key())
	it.Rewind()
	assert.Equal(t, []byte("a"), it.Key())
	it.Close()

	it = tx.Iter(cfDefault, Reverse)
	it.Seek([]byte("bb"))
	require.True(t, it.Valid())
	assert.Equal(t, []byte("b"), it.Key())
	it.Close()
}

func TestIterPendingWrites(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()
	mustPut(t, db, cfDefault, "a", "1", "b", "2", "c", "3")

	tx := db.BeginTransaction(TransactionOptions{SetSnapshot: true})
	defer tx.Discard()
	require.Nil(t, tx.Put(cfDefault, []byte("b"), []byte("20")))
	require.Nil(t, tx.Delete(cfDefault, []byte("c")))
	require.Nil(t, tx.Put(cfDefault, []byte("d"), []byte("40")))

	assert.Equal(t, []string{"a=1", "b=20", "d=40"}, scan(t, tx.Iter(cfDefault, Forward)))
	assert.Equal(t, []string{"d=40", "b=20", "a=1"}, scan(t, tx.Iter(cfDefault, Reverse)))

	overlay := ReadOptions{Snapshot: tx.Snapshot()}
	assert.Equal(t, []string{"a=1", "b=20", "d=40"}, scan(t, tx.IterWithOptions(overlay, cfDefault, Forward)))
	assert.Equal(t, []string{"d=40", "b=20", "a=1"}, scan(t, tx.IterWithOptions(overlay, cfDefault, Reverse)))

	skip := ReadOptions{SkipPendingWrites: true}
	assert.Equal(t, []string{"a=1", "b=2", "c=3"}, scan(t, tx.IterWithOptions(skip, cfDefault, Forward)))
}

func TestReadOptionsSnapshot(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()
	mustPut(t, db, cfDefault, "k", "old", "j", "j1")

	shared := db.Snapshot()
	defer shared.Release()
	mustPut(t, db, cfDefault, "k", "new")

	tx := db.BeginTransaction(TransactionOptions{})
	defer tx.Discard()
	require.Nil(t, tx.Put(cfDefault, []byte("j"), []byte("j2")))

	val, err := tx.GetWithOptions(ReadOptions{Snapshot: shared}, cfDefault, []byte("k"), nil)
	require.Nil(t, err)
	assert.Equal(t, "old", string(val.Data()))

	// Pending writes still win over the snapshot.
	val, err = tx.GetWithOptions(ReadOptions{Snapshot: shared}, cfDefault, []byte("j"), nil)
	require.Nil(t, err)
	assert.Equal(t, "j2", string(val.Data()))

	val, err = tx.GetWithOptions(ReadOptions{Snapshot: shared, SkipPendingWrites: true}, cfDefault, []byte("j"), nil)
	require.Nil(t, err)
	assert.Equal(t, "j1", string(val.Data()))

	cur, ok := getString(t, tx.Get, cfDefault, "k")
	assert.True(t, ok)
	assert.Equal(t, "new", cur)
}

func TestTimestampedSnapshotOutlivesTransaction(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()
	mustPut(t, db, cfDefault, "k", "v1")

	for _, commit := range []bool{true, false} {
		tx := db.BeginTransaction(TransactionOptions{SetSnapshot: true})
		shared := tx.TimestampedSnapshot()
		require.Nil(t, tx.Put(cfDefault, []byte("k"), []byte("v2")))
		require.Nil(t, tx.Put(cfDefault, []byte("n"), []byte("new")))
		if commit {
			require.Nil(t, tx.Commit())
		} else {
			require.Nil(t, tx.Rollback())
		}

		val, ok := getString(t, shared.Get, cfDefault, "k")
		assert.True(t, ok)
		assert.Equal(t, "v1", val)
		_, ok = getString(t, shared.Get, cfDefault, "n")
		assert.False(t, ok)
		assert.Equal(t, []string{"k=v1"}, scan(t, shared.Iter(cfDefault, Forward)))
		shared.Release()

		// Reset for the next round.
		mustPut(t, db, cfDefault, "k", "v1")
		require.Nil(t, db.Delete(cfDefault, []byte("n")))
	}
}

func TestSnapshotRequiresSetSnapshot(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()

	tx := db.BeginTransaction(TransactionOptions{})
	defer tx.Discard()
	requirePrecondition(t, func() { tx.Snapshot() })
	requirePrecondition(t, func() { tx.TimestampedSnapshot() })
}

func TestSnapshotRef(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()
	mustPut(t, db, cfDefault, "k", "v1")

	tx := db.BeginTransaction(TransactionOptions{SetSnapshot: true})
	snap := tx.Snapshot()
	require.Nil(t, tx.Put(cfDefault, []byte("k"), []byte("v2")))
	val, ok := getString(t, snap.Get, cfDefault, "k")
	assert.True(t, ok)
	assert.Equal(t, "v1", val)

	require.Nil(t, tx.Commit())
	requirePrecondition(t, func() { snap.Get(cfDefault, []byte("k"), nil) })
}

func TestBorrowedHandlesDieWithTransaction(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()
	mustPut(t, db, cfDefault, "a", "1", "b", "2")

	tx := db.BeginTransaction(TransactionOptions{})
	val, err := tx.Get(cfDefault, []byte("a"), nil)
	require.Nil(t, err)
	assert.True(t, val.Valid())
	it := tx.Iter(cfDefault, Forward)
	require.True(t, it.Valid())
	require.Nil(t, tx.Commit())

	assert.False(t, val.Valid())
	requirePrecondition(t, func() { val.Data() })
	requirePrecondition(t, func() { it.Valid() })
	requirePrecondition(t, func() { tx.Iter(cfDefault, Forward) })
	// Closing an iterator its transaction already closed is fine.
	it.Close()
}

func TestFinishedTransaction(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()

	tx := db.BeginTransaction(TransactionOptions{})
	require.Nil(t, tx.Commit())
	assert.Equal(t, ErrTxnFinished, errors.Cause(tx.Commit()))
	assert.Equal(t, ErrTxnFinished, errors.Cause(tx.Rollback()))
	assert.Equal(t, ErrTxnFinished, errors.Cause(tx.Put(cfDefault, []byte("k"), []byte("v"))))
	assert.Equal(t, ErrTxnFinished, errors.Cause(tx.Delete(cfDefault, []byte("k"))))
	_, err := tx.Get(cfDefault, []byte("k"), nil)
	assert.Equal(t, ErrTxnFinished, errors.Cause(err))
	tx.Discard()
}

func TestDiscardRollsBack(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()

	func() {
		tx := db.BeginTransaction(TransactionOptions{})
		defer tx.Discard()
		require.Nil(t, tx.Put(cfDefault, []byte("k"), []byte("v")))
	}()
	_, ok := getString(t, db.Get, cfDefault, "k")
	assert.False(t, ok)
}

func TestUnknownColumnFamily(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()

	assert.Nil(t, db.ColumnFamily(3))
	assert.Nil(t, db.ColumnFamily(-1))
	assert.Equal(t, 1, db.ColumnFamilyIndex("write"))
	assert.Equal(t, -1, db.ColumnFamilyIndex("nope"))
	assert.Len(t, db.ColumnFamilies(), 3)

	tx := db.BeginTransaction(TransactionOptions{})
	defer tx.Discard()
	requirePrecondition(t, func() { tx.Put(3, []byte("k"), []byte("v")) })
	requirePrecondition(t, func() { tx.Delete(-1, []byte("k")) })
	requirePrecondition(t, func() { tx.Get(3, []byte("k"), nil) })
	requirePrecondition(t, func() { tx.Iter(3, Forward) })
	requirePrecondition(t, func() { db.Get(3, []byte("k"), nil) })
}

func TestSlotReuse(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()
	mustPut(t, db, cfDefault, "a", "1", "b", "2")

	tx := db.BeginTransaction(TransactionOptions{})
	defer tx.Discard()
	slot := new(PinnedSlice)
	val, err := tx.Get(cfDefault, []byte("a"), slot)
	require.Nil(t, err)
	assert.True(t, val == slot)
	assert.Equal(t, 1, slot.Size())
	owned := slot.Copy()

	val, err = tx.Get(cfDefault, []byte("b"), slot)
	require.Nil(t, err)
	assert.Equal(t, []byte("2"), val.Data())
	assert.Equal(t, []byte("1"), owned)

	val, err = tx.Get(cfDefault, []byte("c"), slot)
	require.Nil(t, err)
	assert.Nil(t, val)
	assert.False(t, slot.Valid())
	requirePrecondition(t, func() { slot.Data() })
}

func TestCommitConflict(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()
	mustPut(t, db, cfDefault, "k", "0")

	// Both write the same key.
	tx1 := db.BeginTransaction(TransactionOptions{})
	tx2 := db.BeginTransaction(TransactionOptions{})
	require.Nil(t, tx1.Put(cfDefault, []byte("k"), []byte("1")))
	require.Nil(t, tx2.Put(cfDefault, []byte("k"), []byte("2")))
	require.Nil(t, tx1.Commit())
	err := tx2.Commit()
	require.NotNil(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, ErrConflict, errors.Cause(err))
	assert.True(t, tx2.Finished())

	// A read invalidated by a direct write.
	tx3 := db.BeginTransaction(TransactionOptions{})
	_, err = tx3.Get(cfDefault, []byte("k"), nil)
	require.Nil(t, err)
	mustPut(t, db, cfDefault, "k", "3")
	require.Nil(t, tx3.Put(cfDefault, []byte("other"), []byte("x")))
	assert.True(t, IsRetryable(tx3.Commit()))

	val, ok := getString(t, db.Get, cfDefault, "k")
	assert.True(t, ok)
	assert.Equal(t, "3", val)
	_, ok = getString(t, db.Get, cfDefault, "other")
	assert.False(t, ok)
}

func TestPessimisticLockTimeout(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()

	tx1 := db.BeginTransaction(TransactionOptions{Pessimistic: true})
	require.Nil(t, tx1.Put(cfDefault, []byte("k"), []byte("1")))
	// Writing the same key again does not wait on its own latch.
	require.Nil(t, tx1.Put(cfDefault, []byte("k"), []byte("11")))

	tx2 := db.BeginTransaction(TransactionOptions{Pessimistic: true, LockTimeout: 20 * time.Millisecond})
	err := tx2.Put(cfDefault, []byte("k"), []byte("2"))
	require.NotNil(t, err)
	assert.Equal(t, ErrLockTimeout, errors.Cause(err))
	assert.True(t, IsRetryable(err))
	require.Nil(t, tx2.Put(cfDefault, []byte("j"), []byte("2")))
	require.Nil(t, tx2.Rollback())

	tx3 := db.BeginTransaction(TransactionOptions{Pessimistic: true, LockTimeout: time.Second})
	done := make(chan error, 1)
	go func() {
		done <- tx3.Delete(cfDefault, []byte("k"))
	}()
	time.Sleep(10 * time.Millisecond)
	require.Nil(t, tx1.Commit())
	require.Nil(t, <-done)
	require.Nil(t, tx3.Rollback())

	assert.Equal(t, 0, db.latches.Len())
}

func TestDatabaseReadPath(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()
	mustPut(t, db, cfDefault, "a", "1", "b", "2", "c", "3", "d", "4")

	val, err := db.Get(cfDefault, []byte("b"), nil)
	require.Nil(t, err)
	assert.Equal(t, []byte("2"), val.Data())
	val.Reset()
	assert.False(t, val.Valid())

	assert.Equal(t, []string{"d=4", "c=3", "b=2", "a=1"}, scan(t, db.Iter(cfDefault, Reverse)))

	require.Nil(t, db.DeleteRange(cfDefault, []byte("b"), []byte("d")))
	assert.Equal(t, []string{"a=1", "d=4"}, scan(t, db.Iter(cfDefault, Forward)))
	assert.Equal(t, 0, db.cursors.len())
}

func TestSharedSnapshotCloneAndRelease(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()
	mustPut(t, db, cfDefault, "k", "v")

	s := db.Snapshot()
	c := s.Clone()
	val, err := s.Get(cfDefault, []byte("k"), nil)
	require.Nil(t, err)
	it := s.Iter(cfDefault, Forward)
	s.Release()
	s.Release()

	requirePrecondition(t, func() { val.Data() })
	requirePrecondition(t, func() { it.Valid() })
	requirePrecondition(t, func() { s.Get(cfDefault, []byte("k"), nil) })

	got, ok := getString(t, c.Get, cfDefault, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)
	c.Release()
	requirePrecondition(t, func() { c.Iter(cfDefault, Forward) })
}

func TestDatabaseIterBelongsToSnapshotOwner(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()
	mustPut(t, db, cfDefault, "a", "1", "b", "2")

	tx := db.BeginTransaction(TransactionOptions{SetSnapshot: true})
	ref := tx.Snapshot()
	it := db.IterWithOptions(ReadOptions{Snapshot: ref}, cfDefault, Forward)
	val, err := db.GetWithOptions(ReadOptions{Snapshot: ref}, cfDefault, []byte("a"), nil)
	require.Nil(t, err)
	assert.True(t, it.Valid())
	assert.Equal(t, 1, tx.cursors.len())
	assert.Equal(t, 0, db.cursors.len())
	require.Nil(t, tx.Commit())
	assert.False(t, val.Valid())
	requirePrecondition(t, func() { it.Valid() })

	s := db.Snapshot()
	it = db.IterWithOptions(ReadOptions{Snapshot: s}, cfDefault, Reverse)
	assert.Equal(t, []byte("b"), it.Key())
	s.Release()
	requirePrecondition(t, func() { it.Valid() })
	assert.Equal(t, 0, db.cursors.len())
}

func TestCloseInvalidatesHandles(t *testing.T) {
	dir, err := ioutil.TempDir("", "txnkv")
	require.Nil(t, err)
	defer os.RemoveAll(dir)
	conf := config.NewTestConfig()
	conf.DBPath = dir
	db, err := Open(conf)
	require.Nil(t, err)

	require.Nil(t, db.Put(cfDefault, []byte("k"), []byte("v")))
	tx := db.BeginTransaction(TransactionOptions{SetSnapshot: true})
	shared := tx.TimestampedSnapshot()
	it := db.Iter(cfDefault, Forward)
	require.Nil(t, db.Close())

	assert.True(t, tx.Finished())
	requirePrecondition(t, func() { it.Valid() })
	requirePrecondition(t, func() { shared.Get(cfDefault, []byte("k"), nil) })
	requirePrecondition(t, func() { db.BeginTransaction(TransactionOptions{}) })
	require.Nil(t, db.Close())
}
