package engine_util

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/Connor1996/badger"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) (*badger.DB, func()) {
	dir, err := ioutil.TempDir("", "engine_util")
	require.Nil(t, err)
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	db, err := CreateDB(opts)
	require.Nil(t, err)
	return db, func() {
		db.Close()
		os.RemoveAll(dir)
	}
}

func getCF(db *badger.DB, cf string, key string) ([]byte, error) {
	var val []byte
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(KeyWithCF(cf, []byte(key)))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	return val, err
}

func collectKeys(it DBIterator) []string {
	var keys []string
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Item().Key()))
	}
	return keys
}

func TestEngineUtil(t *testing.T) {
	db, cleanup := openTestDB(t)
	defer cleanup()

	batch := new(WriteBatch)
	batch.SetCF(CfDefault, []byte("a"), []byte("a1"))
	batch.SetCF(CfDefault, []byte("b"), []byte("b1"))
	batch.SetCF(CfDefault, []byte("c"), []byte("c1"))
	batch.SetCF(CfDefault, []byte("d"), []byte("d1"))
	batch.SetCF(CfWrite, []byte("a"), []byte("a2"))
	batch.SetCF(CfWrite, []byte("b"), []byte("b2"))
	batch.SetCF(CfWrite, []byte("d"), []byte("d2"))
	batch.SetCF(CfLock, []byte("a"), []byte("a3"))
	batch.SetCF(CfLock, []byte("c"), []byte("c3"))
	batch.SetCF(CfDefault, []byte("e"), []byte("e1"))
	batch.DeleteCF(CfDefault, []byte("e"))
	require.Equal(t, 11, batch.Len())
	err := batch.WriteToDB(db)
	require.Nil(t, err)

	_, err = getCF(db, CfDefault, "e")
	require.Equal(t, err, badger.ErrKeyNotFound)
	val, err := getCF(db, CfWrite, "d")
	require.Nil(t, err)
	require.Equal(t, []byte("d2"), val)

	txn := db.NewTransaction(false)
	defer txn.Discard()

	defaultIter := NewCFIterator(CfDefault, txn)
	require.Equal(t, []string{"a", "b", "c", "d"}, collectKeys(defaultIter))
	defaultIter.Seek([]byte("b"))
	item := defaultIter.Item()
	require.Equal(t, []byte("b"), item.Key())
	val, _ = item.Value()
	require.Equal(t, []byte("b1"), val)
	defaultIter.Close()

	writeIter := NewCFIteratorWithOptions(CfWrite, txn, CFIterOptions{Reverse: true})
	require.Equal(t, []string{"d", "b", "a"}, collectKeys(writeIter))
	writeIter.Seek([]byte("c"))
	require.True(t, writeIter.Valid())
	require.Equal(t, []byte("b"), writeIter.Item().Key())
	writeIter.Close()

	lockIter := NewCFIterator(CfLock, txn)
	lockIter.Seek([]byte("d"))
	require.False(t, lockIter.Valid())
	lockIter.Close()
}

func TestCFIteratorBounds(t *testing.T) {
	db, cleanup := openTestDB(t)
	defer cleanup()

	batch := new(WriteBatch)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		batch.SetCF(CfDefault, []byte(k), []byte(k))
	}
	require.Nil(t, batch.WriteToDB(db))

	txn := db.NewTransaction(false)
	defer txn.Discard()

	bounds := CFIterOptions{LowerBound: []byte("b"), UpperBound: []byte("d")}
	it := NewCFIteratorWithOptions(CfDefault, txn, bounds)
	require.Equal(t, []string{"b", "c"}, collectKeys(it))
	it.Seek([]byte("a"))
	require.Equal(t, []byte("b"), it.Item().Key())
	it.Close()

	bounds.Reverse = true
	it = NewCFIteratorWithOptions(CfDefault, txn, bounds)
	require.Equal(t, []string{"c", "b"}, collectKeys(it))
	it.Seek([]byte("z"))
	require.Equal(t, []byte("c"), it.Item().Key())
	it.Close()
}

func TestEmptyValueIsNotDelete(t *testing.T) {
	db, cleanup := openTestDB(t)
	defer cleanup()

	batch := new(WriteBatch)
	batch.SetCF(CfDefault, []byte("k"), []byte{})
	require.Nil(t, batch.WriteToDB(db))

	val, err := getCF(db, CfDefault, "k")
	require.Nil(t, err)
	require.Len(t, val, 0)
}

func TestDeleteRange(t *testing.T) {
	db, cleanup := openTestDB(t)
	defer cleanup()

	batch := new(WriteBatch)
	for _, k := range []string{"a", "b", "c", "d"} {
		batch.SetCF(CfDefault, []byte(k), []byte(k))
		batch.SetCF(CfWrite, []byte(k), []byte(k))
	}
	require.Nil(t, batch.WriteToDB(db))
	require.Nil(t, DeleteRange(db, CfDefault, []byte("b"), []byte("d")))

	txn := db.NewTransaction(false)
	defer txn.Discard()
	it := NewCFIterator(CfDefault, txn)
	require.Equal(t, []string{"a", "d"}, collectKeys(it))
	it.Close()
	it = NewCFIterator(CfWrite, txn)
	require.Equal(t, []string{"a", "b", "c", "d"}, collectKeys(it))
	it.Close()
}

func TestDeleteRangeInBatches(t *testing.T) {
	db, cleanup := openTestDB(t)
	defer cleanup()
	defer func(n int) { deleteRangeBatchSize = n }(deleteRangeBatchSize)
	deleteRangeBatchSize = 2

	batch := new(WriteBatch)
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		batch.SetCF(CfLock, []byte(k), []byte(k))
	}
	require.Nil(t, batch.WriteToDB(db))
	require.Nil(t, DeleteRange(db, CfLock, []byte("b"), nil))

	txn := db.NewTransaction(false)
	defer txn.Discard()
	it := NewCFIterator(CfLock, txn)
	require.Equal(t, []string{"a"}, collectKeys(it))
	it.Close()
}

func TestWriteBatchSafePoint(t *testing.T) {
	batch := new(WriteBatch)
	batch.SetCF(CfDefault, []byte("a"), []byte("1"))
	batch.SetSafePoint()
	batch.SetCF(CfDefault, []byte("b"), []byte("2"))
	batch.DeleteCF(CfDefault, []byte("c"))
	require.Equal(t, 3, batch.Len())
	batch.RollbackToSafePoint()
	require.Equal(t, 1, batch.Len())
	require.Equal(t, 2, batch.Size())
	batch.Reset()
	require.Equal(t, 0, batch.Len())
}
