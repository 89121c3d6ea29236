package engine_util

import (
	"bytes"

	"github.com/Connor1996/badger"
)

// KeyWithCF encodes key into the keyspace of column family cf. Every column family lives in one badger keyspace,
// separated by the `cf_` prefix.
func KeyWithCF(cf string, key []byte) []byte {
	buf := make([]byte, 0, len(cf)+1+len(key))
	buf = append(buf, cf...)
	buf = append(buf, '_')
	return append(buf, key...)
}

// CFPrefix returns the prefix shared by all keys of cf.
func CFPrefix(cf string) []byte {
	return KeyWithCF(cf, nil)
}

// CFUpperBound returns the smallest key which sorts after every key of cf.
func CFUpperBound(cf string) []byte {
	// '`' is the byte following '_'.
	return append([]byte(cf), '`')
}

// deleteRangeBatchSize bounds the deletes written by one engine transaction, which badger caps in size.
var deleteRangeBatchSize = 1024

// DeleteRange deletes every key of cf in [startKey, endKey). An empty endKey means the end of the column family.
// Deletes are written in batches of deleteRangeBatchSize keys, so the range is not removed atomically: an error
// leaves the batches written before it applied.
func DeleteRange(db *badger.DB, cf string, startKey, endKey []byte) error {
	batch := new(WriteBatch)
	txn := db.NewTransaction(false)
	defer txn.Discard()
	if err := deleteRangeCF(db, txn, batch, cf, startKey, endKey); err != nil {
		return err
	}
	return batch.WriteToDB(db)
}

func deleteRangeCF(db *badger.DB, txn *badger.Txn, batch *WriteBatch, cf string, startKey, endKey []byte) error {
	it := NewCFIteratorWithOptions(cf, txn, CFIterOptions{LowerBound: startKey, UpperBound: endKey})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		batch.DeleteCF(cf, it.Item().KeyCopy(nil))
		if batch.Len() >= deleteRangeBatchSize {
			if err := batch.WriteToDB(db); err != nil {
				return err
			}
			batch.Reset()
		}
	}
	return nil
}

func ExceedEndKey(current, endKey []byte) bool {
	if len(endKey) == 0 {
		return false
	}
	return bytes.Compare(current, endKey) >= 0
}

// BeforeStartKey reports whether current sorts before startKey. An empty startKey is the start of the keyspace.
func BeforeStartKey(current, startKey []byte) bool {
	if len(startKey) == 0 {
		return false
	}
	return bytes.Compare(current, startKey) < 0
}
