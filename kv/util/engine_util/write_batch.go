package engine_util

import (
	"github.com/Connor1996/badger"
	"github.com/pingcap/errors"
)

type batchEntry struct {
	key    []byte
	value  []byte
	delete bool
}

// WriteBatch collects puts and deletes over several column families and applies them to badger in one atomic
// update.
type WriteBatch struct {
	entries       []batchEntry
	size          int
	safePoint     int
	safePointSize int
}

const (
	CfDefault string = "default"
	CfWrite   string = "write"
	CfLock    string = "lock"
)

func (wb *WriteBatch) Len() int {
	return len(wb.entries)
}

// Size is the number of key and value bytes in the batch.
func (wb *WriteBatch) Size() int {
	return wb.size
}

func (wb *WriteBatch) SetCF(cf string, key, val []byte) {
	wb.entries = append(wb.entries, batchEntry{
		key:   KeyWithCF(cf, key),
		value: val,
	})
	wb.size += len(key) + len(val)
}

func (wb *WriteBatch) DeleteCF(cf string, key []byte) {
	wb.entries = append(wb.entries, batchEntry{
		key:    KeyWithCF(cf, key),
		delete: true,
	})
	wb.size += len(key)
}

func (wb *WriteBatch) SetSafePoint() {
	wb.safePoint = len(wb.entries)
	wb.safePointSize = wb.size
}

func (wb *WriteBatch) RollbackToSafePoint() {
	wb.entries = wb.entries[:wb.safePoint]
	wb.size = wb.safePointSize
}

// WriteToTxn stages the batch in an update transaction without committing it.
func (wb *WriteBatch) WriteToTxn(txn *badger.Txn) error {
	for _, entry := range wb.entries {
		var err error
		if entry.delete {
			err = txn.Delete(entry.key)
		} else {
			err = txn.Set(entry.key, entry.value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (wb *WriteBatch) WriteToDB(db *badger.DB) error {
	if len(wb.entries) > 0 {
		err := db.Update(wb.WriteToTxn)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (wb *WriteBatch) Reset() {
	wb.entries = wb.entries[:0]
	wb.size = 0
	wb.safePoint = 0
	wb.safePointSize = 0
}
