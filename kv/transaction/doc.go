package transaction

// The transaction package implements txnkv's client transactions over a badger database organized in column families.
//
// A TransactionDB opens the database and resolves column family indexes. BeginTransaction returns a Transaction which
// buffers Put and Delete until Commit and reads the committed state as of its begin, with its own writes on top. Two
// concurrent transactions which touch the same key cannot both commit: the second gets an error for which IsRetryable
// is true. Pessimistic transactions instead latch each key they write (see the latches package) and fail the write
// with ErrLockTimeout when another transaction holds it for too long.
//
// Reads return borrowed data. A point lookup fills a PinnedSlice with the engine's bytes without copying them, and a
// DBIterator exposes the engine's keys and values in place. Both belong to the handle they were created from: a
// Transaction, a SharedSnapshot, or the TransactionDB itself. Go cannot tie their lifetime to that parent statically,
// so each parent carries a generation number which changes when it finishes (Commit, Rollback, Release, Close). A
// borrowed handle remembers the generation it was created at and panics with a *PreconditionError when it is used
// after that.
//
// There are two kinds of snapshot:
//
// * SnapshotRef, from Transaction.Snapshot, is the transaction's own base view and dies with the transaction.
// * SharedSnapshot, from Transaction.TimestampedSnapshot or TransactionDB.Snapshot, is reference counted and owned by
//   the database. It stays readable after the transaction finishes until it is released.
//
// Either can be passed as ReadOptions.Snapshot to read a transaction's pending writes over an older view.
//
// Programmer errors (an unknown column family index, Snapshot on a transaction begun without SetSnapshot, use of a
// closed database) panic with *PreconditionError. Everything that depends on data or on other transactions is returned
// as an error. A point lookup of a missing key is not an error; it returns a nil slice.
