package txnkv

/*
txnkv is a transactional key/value client library over an embedded, column family organized badger store. It gives
callers atomic multi-key read/modify/write transactions, snapshots which are either tied to a transaction or shared
beyond it, and ordered range iteration in both directions.

The `txnkv` module is organized into the following packages:

* `kv/transaction`: the client transaction layer: TransactionDB, Transaction, snapshots, pinned values and iterators.
  `kv/transaction/latches` implements the key latches of pessimistic transactions.
* `kv/util/engine_util`: helpers over badger: column family key encoding, bounded bidirectional iterators, write
  batches.
* `kv/config`: configuration, defaults and TOML loading.
* `kv/txnkv-cli`: a command line client with one-shot commands, an interactive transaction shell and a small
  benchmark.
*/
