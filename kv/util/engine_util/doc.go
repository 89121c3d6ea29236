package engine_util

/*
An engine is a low-level system for storing key/value pairs locally (without distribution or any transaction support,
etc.). This package contains code for interacting with such engines.

CF means 'column family'. A good description of column families is given in https://github.com/facebook/rocksdb/wiki/Column-Families
(specifically for RocksDB, but the general concepts are universal). In short, a column family is a key namespace.
Badger has no native column families, so every key is stored as `<cf>_<key>` in a single badger keyspace; writes
across column families are therefore atomic for free.

engine_util includes the following:

* engines: opening a badger DB on disk.
* write_batch: code to batch writes into a single, atomic 'transaction'.
* cf_iterator: code to iterate over one column family in badger, forward or in reverse, optionally bounded.
*/
