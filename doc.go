// Package ember is an embedded, memory-mapped, copy-on-write B+tree
// key/value store. A single on-disk file holds a triplicated set of
// meta-pages and a forest of page-allocated B+trees: one per named
// database (DBI) opened against the environment, plus an internal FREE
// tree that tracks pages retired by committed transactions until no
// reader can still see them.
//
// Concurrency is single-writer, multi-reader: one write transaction at
// a time mutates a private, copy-on-write view of the tree, while any
// number of read transactions observe a stable snapshot pinned by the
// lock-free reader table. Readers never block the writer and the
// writer never blocks readers - a committed write simply publishes a
// new meta-page pointing at a new tree root.
//
// Write transactions may nest: a child transaction shares its parent's
// dirty pages and tree roots, shadowing whatever it touches, and either
// folds its changes back into the parent on commit or discards them
// entirely on abort without the parent ever seeing them.
//
// Basic usage:
//
//	env, err := ember.NewEnv(ember.Default)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer env.Close()
//
//	if err := env.Open("/path/to/db", ember.NoSubdir, 0644); err != nil {
//	    log.Fatal(err)
//	}
//
//	txn, err := env.BeginTxn(nil, ember.TxnReadWrite)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := txn.Put(ember.MainDBI, []byte("key"), []byte("value"), ember.Upsert); err != nil {
//	    txn.Abort()
//	    log.Fatal(err)
//	}
//
//	if _, err := txn.Commit(); err != nil {
//	    log.Fatal(err)
//	}
package ember
