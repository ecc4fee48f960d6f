package ember

import "github.com/embeddb/ember/spill"

// child_txn.go implements nested write transactions: a write
// transaction started with an open write transaction as its parent.
// BeginTxn hands such a request to beginChildTxn instead of the
// ordinary write path, which takes the global writer lock and waits for
// the environment's single write-txn slot to be empty and so would
// deadlock a child started from its own still-running parent. This file
// supplies the begin/commit/abort lifecycle a nested transaction needs;
// reads fall back to the parent in getPage, getPageData and
// fillPageHotPath.
//
// Only one child may be open under a given parent at a time:
// beginChildTxn refuses a second one with ErrBusy. Operations on the
// parent itself are not blocked while its child is open.
//
// A child's mutations are never written to disk or given a meta page of
// their own - only the root transaction's Commit does that. Committing
// a child just folds its working state back into the parent so the
// parent sees the child's changes as if it had made them directly;
// aborting a child simply discards that working state and leaves the
// parent exactly as it was before the child began.

// beginChildTxn starts a write transaction nested inside an
// already-open parent write transaction. It does not touch the
// environment's writer lock or write-txn slot - those are already held
// by the root of this transaction family.
func (e *Env) beginChildTxn(parent *Txn, flags uint) (*Txn, error) {
	if !parent.valid() {
		return nil, NewError(ErrBadTxn)
	}
	if parent.IsReadOnly() {
		return nil, NewError(ErrBadTxn)
	}
	if parent.hasChild {
		return nil, NewError(ErrBusy)
	}

	txn := getWriteTxnFromCache()
	txn.signature = txnSignature
	txn.flags = uint32(flags) &^ uint32(TxnReadOnly)
	txn.env = e
	txn.txnID = parent.txnID
	txn.parent = parent
	txn.hasChild = false
	txn.allocatedPg = parent.allocatedPg
	txn.cursors = nil
	txn.userCtx = nil

	txn.dirtyTracker.clear()
	txn.hasNonMmapPages = false

	if txn.freePages == nil {
		txn.freePages = make([]pgno, 0, 16)
	} else {
		txn.freePages = txn.freePages[:0]
	}
	txn.retired = txn.retired[:0]
	txn.reclaimed = txn.reclaimed[:0]
	txn.reclaimedSrc = txn.reclaimedSrc[:0]

	maxDBs := len(parent.trees)
	if cap(txn.dbiComparators) >= maxDBs {
		txn.dbiComparators = txn.dbiComparators[:maxDBs]
		clear(txn.dbiComparators)
	} else {
		txn.dbiComparators = make([]func(a, b []byte) int, maxDBs)
	}
	if cap(txn.dbiUsesDefaultCmp) >= maxDBs {
		txn.dbiUsesDefaultCmp = txn.dbiUsesDefaultCmp[:maxDBs]
		clear(txn.dbiUsesDefaultCmp)
	} else {
		txn.dbiUsesDefaultCmp = make([]bool, maxDBs)
	}

	if cap(txn.trees) >= maxDBs {
		txn.trees = txn.trees[:maxDBs]
	} else {
		txn.trees = make([]tree, maxDBs)
	}
	copy(txn.trees, parent.trees)

	if cap(txn.dbiDirty) >= maxDBs {
		txn.dbiDirty = txn.dbiDirty[:maxDBs]
		clear(txn.dbiDirty)
	} else {
		txn.dbiDirty = make([]bool, maxDBs)
	}

	// Share the parent's view of the mapping directly - a child never
	// remaps on its own, only the root transaction's commit does.
	txn.mmapData = parent.mmapData
	txn.pageSize = parent.pageSize

	parent.hasChild = true
	e.txnWg.Add(1)

	return txn, nil
}

// commitChild folds a child transaction's working state into its
// parent (the txn_merge procedure) without touching disk: dirty pages
// the child created or modified become the parent's dirty pages, loose/
// retired/reclaimed bookkeeping is merged, and the child's tree roots -
// the actual point of the nested transaction - replace the parent's.
func (txn *Txn) commitChild() error {
	parent := txn.parent
	if parent == nil {
		return NewError(ErrBadTxn)
	}

	txn.closeAllCursors()

	txn.dirtyTracker.forEach(func(pn pgno, p *page) {
		parent.dirtyTracker.set(pn, p)
	})

	// Pages the child spilled are still referenced by the dirty pages
	// just merged into the parent - hand the slots to the parent instead
	// of releasing them, or the buffer could hand them out again while
	// still in use.
	for pn, slot := range txn.spilled {
		if parent.spilled == nil {
			parent.spilled = make(map[pgno]*spill.Slot)
		}
		parent.spilled[pn] = slot
	}
	txn.spilled = nil

	parent.freePages = append(parent.freePages, txn.freePages...)
	parent.retired = pnlMerge(parent.retired, pnlSort(txn.retired))
	parent.reclaimed = pnlMerge(parent.reclaimed, txn.reclaimed)
	for _, id := range txn.reclaimedSrc {
		if !txlContains(parent.reclaimedSrc, id) {
			parent.reclaimedSrc = txlAppend(parent.reclaimedSrc, id)
		}
	}

	copy(parent.trees, txn.trees)
	for i, dirty := range txn.dbiDirty {
		if dirty && i < len(parent.dbiDirty) {
			parent.dbiDirty[i] = true
		}
	}

	parent.allocatedPg = txn.allocatedPg
	parent.hasChild = false

	txn.releaseChild()
	return nil
}

// abortChild discards a child transaction's working state entirely.
// The pages it dirtied were COW copies never linked from the parent's
// tree roots (every mutation under a child forces a fresh copy, since
// page_touch only treats a page as already-modifiable when it is dirty
// in *this* txn's own tracker - see touchPageAt), so the parent is left
// exactly as it was before the child began; those pages just become
// unreferenced page numbers the next allocation in the parent or a
// future GC pass will quietly skip over.
func (txn *Txn) abortChild() {
	parent := txn.parent
	txn.closeAllCursors()
	txn.releaseSpilled()
	if parent != nil {
		parent.hasChild = false
	}
	txn.releaseChild()
}

// releaseChild clears a child transaction and returns it to the cache.
func (txn *Txn) releaseChild() {
	txn.dirtyTracker.clear()
	txn.env.returnPageDataToCache(txn.pooledPageData)
	txn.pooledPageData = txn.pooledPageData[:0]
	returnPageStructsToCache(txn.pooledPageStructs)
	txn.pooledPageStructs = txn.pooledPageStructs[:0]

	txn.env.txnWg.Done()

	txn.signature = 0
	txn.env = nil
	txn.parent = nil
	txn.mmapData = nil
	returnWriteTxnToCache(txn)
}
