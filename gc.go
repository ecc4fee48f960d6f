package ember

import "encoding/binary"

// gc.go is the page allocator: a FREE sub-db that records, per
// committing write transaction, the pages it retired so a later
// transaction can reclaim them once no reader can still see them. A
// purely in-memory, per-transaction free stack that gets discarded at
// commit would only ever grow the datafile, since nothing would be
// persisted to FreeDBI. This file adds the durable half: a record
// format on FreeDBI (dbi 0), the loose/retired/reclaimed page
// lifecycle, and the allocation order page_alloc
// follows (loose, then reclaimed, then pull more from GC, then grow).

// gcRecordMaxPages bounds how many page numbers one GC record carries
// before it must split into another part (the "bigfoot" case).
// Conservative relative to a minimum page size so a record never
// approaches a single leaf's capacity regardless of configured page size.
const gcRecordMaxPages = 256

// gcKey encodes a FREE sub-db key: the txnid that retired the pages
// (big-endian so lexicographic cursor order equals numeric order) and a
// part index for transactions whose retired list needed more than one
// record. Chosen over a pure 8-byte IntegerKey so a single retiring
// transaction can still be represented by more than one record without
// colliding keys: a "bigfoot" transaction whose retired list overflows
// one record's capacity splits across multiple parts instead.
func gcKey(id txnid, part uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], uint64(id))
	binary.BigEndian.PutUint32(buf[8:12], part)
	return buf
}

// parseGCKey decodes a key produced by gcKey.
func parseGCKey(k []byte) (id txnid, part uint32, ok bool) {
	if len(k) < 12 {
		return 0, 0, false
	}
	return txnid(binary.BigEndian.Uint64(k[0:8])), binary.BigEndian.Uint32(k[8:12]), true
}

// freePage routes a page no longer referenced by the transaction's own
// working copy of the tree to the correct free list, following the
// page_touch distinction between "modifiable in this txn" and "frozen":
//
//   - if the page was itself allocated/dirtied within this same write
//     transaction, its bytes aren't visible to any reader yet, so it is
//     "loose" and can be handed straight back out by allocatePage.
//   - otherwise it belongs to a previously-committed, reader-visible
//     snapshot; its physical bytes must not be reused until the GC
//     machinery confirms no reader can still see it, so it is "retired"
//     and queued for the FREE sub-db instead.
//
// Appending every freed page to one undifferentiated list regardless of
// which case applied would let a concurrent reader's still-mapped page
// get handed back out for immediate reuse.
func (txn *Txn) freePage(pn pgno) {
	if txn.dirtyTracker.get(pn) != nil {
		txn.freePages = append(txn.freePages, pn)
		return
	}
	txn.retired = append(txn.retired, pn)
}

// reclaimFromGC pulls one more GC record into txn.reclaimed, returning
// true if it found one. Only records whose retiring txnid is older than
// the oldest active reader are eligible - reusing a younger record's
// pages could stomp a snapshot a live reader still needs. The scan
// order honors the LifoReclaim flag:
// LIFO favors records retired most recently (better spatial locality,
// worse fairness under long-running readers); FIFO (default) favors the
// oldest eligible record so old garbage doesn't linger indefinitely.
func (txn *Txn) reclaimFromGC() (bool, error) {
	cursor, err := txn.OpenCursor(FreeDBI)
	if err != nil {
		return false, err
	}
	defer cursor.Close()

	oldest := txn.oldestReaderTxnid()

	op := First
	if txn.env.flags&LifoReclaim != 0 {
		op = Last
	}

	key, val, err := cursor.Get(nil, nil, op)
	for err == nil {
		id, _, ok := parseGCKey(key)
		if ok && id < oldest && !txlContains(txn.reclaimedSrc, id) {
			list := pnlDecode(val)
			if len(list) > 0 {
				txn.reclaimed = pnlMerge(txn.reclaimed, list)
				txn.reclaimedSrc = txlAppend(txn.reclaimedSrc, id)
				if err := cursor.Del(0); err != nil {
					return false, err
				}
				return true, nil
			}
		}

		nextOp := Next
		if txn.env.flags&LifoReclaim != 0 {
			nextOp = Prev
		}
		key, val, err = cursor.Get(nil, nil, nextOp)
	}
	if err != nil && !IsNotFound(err) {
		return false, err
	}
	return false, nil
}

// oldestReaderTxnid returns the oldest snapshot any live reader may
// still be using, or the current write txnid (meaning "no readers, any
// retired page is safe") when the reader table reports none active.
func (txn *Txn) oldestReaderTxnid() txnid {
	if txn.env.lockFile == nil {
		return txn.txnID
	}
	oldest := txn.env.lockFile.oldestReader()
	if oldest == 0 {
		return txn.txnID
	}
	return txnid(oldest)
}

// updateGC persists this transaction's retired pages, together with any
// loose pages it never reused, as one or more new FREE sub-db records,
// splitting into multiple parts if the list exceeds gcRecordMaxPages.
// Called from Commit after the main
// tree's dirty pages are otherwise finalized but before the meta page
// is written, alongside the rest of Commit's tree bookkeeping.
func (txn *Txn) updateGC() error {
	pages := txn.retired
	if len(txn.freePages) > 0 {
		// Take the loose pages off the loose list first so the FREE
		// sub-db Puts below cannot hand one of them back out.
		pages = pnlMerge(pnlSort(txn.retired), pnlSort(pnl(txn.freePages)))
		txn.freePages = txn.freePages[:0]
	}
	if len(pages) == 0 {
		return nil
	}

	sorted := pnlSort(pages)

	cursor, err := txn.OpenCursor(FreeDBI)
	if err != nil {
		return err
	}
	defer cursor.Close()

	for part := uint32(0); len(sorted) > 0; part++ {
		n := len(sorted)
		if n > gcRecordMaxPages {
			n = gcRecordMaxPages
		}
		chunk := sorted[:n]
		sorted = sorted[n:]

		key := gcKey(txn.txnID, part)
		val := pnlEncode(chunk)
		if err := cursor.Put(key, val, Append); err != nil {
			return err
		}
	}

	return nil
}

// allocatePageFromFreeLists is the page_alloc policy order: loose
// pages from this same transaction first (cheapest,
// already dirty), then pages already reclaimed from the GC sub-db this
// transaction, then - only when both are empty - pull another record
// from the GC sub-db before finally falling back to growing the file.
// Returns (pgno, true) on a reused page, (0, false) to signal the
// caller should grow the file instead.
func (txn *Txn) allocatePageFromFreeLists() (pgno, bool) {
	if n := len(txn.freePages); n > 0 {
		pn := txn.freePages[n-1]
		txn.freePages = txn.freePages[:n-1]
		return pn, true
	}

	if len(txn.reclaimed) > 0 {
		pn := txn.reclaimed[0]
		txn.reclaimed = txn.reclaimed[1:]
		return pn, true
	}

	if txn.IsReadOnly() {
		return 0, false
	}
	for {
		found, err := txn.reclaimFromGC()
		if err != nil || !found {
			return 0, false
		}
		if len(txn.reclaimed) > 0 {
			pn := txn.reclaimed[0]
			txn.reclaimed = txn.reclaimed[1:]
			return pn, true
		}
	}
}
