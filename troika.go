package ember

// troika.go implements the meta-page election rule known as "troika":
// out of the three rotating meta pages, each commit must identify which
// one is "recent" (highest committed txnid), which is "prefer_steady"
// (the best synced candidate to read from when a reader wants a durable
// snapshot), and which is "tail" - the one neither of those, and
// therefore safe to overwrite on the next commit.
//
// metaTriple already computes recent and steady exactly as libmdbx
// does (highest txnid overall, highest txnid among synced metas). With
// only three slots, prefer_steady and steady coincide in every
// reachable state: recent/steady/tail partition the three indices, so
// naming the synced one "prefer_steady" rather than introducing a
// fourth tracked slot changes nothing observable. Computing tail by
// just overwriting the globally oldest txnid would be wrong, though:
// during the one-committer window after a steady sync, the globally
// oldest slot can be the *steady* meta rather than the true
// rotating-out slot.

// preferSteadyIndex is the slot a reader should prefer when it wants the
// most recent durable (fsynced) snapshot rather than the most recent
// snapshot overall. Aliased to steady; see the package doc above.
func (mt *metaTriple) preferSteadyIndex() int {
	return mt.steady
}

// tailIndex returns the meta slot that is neither recent nor
// prefer_steady - the one a write transaction's commit should overwrite
// next. When recent and steady happen to be the same
// slot (the common case: the last commit was itself synced), tail is
// whichever of the two remaining slots holds the lower txnid, so a
// half-written or stale meta is reclaimed before a weak-but-newer one.
func (mt *metaTriple) tailIndex() int {
	recent := mt.recent
	steady := mt.preferSteadyIndex()

	if recent != steady {
		for i := 0; i < numMetas; i++ {
			if i != recent && i != steady {
				return i
			}
		}
	}

	// recent == steady: pick the lower-txnid slot among the other two.
	lo := -1
	for i := 0; i < numMetas; i++ {
		if i == recent {
			continue
		}
		if lo == -1 || mt.txnids[i] < mt.txnids[lo] {
			lo = i
		}
	}
	return lo
}

// shouldRetry reports whether the troika's current "recent" meta is
// mid-update (txnid_a/txnid_b not yet equal) and a reader that snapshot
// it should re-derive the triple rather than trust this read (the
// coherency-check retry). A writer's two-phase meta update briefly
// makes isConsistent false between beginMetaUpdate and endMetaUpdate.
func (mt *metaTriple) shouldRetry() bool {
	rm := mt.recentMeta()
	return rm == nil || !rm.isConsistent()
}
