package ember

import (
	"sort"

	"github.com/embeddb/ember/spill"
)

// defaultDirtyPageLimit is the dirty-page limit used when an
// environment has not been given an explicit OptTxnDpLimit. A write
// transaction starts spilling once its dirty count exceeds
// spillWatermark, limit*(d-1)/d: 910 pages with this limit and the
// default denominator d = 9.
const defaultDirtyPageLimit = 1024

// dplEntry is one row of the dirty-page list view : the
// page number, its buffer, and the run length for overflow pages.
type dplEntry struct {
	pgno   pgno
	page   *page
	npages int
	age    uint32
}

// dpl is the sorted, commit-time view of a transaction's dirty pages.
// The hot insert/lookup path still goes through Txn.dirtyTracker, a flat
// array keyed by pgno - dpl is rebuilt from it by maybeSpill, the only
// caller of rebuild, once the dirty set crosses the spill watermark;
// writeDirtyPages does not use it. This keeps the O(1) put/get path
// untouched while still giving spilling a pgno-sorted view.
type dpl struct {
	entries []dplEntry
	turn    uint32 // lru_turn: advanced only by lruTurn, which the write path does not call
}

// rebuild repopulates the view from the transaction's dirty-page tracker,
// sorted ascending by pgno as required for binary search. Every entry's
// age starts at zero.
func (d *dpl) rebuild(t *dirtyPageTracker) {
	d.entries = d.entries[:0]
	t.forEach(func(pn pgno, p *page) {
		npages := 1
		if p.isLarge() {
			npages = int(p.overflowPages())
		}
		d.entries = append(d.entries, dplEntry{pgno: pn, page: p, npages: npages})
	})
	sort.Slice(d.entries, func(i, j int) bool { return d.entries[i].pgno < d.entries[j].pgno })
}

// sift filters out every entry whose pgno is in the given pnl - used
// after spilling or after a child-txn refund drops pages below the new
// next_pgno.
func (d *dpl) sift(list pnl) {
	if len(list) == 0 || len(d.entries) == 0 {
		return
	}
	out := d.entries[:0]
	for _, e := range d.entries {
		if !pnlContains(list, e.pgno) {
			out = append(out, e)
		}
	}
	d.entries = out
}

// search returns the dplEntry for pgno, or nil. The view is kept sorted
// by rebuild, so this is a binary search.
func (d *dpl) search(pn pgno) *dplEntry {
	i := sort.Search(len(d.entries), func(i int) bool { return d.entries[i].pgno >= pn })
	if i < len(d.entries) && d.entries[i].pgno == pn {
		return &d.entries[i]
	}
	return nil
}

// lruTurn increments the transaction-level aging counter and halves every
// entry's age once it approaches overflow (lru_reduce).
func (d *dpl) lruTurn() {
	d.turn++
	if d.turn >= 1<<30 {
		for i := range d.entries {
			d.entries[i].age /= 2
		}
		d.turn /= 2
	}
}

// spillCandidates returns up to n of the view's entries ordered by
// ascending age. It does not skip pages already spilled; maybeSpill
// filters those out before calling it. No write path advances the ages,
// so every entry has age zero and the order among candidates is not
// defined.
func (d *dpl) spillCandidates(n int) []dplEntry {
	ordered := make([]dplEntry, len(d.entries))
	copy(ordered, d.entries)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].age < ordered[j].age })
	if n > len(ordered) {
		n = len(ordered)
	}
	return ordered[:n]
}

// spillWatermark returns the dirty-page count above which a write txn
// should start relocating pages into the env's spill buffer.
func (e *Env) spillWatermark() int {
	denom := e.spillMinDenominator
	if denom == 0 {
		denom = 9
	}
	limit := e.dpLimit
	if limit == 0 {
		limit = defaultDirtyPageLimit
	}
	return int(limit * (denom - 1) / denom)
}

// maybeSpill relocates enough of this write txn's dirty pages into the
// env's mmap-backed spill buffer to bring the dirty set back under the
// watermark, freeing the Go heap memory they occupied. Spilling a page
// only moves its backing bytes - it stays in dirtyTracker under the same
// pgno and is still directly readable/writable in place, so no unspill
// step is needed when the page is touched again; the buffer is only
// released once the page's bytes are durably written (commit) or the
// txn's dirty set is discarded entirely (abort).
func (txn *Txn) maybeSpill() error {
	if txn.env.spillBuf == nil || txn.IsReadOnly() {
		return nil
	}
	watermark := txn.env.spillWatermark()
	if txn.dirtyTracker.len() <= watermark {
		return nil
	}

	txn.dirtyView.rebuild(&txn.dirtyTracker)
	candidates := make([]dplEntry, 0, len(txn.dirtyView.entries))
	for _, e := range txn.dirtyView.entries {
		if _, already := txn.spilled[e.pgno]; already {
			continue
		}
		candidates = append(candidates, e)
	}

	target := len(txn.dirtyView.entries) - watermark
	scratch := dpl{entries: candidates}
	for _, e := range scratch.spillCandidates(target) {
		if err := txn.spillPage(e.pgno, e.page); err != nil {
			if err == spill.ErrBufferFull {
				break // not fatal: keep the rest of the dirty set on the heap
			}
			return err
		}
	}
	return nil
}

// spillPage relocates one dirty page's bytes into the spill buffer.
func (txn *Txn) spillPage(pn pgno, p *page) error {
	data, slot, err := txn.env.spillBuf.Allocate()
	if err != nil {
		return err
	}
	copy(data, p.Data)
	p.Data = data
	if txn.spilled == nil {
		txn.spilled = make(map[pgno]*spill.Slot)
	}
	txn.spilled[pn] = slot
	return nil
}

// releaseSpilled returns every slot this txn borrowed from the spill
// buffer, whether its pages were just written out (commit) or discarded
// outright (abort).
func (txn *Txn) releaseSpilled() {
	if len(txn.spilled) == 0 {
		return
	}
	slots := make([]*spill.Slot, 0, len(txn.spilled))
	for _, s := range txn.spilled {
		slots = append(slots, s)
	}
	txn.env.spillBuf.ReleaseBulk(slots)
	txn.spilled = nil
}
