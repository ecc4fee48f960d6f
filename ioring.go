package ember

import (
	"io"
	"sort"
)

// ioRingEntry is one pending write: the destination page number, the
// bytes to write (possibly spanning several pages for a large-value
// overflow run), and a callback fired once the entry has been written.
type ioRingEntry struct {
	pgno pgno
	data []byte
	done func(error)
}

// ioRing batches the dirty pages of a write transaction into the fewest
// possible WriteAt calls by coalescing adjacent page numbers into single
// contiguous segments before issuing them. This replaces a naive
// one-WriteAt-per-page loop in writeDirtyPages with a gather pass, while
// keeping the same io.WriterAt target so it works unmodified against
// both the plain file path and the WriteMap-mmap path.
type ioRing struct {
	pageSize int64
	entries  []ioRingEntry
}

// newIORing returns an empty ring sized for a page size in bytes.
func newIORing(pageSize int64) *ioRing {
	return &ioRing{pageSize: pageSize}
}

// reset clears the ring for reuse across transactions.
func (r *ioRing) reset() {
	r.entries = r.entries[:0]
}

// add enqueues one page's worth of dirty data. done may be nil if the
// caller doesn't need per-page completion notification.
func (r *ioRing) add(pn pgno, data []byte, done func(error)) {
	r.entries = append(r.entries, ioRingEntry{pgno: pn, data: data, done: done})
}

// walk sorts the queued entries by page number and merges runs of
// entries whose byte ranges are exactly contiguous into a single write,
// then issues each resulting segment via a single WriteAt. Completion
// callbacks for every entry folded into a segment fire with that
// segment's write error once the underlying WriteAt returns.
func (r *ioRing) walk(w io.WriterAt) error {
	if len(r.entries) == 0 {
		return nil
	}
	sort.Slice(r.entries, func(i, j int) bool { return r.entries[i].pgno < r.entries[j].pgno })

	i := 0
	for i < len(r.entries) {
		j := i + 1
		segLen := len(r.entries[i].data)
		for j < len(r.entries) {
			expectedPgno := r.entries[j-1].pgno + pgno(len(r.entries[j-1].data))/pgno(r.pageSize)
			if r.entries[j].pgno != expectedPgno {
				break
			}
			segLen += len(r.entries[j].data)
			j++
		}

		var buf []byte
		if j-i == 1 {
			buf = r.entries[i].data
		} else {
			buf = make([]byte, 0, segLen)
			for k := i; k < j; k++ {
				buf = append(buf, r.entries[k].data...)
			}
		}

		offset := int64(r.entries[i].pgno) * r.pageSize
		_, err := w.WriteAt(buf, offset)
		for k := i; k < j; k++ {
			if r.entries[k].done != nil {
				r.entries[k].done(err)
			}
		}
		if err != nil {
			return err
		}
		i = j
	}
	return nil
}
