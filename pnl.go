package ember

import (
	"encoding/binary"
	"sort"
)

// pnl is a page-number list: a sorted (ascending), deduplicated slice of
// page numbers. It backs the reclaimed-list, retired-list and the GC
// scratch lists that page_alloc and update_gc operate on.
//
// Growth is just append-and-reslice — Go's slice growth already
// amortizes reallocation, so there is no separate capacity header or
// sentinel-slot bookkeeping here. The "short case" merge bypass and the
// linear scan4seq fallback are kept as deliberate algorithmic choices,
// not just memory-layout details.
type pnl []pgno

// pnlShortMergeThreshold is the combined-length cutoff under which
// pnlMerge uses a simple merge instead of allocating a scratch buffer.
const pnlShortMergeThreshold = 21

// pnlAppend appends a single page number to the unsorted tail.
func pnlAppend(p pnl, v pgno) pnl {
	return append(p, v)
}

// pnlAppendRange appends a contiguous ascending run [first, first+n) as
// individual entries, simplified to a plain append since callers always
// sort before relying on order.
func pnlAppendRange(p pnl, first pgno, n int) pnl {
	for i := 0; i < n; i++ {
		p = append(p, first+pgno(i))
	}
	return p
}

// pnlSort sorts p ascending and removes duplicates in place.
func pnlSort(p pnl) pnl {
	if len(p) < 2 {
		return p
	}
	sort.Slice(p, func(i, j int) bool { return p[i] < p[j] })
	out := p[:1]
	for i := 1; i < len(p); i++ {
		if p[i] != out[len(out)-1] {
			out = append(out, p[i])
		}
	}
	return out
}

// pnlSearch returns the index of the first element >= pgno, or len(p) if
// none. Binary search over the (assumed sorted) list.
func pnlSearch(p pnl, target pgno) int {
	return sort.Search(len(p), func(i int) bool { return p[i] >= target })
}

// pnlContains reports whether pgno is present in a sorted pnl.
func pnlContains(p pnl, target pgno) bool {
	i := pnlSearch(p, target)
	return i < len(p) && p[i] == target
}

// pnlMerge computes the sorted set-union of two sorted PNLs. Below
// pnlShortMergeThreshold combined entries it merges by simple insertion
// to avoid the cost of allocating a full scratch buffer (the "short
// case" bypass).
func pnlMerge(dst, src pnl) pnl {
	if len(src) == 0 {
		return dst
	}
	if len(dst) == 0 {
		out := make(pnl, len(src))
		copy(out, src)
		return out
	}

	if len(dst)+len(src) < pnlShortMergeThreshold {
		for _, v := range src {
			i := pnlSearch(dst, v)
			if i < len(dst) && dst[i] == v {
				continue
			}
			dst = append(dst, 0)
			copy(dst[i+1:], dst[i:])
			dst[i] = v
		}
		return dst
	}

	out := make(pnl, 0, len(dst)+len(src))
	i, j := 0, 0
	for i < len(dst) && j < len(src) {
		switch {
		case dst[i] < src[j]:
			out = append(out, dst[i])
			i++
		case dst[i] > src[j]:
			out = append(out, src[j])
			j++
		default:
			out = append(out, dst[i])
			i++
			j++
		}
	}
	out = append(out, dst[i:]...)
	out = append(out, src[j:]...)
	return out
}

// pnlRemoveSet removes every element of p that is present in the sorted
// list "in", returning the filtered slice.
func pnlRemoveSet(p pnl, in pnl) pnl {
	if len(in) == 0 || len(p) == 0 {
		return p
	}
	out := p[:0]
	for _, v := range p {
		if !pnlContains(in, v) {
			out = append(out, v)
		}
	}
	return out
}

// pnlScan4Seq finds the first run of n consecutive page numbers in a
// sorted pnl and returns its starting index, or -1 if no such run
// exists. Portable O(length) fallback; a SIMD variant could replace
// this as long as it agrees with the same scan order.
func pnlScan4Seq(p pnl, n int) int {
	if n <= 0 || len(p) < n {
		return -1
	}
	run := 1
	for i := 1; i < len(p); i++ {
		if p[i] == p[i-1]+1 {
			run++
			if run == n {
				return i - n + 1
			}
		} else {
			run = 1
		}
	}
	return -1
}

// pnlCheck is the invariant probe: every entry must be below limit and
// the list strictly increasing.
func pnlCheck(p pnl, limit pgno) bool {
	for i, v := range p {
		if v >= limit {
			return false
		}
		if i > 0 && p[i-1] >= v {
			return false
		}
	}
	return true
}

// pnlEncode serializes a sorted pnl as a GC record value: a count
// followed by little-endian uint32 page numbers.
func pnlEncode(p pnl) []byte {
	buf := make([]byte, 4+4*len(p))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(p)))
	for i, v := range p {
		binary.LittleEndian.PutUint32(buf[4+4*i:8+4*i], uint32(v))
	}
	return buf
}

// pnlDecode parses a GC record value produced by pnlEncode.
func pnlDecode(data []byte) pnl {
	if len(data) < 4 {
		return nil
	}
	n := binary.LittleEndian.Uint32(data[0:4])
	if uint64(4)+uint64(n)*4 > uint64(len(data)) {
		return nil
	}
	out := make(pnl, n)
	for i := uint32(0); i < n; i++ {
		out[i] = pgno(binary.LittleEndian.Uint32(data[4+4*i : 8+4*i]))
	}
	return out
}

// txl is a txn-id list: used for the LIFO-reclaimed stack of GC record
// keys a write transaction has already consumed this commit.
type txl []txnid

func txlAppend(l txl, v txnid) txl { return append(l, v) }

func txlContains(l txl, v txnid) bool {
	for _, e := range l {
		if e == v {
			return true
		}
	}
	return false
}
