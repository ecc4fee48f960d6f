package ember

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPage(pno pgno, flags pageFlags, pageSize uint16) *page {
	p := &page{Data: make([]byte, pageSize)}
	p.init(pno, flags, pageSize)
	return p
}

func TestDplRebuildSortsByPgno(t *testing.T) {
	var tracker dirtyPageTracker
	tracker.set(30, newTestPage(30, pageLeaf, 4096))
	tracker.set(10, newTestPage(10, pageLeaf, 4096))
	tracker.set(20, newTestPage(20, pageLeaf, 4096))

	var d dpl
	d.rebuild(&tracker)

	require.Len(t, d.entries, 3)
	require.Equal(t, pgno(10), d.entries[0].pgno)
	require.Equal(t, pgno(20), d.entries[1].pgno)
	require.Equal(t, pgno(30), d.entries[2].pgno)
}

func TestDplSearch(t *testing.T) {
	var tracker dirtyPageTracker
	tracker.set(5, newTestPage(5, pageLeaf, 4096))
	tracker.set(15, newTestPage(15, pageLeaf, 4096))

	var d dpl
	d.rebuild(&tracker)

	found := d.search(15)
	require.NotNil(t, found)
	require.Equal(t, pgno(15), found.pgno)

	require.Nil(t, d.search(99))
}

func TestDplSift(t *testing.T) {
	var tracker dirtyPageTracker
	for _, pn := range []pgno{1, 2, 3, 4, 5} {
		tracker.set(pn, newTestPage(pn, pageLeaf, 4096))
	}

	var d dpl
	d.rebuild(&tracker)
	d.sift(pnl{2, 4})

	var remaining []pgno
	for _, e := range d.entries {
		remaining = append(remaining, e.pgno)
	}
	require.Equal(t, []pgno{1, 3, 5}, remaining)
}

func TestDplLruTurnHalvesAgesNearOverflow(t *testing.T) {
	var d dpl
	d.entries = []dplEntry{{pgno: 1, age: 100}, {pgno: 2, age: 50}}
	d.turn = (1 << 30) - 1

	d.lruTurn()

	require.Equal(t, uint32(50), d.entries[0].age)
	require.Equal(t, uint32(25), d.entries[1].age)
}

func TestDplSpillCandidatesOrderedByAge(t *testing.T) {
	var d dpl
	d.entries = []dplEntry{
		{pgno: 1, age: 30},
		{pgno: 2, age: 10},
		{pgno: 3, age: 20},
	}

	cands := d.spillCandidates(2)
	require.Len(t, cands, 2)
	require.Equal(t, pgno(2), cands[0].pgno)
	require.Equal(t, pgno(3), cands[1].pgno)
}
