package ember

// DBI is a database handle (index into environment's database array).
type DBI uint32

// Drop deletes all data in a database, or deletes the database entirely.
// If del is true, the database is deleted; otherwise it is emptied.
// Every page reachable from the tree's root is routed through freePage
// so the GC sub-db eventually reclaims the space instead of leaking it.
func (txn *Txn) Drop(dbi DBI, del bool) error {
	if !txn.valid() {
		return NewError(ErrBadTxn)
	}

	if txn.IsReadOnly() {
		return NewError(ErrPermissionDenied)
	}

	if dbi < CoreDBs {
		return NewError(ErrInvalid) // Can't drop core DBs
	}

	if int(dbi) >= len(txn.trees) {
		return NewError(ErrBadDBI)
	}

	if root := txn.trees[dbi].Root; root != invalidPgno {
		if err := txn.freeTreePages(root); err != nil {
			return err
		}
	}

	txn.trees[dbi].reset()

	// Mark the tree as dirty so it gets persisted
	if txn.dbiDirty == nil {
		txn.dbiDirty = make([]bool, len(txn.trees))
	}
	if int(dbi) < len(txn.dbiDirty) {
		txn.dbiDirty[dbi] = true
	}

	if del {
		// Remove from environment's DBI list
		txn.env.dbisMu.Lock()
		txn.env.dbis[dbi] = nil
		txn.env.dbisMu.Unlock()
	}

	return nil
}

// freeTreePages walks every page reachable from root - branch pages,
// leaf pages, the overflow runs of their large-value nodes, and the
// sub-trees of DUPSORT nodes - and routes each one through freePage.
// This is the same retirement path Del/delNode uses for a single page,
// just applied to an entire tree at once.
func (txn *Txn) freeTreePages(root pgno) error {
	if root == invalidPgno {
		return nil
	}

	p, err := txn.getPage(root)
	if err != nil {
		return err
	}

	if p.isBranch() {
		n := p.numEntries()
		for i := 0; i < n; i++ {
			child := nodeGetChildPgnoFast(p, i)
			if err := txn.freeTreePages(child); err != nil {
				return err
			}
		}
	} else {
		n := p.numEntries()
		for i := 0; i < n; i++ {
			flags := nodeGetFlagsDirect(p, i)
			switch {
			case flags&nodeBig != 0:
				txn.freeOverflowRun(nodeGetOverflowPgnoDirect(p, i), nodeGetDataSizeDirect(p, i))
			case flags&nodeTree != 0:
				data := nodeGetDataDirect(p, i)
				if len(data) >= 12 {
					subRoot := pgno(
						uint32(data[8]) | uint32(data[9])<<8 |
							uint32(data[10])<<16 | uint32(data[11])<<24)
					if err := txn.freeTreePages(subRoot); err != nil {
						return err
					}
				}
			}
		}
	}

	txn.freePage(root)
	return nil
}

// freeOverflowRun retires every page of a large-value overflow run.
func (txn *Txn) freeOverflowRun(overflowPgno pgno, dataSize uint32) {
	pageSize := int(txn.env.pageSize)
	firstPageData := pageSize - pageHeaderSize

	remaining := int(dataSize) - firstPageData
	numPages := 1
	if remaining > 0 {
		numPages += (remaining + pageSize - 1) / pageSize
	}

	for i := 0; i < numPages; i++ {
		txn.freePage(overflowPgno + pgno(i))
	}
}

// DBIFlags returns the flags for a database.
func (txn *Txn) DBIFlags(dbi DBI) (uint, error) {
	if !txn.valid() {
		return 0, NewError(ErrBadTxn)
	}

	if int(dbi) >= len(txn.trees) {
		return 0, NewError(ErrBadDBI)
	}

	return uint(txn.trees[dbi].Flags), nil
}

// Sequence gets or updates the sequence number for a database.
// If increment > 0, adds to the sequence and returns the value it had
// before the increment.
// If increment == 0, returns the current value without changing it.
func (txn *Txn) Sequence(dbi DBI, increment uint64) (uint64, error) {
	if !txn.valid() {
		return 0, NewError(ErrBadTxn)
	}

	if int(dbi) >= len(txn.trees) {
		return 0, NewError(ErrBadDBI)
	}

	if increment > 0 && txn.IsReadOnly() {
		return 0, NewError(ErrPermissionDenied)
	}

	t := &txn.trees[dbi]
	result := t.Sequence

	if increment > 0 {
		t.Sequence += increment
	}

	return result, nil
}

// SetCompare sets a custom key comparison function for a database.
// Must be called before any data operations on the database.
func (e *Env) SetCompare(dbi DBI, cmp func(a, b []byte) int) error {
	if !e.valid() {
		return NewError(ErrInvalid)
	}

	e.dbisMu.Lock()
	defer e.dbisMu.Unlock()

	if int(dbi) >= len(e.dbis) {
		return NewError(ErrBadDBI)
	}

	if e.dbis[dbi] == nil {
		e.dbis[dbi] = &dbiInfo{}
	}
	e.dbis[dbi].cmp = cmp

	return nil
}

// SetDupCompare sets a custom data comparison function for DUPSORT databases.
// Must be called before any data operations on the database.
func (e *Env) SetDupCompare(dbi DBI, cmp func(a, b []byte) int) error {
	if !e.valid() {
		return NewError(ErrInvalid)
	}

	e.dbisMu.Lock()
	defer e.dbisMu.Unlock()

	if int(dbi) >= len(e.dbis) {
		return NewError(ErrBadDBI)
	}

	if e.dbis[dbi] == nil {
		e.dbis[dbi] = &dbiInfo{}
	}
	e.dbis[dbi].dcmp = cmp

	return nil
}

// DBIStat is an alias for the Stat method for compatibility.
func (txn *Txn) DBIStat(dbi DBI) (*Stat, error) {
	return txn.Stat(dbi)
}
