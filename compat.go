package ember

import (
	"os"
)

// TxnOp is a function that operates on a transaction.
// This is the callback type for View, Update, and RunTxn.
type TxnOp func(txn *Txn) error

// CmpFunc is a comparison function for keys or values.
type CmpFunc = func(a, b []byte) int

// Size is a size type for geometry parameters (mdbx-go compatibility).
type Size int64

// Geometry holds database geometry parameters (mdbx-go compatibility).
type Geometry struct {
	SizeLower       Size // Lower limit for datafile size
	SizeNow         Size // Current datafile size (use -1 for default)
	SizeUpper       Size // Upper limit for datafile size
	GrowthStep      Size // Growth step in bytes
	ShrinkThreshold Size // Shrink threshold in bytes
	PageSize        int  // Page size in bytes (use -1 for default)
}

// SetGeometryGeo sets database geometry using Geometry struct (mdbx-go compatibility).
func (e *Env) SetGeometryGeo(geo Geometry) error {
	return e.SetGeometry(
		int64(geo.SizeLower),
		int64(geo.SizeNow),
		int64(geo.SizeUpper),
		int64(geo.GrowthStep),
		int64(geo.ShrinkThreshold),
		geo.PageSize,
	)
}

// SetGeometrySize sets database geometry using Size types (mdbx-go compatibility).
func (e *Env) SetGeometrySize(sizeLower, sizeNow, sizeUpper, growthStep, shrinkThreshold Size, pageSize int) error {
	return e.SetGeometry(
		int64(sizeLower),
		int64(sizeNow),
		int64(sizeUpper),
		int64(growthStep),
		int64(shrinkThreshold),
		pageSize,
	)
}

// View executes a read-only transaction.
// The transaction is automatically committed when fn returns nil,
// or aborted when fn returns an error.
func (e *Env) View(fn TxnOp) error {
	return e.RunTxn(TxnReadOnly, fn)
}

// Update executes a read-write transaction.
// The transaction is automatically committed when fn returns nil,
// or aborted when fn returns an error.
func (e *Env) Update(fn TxnOp) error {
	return e.RunTxn(TxnReadWrite, fn)
}

// RunTxn runs a transaction with the given flags.
// The transaction is automatically committed when fn returns nil,
// or aborted when fn returns an error.
func (e *Env) RunTxn(flags uint, fn TxnOp) error {
	txn, err := e.BeginTxn(nil, flags)
	if err != nil {
		return err
	}
	err = fn(txn)
	if err != nil {
		txn.Abort()
		return err
	}
	_, err = txn.Commit()
	return err
}

// IsNotExist returns true if the error indicates a file doesn't exist.
func IsNotExist(err error) bool {
	return os.IsNotExist(err)
}

// Duration16dot16 is a 16.16 fixed-point duration, the wire width EnvInfo
// reports elapsed-time fields in (SinceSync, AutosyncPeriod, ...).
type Duration16dot16 uint32

