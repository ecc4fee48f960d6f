package tests

import (
	"bytes"
	"fmt"
	"sort"
	"testing"

	"github.com/embeddb/ember"

	mdbx "github.com/erigontech/mdbx-go/mdbx"
)

// TestEmberWriteLibmdbxRead verifies that DUPSORT databases created by ember
// can be read correctly by libmdbx.
func TestEmberWriteLibmdbxRead(t *testing.T) {
	db := newTestDB(t)
	defer db.cleanup()

	// Create DUPSORT database with ember
	emberEnv, err := ember.NewEnv(ember.Default)
	if err != nil {
		t.Fatal(err)
	}

	emberEnv.SetMaxDBs(10)
	// Set geometry to match libmdbx defaults
	if err := emberEnv.SetGeometry(-1, -1, 1<<30, -1, -1, 4096); err != nil {
		emberEnv.Close()
		t.Fatal(err)
	}
	if err := emberEnv.Open(db.path, 0, 0644); err != nil {
		emberEnv.Close()
		t.Fatal(err)
	}

	emberTxn, err := emberEnv.BeginTxn(nil, 0)
	if err != nil {
		emberEnv.Close()
		t.Fatal(err)
	}

	dbi, err := emberTxn.OpenDBISimple("testdb", ember.Create|ember.DupSort)
	if err != nil {
		emberTxn.Abort()
		emberEnv.Close()
		t.Fatal(err)
	}

	// Insert multiple values for multiple keys
	testData := map[string][]string{
		"key1": {"alpha", "beta", "gamma"},
		"key2": {"one", "two", "three"},
		"key3": {"x", "y", "z"},
	}

	for key, values := range testData {
		for _, val := range values {
			if err := emberTxn.Put(dbi, []byte(key), []byte(val), 0); err != nil {
				emberTxn.Abort()
				emberEnv.Close()
				t.Fatalf("Put error: %v", err)
			}
		}
	}

	if _, err := emberTxn.Commit(); err != nil {
		emberEnv.Close()
		t.Fatalf("Commit error: %v", err)
	}
	emberEnv.Close()

	// Read with libmdbx
	env, err := mdbx.NewEnv(mdbx.Label("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	env.SetGeometry(-1, -1, 1<<30, -1, -1, 4096)
	env.SetOption(mdbx.OptMaxDB, 10)

	if err := env.Open(db.path, 0, 0644); err != nil {
		t.Fatalf("libmdbx env.Open error: %v", err)
	}
	t.Log("libmdbx env.Open succeeded")

	txn, err := env.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		t.Fatalf("libmdbx BeginTxn error: %v", err)
	}
	defer txn.Abort()
	t.Log("libmdbx BeginTxn succeeded")

	// Check what's in the main database
	mainCursor, err := txn.OpenCursor(1)
	if err != nil {
		t.Logf("OpenCursor on main db failed: %v", err)
	} else {
		t.Log("Main database contents:")
		k, v, err := mainCursor.Get(nil, nil, mdbx.First)
		for err == nil {
			t.Logf("  %q (len=%d) -> (value len=%d):", k, len(k), len(v))
			// Dump value bytes
			for i := 0; i < len(v); i += 16 {
				line := "    "
				for j := i; j < i+16 && j < len(v); j++ {
					line += fmt.Sprintf("%02x ", v[j])
				}
				t.Log(line)
			}
			k, v, err = mainCursor.Get(nil, nil, mdbx.Next)
		}
		mainCursor.Close()
	}

	// First try without DupSort flag to see what libmdbx detects
	mdbxDbi, err := txn.OpenDBI("testdb", 0, nil, nil)
	if err != nil {
		t.Logf("OpenDBI without flags: %v", err)
		// Try with DupSort flag
		mdbxDbi, err = txn.OpenDBI("testdb", mdbx.DupSort, nil, nil)
		if err != nil {
			t.Fatalf("libmdbx OpenDBI error: %v", err)
		}
	}

	cursor, err := txn.OpenCursor(mdbxDbi)
	if err != nil {
		t.Fatal(err)
	}
	defer cursor.Close()

	// Read all entries and compare
	actualData := make(map[string][]string)
	for {
		k, v, err := cursor.Get(nil, nil, mdbx.Next)
		if mdbx.IsNotFound(err) {
			break
		}
		if err != nil {
			t.Fatalf("libmdbx Get error: %v", err)
		}
		key := string(k)
		actualData[key] = append(actualData[key], string(v))
	}

	// Compare with expected data (values are stored in sorted order in DUPSORT)
	for key, expectedValues := range testData {
		actualValues, ok := actualData[key]
		if !ok {
			t.Errorf("Key %q not found by libmdbx", key)
			continue
		}

		// DUPSORT stores values in sorted order
		sortedExpected := make([]string, len(expectedValues))
		copy(sortedExpected, expectedValues)
		sort.Strings(sortedExpected)

		if len(actualValues) != len(sortedExpected) {
			t.Errorf("Key %q: expected %d values, got %d", key, len(sortedExpected), len(actualValues))
			continue
		}

		for i, expected := range sortedExpected {
			if actualValues[i] != expected {
				t.Errorf("Key %q value[%d]: expected %q, got %q", key, i, expected, actualValues[i])
			}
		}
	}

	t.Logf("Successfully verified ember-created DUPSORT database read by libmdbx")
}

// TestLibmdbxWriteEmberRead verifies that DUPSORT databases created by libmdbx
// can be read correctly by ember.
func TestLibmdbxWriteEmberRead(t *testing.T) {
	db := newTestDB(t)
	defer db.cleanup()

	// Create DUPSORT database with libmdbx
	env, err := mdbx.NewEnv(mdbx.Label("test"))
	if err != nil {
		t.Fatal(err)
	}

	env.SetGeometry(-1, -1, 1<<30, -1, -1, 4096)
	env.SetOption(mdbx.OptMaxDB, 10)

	if err := env.Open(db.path, mdbx.Create, 0644); err != nil {
		env.Close()
		t.Fatal(err)
	}

	txn, err := env.BeginTxn(nil, 0)
	if err != nil {
		env.Close()
		t.Fatal(err)
	}

	dbi, err := txn.OpenDBI("testdb", mdbx.Create|mdbx.DupSort, nil, nil)
	if err != nil {
		txn.Abort()
		env.Close()
		t.Fatal(err)
	}

	// Insert multiple values for multiple keys
	// Note: Values are stored in sorted order by libmdbx
	testData := map[string][]string{
		"apple":  {"green", "red", "yellow"}, // sorted order
		"banana": {"green", "yellow"},        // sorted order
		"cherry": {"red"},
	}

	for key, values := range testData {
		for _, val := range values {
			if err := txn.Put(dbi, []byte(key), []byte(val), 0); err != nil {
				txn.Abort()
				env.Close()
				t.Fatalf("Put error: %v", err)
			}
		}
	}

	if _, err := txn.Commit(); err != nil {
		env.Close()
		t.Fatalf("Commit error: %v", err)
	}
	env.Close()

	// Read with ember
	emberEnv, err := ember.NewEnv(ember.Default)
	if err != nil {
		t.Fatal(err)
	}
	defer emberEnv.Close()

	emberEnv.SetMaxDBs(10)
	if err := emberEnv.Open(db.path, ember.ReadOnly, 0644); err != nil {
		t.Fatal(err)
	}

	emberTxn, err := emberEnv.BeginTxn(nil, ember.TxnReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer emberTxn.Abort()

	emberDbi, err := emberTxn.OpenDBISimple("testdb", 0)
	if err != nil {
		t.Fatalf("ember OpenDBI error: %v", err)
	}

	cursor, err := emberTxn.OpenCursor(emberDbi)
	if err != nil {
		t.Fatal(err)
	}
	defer cursor.Close()

	// Read all entries and compare
	actualData := make(map[string][]string)
	k, v, err := cursor.Get(nil, nil, ember.First)
	for err == nil {
		key := string(k)
		actualData[key] = append(actualData[key], string(v))
		k, v, err = cursor.Get(nil, nil, ember.Next)
	}
	if !ember.IsNotFound(err) {
		t.Fatalf("ember Get error: %v", err)
	}

	// Compare with expected data
	for key, expectedValues := range testData {
		actualValues, ok := actualData[key]
		if !ok {
			t.Errorf("Key %q not found by ember", key)
			continue
		}

		if len(actualValues) != len(expectedValues) {
			t.Errorf("Key %q: expected %d values, got %d", key, len(expectedValues), len(actualValues))
			continue
		}

		for i, expected := range expectedValues {
			if actualValues[i] != expected {
				t.Errorf("Key %q value[%d]: expected %q, got %q", key, i, expected, actualValues[i])
			}
		}
	}

	t.Logf("Successfully verified libmdbx-created DUPSORT database read by ember")
}

// TestRoundTrip verifies that data written by ember can be read by libmdbx,
// then written by libmdbx and read by ember.
func TestRoundTrip(t *testing.T) {
	db := newTestDB(t)
	defer db.cleanup()

	// Phase 1: Write with ember
	emberEnv, err := ember.NewEnv(ember.Default)
	if err != nil {
		t.Fatal(err)
	}

	emberEnv.SetMaxDBs(10)
	// Set geometry to match libmdbx defaults
	if err := emberEnv.SetGeometry(-1, -1, 1<<30, -1, -1, 4096); err != nil {
		emberEnv.Close()
		t.Fatal(err)
	}
	if err := emberEnv.Open(db.path, 0, 0644); err != nil {
		emberEnv.Close()
		t.Fatal(err)
	}

	emberTxn, err := emberEnv.BeginTxn(nil, 0)
	if err != nil {
		emberEnv.Close()
		t.Fatal(err)
	}

	dbi, err := emberTxn.OpenDBISimple("roundtrip", ember.Create|ember.DupSort)
	if err != nil {
		emberTxn.Abort()
		emberEnv.Close()
		t.Fatal(err)
	}

	// Write initial data
	if err := emberTxn.Put(dbi, []byte("test"), []byte("value1"), 0); err != nil {
		emberTxn.Abort()
		emberEnv.Close()
		t.Fatal(err)
	}
	if err := emberTxn.Put(dbi, []byte("test"), []byte("value2"), 0); err != nil {
		emberTxn.Abort()
		emberEnv.Close()
		t.Fatal(err)
	}

	if _, err := emberTxn.Commit(); err != nil {
		emberEnv.Close()
		t.Fatal(err)
	}
	emberEnv.Close()

	// Phase 2: Read with libmdbx and add more data
	mdbxEnv, err := mdbx.NewEnv(mdbx.Label("test"))
	if err != nil {
		t.Fatal(err)
	}

	mdbxEnv.SetGeometry(-1, -1, 1<<30, -1, -1, 4096)
	mdbxEnv.SetOption(mdbx.OptMaxDB, 10)

	if err := mdbxEnv.Open(db.path, 0, 0644); err != nil {
		mdbxEnv.Close()
		t.Fatal(err)
	}

	// Verify existing data
	mdbxTxn, err := mdbxEnv.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		mdbxEnv.Close()
		t.Fatal(err)
	}

	mdbxDbi, err := mdbxTxn.OpenDBI("roundtrip", mdbx.DupSort, nil, nil)
	if err != nil {
		mdbxTxn.Abort()
		mdbxEnv.Close()
		t.Fatalf("libmdbx OpenDBI error: %v", err)
	}

	cursor, _ := mdbxTxn.OpenCursor(mdbxDbi)
	k, v, err := cursor.Get(nil, nil, mdbx.First)
	if err != nil {
		cursor.Close()
		mdbxTxn.Abort()
		mdbxEnv.Close()
		t.Fatalf("libmdbx read error: %v", err)
	}
	if string(k) != "test" || string(v) != "value1" {
		cursor.Close()
		mdbxTxn.Abort()
		mdbxEnv.Close()
		t.Fatalf("Unexpected first entry: %q => %q", k, v)
	}
	cursor.Close()
	mdbxTxn.Abort()

	// Add more data with libmdbx
	mdbxTxn, _ = mdbxEnv.BeginTxn(nil, 0)
	mdbxDbi, _ = mdbxTxn.OpenDBI("roundtrip", mdbx.DupSort, nil, nil)
	if err := mdbxTxn.Put(mdbxDbi, []byte("test"), []byte("value3"), 0); err != nil {
		mdbxTxn.Abort()
		mdbxEnv.Close()
		t.Fatal(err)
	}
	mdbxTxn.Commit()
	mdbxEnv.Close()

	// Phase 3: Verify all data with ember
	emberEnv, _ = ember.NewEnv(ember.Default)
	emberEnv.SetMaxDBs(10)
	emberEnv.Open(db.path, ember.ReadOnly, 0644)
	defer emberEnv.Close()

	emberTxn, _ = emberEnv.BeginTxn(nil, ember.TxnReadOnly)
	defer emberTxn.Abort()

	dbi, _ = emberTxn.OpenDBISimple("roundtrip", 0)
	cursor2, _ := emberTxn.OpenCursor(dbi)
	defer cursor2.Close()

	var values []string
	k, v, err = cursor2.Get(nil, nil, ember.First)
	for err == nil {
		if string(k) == "test" {
			values = append(values, string(v))
		}
		k, v, err = cursor2.Get(nil, nil, ember.Next)
	}

	expected := []string{"value1", "value2", "value3"}
	if len(values) != len(expected) {
		t.Fatalf("Expected %d values, got %d: %v", len(expected), len(values), values)
	}

	for i, exp := range expected {
		if values[i] != exp {
			t.Errorf("Value[%d]: expected %q, got %q", i, exp, values[i])
		}
	}

	t.Logf("Successfully completed round-trip test: ember -> libmdbx -> ember")
}

// TestSubPageBinaryCompat compares the actual sub-page bytes between ember and libmdbx
func TestSubPageBinaryCompat(t *testing.T) {
	db1 := newTestDB(t)
	defer db1.cleanup()
	db2 := newTestDB(t)
	defer db2.cleanup()

	values := []string{"aaa", "bbb", "ccc"}

	// Create with ember
	emberEnv, _ := ember.NewEnv(ember.Default)
	emberEnv.SetMaxDBs(10)
	emberEnv.Open(db1.path, 0, 0644)
	emberTxn, _ := emberEnv.BeginTxn(nil, 0)
	dbi, _ := emberTxn.OpenDBISimple("test", ember.Create|ember.DupSort)
	for _, v := range values {
		emberTxn.Put(dbi, []byte("key"), []byte(v), 0)
	}
	emberTxn.Commit()
	emberEnv.Close()

	// Create with libmdbx
	mdbxEnv, _ := mdbx.NewEnv(mdbx.Label("test"))
	mdbxEnv.SetGeometry(-1, -1, 1<<30, -1, -1, 4096)
	mdbxEnv.SetOption(mdbx.OptMaxDB, 10)
	mdbxEnv.Open(db2.path, mdbx.Create, 0644)
	mdbxTxn, _ := mdbxEnv.BeginTxn(nil, 0)
	mdbxDbi, _ := mdbxTxn.OpenDBI("test", mdbx.Create|mdbx.DupSort, nil, nil)
	for _, v := range values {
		mdbxTxn.Put(mdbxDbi, []byte("key"), []byte(v), 0)
	}
	mdbxTxn.Commit()
	mdbxEnv.Close()

	// Read both and compare
	emberEnv, _ = ember.NewEnv(ember.Default)
	emberEnv.SetMaxDBs(10)
	emberEnv.Open(db1.path, ember.ReadOnly, 0644)
	defer emberEnv.Close()

	emberTxn, _ = emberEnv.BeginTxn(nil, ember.TxnReadOnly)
	defer emberTxn.Abort()
	dbi, _ = emberTxn.OpenDBISimple("test", 0)
	tree := emberTxn.GetTree(dbi)
	emberPage, _ := emberTxn.DebugGetPage(uint32(tree.Root))

	mdbxEnv, _ = mdbx.NewEnv(mdbx.Label("test"))
	mdbxEnv.SetGeometry(-1, -1, 1<<30, -1, -1, 4096)
	mdbxEnv.SetOption(mdbx.OptMaxDB, 10)
	mdbxEnv.Open(db2.path, 0, 0644)
	defer mdbxEnv.Close()

	mdbxTxn, _ = mdbxEnv.BeginTxn(nil, mdbx.Readonly)
	defer mdbxTxn.Abort()
	mdbxDbi, _ = mdbxTxn.OpenDBI("test", 0, nil, nil)
	cursor, _ := mdbxTxn.OpenCursor(mdbxDbi)
	defer cursor.Close()

	// Get first entry from both
	emberCursor, _ := emberTxn.OpenCursor(dbi)
	defer emberCursor.Close()

	k1, v1, _ := emberCursor.Get(nil, nil, ember.First)
	k2, v2, _ := cursor.Get(nil, nil, mdbx.First)

	t.Logf("ember first: key=%q value=%q", k1, v1)
	t.Logf("libmdbx first: key=%q value=%q", k2, v2)

	if !bytes.Equal(k1, k2) || !bytes.Equal(v1, v2) {
		t.Errorf("First entries differ!")
	}

	// Compare all values
	var emberVals, mdbxVals []string
	emberVals = append(emberVals, string(v1))
	for {
		_, v, err := emberCursor.Get(nil, nil, ember.Next)
		if ember.IsNotFound(err) {
			break
		}
		emberVals = append(emberVals, string(v))
	}

	mdbxVals = append(mdbxVals, string(v2))
	for {
		_, v, err := cursor.Get(nil, nil, mdbx.Next)
		if mdbx.IsNotFound(err) {
			break
		}
		mdbxVals = append(mdbxVals, string(v))
	}

	t.Logf("ember values: %v", emberVals)
	t.Logf("libmdbx values: %v", mdbxVals)

	if len(emberVals) != len(mdbxVals) {
		t.Errorf("Different number of values: ember=%d, libmdbx=%d", len(emberVals), len(mdbxVals))
	}

	// Compare page bytes (first 100 bytes for debugging)
	t.Logf("ember root page first 100 bytes:")
	for i := 0; i < 100 && i < len(emberPage); i++ {
		if i%16 == 0 {
			t.Logf("\n  %3d: ", i)
		}
		t.Logf("%02x ", emberPage[i])
	}
}
