package ember

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDropRetiresTreePagesIntoFreeList(t *testing.T) {
	env, cleanup := openTestEnv(t)
	defer cleanup()

	txn, err := env.BeginTxn(nil, TxnReadWrite)
	require.NoError(t, err)

	dbi, err := txn.OpenDBISimple("dropme", Create)
	require.NoError(t, err)

	// Enough entries to force at least one branch/leaf split so Drop has
	// more than a single page to walk.
	for i := 0; i < 500; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		val := []byte(fmt.Sprintf("value-%04d", i))
		require.NoError(t, txn.Put(dbi, key, val, Upsert))
	}

	root := txn.trees[dbi].Root
	require.NotEqual(t, invalidPgno, root)

	require.NoError(t, txn.Drop(dbi, false))

	require.Equal(t, invalidPgno, txn.trees[dbi].Root)
	require.NotEmpty(t, txn.freePages, "pages dirtied this txn should land on the loose list")

	_, err = txn.Commit()
	require.NoError(t, err)

	// The dropped tree's retired pages must be durably recorded in the
	// FREE sub-db so a later transaction's allocator can reclaim them.
	verify, err := env.BeginTxn(nil, TxnReadOnly)
	require.NoError(t, err)
	defer verify.Abort()

	cursor, err := verify.OpenCursor(FreeDBI)
	require.NoError(t, err)
	defer cursor.Close()

	_, _, err = cursor.Get(nil, nil, First)
	require.NoError(t, err, "FREE sub-db should have at least one GC record after dropping a populated tree")
}

func TestDropEmptyTreeIsANoop(t *testing.T) {
	env, cleanup := openTestEnv(t)
	defer cleanup()

	txn, err := env.BeginTxn(nil, TxnReadWrite)
	require.NoError(t, err)

	dbi, err := txn.OpenDBISimple("empty", Create)
	require.NoError(t, err)

	require.NoError(t, txn.Drop(dbi, false))
	require.Equal(t, invalidPgno, txn.trees[dbi].Root)

	_, err = txn.Commit()
	require.NoError(t, err)
}

func TestDropDeleteRemovesDBIHandle(t *testing.T) {
	env, cleanup := openTestEnv(t)
	defer cleanup()

	txn, err := env.BeginTxn(nil, TxnReadWrite)
	require.NoError(t, err)

	dbi, err := txn.OpenDBISimple("gone", Create)
	require.NoError(t, err)
	require.NoError(t, txn.Put(dbi, []byte("k"), []byte("v"), Upsert))

	require.NoError(t, txn.Drop(dbi, true))

	env.dbisMu.RLock()
	handle := env.dbis[dbi]
	env.dbisMu.RUnlock()
	require.Nil(t, handle)

	_, err = txn.Commit()
	require.NoError(t, err)
}
