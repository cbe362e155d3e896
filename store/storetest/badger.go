// Package storetest provides an in-memory badger database for store
// package tests, grounded on testing/helpers.InMemoryDB from the teacher.
package storetest

import (
	"testing"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/require"
)

// InMemoryDB opens a throwaway, in-memory badger database for a single
// test and arranges for it to be closed on cleanup.
func InMemoryDB(t *testing.T) *badger.DB {
	t.Helper()

	opts := badger.DefaultOptions("")
	opts.InMemory = true
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}
