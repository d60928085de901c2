package testutil

import (
	"context"
	"testing"

	"github.com/dataqual/perfmon/database/docdb"

	"github.com/dgraph-io/badger/v3"
	"github.com/genjidb/genji"
	"github.com/genjidb/genji/engine/badgerengine"
	"github.com/stretchr/testify/require"
)

// NewGenjiDB opens a throwaway genji instance on a badger engine under
// the given path.
func NewGenjiDB(t *testing.T, storagePath string) *genji.DB {
	opts := badger.DefaultOptions(storagePath).
		WithZSTDCompressionLevel(3).
		WithBlockSize(8 * 1024).
		WithValueThreshold(128 * 1024)

	engine, err := badgerengine.NewEngine(opts)
	require.NoError(t, err)
	db, err := genji.New(context.Background(), engine)
	require.NoError(t, err)
	return db
}

// NewSQLiteDocDB opens a throwaway sqlite doc store under a test
// temporary directory.
func NewSQLiteDocDB(t *testing.T) docdb.DocDB {
	db, err := docdb.NewSQLiteDB(t.TempDir())
	require.NoError(t, err)
	return db
}

// NewGenjiDocDB opens a throwaway genji doc store under a test
// temporary directory.
func NewGenjiDocDB(t *testing.T) docdb.DocDB {
	g := NewGenjiDB(t, t.TempDir())
	db, err := docdb.NewGenjiDBFromGenji(g)
	require.NoError(t, err)
	return db
}
