package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpen_FileStoreIsExclusive(t *testing.T) {
	ctx := context.Background()
	opts := Options{Driver: DriverFile, Dir: t.TempDir()}
	log := zaptest.NewLogger(t)

	first, err := Open(ctx, opts, log)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(opts.Dir, LockFileName))

	_, err = Open(ctx, opts, log)
	assert.ErrorIs(t, err, ErrStoreLocked)

	_, err = first.Add(ctx, "users", Record{"name": "A"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(ctx, opts, log)
	require.NoError(t, err)
	defer second.Close()
	all, err := second.GetAll(ctx, "users")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestOpen_SQLiteStoreIsExclusive(t *testing.T) {
	ctx := context.Background()
	opts := Options{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "store.db")}
	log := zaptest.NewLogger(t)

	first, err := Open(ctx, opts, log)
	require.NoError(t, err)
	_, err = Open(ctx, opts, log)
	assert.ErrorIs(t, err, ErrStoreLocked)
	require.NoError(t, first.Close())

	second, err := Open(ctx, opts, log)
	require.NoError(t, err)
	assert.NoError(t, second.Close())
}

func TestOpen_MemoryStoresAreIndependent(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	a, err := Open(ctx, Options{Driver: DriverMemory}, log)
	require.NoError(t, err)
	b, err := Open(ctx, Options{Driver: DriverMemory}, log)
	require.NoError(t, err)
	assert.NoError(t, a.Close())
	assert.NoError(t, b.Close())
}
