package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, maxConn int) *Pool {
	t.Helper()
	dir := t.TempDir()
	p, err := Initialize(Config{
		Path:           filepath.Join(dir, "store.db"),
		MaxConnections: maxConn,
		AcquireTimeout: 200 * time.Millisecond,
		IdleTimeout:    50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)
	return p
}

func TestPool_AcquireRelease(t *testing.T) {
	p := newTestPool(t, 2)
	ctx := context.Background()

	h1, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, h1)

	p.Release(h1)

	h2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotNil(t, h2)
	p.Release(h2)
}

func TestPool_AcquireTimeoutWhenExhausted(t *testing.T) {
	p := newTestPool(t, 1)
	ctx := context.Background()

	h1, err := p.Acquire(ctx)
	require.NoError(t, err)

	_, err = p.Acquire(ctx)
	require.Error(t, err)

	p.Release(h1)
}

func TestPool_AcquireAfterShutdownFails(t *testing.T) {
	dir := t.TempDir()
	p, err := Initialize(Config{Path: filepath.Join(dir, "s.db")})
	require.NoError(t, err)
	p.Shutdown()

	_, err = p.Acquire(context.Background())
	assert.Error(t, err)
}

func TestExecuteWithRecovery_RetriesOnFatalError(t *testing.T) {
	p := newTestPool(t, 2)
	attempts := 0

	result, err := ExecuteWithRecovery(context.Background(), p, func(h *Handle) (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errors.New("database is locked")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 2, attempts)
}

func TestExecuteWithRecovery_NonFatalDoesNotRetry(t *testing.T) {
	p := newTestPool(t, 2)
	attempts := 0

	_, err := ExecuteWithRecovery(context.Background(), p, func(h *Handle) (int, error) {
		attempts++
		return 0, errors.New("no such table: widgets")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

type fixtureRow struct {
	ID   string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name string `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func TestWriteReadParquet_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.parquet")
	rows := []fixtureRow{{ID: "a", Name: "alpha"}, {ID: "b", Name: "beta"}}

	require.NoError(t, WriteParquet(path, rows))

	got, err := ReadParquet[fixtureRow](path)
	require.NoError(t, err)
	assert.ElementsMatch(t, rows, got)
}

func TestReadParquet_MissingFileReturnsEmpty(t *testing.T) {
	got, err := ReadParquet[fixtureRow](filepath.Join(t.TempDir(), "missing.parquet"))
	require.NoError(t, err)
	assert.Nil(t, got)
}
