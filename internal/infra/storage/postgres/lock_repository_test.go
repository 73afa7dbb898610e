package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/storage"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

func TestLockStore_Acquire_RespectsCapacity(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()
	s := NewStore(pool, storage.NoOpTracer())
	locks := NewLockStore(s)

	first, err := locks.Acquire(context.Background(), "analysis-1", uuid.New(), 1, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, first.Token())

	_, err = locks.Acquire(context.Background(), "analysis-1", uuid.New(), 1, time.Minute)
	assert.ErrorIs(t, err, scanning.ErrLockCapacityExceeded)

	// A different server has its own independent slot.
	other, err := locks.Acquire(context.Background(), "analysis-2", uuid.New(), 1, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, other.Token())
}

func TestLockStore_Release_FreesSlotImmediately(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()
	s := NewStore(pool, storage.NoOpTracer())
	locks := NewLockStore(s)

	held, err := locks.Acquire(context.Background(), "analysis-1", uuid.New(), 1, time.Minute)
	require.NoError(t, err)

	require.NoError(t, locks.Release(context.Background(), held.Token()))

	freed, err := locks.Acquire(context.Background(), "analysis-1", uuid.New(), 1, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, freed.Token())
}

func TestLockStore_Renew_ExtendsExpiry(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()
	s := NewStore(pool, storage.NoOpTracer())
	locks := NewLockStore(s)

	held, err := locks.Acquire(context.Background(), "analysis-1", uuid.New(), 1, time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, locks.Renew(context.Background(), held.Token(), time.Hour))

	n, err := locks.ReapExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLockStore_ReapExpired_DeletesPastExpiry(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()
	s := NewStore(pool, storage.NoOpTracer())
	locks := NewLockStore(s)

	_, err := locks.Acquire(context.Background(), "analysis-1", uuid.New(), 1, -time.Minute)
	require.NoError(t, err)

	n, err := locks.ReapExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	freed, err := locks.Acquire(context.Background(), "analysis-1", uuid.New(), 1, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, freed.Token())
}
