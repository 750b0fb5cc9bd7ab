package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatrade/cruisesync-go/internal/adapters/persistence"
	"github.com/seatrade/cruisesync-go/internal/domain/ingestion"
	"github.com/seatrade/cruisesync-go/internal/domain/shared"
	"github.com/seatrade/cruisesync-go/test/helpers"
)

func newLockRepo(t *testing.T) (*persistence.GormSyncLockRepository, *shared.MockClock) {
	t.Helper()
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC))
	return persistence.NewGormSyncLockRepository(db, clock), clock
}

func TestSyncLockRepository_AcquireAndRelease(t *testing.T) {
	repo, _ := newLockRepo(t)
	ctx := context.Background()

	lock, err := repo.Acquire(ctx, 22, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 22, lock.LineID)
	assert.Equal(t, ingestion.SyncLockProcessing, lock.Status)

	held, err := repo.Held(ctx, 22)
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, "worker-1", held.Owner)

	require.NoError(t, repo.Release(ctx, lock.ID))

	held, err = repo.Held(ctx, 22)
	require.NoError(t, err)
	assert.Nil(t, held)
}

func TestSyncLockRepository_ContentionReturnsErrLockHeld(t *testing.T) {
	repo, _ := newLockRepo(t)
	ctx := context.Background()

	_, err := repo.Acquire(ctx, 22, "worker-1")
	require.NoError(t, err)

	_, err = repo.Acquire(ctx, 22, "worker-2")
	assert.ErrorIs(t, err, shared.ErrLockHeld)

	// A different line is unaffected
	_, err = repo.Acquire(ctx, 23, "worker-2")
	assert.NoError(t, err)
}

func TestSyncLockRepository_ReacquireAfterRelease(t *testing.T) {
	repo, _ := newLockRepo(t)
	ctx := context.Background()

	first, err := repo.Acquire(ctx, 22, "worker-1")
	require.NoError(t, err)
	require.NoError(t, repo.Release(ctx, first.ID))

	second, err := repo.Acquire(ctx, 22, "worker-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "released rows stay as history")
}

func TestSyncLockRepository_ReleaseExpired(t *testing.T) {
	repo, clock := newLockRepo(t)
	ctx := context.Background()

	_, err := repo.Acquire(ctx, 22, "crashed-worker")
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)

	released, err := repo.ReleaseExpired(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	// Line is free again
	_, err = repo.Acquire(ctx, 22, "worker-2")
	assert.NoError(t, err)
}

func TestSyncLockRepository_ReleaseTwiceFails(t *testing.T) {
	repo, _ := newLockRepo(t)
	ctx := context.Background()

	lock, err := repo.Acquire(ctx, 22, "worker-1")
	require.NoError(t, err)
	require.NoError(t, repo.Release(ctx, lock.ID))

	assert.Error(t, repo.Release(ctx, lock.ID))
}
