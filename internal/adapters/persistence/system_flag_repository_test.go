package persistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatrade/cruisesync-go/internal/adapters/persistence"
	"github.com/seatrade/cruisesync-go/internal/domain/ingestion"
	"github.com/seatrade/cruisesync-go/test/helpers"
)

func TestSystemFlagRepository_SetGetRoundTrip(t *testing.T) {
	repo := persistence.NewGormSystemFlagRepository(helpers.NewTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, ingestion.FlagWebhooksPaused, "true"))

	value, ok, err := repo.Get(ctx, ingestion.FlagWebhooksPaused)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", value)

	// Overwrite is visible immediately
	require.NoError(t, repo.Set(ctx, ingestion.FlagWebhooksPaused, "false"))
	paused, err := repo.GetBool(ctx, ingestion.FlagWebhooksPaused, true)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestSystemFlagRepository_DefaultsWhenUnset(t *testing.T) {
	repo := persistence.NewGormSystemFlagRepository(helpers.NewTestDB(t))
	ctx := context.Background()

	paused, err := repo.GetBool(ctx, ingestion.FlagBatchSyncPaused, false)
	require.NoError(t, err)
	assert.False(t, paused)

	window, err := repo.GetInt(ctx, ingestion.FlagDedupWindow, 300)
	require.NoError(t, err)
	assert.Equal(t, 300, window)
}

func TestSystemFlagRepository_MalformedValuesFallBack(t *testing.T) {
	repo := persistence.NewGormSystemFlagRepository(helpers.NewTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, ingestion.FlagDedupWindow, "not-a-number"))
	window, err := repo.GetInt(ctx, ingestion.FlagDedupWindow, 300)
	require.NoError(t, err)
	assert.Equal(t, 300, window)

	require.NoError(t, repo.Set(ctx, ingestion.FlagWebhooksPaused, "maybe"))
	paused, err := repo.GetBool(ctx, ingestion.FlagWebhooksPaused, false)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestSystemFlagRepository_List(t *testing.T) {
	repo := persistence.NewGormSystemFlagRepository(helpers.NewTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, ingestion.FlagWebhooksPaused, "true"))
	require.NoError(t, repo.Set(ctx, ingestion.FlagMaxCruisesPerHook, "750"))

	flags, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, flags, 2)
	assert.Equal(t, ingestion.FlagMaxCruisesPerHook, flags[0].Key)
}
