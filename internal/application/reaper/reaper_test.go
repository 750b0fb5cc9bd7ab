package reaper_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatrade/cruisesync-go/internal/adapters/persistence"
	"github.com/seatrade/cruisesync-go/internal/adapters/queue"
	"github.com/seatrade/cruisesync-go/internal/application/reaper"
	"github.com/seatrade/cruisesync-go/internal/domain/ingestion"
	"github.com/seatrade/cruisesync-go/internal/domain/shared"
	"github.com/seatrade/cruisesync-go/test/helpers"
)

type reaperFixture struct {
	reaper  *reaper.Reaper
	jobs    *queue.Queue
	events  *persistence.GormWebhookEventRepository
	locks   *persistence.GormSyncLockRepository
	cruises *persistence.GormCruiseRepository
	clock   *shared.MockClock
}

func newReaperFixture(t *testing.T) *reaperFixture {
	t.Helper()
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC))

	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	jobs := queue.New(rdb, queue.Config{}, clock, zerolog.Nop())

	f := &reaperFixture{
		jobs:    jobs,
		events:  persistence.NewGormWebhookEventRepository(db, clock),
		locks:   persistence.NewGormSyncLockRepository(db, clock),
		cruises: persistence.NewGormCruiseRepository(db, 0.01, clock, zerolog.Nop()),
		clock:   clock,
	}
	f.reaper = reaper.New(jobs, f.events, f.locks, f.cruises, reaper.Config{
		Interval:          time.Minute,
		StalledAfter:      time.Minute,
		StuckEventAfter:   time.Hour,
		LockTTL:           2 * time.Hour,
		SnapshotRetention: 90 * 24 * time.Hour,
		EventRetention:    30 * 24 * time.Hour,
	}, clock, zerolog.Nop())
	return f
}

func TestSweep_RequeuesStalledJobs(t *testing.T) {
	f := newReaperFixture(t)
	ctx := context.Background()

	_, err := f.jobs.Enqueue(ctx, ingestion.QueueCruiseLineProcessing, ingestion.LineBatchPayload{
		WebhookEventID: "evt-1", LineID: 22,
	}, 3)
	require.NoError(t, err)

	// Reserve and abandon: no heartbeat, no completion
	_, err = f.jobs.Reserve(ctx, ingestion.QueueCruiseLineProcessing, 100*time.Millisecond)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	f.reaper.Sweep(ctx)

	depth, err := f.jobs.Depth(ctx, ingestion.QueueCruiseLineProcessing)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth, "abandoned job back in waiting")
}

func TestSweep_FailsEventsStuckInProcessing(t *testing.T) {
	f := newReaperFixture(t)
	ctx := context.Background()

	stuck := &ingestion.WebhookEvent{
		ID: "evt-stuck", LineID: 22, EventType: ingestion.EventCruiseLinePricingUpdated,
		Payload: "{}", ReceivedAt: f.clock.Now(), Status: ingestion.WebhookStatusPending,
		DedupKey: "22:a",
	}
	require.NoError(t, f.events.Create(ctx, stuck))
	require.NoError(t, f.events.Transition(ctx, stuck.ID, ingestion.WebhookStatusProcessing, ""))

	f.clock.Advance(90 * time.Minute)

	fresh := &ingestion.WebhookEvent{
		ID: "evt-fresh", LineID: 23, EventType: ingestion.EventCruiseLinePricingUpdated,
		Payload: "{}", ReceivedAt: f.clock.Now(), Status: ingestion.WebhookStatusPending,
		DedupKey: "23:a",
	}
	require.NoError(t, f.events.Create(ctx, fresh))
	require.NoError(t, f.events.Transition(ctx, fresh.ID, ingestion.WebhookStatusProcessing, ""))

	f.reaper.Sweep(ctx)

	got, err := f.events.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, ingestion.WebhookStatusFailed, got.Status)
	assert.Equal(t, "stalled", got.ErrorMessage)

	got, err = f.events.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, ingestion.WebhookStatusProcessing, got.Status)
}

func TestSweep_ReleasesExpiredLocks(t *testing.T) {
	f := newReaperFixture(t)
	ctx := context.Background()

	_, err := f.locks.Acquire(ctx, 22, "dead-worker")
	require.NoError(t, err)

	f.clock.Advance(3 * time.Hour)
	f.reaper.Sweep(ctx)

	// The line is free again
	lock, err := f.locks.Acquire(ctx, 22, "new-worker")
	require.NoError(t, err)
	require.NoError(t, f.locks.Release(ctx, lock.ID))
}

func TestSweep_FreshStateUntouched(t *testing.T) {
	f := newReaperFixture(t)
	ctx := context.Background()

	event := &ingestion.WebhookEvent{
		ID: "evt-1", LineID: 22, EventType: ingestion.EventCruiseLinePricingUpdated,
		Payload: "{}", ReceivedAt: f.clock.Now(), Status: ingestion.WebhookStatusPending,
		DedupKey: "22:a",
	}
	require.NoError(t, f.events.Create(ctx, event))
	require.NoError(t, f.events.Transition(ctx, event.ID, ingestion.WebhookStatusProcessing, ""))

	lock, err := f.locks.Acquire(ctx, 22, "live-worker")
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	f.reaper.Sweep(ctx)

	got, err := f.events.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, ingestion.WebhookStatusProcessing, got.Status)

	_, err = f.locks.Acquire(ctx, 22, "other-worker")
	assert.ErrorIs(t, err, shared.ErrLockHeld)
	require.NoError(t, f.locks.Release(ctx, lock.ID))
}
