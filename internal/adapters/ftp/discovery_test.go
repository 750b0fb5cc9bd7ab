package ftp_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatrade/cruisesync-go/internal/adapters/ftp"
	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

func newDiscoveryWithConn(t *testing.T, conn ftp.Conn) *ftp.Discovery {
	t.Helper()
	dialer := func() (ftp.Conn, error) { return conn, nil }
	pool := newTestPool(t, dialer, 1, shared.NewMockClock(time.Now()))
	return ftp.NewDiscovery(pool, zerolog.Nop())
}

func TestDiscovery_EnumeratesLineShipTree(t *testing.T) {
	modTime := time.Date(2025, 9, 30, 12, 0, 0, 0, time.UTC)
	conn := &fakeConn{
		listings: map[string][]ftp.Entry{
			"/2025/10/22": {
				{Name: "180", Dir: true},
				{Name: "181", Dir: true},
				{Name: "manifest.txt", Dir: false}, // non-directory ignored
			},
			"/2025/10/22/180": {
				{Name: "2144014.json", Size: 2048, Time: modTime},
				{Name: "2144015.json", Size: 1024, Time: modTime},
				{Name: "notes.md"}, // non-json ignored
			},
			"/2025/10/22/181": {
				{Name: "2200001.json", Size: 512, Time: modTime},
			},
			"/2025/11/22": {
				{Name: "180", Dir: true},
			},
			"/2025/11/22/180": {
				{Name: "2144099.json", Size: 4096, Time: modTime},
			},
		},
	}
	d := newDiscoveryWithConn(t, conn)

	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)
	refs, err := d.Discover(context.Background(), 22, start, end)

	require.NoError(t, err)
	require.Len(t, refs, 4)

	first := refs[0]
	assert.Equal(t, "/2025/10/22/180/2144014.json", first.Path)
	assert.Equal(t, 2025, first.Year)
	assert.Equal(t, 10, first.Month)
	assert.Equal(t, 22, first.LineID)
	assert.Equal(t, 180, first.ShipID)
	assert.Equal(t, "2144014", first.CodeToCruiseID)
	assert.Equal(t, int64(2048), first.Size)
	assert.Equal(t, modTime, first.LastModified)
}

func TestDiscovery_MissingMonthsAreSkipped(t *testing.T) {
	conn := &fakeConn{
		listings: map[string][]ftp.Entry{
			"/2025/12/7": {
				{Name: "30", Dir: true},
			},
			"/2025/12/7/30": {
				{Name: "5.json", Size: 10},
			},
		},
	}
	d := newDiscoveryWithConn(t, conn)

	// Window spans three months; only December exists on the server
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	refs, err := d.Discover(context.Background(), 7, start, end)

	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "5", refs[0].CodeToCruiseID)
}

func TestDiscovery_EmptyWindow(t *testing.T) {
	d := newDiscoveryWithConn(t, &fakeConn{listings: map[string][]ftp.Entry{}})

	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) // end before start
	refs, err := d.Discover(context.Background(), 22, start, end)

	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestDiscovery_SparseWindowKeepsCircuitClosed(t *testing.T) {
	conn := &fakeConn{
		listings: map[string][]ftp.Entry{
			"/2025/10/22":     {{Name: "180", Dir: true}},
			"/2025/10/22/180": {{Name: "2144014.json", Size: 2048}},
		},
		files: map[string][]byte{"/2025/10/22/180/2144014.json": []byte(`{"a":1}`)},
	}
	dialer := func() (ftp.Conn, error) { return conn, nil }
	clock := shared.NewMockClock(time.Now())
	breaker := ftp.NewCircuitBreaker(5, time.Minute, time.Minute, clock)
	pool := ftp.NewPool(dialer, breaker, ftp.PoolConfig{Size: 1}, clock, zerolog.Nop())
	defer pool.Close()
	d := ftp.NewDiscovery(pool, zerolog.Nop())

	// Seven-month window, only October published: six 550 replies, more than
	// the breaker threshold. Unpublished months must not open the circuit.
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)
	refs, err := d.Discover(context.Background(), 22, start, end)

	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, ftp.CircuitClosed, breaker.State())
	assert.Zero(t, breaker.FailureCount())

	data, err := d.Download(context.Background(), refs[0].Path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))
}

func TestDiscovery_ListFailurePropagatesAsTransient(t *testing.T) {
	conn := &fakeConn{listErr: errors.New("426 connection closed")}
	dialer := func() (ftp.Conn, error) { return conn, nil }
	clock := shared.NewMockClock(time.Now())
	breaker := ftp.NewCircuitBreaker(100, time.Minute, time.Minute, clock)
	pool := ftp.NewPool(dialer, breaker, ftp.PoolConfig{Size: 1}, clock, zerolog.Nop())
	defer pool.Close()
	d := ftp.NewDiscovery(pool, zerolog.Nop())

	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	refs, err := d.Discover(context.Background(), 22, start, start)

	// Per-directory failures are skipped, not fatal
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestDiscovery_DownloadThroughPool(t *testing.T) {
	conn := &fakeConn{files: map[string][]byte{"/2025/10/22/180/1.json": []byte(`{"a":1}`)}}
	d := newDiscoveryWithConn(t, conn)

	data, err := d.Download(context.Background(), "/2025/10/22/180/1.json")

	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))
}
