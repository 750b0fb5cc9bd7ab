package ftp_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatrade/cruisesync-go/internal/adapters/ftp"
	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

// fakeConn is a scriptable in-memory FTP session
type fakeConn struct {
	listings  map[string][]ftp.Entry
	files     map[string][]byte
	noopErr   error
	listErr   error
	quitCount atomic.Int32
}

func (f *fakeConn) List(path string) ([]ftp.Entry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	entries, ok := f.listings[path]
	if !ok {
		return nil, errors.New("550 no such directory")
	}
	return entries, nil
}

func (f *fakeConn) Download(path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, errors.New("550 no such file")
	}
	return data, nil
}

func (f *fakeConn) Noop() error { return f.noopErr }

func (f *fakeConn) Quit() error {
	f.quitCount.Add(1)
	return nil
}

func newTestPool(t *testing.T, dialer ftp.Dialer, size int, clock shared.Clock) *ftp.Pool {
	t.Helper()
	breaker := ftp.NewCircuitBreaker(5, time.Minute, time.Minute, clock)
	pool := ftp.NewPool(dialer, breaker, ftp.PoolConfig{Size: size, MaxLifetime: time.Hour}, clock, zerolog.Nop())
	t.Cleanup(pool.Close)
	return pool
}

func TestPool_AcquireDialsLazily(t *testing.T) {
	var dials atomic.Int32
	conn := &fakeConn{files: map[string][]byte{"/a.json": []byte("{}")}}
	dialer := func() (ftp.Conn, error) {
		dials.Add(1)
		return conn, nil
	}
	pool := newTestPool(t, dialer, 2, shared.NewMockClock(time.Now()))

	c, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	data, err := c.Download("/a.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), data)
	pool.Release(c, nil)

	// Second acquire reuses the warm session
	c2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(c2, nil)

	assert.Equal(t, int32(1), dials.Load())
}

func TestPool_ErrorClosesAndReplacesSession(t *testing.T) {
	var dials atomic.Int32
	conns := []*fakeConn{{}, {}}
	dialer := func() (ftp.Conn, error) {
		n := dials.Add(1)
		return conns[n-1], nil
	}
	pool := newTestPool(t, dialer, 1, shared.NewMockClock(time.Now()))

	c, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(c, errors.New("io error"))
	assert.Equal(t, int32(1), conns[0].quitCount.Load())

	// Next acquire dials a fresh session
	c2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(c2, nil)
	assert.Equal(t, int32(2), dials.Load())
}

func TestPool_StaleKeepaliveReplacesSession(t *testing.T) {
	var dials atomic.Int32
	stale := &fakeConn{noopErr: errors.New("421 timeout")}
	fresh := &fakeConn{}
	dialer := func() (ftp.Conn, error) {
		if dials.Add(1) == 1 {
			return stale, nil
		}
		return fresh, nil
	}
	pool := newTestPool(t, dialer, 1, shared.NewMockClock(time.Now()))

	c, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(c, nil)

	// Idle session fails its keepalive on the next checkout
	c2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(c2, nil)

	assert.Equal(t, int32(2), dials.Load())
	assert.Equal(t, int32(1), stale.quitCount.Load())
}

func TestPool_MaxLifetimeRecyclesSession(t *testing.T) {
	var dials atomic.Int32
	dialer := func() (ftp.Conn, error) {
		dials.Add(1)
		return &fakeConn{}, nil
	}
	clock := shared.NewMockClock(time.Now())
	breaker := ftp.NewCircuitBreaker(5, time.Minute, time.Minute, clock)
	pool := ftp.NewPool(dialer, breaker, ftp.PoolConfig{Size: 1, MaxLifetime: time.Minute}, clock, zerolog.Nop())
	defer pool.Close()

	c, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(c, nil)

	clock.Advance(2 * time.Minute)

	c2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(c2, nil)

	assert.Equal(t, int32(2), dials.Load())
}

func TestPool_FailsFastWhenCircuitOpen(t *testing.T) {
	dialErr := errors.New("connection refused")
	dialer := func() (ftp.Conn, error) { return nil, dialErr }
	clock := shared.NewMockClock(time.Now())
	breaker := ftp.NewCircuitBreaker(2, time.Minute, time.Minute, clock)
	pool := ftp.NewPool(dialer, breaker, ftp.PoolConfig{Size: 1}, clock, zerolog.Nop())
	defer pool.Close()

	for i := 0; i < 2; i++ {
		_, err := pool.Acquire(context.Background())
		require.ErrorIs(t, err, shared.ErrFTPTransient)
	}

	// Breaker is now open: acquisitions fail fast with ErrFTPUnavailable
	_, err := pool.Acquire(context.Background())
	assert.ErrorIs(t, err, shared.ErrFTPUnavailable)
}

func TestPool_NotFoundIsBenign(t *testing.T) {
	var dials atomic.Int32
	conn := &fakeConn{listings: map[string][]ftp.Entry{}}
	dialer := func() (ftp.Conn, error) {
		dials.Add(1)
		return conn, nil
	}
	clock := shared.NewMockClock(time.Now())
	breaker := ftp.NewCircuitBreaker(2, time.Minute, time.Minute, clock)
	pool := ftp.NewPool(dialer, breaker, ftp.PoolConfig{Size: 1}, clock, zerolog.Nop())
	defer pool.Close()

	// Well past the breaker threshold
	for i := 0; i < 10; i++ {
		c, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		_, err = c.List("/2026/01/22")
		require.ErrorIs(t, err, shared.ErrFTPNotFound)
		assert.NotErrorIs(t, err, shared.ErrFTPTransient)
		pool.Release(c, err)
	}

	assert.Equal(t, ftp.CircuitClosed, breaker.State())
	assert.Zero(t, breaker.FailureCount())
	// The session survives not-found replies instead of being replaced
	assert.Equal(t, int32(1), dials.Load())
	assert.Equal(t, int32(0), conn.quitCount.Load())
}

func TestPool_WithSessionReleasesOnError(t *testing.T) {
	conn := &fakeConn{}
	dialer := func() (ftp.Conn, error) { return conn, nil }
	pool := newTestPool(t, dialer, 1, shared.NewMockClock(time.Now()))

	opErr := errors.New("transfer aborted")
	err := pool.WithSession(context.Background(), func(c ftp.Conn) error { return opErr })
	require.ErrorIs(t, err, opErr)

	// Slot must be available again despite the failure
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(c, nil)
}

func TestPool_AcquireRespectsContext(t *testing.T) {
	conn := &fakeConn{}
	dialer := func() (ftp.Conn, error) { return conn, nil }
	pool := newTestPool(t, dialer, 1, shared.NewMockClock(time.Now()))

	c, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	// Pool exhausted: a second acquire blocks until its context expires
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Release(c, nil)
}
