package ftp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

// ErrPoolClosed is returned from acquisitions after Close
var ErrPoolClosed = errors.New("ftp pool closed")

// PoolConfig holds the tunables for the session pool
type PoolConfig struct {
	Size        int
	MaxLifetime time.Duration
}

// Pool maintains a fixed number of warm authenticated FTP sessions.
// Checkouts are serialized through a buffered channel, which gives FIFO
// fairness among waiters. A session that returns any I/O error is closed and
// replaced on the next acquire; sessions older than MaxLifetime are recycled
// regardless. All dials go through the per-host circuit breaker.
type Pool struct {
	dialer  Dialer
	breaker *CircuitBreaker
	slots   chan *session
	cfg     PoolConfig
	clock   shared.Clock
	log     zerolog.Logger

	closed chan struct{}
}

// session wraps a live connection with its creation time for lifetime checks
type session struct {
	conn      Conn
	createdAt time.Time
}

// NewPool creates a pool of cfg.Size lazily-dialed sessions
func NewPool(dialer Dialer, breaker *CircuitBreaker, cfg PoolConfig, clock shared.Clock, log zerolog.Logger) *Pool {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	if cfg.Size <= 0 {
		cfg.Size = 3
	}
	slots := make(chan *session, cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		slots <- nil // lazily authenticated on first checkout
	}
	return &Pool{
		dialer:  dialer,
		breaker: breaker,
		slots:   slots,
		cfg:     cfg,
		clock:   clock,
		log:     log.With().Str("component", "ftp_pool").Logger(),
		closed:  make(chan struct{}),
	}
}

// Acquire checks out a healthy session, dialing or recycling as needed.
// Fails fast with ErrFTPUnavailable while the circuit breaker is open.
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	if !p.breaker.Allow() {
		return nil, shared.ErrFTPUnavailable
	}

	var s *session
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, ErrPoolClosed
	case s = <-p.slots:
	}

	if s != nil {
		if p.cfg.MaxLifetime > 0 && p.clock.Now().Sub(s.createdAt) > p.cfg.MaxLifetime {
			p.log.Debug().Msg("recycling session past max lifetime")
			p.discard(s)
			s = nil
		} else if err := s.conn.Noop(); err != nil {
			// Cheap keepalive failed: the session went stale while idle
			p.log.Debug().Err(err).Msg("keepalive failed, replacing session")
			p.discard(s)
			s = nil
		}
	}

	if s == nil {
		fresh, err := p.dial()
		if err != nil {
			// Return the empty slot so pool capacity is preserved
			p.slots <- nil
			return nil, err
		}
		s = fresh
	}

	return &checkedOut{pool: p, session: s}, nil
}

// Release returns a session to the pool. If opErr reports anything other
// than a not-found reply the underlying connection is closed and the slot is
// returned empty.
func (p *Pool) Release(c Conn, opErr error) {
	co, ok := c.(*checkedOut)
	if !ok || co.returned {
		return
	}
	co.returned = true
	if opErr != nil && !errors.Is(opErr, shared.ErrFTPNotFound) {
		p.discard(co.session)
		p.slots <- nil
		return
	}
	p.slots <- co.session
}

// WithSession acquires a session, runs fn, and releases it, closing the
// session when fn returns an error.
func (p *Pool) WithSession(ctx context.Context, fn func(Conn) error) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	err = fn(c)
	p.Release(c, err)
	return err
}

// Close drains and quits every session. Acquire fails afterwards.
func (p *Pool) Close() {
	select {
	case <-p.closed:
		return
	default:
		close(p.closed)
	}
	for i := 0; i < p.cfg.Size; i++ {
		select {
		case s := <-p.slots:
			if s != nil {
				p.discard(s)
			}
		default:
		}
	}
}

func (p *Pool) dial() (*session, error) {
	var conn Conn
	err := p.breaker.Call(func() error {
		c, err := p.dialer()
		if err != nil {
			return fmt.Errorf("%w: %v", shared.ErrFTPTransient, err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &session{conn: conn, createdAt: p.clock.Now()}, nil
}

func (p *Pool) discard(s *session) {
	if s == nil || s.conn == nil {
		return
	}
	if err := s.conn.Quit(); err != nil {
		p.log.Debug().Err(err).Msg("error quitting session")
	}
}

// checkedOut wraps a session so List/Download failures feed the breaker and
// double-release is harmless.
type checkedOut struct {
	pool     *Pool
	session  *session
	returned bool
}

func (c *checkedOut) List(path string) ([]Entry, error) {
	var entries []Entry
	var notFound error
	err := c.pool.breaker.Call(func() error {
		var err error
		entries, err = c.session.conn.List(path)
		if err == nil {
			return nil
		}
		if isNotFound(err) {
			// An unpublished directory is a normal server reply, not a
			// failure; it must not count against the breaker.
			notFound = fmt.Errorf("%w: list %s: %v", shared.ErrFTPNotFound, path, err)
			return nil
		}
		return fmt.Errorf("%w: list %s: %v", shared.ErrFTPTransient, path, err)
	})
	if err != nil {
		return nil, err
	}
	if notFound != nil {
		return nil, notFound
	}
	return entries, nil
}

func (c *checkedOut) Download(path string) ([]byte, error) {
	var data []byte
	var notFound error
	err := c.pool.breaker.Call(func() error {
		var err error
		data, err = c.session.conn.Download(path)
		if err == nil {
			return nil
		}
		if isNotFound(err) {
			notFound = fmt.Errorf("%w: download %s: %v", shared.ErrFTPNotFound, path, err)
			return nil
		}
		return fmt.Errorf("%w: download %s: %v", shared.ErrFTPTransient, path, err)
	})
	if err != nil {
		return nil, err
	}
	if notFound != nil {
		return nil, notFound
	}
	return data, nil
}

func (c *checkedOut) Noop() error {
	return c.session.conn.Noop()
}

func (c *checkedOut) Quit() error {
	return c.session.conn.Quit()
}
