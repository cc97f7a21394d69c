// Package pool implements a generic, bounded, async connection pool used by
// storage backends that talk to an external service. A single actor
// goroutine serializes every get/put/reap/state operation over a channel of
// commands, so the pool's bookkeeping never needs its own lock.
package pool

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/bitswarm/tracker/pkg/stop"
)

// ErrPoolClosed is returned by Get once the pool has been stopped.
var ErrPoolClosed = errors.New("pool: closed")

// ErrTimeout is returned by Get when no connection becomes available
// before Config.ConnectionTimeout elapses.
var ErrTimeout = errors.New("pool: timeout waiting for a connection")

// errAtCapacity is an internal sentinel telling Get to retry rather than
// fail outright.
var errAtCapacity = errors.New("pool: at capacity")

// Manager creates, validates, and disposes of connections of type T.
type Manager[T any] interface {
	// Connect attempts to create a new connection. It may block on I/O and
	// must respect ctx's deadline.
	Connect(ctx context.Context) (T, error)

	// IsValid runs a liveness probe against conn, used only when
	// Config.TestOnCheckOut is set.
	IsValid(conn T) error

	// HasBroken reports whether conn should be discarded instead of
	// returned to the idle queue. Must not block.
	HasBroken(conn T) bool

	// Close releases any resources held by conn.
	Close(conn T)
}

// Config configures a Pool's bounds and timing.
type Config struct {
	MaxSize           int
	MinIdle           int
	TestOnCheckOut    bool
	IdleTimeout       time.Duration
	ConnectionTimeout time.Duration
	ReaperRate        time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 10
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 15 * time.Second
	}
	if c.ReaperRate <= 0 {
		c.ReaperRate = 30 * time.Second
	}
	return c
}

type idleConn[T any] struct {
	conn      T
	idleSince time.Time
}

type state[T any] struct {
	idle        []idleConn[T]
	outstanding int
}

type getResult[T any] struct {
	conn T
	err  error
}

// Pool is a generic bounded pool of connections of type T.
type Pool[T any] struct {
	cfg     Config
	manager Manager[T]

	cmds   chan func(*state[T])
	closed chan struct{}
	done   chan struct{}
}

// New builds and starts a Pool. The returned Pool must eventually be Stopped.
func New[T any](cfg Config, m Manager[T]) *Pool[T] {
	p := &Pool[T]{
		cfg:     cfg.withDefaults(),
		manager: m,
		cmds:    make(chan func(*state[T])),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	go p.run()
	return p
}

func (p *Pool[T]) run() {
	defer close(p.done)

	s := &state[T]{}
	reaper := time.NewTicker(p.cfg.ReaperRate)
	defer reaper.Stop()

	for {
		select {
		case <-p.closed:
			for _, ic := range s.idle {
				p.manager.Close(ic.conn)
			}
			return
		case cmd := <-p.cmds:
			cmd(s)
		case <-reaper.C:
			p.reap(s)
		}
	}
}

func (p *Pool[T]) reap(s *state[T]) {
	cutoff := time.Now().Add(-p.cfg.IdleTimeout)
	kept := s.idle[:0:0]
	for i, ic := range s.idle {
		remaining := len(s.idle) - i
		if ic.idleSince.Before(cutoff) && remaining > p.cfg.MinIdle {
			p.manager.Close(ic.conn)
			s.outstanding--
			continue
		}
		kept = append(kept, ic)
	}
	s.idle = kept
}

func (p *Pool[T]) handleGet(s *state[T], reply chan<- getResult[T]) {
	for len(s.idle) > 0 {
		ic := s.idle[0]
		s.idle = s.idle[1:]

		if p.cfg.TestOnCheckOut {
			if err := p.manager.IsValid(ic.conn); err != nil {
				p.manager.Close(ic.conn)
				s.outstanding--
				continue
			}
		}

		reply <- getResult[T]{conn: ic.conn}
		return
	}

	if s.outstanding >= p.cfg.MaxSize {
		reply <- getResult[T]{err: errAtCapacity}
		return
	}

	s.outstanding++
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectionTimeout)
		defer cancel()

		conn, err := p.manager.Connect(ctx)
		if err != nil {
			select {
			case p.cmds <- func(s *state[T]) { s.outstanding-- }:
			case <-p.closed:
			}
			reply <- getResult[T]{err: err}
			return
		}
		reply <- getResult[T]{conn: conn}
	}()
}

// Get checks out a connection, creating one if the idle queue is empty and
// the pool has spare capacity. It retries at capacity until ctx is done or
// Config.ConnectionTimeout elapses.
func (p *Pool[T]) Get(ctx context.Context) (*PooledConn[T], error) {
	deadline := time.Now().Add(p.cfg.ConnectionTimeout)

	for {
		reply := make(chan getResult[T], 1)
		select {
		case p.cmds <- func(s *state[T]) { p.handleGet(s, reply) }:
		case <-p.closed:
			return nil, ErrPoolClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		r := <-reply
		if r.err == nil {
			return &PooledConn[T]{pool: p, conn: r.conn}, nil
		}
		if !errors.Is(r.err, errAtCapacity) {
			return nil, r.err
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			runtime.Gosched()
		}
	}
}

func (p *Pool[T]) put(conn T) {
	select {
	case p.cmds <- func(s *state[T]) {
		if p.manager.HasBroken(conn) {
			p.manager.Close(conn)
			s.outstanding--
			return
		}
		s.idle = append(s.idle, idleConn[T]{conn: conn, idleSince: time.Now()})
	}:
	case <-p.closed:
		p.manager.Close(conn)
	}
}

// Stop shuts the pool down, closing every idle connection. Connections
// currently checked out are closed as they are returned.
func (p *Pool[T]) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		close(p.closed)
		<-p.done
		c.Done()
	}()
	return c.Result()
}

// PooledConn wraps a checked-out connection. Release returns it to the pool
// exactly once; further calls are no-ops.
type PooledConn[T any] struct {
	pool     *Pool[T]
	conn     T
	released bool
}

// Conn returns the underlying connection.
func (c *PooledConn[T]) Conn() T { return c.conn }

// Release returns the connection to the pool. Safe to call more than once.
func (c *PooledConn[T]) Release() {
	if c.released {
		return
	}
	c.released = true
	c.pool.put(c.conn)
}
