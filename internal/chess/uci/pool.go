package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	releaseTimeout = 2 * time.Second
	// a discarded engine frees capacity without putting anything on idle
	acquireRecheck = 250 * time.Millisecond
)

// Conn is an engine transport the pool can hand out again after a session is done with it.
type Conn interface {
	Transport
	EnsureReady(ctx context.Context) error
	NewGame(ctx context.Context) error
}

type PoolConfig struct {
	BinaryPath string
	Options    Options
	Capacity   int
	Logger     *zap.Logger
}

// Pool bounds the number of running engine processes and reuses idle ones.
type Pool struct {
	dial     func(ctx context.Context) (Conn, error)
	capacity int
	logger   *zap.Logger

	mu     sync.Mutex
	total  int
	closed bool
	idle   chan Conn
}

var (
	errPoolAtCapacity = errors.New("engine pool at capacity")
	ErrPoolClosed     = errors.New("engine pool closed")
)

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("stockfish binary check: %w", err)
	}
	if err := validateOptions(cfg.Options); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dial := func(ctx context.Context) (Conn, error) {
		return StartProcess(ctx, cfg.BinaryPath, cfg.Options, logger)
	}
	return newPool(cfg.Capacity, dial, logger), nil
}

func newPool(capacity int, dial func(ctx context.Context) (Conn, error), logger *zap.Logger) *Pool {
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		dial:     dial,
		capacity: capacity,
		logger:   logger,
		idle:     make(chan Conn, capacity),
	}
}

// Acquire returns a ready engine, reusing an idle one when possible. It waits for a release
// when the pool is full.
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	for {
		select {
		case c := <-p.idle:
			if c == nil {
				continue
			}
			if err := c.NewGame(ctx); err != nil {
				p.discard(c)
				continue
			}
			return c, nil
		default:
		}

		c, err := p.create(ctx)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, errPoolAtCapacity) {
			return nil, err
		}

		select {
		case c := <-p.idle:
			if c == nil {
				continue
			}
			if err := c.NewGame(ctx); err != nil {
				p.discard(c)
				continue
			}
			return c, nil
		case <-time.After(acquireRecheck):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release hands a connection back. A non-nil err, or an engine that no longer answers
// isready, discards it.
func (p *Pool) Release(c Conn, err error) {
	if c == nil {
		return
	}
	if err != nil {
		p.discard(c)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := c.Send("stop"); err != nil {
		p.discard(c)
		return
	}
	if err := c.EnsureReady(ctx); err != nil {
		p.logger.Debug("uci_release_not_ready", zap.Error(err))
		p.discard(c)
		return
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.discard(c)
		return
	}
	select {
	case p.idle <- c:
	default:
		p.discard(c)
	}
}

// Dialer adapts the pool to the Manager. Closing the returned transport releases the engine.
func (p *Pool) Dialer() DialFunc {
	return func(ctx context.Context) (Transport, error) {
		c, err := p.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return &pooledConn{Conn: c, pool: p}, nil
	}
}

// Stats reports the number of live engines and how many are idle.
func (p *Pool) Stats() (total, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total, len(p.idle)
}

func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for {
		select {
		case c := <-p.idle:
			if c == nil {
				continue
			}
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
			p.decrement()
		default:
			return errors.Join(errs...)
		}
	}
}

func (p *Pool) create(ctx context.Context) (Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.total >= p.capacity {
		p.mu.Unlock()
		return nil, errPoolAtCapacity
	}
	p.total++
	p.mu.Unlock()

	c, err := p.dial(ctx)
	if err != nil {
		p.decrement()
		return nil, err
	}
	return c, nil
}

func (p *Pool) discard(c Conn) {
	if c != nil {
		_ = c.Close()
	}
	p.decrement()
}

func (p *Pool) decrement() {
	p.mu.Lock()
	if p.total > 0 {
		p.total--
	}
	p.mu.Unlock()
}

type pooledConn struct {
	Conn
	pool *Pool
	once sync.Once
}

func (c *pooledConn) Close() error {
	c.once.Do(func() { c.pool.Release(c.Conn, nil) })
	return nil
}

func defaultCapacity() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}
