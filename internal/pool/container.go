package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arohanajit/ringpool/internal/cluster"
	"github.com/arohanajit/ringpool/internal/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxConnections = 30
	defaultAcquireTimeout = 500 * time.Millisecond
)

// QueuePolicy decides what a checkout does when every connection is in use
type QueuePolicy int

const (
	// QueueBlock waits for a free connection up to the acquire timeout
	QueueBlock QueuePolicy = iota
	// QueueFail fails the checkout immediately
	QueueFail
)

// ParseQueuePolicy parses "block" or "fail"
func ParseQueuePolicy(s string) (QueuePolicy, error) {
	switch s {
	case "block", "":
		return QueueBlock, nil
	case "fail":
		return QueueFail, nil
	default:
		return QueueBlock, fmt.Errorf("unknown queue policy %q", s)
	}
}

func (p QueuePolicy) String() string {
	if p == QueueFail {
		return "fail"
	}
	return "block"
}

// Operation is the work run against a checked out connection
type Operation func(ctx context.Context, conn transport.Conn) error

// Utilizer reports how many requests are in flight through a node
type Utilizer interface {
	OpenRequests() int
}

// ContainerConfig bounds the connections of one container
type ContainerConfig struct {
	MaxConnections int
	// MaxIdle is how many connections are kept open between requests
	MaxIdle        int
	QueuePolicy    QueuePolicy
	AcquireTimeout time.Duration
	// AttemptTimeout bounds one Execute, zero for no bound
	AttemptTimeout time.Duration
}

func (c ContainerConfig) withDefaults() ContainerConfig {
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaultMaxConnections
	}
	if c.MaxIdle <= 0 || c.MaxIdle > c.MaxConnections {
		c.MaxIdle = c.MaxConnections
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = defaultAcquireTimeout
	}
	return c
}

// Container holds the connections to one node and counts the requests in
// flight through it.
type Container struct {
	node   cluster.Node
	dialer transport.Dialer
	cfg    ContainerConfig
	logger *zap.Logger

	sem          *semaphore.Weighted
	openRequests atomic.Int64

	mu     sync.Mutex
	idle   []transport.Conn
	closed bool
}

// NewContainer creates a Container for node
func NewContainer(node cluster.Node, dialer transport.Dialer, cfg ContainerConfig, logger *zap.Logger) *Container {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Container{
		node:   node,
		dialer: dialer,
		cfg:    cfg,
		logger: logger.With(zap.String("node", node.String())),
		sem:    semaphore.NewWeighted(int64(cfg.MaxConnections)),
	}
}

// Node returns the node this container connects to
func (c *Container) Node() cluster.Node {
	return c.node
}

// OpenRequests returns the number of requests currently in flight
func (c *Container) OpenRequests() int {
	n := c.openRequests.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// IdleConnections returns the number of connections ready for reuse
func (c *Container) IdleConnections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.idle)
}

// Execute checks out a connection, runs fn on it and returns it. The
// in-flight count covers the whole attempt, including checkout, and is
// released on every exit path.
func (c *Container) Execute(ctx context.Context, fn Operation) (err error) {
	c.openRequests.Add(1)
	defer c.openRequests.Add(-1)

	if c.isClosed() {
		return ErrContainerClosed
	}

	if c.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()
	}

	conn, err := c.acquire(ctx)
	if err != nil {
		return err
	}

	completed := false
	defer func() {
		// A panicking operation leaves the connection in an unknown state
		c.release(conn, !completed || IsConnectionError(err))
	}()

	err = fn(ctx, conn)
	completed = true
	return err
}

func (c *Container) acquire(ctx context.Context) (transport.Conn, error) {
	if c.cfg.QueuePolicy == QueueFail {
		if !c.sem.TryAcquire(1) {
			return nil, fmt.Errorf("%s: %w", c.node, ErrPoolExhausted)
		}
	} else {
		acquireCtx, cancel := context.WithTimeout(ctx, c.cfg.AcquireTimeout)
		err := c.sem.Acquire(acquireCtx, 1)
		cancel()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%s: waited %s: %w", c.node, c.cfg.AcquireTimeout, ErrPoolExhausted)
		}
	}

	if conn := c.popIdle(); conn != nil {
		return conn, nil
	}

	conn, err := c.dialer.Dial(ctx, c.node)
	if err != nil {
		c.sem.Release(1)
		if transport.KindOf(err) == transport.KindUnknown {
			err = transport.NewError(transport.KindConnect, c.node, "dial", err)
		}
		return nil, err
	}
	c.logger.Debug("Opened new connection")
	return conn, nil
}

func (c *Container) popIdle() transport.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.idle)
	if n == 0 {
		return nil
	}
	conn := c.idle[n-1]
	c.idle[n-1] = nil
	c.idle = c.idle[:n-1]
	return conn
}

func (c *Container) release(conn transport.Conn, discard bool) {
	defer c.sem.Release(1)

	c.mu.Lock()
	if !discard && !c.closed && len(c.idle) < c.cfg.MaxIdle {
		c.idle = append(c.idle, conn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := conn.Close(); err != nil {
		c.logger.Debug("Failed to close connection", zap.Error(err))
	}
}

func (c *Container) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes idle connections now and checked out ones when they are
// returned. It is safe to call more than once.
func (c *Container) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	idle := c.idle
	c.idle = nil
	c.mu.Unlock()

	var errs error
	for _, conn := range idle {
		errs = multierr.Append(errs, conn.Close())
	}
	return errs
}
