package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arohanajit/ringpool/internal/transport"
)

func noop(ctx context.Context, conn transport.Conn) error {
	return nil
}

func TestContainer_ReusesConnections(t *testing.T) {
	dialer := newFakeDialer()
	c := NewContainer(node("a"), dialer, ContainerConfig{MaxConnections: 2}, nil)

	require.NoError(t, c.Execute(context.Background(), noop))
	require.NoError(t, c.Execute(context.Background(), noop))

	assert.Equal(t, 1, dialer.dialCount(node("a")))
	assert.Equal(t, 1, c.IdleConnections())
	assert.Equal(t, 0, c.OpenRequests())
	assert.Equal(t, node("a"), c.Node())
}

func TestContainer_CountsOpenRequests(t *testing.T) {
	c := NewContainer(node("a"), newFakeDialer(), ContainerConfig{}, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Execute(context.Background(), func(ctx context.Context, conn transport.Conn) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	for i := 0; i < 3; i++ {
		<-started
	}
	assert.Equal(t, 3, c.OpenRequests())

	close(release)
	wg.Wait()
	assert.Equal(t, 0, c.OpenRequests())
}

func TestContainer_DiscardsBrokenConnections(t *testing.T) {
	dialer := newFakeDialer()
	c := NewContainer(node("a"), dialer, ContainerConfig{}, nil)

	broken := transport.NewError(transport.KindTransport, node("a"), "call", transport.NewError(transport.KindSocketTimeout, node("a"), "read", nil))
	err := c.Execute(context.Background(), func(ctx context.Context, conn transport.Conn) error {
		return broken
	})

	assert.Same(t, broken, err)
	assert.Equal(t, 0, c.IdleConnections())
	assert.Equal(t, 1, dialer.closedConns())
	assert.Equal(t, 0, c.OpenRequests())

	// A request-level failure keeps the connection
	c.Execute(context.Background(), func(ctx context.Context, conn transport.Conn) error {
		return transport.NewError(transport.KindMalformed, node("a"), "call", nil)
	})
	assert.Equal(t, 1, c.IdleConnections())
}

func TestContainer_PanicReleasesEverything(t *testing.T) {
	dialer := newFakeDialer()
	c := NewContainer(node("a"), dialer, ContainerConfig{MaxConnections: 1, QueuePolicy: QueueFail}, nil)

	assert.Panics(t, func() {
		c.Execute(context.Background(), func(ctx context.Context, conn transport.Conn) error {
			panic("operation bug")
		})
	})

	assert.Equal(t, 0, c.OpenRequests())
	assert.Equal(t, 1, dialer.closedConns(), "a connection used by a panicking operation is not reused")
	// The only slot was given back
	assert.NoError(t, c.Execute(context.Background(), noop))
}

func TestContainer_ExhaustionFailFast(t *testing.T) {
	c := NewContainer(node("a"), newFakeDialer(), ContainerConfig{MaxConnections: 1, QueuePolicy: QueueFail}, nil)

	hold := make(chan struct{})
	held := make(chan struct{})
	go c.Execute(context.Background(), func(ctx context.Context, conn transport.Conn) error {
		close(held)
		<-hold
		return nil
	})
	<-held

	err := c.Execute(context.Background(), noop)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.True(t, IsRetriableWithBackoff(err))
	assert.Equal(t, 1, c.OpenRequests())

	close(hold)
	assert.Eventually(t, func() bool { return c.OpenRequests() == 0 }, time.Second, time.Millisecond)
}

func TestContainer_ExhaustionBlocksUntilTimeout(t *testing.T) {
	c := NewContainer(node("a"), newFakeDialer(), ContainerConfig{MaxConnections: 1, AcquireTimeout: 20 * time.Millisecond}, nil)

	hold := make(chan struct{})
	held := make(chan struct{})
	go c.Execute(context.Background(), func(ctx context.Context, conn transport.Conn) error {
		close(held)
		<-hold
		return nil
	})
	<-held

	start := time.Now()
	err := c.Execute(context.Background(), noop)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	// A caller deadline shorter than the acquire timeout wins
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err = c.Execute(ctx, noop)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// A slot freed while waiting is picked up
	go func() {
		time.Sleep(5 * time.Millisecond)
		close(hold)
	}()
	assert.NoError(t, c.Execute(context.Background(), noop))
}

func TestContainer_DialFailure(t *testing.T) {
	dialer := newFakeDialer()
	dialer.fail[node("a")] = errors.New("connection refused")
	c := NewContainer(node("a"), dialer, ContainerConfig{MaxConnections: 1, QueuePolicy: QueueFail}, nil)

	err := c.Execute(context.Background(), noop)
	assert.True(t, IsConnectionError(err), "untagged dial failures are connection level: %v", err)
	assert.Equal(t, transport.KindConnect, transport.KindOf(err))
	assert.Equal(t, 0, c.OpenRequests())

	// The slot is released after a failed dial
	delete(dialer.fail, node("a"))
	assert.NoError(t, c.Execute(context.Background(), noop))
}

func TestContainer_AttemptTimeout(t *testing.T) {
	c := NewContainer(node("a"), newFakeDialer(), ContainerConfig{AttemptTimeout: 10 * time.Millisecond}, nil)

	err := c.Execute(context.Background(), func(ctx context.Context, conn transport.Conn) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ClassRetriable, Classify(err))
}

func TestContainer_MaxIdle(t *testing.T) {
	dialer := newFakeDialer()
	c := NewContainer(node("a"), dialer, ContainerConfig{MaxConnections: 3, MaxIdle: 1}, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Execute(context.Background(), func(ctx context.Context, conn transport.Conn) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	for i := 0; i < 3; i++ {
		<-started
	}
	close(release)
	wg.Wait()

	assert.Equal(t, 3, dialer.dialCount(node("a")))
	assert.Equal(t, 1, c.IdleConnections())
	assert.Equal(t, 2, dialer.closedConns())
}

func TestContainer_Close(t *testing.T) {
	dialer := newFakeDialer()
	c := NewContainer(node("a"), dialer, ContainerConfig{}, nil)
	require.NoError(t, c.Execute(context.Background(), noop))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, dialer.closedConns())

	err := c.Execute(context.Background(), noop)
	assert.ErrorIs(t, err, ErrContainerClosed)
	assert.True(t, IsConnectionError(err))
	assert.Equal(t, 0, c.OpenRequests())
}

func TestParseQueuePolicy(t *testing.T) {
	p, err := ParseQueuePolicy("fail")
	require.NoError(t, err)
	assert.Equal(t, QueueFail, p)
	assert.Equal(t, "fail", p.String())

	p, err = ParseQueuePolicy("")
	require.NoError(t, err)
	assert.Equal(t, QueueBlock, p)

	_, err = ParseQueuePolicy("drop")
	assert.Error(t, err)
}
